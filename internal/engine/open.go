// Copyright (c) 2026 - The rsvpkit authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/codec/bson"
	"github.com/rsvpkit/rsvpkit/codec/json"
	"github.com/rsvpkit/rsvpkit/eventbus/gcp"
	"github.com/rsvpkit/rsvpkit/eventbus/kafka"
	"github.com/rsvpkit/rsvpkit/eventbus/local"
	"github.com/rsvpkit/rsvpkit/eventbus/nats"
	"github.com/rsvpkit/rsvpkit/eventbus/redis"
	"github.com/rsvpkit/rsvpkit/eventstore/mongodb"
	"github.com/rsvpkit/rsvpkit/eventstore/sqlite"
	"github.com/rsvpkit/rsvpkit/internal/audit"
	"github.com/rsvpkit/rsvpkit/internal/config"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/escrow"
	"github.com/rsvpkit/rsvpkit/internal/logging"
	"github.com/rsvpkit/rsvpkit/internal/registry"
	"github.com/rsvpkit/rsvpkit/internal/vault"
	"github.com/rsvpkit/rsvpkit/middleware/eventhandler/observer"
	repomongodb "github.com/rsvpkit/rsvpkit/repo/mongodb"
	"github.com/rsvpkit/rsvpkit/repo/postgres"
	"github.com/rsvpkit/rsvpkit/tracing"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// Vault is a vault that reports what it holds in custody.
type Vault interface {
	escrow.Vault
	audit.Custodian
}

// Runtime is an engine with the backends selected by a config, the activity
// log and the reconciler.
type Runtime struct {
	*Engine

	Vault   Vault
	Auditor *audit.Reconciler
	Logger  *zap.Logger

	closers []io.Closer
}

// Open builds a runtime from a config. The vault is created from the config
// unless one is given.
func Open(ctx context.Context, cfg *config.Config, v Vault) (*Runtime, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Logger: logger}

	if cfg.Tracing {
		closer, err := tracing.NewTracer(cfg.AppID, cfg.JaegerAgent)
		if err != nil {
			return nil, err
		}

		rt.closers = append(rt.closers, closer)

		tracing.RegisterContext()
	}

	if v == nil {
		switch cfg.Vault {
		case "journal":
			v = vault.NewJournal(logger)
		default:
			v = vault.NewMemory()
		}
	}

	rt.Vault = v

	records, err := openRecords(cfg, logger)
	if err != nil {
		return nil, rt.fail(err)
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		closeRecords(records)

		return nil, rt.fail(err)
	}

	// One activity log per process, also with a shared bus.
	if err := bus.AddHandler(ctx, eh.MatchAll{}, observer.Middleware(logging.NewEventLogger(logger))); err != nil {
		_ = bus.Close()
		closeRecords(records)

		return nil, rt.fail(fmt.Errorf("could not add activity log: %w", err))
	}

	o := Options{
		Vault:   v,
		Store:   storeFactory(cfg, logger),
		Records: records,
		Bus:     bus,
		Logger:  logger,
		Tracing: cfg.Tracing,
	}

	if cfg.Bus != "local" {
		o.PublishAttempts = 5
	}

	e, err := New(ctx, o)
	if err != nil {
		_ = bus.Close()
		closeRecords(records)

		return nil, rt.fail(err)
	}

	rt.Engine = e

	if rt.Auditor, err = audit.NewReconciler(e.Registry, e.Escrow, v,
		audit.WithLogger(logger),
		audit.WithResync(e.Resync),
	); err != nil {
		return nil, rt.fail(err)
	}

	// A journal starts empty, the custody it tracks comes from the ledgers.
	if j, ok := v.(*vault.Journal); ok && cfg.Store != "memory" {
		if err := restoreJournal(ctx, j, e); err != nil {
			return nil, rt.fail(err)
		}
	}

	if cfg.AuditSchedule != "" {
		auditCtx, cancel := context.WithCancel(context.Background())
		rt.closers = append(rt.closers, closerFunc(func() error {
			cancel()

			return nil
		}))

		if err := rt.Auditor.Schedule(auditCtx, cfg.AuditSchedule, nil); err != nil {
			return nil, rt.fail(err)
		}
	}

	go rt.logBusErrors()

	return rt, nil
}

func restoreJournal(ctx context.Context, j *vault.Journal, e *Engine) error {
	events, err := e.Registry.Events(ctx)
	if err != nil {
		return err
	}

	var custody domain.Amount

	for _, event := range events {
		b, err := e.Escrow.Balance(ctx, event.EventID)
		if err != nil {
			return err
		}

		if custody, err = custody.Add(b.Custodied); err != nil {
			return fmt.Errorf("could not restore custody: %w", err)
		}
	}

	j.Restore(custody)

	return nil
}

func (rt *Runtime) logBusErrors() {
	for err := range rt.Bus.Errors() {
		rt.Logger.Error("event bus error", zap.Error(err))
	}
}

func (rt *Runtime) fail(err error) error {
	for _, c := range rt.closers {
		_ = c.Close()
	}

	if rt.Engine != nil {
		_ = rt.Engine.Close()
	}

	return err
}

// Close closes the engine, stops the reconciler and flushes the tracer.
func (rt *Runtime) Close() error {
	var errs []error

	if rt.Engine != nil {
		errs = append(errs, rt.Engine.Close())
	}

	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}

	_ = rt.Logger.Sync()

	return errors.Join(errs...)
}

func closeRecords(r eh.ReadWriteRepo) {
	if r != nil {
		_ = r.Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func storeFactory(cfg *config.Config, logger *zap.Logger) StoreFactory {
	switch cfg.Store {
	case "sqlite":
		return func(ctx context.Context, inTX, afterSave eh.EventHandler) (eh.EventStore, error) {
			return sqlite.NewEventStore(cfg.SQLitePath,
				sqlite.WithEventHandlerInTX(inTX),
				sqlite.WithEventHandler(afterSave),
				sqlite.WithLogger(logger),
			)
		}
	case "mongodb":
		return func(ctx context.Context, inTX, afterSave eh.EventHandler) (eh.EventStore, error) {
			return mongodb.NewEventStore(cfg.MongoURI, cfg.MongoDB,
				mongodb.WithEventHandlerInTX(inTX),
				mongodb.WithEventHandler(afterSave),
				mongodb.WithLogger(logger),
			)
		}
	default:
		return MemoryStore
	}
}

func newEvent() eh.Entity {
	return &registry.Event{}
}

func openRecords(cfg *config.Config, logger *zap.Logger) (eh.ReadWriteRepo, error) {
	switch cfg.ReadModel {
	case "mongodb":
		r, err := repomongodb.NewRepo(cfg.MongoURI, cfg.MongoDB,
			repomongodb.WithCollectionName("registry_events"),
			repomongodb.WithConnectionCheck(),
			repomongodb.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("could not open read model: %w", err)
		}

		r.SetEntityFactory(newEvent)

		return r, nil
	case "postgres":
		r, err := postgres.NewRepo(cfg.PostgresDSN,
			postgres.WithTableName("registry_events"),
			postgres.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("could not open read model: %w", err)
		}

		r.SetEntityFactory(newEvent)

		return r, nil
	default:
		return nil, nil
	}
}

func openBus(cfg *config.Config, logger *zap.Logger) (eh.EventBus, error) {
	var (
		bus eh.EventBus
		err error
	)

	var codec eh.EventCodec = &json.EventCodec{}
	if cfg.BusCodec == "bson" {
		codec = &bson.EventCodec{}
	}

	switch cfg.Bus {
	case "nats":
		bus, err = nats.NewEventBus(cfg.NATSURL, cfg.AppID, nats.WithCodec(codec), nats.WithLogger(logger))
	case "redis":
		bus, err = redis.NewEventBus(cfg.RedisAddr, cfg.AppID, uuid.New().String(),
			redis.WithCodec(codec), redis.WithLogger(logger))
	case "kafka":
		bus, err = kafka.NewEventBus(cfg.KafkaAddr, cfg.AppID, kafka.WithCodec(codec), kafka.WithLogger(logger))
	case "gcp":
		bus, err = gcp.NewEventBus(cfg.GCPProject, cfg.AppID, gcp.WithCodec(codec), gcp.WithLogger(logger))
	default:
		bus = local.NewEventBus(nil, local.WithLogger(logger))
	}

	if err != nil {
		return nil, fmt.Errorf("could not open %s bus: %w", cfg.Bus, err)
	}

	return bus, nil
}
