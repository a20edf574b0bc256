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

// Package engine assembles the registry and the escrow on top of an event
// store, a read model repo and an event bus.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/aggregatestore/events"
	"github.com/rsvpkit/rsvpkit/commandhandler/aggregate"
	"github.com/rsvpkit/rsvpkit/commandhandler/bus"
	"github.com/rsvpkit/rsvpkit/eventbus/local"
	"github.com/rsvpkit/rsvpkit/eventhandler/chain"
	"github.com/rsvpkit/rsvpkit/eventhandler/projector"
	"github.com/rsvpkit/rsvpkit/eventstore/memory"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/escrow"
	"github.com/rsvpkit/rsvpkit/internal/registry"
	"github.com/rsvpkit/rsvpkit/middleware/commandhandler/lock"
	"github.com/rsvpkit/rsvpkit/middleware/commandhandler/logging"
	"github.com/rsvpkit/rsvpkit/middleware/eventhandler/retry"
	repomemory "github.com/rsvpkit/rsvpkit/repo/memory"
	"github.com/rsvpkit/rsvpkit/tracing"
)

// StoreFactory creates the event store. inTX must run inside the save of
// the events, afterSave after the save is committed.
type StoreFactory func(ctx context.Context, inTX, afterSave eh.EventHandler) (eh.EventStore, error)

// MemoryStore is the StoreFactory of the in-memory event store.
func MemoryStore(ctx context.Context, inTX, afterSave eh.EventHandler) (eh.EventStore, error) {
	return memory.NewEventStore(
		memory.WithEventHandlerInTX(inTX),
		memory.WithEventHandler(afterSave),
	)
}

// Options configure the engine. Only the Vault is required.
type Options struct {
	// Vault moves the deposits.
	Vault escrow.Vault
	// Store creates the event store, default MemoryStore.
	Store StoreFactory
	// Records stores the registry read model, default an in-memory repo.
	Records eh.ReadWriteRepo
	// Bus receives all notifications after they are committed, default a
	// local bus.
	Bus eh.EventBus
	// Clock is the time source, default domain.SystemClock.
	Clock domain.Clock
	// Logger is the engine logger, default a no-op logger.
	Logger *zap.Logger
	// Tracing wraps the components with OpenTracing spans using the global
	// tracer.
	Tracing bool
	// PublishAttempts retries publishing to the bus with backoff, for buses
	// with a network between. Zero or one publishes once.
	PublishAttempts int
}

// Engine is the running registry and escrow.
type Engine struct {
	Registry *registry.Registry
	Escrow   *escrow.Escrow
	Bus      eh.EventBus
	Store    eh.EventStore
	Records  eh.ReadWriteRepo

	project eh.EventHandler
	logger  *zap.Logger
}

// New assembles an engine. Events already in a persistent store are replayed
// into the read model before it is returned.
func New(ctx context.Context, o Options) (*Engine, error) {
	if o.Vault == nil {
		return nil, errors.New("missing vault")
	}

	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	if o.Store == nil {
		o.Store = MemoryStore
	}

	if o.Records == nil {
		o.Records = repomemory.NewRepo()
	}

	if o.Bus == nil {
		o.Bus = local.NewEventBus(nil, local.WithLogger(o.Logger))
	}

	if o.Clock == nil {
		o.Clock = domain.SystemClock
	}

	records := o.Records
	if o.Tracing {
		records = tracing.NewRepo(records)
		o.Bus = tracing.NewEventBus(o.Bus)
	}

	settlement, err := escrow.NewSettlement(o.Vault, o.Logger.Named("settlement"))
	if err != nil {
		return nil, err
	}

	projection := registry.NewEventHandler(records, projector.WithLogger(o.Logger))

	var inTX, project eh.EventHandler = settlement, projection
	if o.Tracing {
		inTX = eh.UseEventHandlerMiddleware(inTX, tracing.NewEventHandlerMiddleware())
		project = eh.UseEventHandlerMiddleware(project, tracing.NewEventHandlerMiddleware())
	}

	// The read model is updated before the caller gets the result, the bus
	// fans out asynchronously. Both run after the commit, so their errors
	// no longer fail the operation.
	afterSave := chain.NewEventHandler("after_save")
	if err := afterSave.AddHandler(registry.Matcher(), committed(project, o.Logger)); err != nil {
		return nil, err
	}

	var publish eh.EventHandler = o.Bus
	if o.PublishAttempts > 1 {
		publish = eh.UseEventHandlerMiddleware(publish, retry.NewMiddleware(
			retry.WithAttempts(o.PublishAttempts),
			retry.WithLogger(o.Logger.Named("publish")),
		))
	}

	if err := afterSave.AddHandler(eh.MatchAll{}, committed(publish, o.Logger)); err != nil {
		return nil, err
	}

	store, err := o.Store(ctx, inTX, afterSave)
	if err != nil {
		return nil, fmt.Errorf("could not create event store: %w", err)
	}

	if o.Tracing {
		store = tracing.NewEventStore(store)
	}

	if err := replay(ctx, store, project); err != nil {
		return nil, err
	}

	aggregates, err := events.NewAggregateStore(store)
	if err != nil {
		return nil, err
	}

	commands, err := newCommandBus(aggregates, o)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(commands, aggregates, records, registry.WithClock(o.Clock))
	if err != nil {
		return nil, err
	}

	esc, err := escrow.New(commands, aggregates, reg, escrow.WithClock(o.Clock))
	if err != nil {
		return nil, err
	}

	return &Engine{
		Registry: reg,
		Escrow:   esc,
		Bus:      o.Bus,
		Store:    store,
		Records:  o.Records,
		project:  project,
		logger:   o.Logger,
	}, nil
}

func newCommandBus(aggregates eh.AggregateStore, o Options) (*bus.CommandHandler, error) {
	middleware := []eh.CommandHandlerMiddleware{
		lock.NewMiddleware(lock.NewLocalLock(), o.Logger),
		logging.NewMiddleware(o.Logger.Named("commands"), func(err error) bool {
			return domain.ClassOf(err) != domain.ClassUnknown && domain.ClassOf(err) != domain.ClassInternal
		}),
	}

	if o.Tracing {
		middleware = append(middleware, tracing.NewCommandHandlerMiddleware())
	}

	catalog, err := aggregate.NewCommandHandler(registry.CatalogAggregateType, aggregates)
	if err != nil {
		return nil, err
	}

	ledgers, err := aggregate.NewCommandHandler(escrow.LedgerAggregateType, aggregates)
	if err != nil {
		return nil, err
	}

	commands := bus.NewCommandHandler()

	if err := commands.Route(eh.UseCommandHandlerMiddleware(catalog, middleware...),
		registry.CreateEventCommand); err != nil {
		return nil, err
	}

	if err := commands.Route(eh.UseCommandHandlerMiddleware(ledgers, middleware...),
		escrow.RSVPCommand, escrow.CheckInCommand, escrow.ClaimRefundCommand, escrow.FinalizeCommand); err != nil {
		return nil, err
	}

	return commands, nil
}

// replay projects the committed events of a persistent store into the read
// model. The projection skips what it has already seen.
func replay(ctx context.Context, store eh.EventStore, project eh.EventHandler) error {
	log, ok := store.(eh.EventLog)
	if !ok {
		return nil
	}

	all, err := log.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("could not load events to replay: %w", err)
	}

	m := registry.Matcher()

	for _, event := range all {
		if !m.Match(event) {
			continue
		}

		if err := project.HandleEvent(ctx, event); err != nil {
			return fmt.Errorf("could not replay %s: %w", event, err)
		}
	}

	return nil
}

// Resync projects the events of the store that the read model has missed,
// for example after the repo was unavailable while an operation committed.
func (e *Engine) Resync(ctx context.Context) error {
	return replay(ctx, e.Store, e.project)
}

// committedHandler runs a handler on committed events. Errors are logged and
// dropped; the read model catches up with Resync.
type committedHandler struct {
	eh.EventHandler
	logger *zap.Logger
}

func committed(h eh.EventHandler, logger *zap.Logger) *committedHandler {
	return &committedHandler{
		EventHandler: h,
		logger:       logger.Named("after_save"),
	}
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (h *committedHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	if err := h.EventHandler.HandleEvent(ctx, event); err != nil {
		h.logger.Warn("could not handle committed event",
			zap.Stringer("handler", h.HandlerType()),
			zap.Stringer("event", event),
			zap.Error(err),
		)
	}

	return nil
}

// Close closes the bus, the store and the read model.
func (e *Engine) Close() error {
	var errs []error

	if err := e.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close bus: %w", err))
	}

	if err := e.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close event store: %w", err))
	}

	if err := e.Records.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close repo: %w", err))
	}

	return errors.Join(errs...)
}
