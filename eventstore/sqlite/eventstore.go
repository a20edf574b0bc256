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

// Package sqlite is an event store backed by a single SQLite file, using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventStore is an eh.EventStore and eh.EventLog keeping events in SQLite.
//
// Each save runs in an immediate transaction. Handlers set with
// WithEventHandlerInTX get a context carrying that transaction: loads made
// with it see the appended events, saves made with it for other aggregates
// join it, and saves for the aggregate being saved fail with
// eh.ErrSaveInProgress. Undo steps registered by the handlers with
// eh.OnRollback run when the transaction is rolled back or fails to commit.
type EventStore struct {
	db     *sql.DB
	logger *zap.Logger
	commit func(*sql.Tx) error

	eventHandlerAfterSave eh.EventHandler
	eventHandlerInTX      eh.EventHandler
}

type txKey struct{}

type storeTX struct {
	store *EventStore
	tx    *sql.Tx
	ids   map[uuid.UUID]struct{}

	savepoints int
	joined     []eh.Event

	compensations *eh.Compensations
}

func (tx *storeTX) undo() (*eh.Compensations, bool) {
	return tx.compensations, tx.compensations != nil
}

func txFromContext(ctx context.Context, s *EventStore) (*storeTX, bool) {
	tx, ok := ctx.Value(txKey{}).(*storeTX)
	if !ok || tx.store != s {
		return nil, false
	}

	return tx, true
}

// NewEventStore opens or creates the database file at path and applies the
// schema migrations.
func NewEventStore(path string, options ...Option) (*EventStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite db: %w", err)
	}

	s := &EventStore{
		db:     db,
		logger: zap.NewNop(),
		commit: (*sql.Tx).Commit,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("could not ping sqlite db: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	s.logger.Debug("event store opened", zap.String("path", path))

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithEventHandler adds an event handler that will be called after saving events.
func WithEventHandler(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerAfterSave != nil {
			return fmt.Errorf("another event handler is already set")
		}

		s.eventHandlerAfterSave = h

		return nil
	}
}

// WithEventHandlerInTX adds an event handler that will be called inside the
// save transaction. Its errors roll the save back.
func WithEventHandlerInTX(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerInTX != nil {
			return fmt.Errorf("another TX event handler is already set")
		}

		s.eventHandlerInTX = h

		return nil
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *zap.Logger) Option {
	return func(s *EventStore) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		s.logger = logger.Named("sqlite")

		return nil
	}
}

// Save implements the Save method of the eh.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []eh.Event, originalVersion int) error {
	if len(events) == 0 {
		return &eh.EventStoreError{
			Err: eh.ErrMissingEvents,
			Op:  eh.EventStoreOpSave,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	storeErr := func(err error) error {
		return &eh.EventStoreError{
			Err:              err,
			Op:               eh.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	if err := checkEvents(events, originalVersion); err != nil {
		return storeErr(err)
	}

	// Joining a running save shares its transaction and its commit.
	if parent, ok := txFromContext(ctx, s); ok {
		if _, busy := parent.ids[id]; busy {
			return storeErr(eh.ErrSaveInProgress)
		}

		parent.ids[id] = struct{}{}
		defer delete(parent.ids, id)

		return s.saveNested(ctx, parent, events, originalVersion, storeErr)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(fmt.Errorf("could not start transaction: %w", err))
	}

	if err := s.insert(ctx, tx, events, originalVersion); err != nil {
		_ = tx.Rollback()

		return storeErr(err)
	}

	stx := &storeTX{
		store: s,
		tx:    tx,
		ids:   map[uuid.UUID]struct{}{id: {}},
	}
	txCtx, undo := eh.WithCompensations(context.WithValue(ctx, txKey{}, stx))
	stx.compensations = undo

	if err := s.handleInTX(txCtx, events); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("could not roll back save",
				zap.Stringer("aggregate_id", id),
				zap.Error(rbErr),
			)
		}

		return storeErr(s.undo(ctx, undo, 0, err))
	}

	if err := s.commit(tx); err != nil {
		return storeErr(s.undo(ctx, undo, 0, fmt.Errorf("could not commit transaction: %w", err)))
	}

	// Events from saves that joined the transaction are handled after the
	// events of the save that committed it.
	if s.eventHandlerAfterSave != nil {
		for _, e := range append(events[:len(events):len(events)], stx.joined...) {
			if err := s.eventHandlerAfterSave.HandleEvent(ctx, e); err != nil {
				return &eh.EventHandlerError{
					Err:   err,
					Event: e,
				}
			}
		}
	}

	return nil
}

// saveNested saves inside a running transaction, using a savepoint so that a
// failing nested save leaves the outer one intact.
func (s *EventStore) saveNested(ctx context.Context, parent *storeTX, events []eh.Event, originalVersion int, storeErr func(error) error) error {
	parent.savepoints++
	name := fmt.Sprintf("nested_%d", parent.savepoints)

	if _, err := parent.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return storeErr(fmt.Errorf("could not create savepoint: %w", err))
	}

	rollback := func() {
		if _, err := parent.tx.ExecContext(ctx, "ROLLBACK TO "+name); err != nil {
			s.logger.Error("could not roll back to savepoint", zap.String("savepoint", name), zap.Error(err))
		}
	}

	if err := s.insert(ctx, parent.tx, events, originalVersion); err != nil {
		rollback()

		return storeErr(err)
	}

	var (
		undo *eh.Compensations
		mark int
	)

	if c, ok := parent.undo(); ok {
		undo, mark = c, c.Len()
	}

	if err := s.handleInTX(ctx, events); err != nil {
		rollback()

		return storeErr(s.undo(ctx, undo, mark, err))
	}

	if _, err := parent.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		rollback()

		return storeErr(s.undo(ctx, undo, mark, fmt.Errorf("could not release savepoint: %w", err)))
	}

	parent.joined = append(parent.joined, events...)

	return nil
}

// undo runs the undo steps registered after mark for a save that failed with
// err.
func (s *EventStore) undo(ctx context.Context, c *eh.Compensations, mark int, err error) error {
	if c == nil {
		return err
	}

	if undoErr := c.Rollback(ctx, mark); undoErr != nil {
		s.logger.Error("could not undo side effects of failed save", zap.Error(undoErr))

		return errors.Join(err, fmt.Errorf("could not undo side effects: %w", undoErr))
	}

	return err
}

func (s *EventStore) handleInTX(txCtx context.Context, events []eh.Event) error {
	if s.eventHandlerInTX == nil {
		return nil
	}

	for _, e := range events {
		if err := s.eventHandlerInTX.HandleEvent(txCtx, e); err != nil {
			return fmt.Errorf("could not handle event in transaction: %w", err)
		}
	}

	return nil
}

func (s *EventStore) insert(ctx context.Context, tx *sql.Tx, events []eh.Event, originalVersion int) error {
	id := events[0].AggregateID()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, id.String(),
	).Scan(&version); err != nil {
		return fmt.Errorf("could not read aggregate version: %w", err)
	}

	if version != originalVersion {
		return eh.ErrEventConflictFromOtherSave
	}

	for _, e := range events {
		var data []byte

		if e.Data() != nil {
			var err error
			if data, err = json.Marshal(e.Data()); err != nil {
				return fmt.Errorf("could not marshal event data: %w", err)
			}
		}

		metadata, err := json.Marshal(e.Metadata())
		if err != nil {
			return fmt.Errorf("could not marshal event metadata: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_id, aggregate_type, version, event_type, timestamp, data, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(),
			string(e.AggregateType()),
			e.Version(),
			string(e.EventType()),
			e.Timestamp().UnixNano(),
			data,
			metadata,
		); err != nil {
			if isConstraintError(err) {
				return eh.ErrEventConflictFromOtherSave
			}

			return fmt.Errorf("could not insert event: %w", err)
		}
	}

	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const selectEvents = `SELECT position, aggregate_id, aggregate_type, version, event_type, timestamp, data, metadata FROM events`

// Load implements the Load method of the eh.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]eh.Event, error) {
	var q queryer = s.db
	if tx, ok := txFromContext(ctx, s); ok {
		q = tx.tx
	}

	events, err := s.query(ctx, q, selectEvents+` WHERE aggregate_id = ? ORDER BY version`, id.String())
	if err != nil {
		return nil, &eh.EventStoreError{
			Err:         err,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	if len(events) == 0 {
		return nil, &eh.EventStoreError{
			Err:         eh.ErrAggregateNotFound,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return events, nil
}

// LoadAll implements the LoadAll method of the eh.EventLog interface.
func (s *EventStore) LoadAll(ctx context.Context) ([]eh.Event, error) {
	events, err := s.query(ctx, s.db, selectEvents+` ORDER BY position`)
	if err != nil {
		return nil, &eh.EventStoreError{
			Err: err,
			Op:  eh.EventStoreOpLoadAll,
		}
	}

	return events, nil
}

func (s *EventStore) query(ctx context.Context, q queryer, query string, args ...interface{}) ([]eh.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query events: %w", err)
	}
	defer rows.Close()

	var events []eh.Event

	for rows.Next() {
		var (
			position      int64
			aggregateID   string
			aggregateType string
			version       int
			eventType     string
			timestamp     int64
			data          []byte
			metadata      []byte
		)

		if err := rows.Scan(&position, &aggregateID, &aggregateType, &version,
			&eventType, &timestamp, &data, &metadata); err != nil {
			return nil, fmt.Errorf("could not scan event: %w", err)
		}

		id, err := uuid.Parse(aggregateID)
		if err != nil {
			return nil, fmt.Errorf("could not parse aggregate ID: %w", err)
		}

		var eventData eh.EventData

		if len(data) > 0 {
			if eventData, err = eh.CreateEventData(eh.EventType(eventType)); err != nil {
				return nil, fmt.Errorf("could not create event data: %w", err)
			}

			if err := json.Unmarshal(data, eventData); err != nil {
				return nil, fmt.Errorf("could not unmarshal event data: %w", err)
			}
		}

		md := map[string]interface{}{}
		if err := json.Unmarshal(metadata, &md); err != nil {
			return nil, fmt.Errorf("could not unmarshal event metadata: %w", err)
		}

		if md == nil {
			md = map[string]interface{}{}
		}

		md["position"] = int(position)

		events = append(events, eh.NewEvent(
			eh.EventType(eventType),
			eventData,
			time.Unix(0, timestamp).UTC(),
			eh.ForAggregate(eh.AggregateType(aggregateType), id, version),
			eh.WithMetadata(md),
		))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read events: %w", err)
	}

	return events, nil
}

// Close implements the Close method of the eh.EventStore interface.
func (s *EventStore) Close() error {
	return s.db.Close()
}

func checkEvents(events []eh.Event, originalVersion int) error {
	id := events[0].AggregateID()
	at := events[0].AggregateType()

	for i, event := range events {
		if event.AggregateID() != id {
			return eh.ErrMismatchedEventAggregateIDs
		}

		if event.AggregateType() != at {
			return eh.ErrMismatchedEventAggregateTypes
		}

		if event.Version() != originalVersion+i+1 {
			return eh.ErrIncorrectEventVersion
		}
	}

	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	code := sqliteErr.Code()

	return code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
