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

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventStore is an eh.EventStore keeping all events in memory. It keeps a
// global log of all events, with the position of each event stored as
// metadata.
//
// Handlers set with WithEventHandlerInTX run after the events have been
// appended but before the save is done; their errors roll the append back
// and run the undo steps they registered with eh.OnRollback.
// While they run the aggregate is locked for further saves, which makes a
// handler calling back into the same aggregate fail with ErrSaveInProgress.
// Loads using the context passed to the handlers see the appended events,
// other loads only see committed events.
type EventStore struct {
	db   map[uuid.UUID]aggregateRecord
	log  []eh.Event
	dbMu sync.RWMutex

	// Positions are never reused, also after a rollback.
	position int

	inTX map[uuid.UUID]struct{}

	eventHandlerAfterSave eh.EventHandler
	eventHandlerInTX      eh.EventHandler
}

type aggregateRecord struct {
	AggregateType eh.AggregateType
	Version       int
	Committed     int
	Events        []eh.Event
}

type txKey struct{}

// txFromContext returns the aggregate ID of the save the context is part of.
func txFromContext(ctx context.Context, s *EventStore) (uuid.UUID, bool) {
	tx, ok := ctx.Value(txKey{}).(storeTX)
	if !ok || tx.store != s {
		return uuid.Nil, false
	}

	return tx.id, true
}

type storeTX struct {
	store *EventStore
	id    uuid.UUID
}

// NewEventStore creates a new EventStore using memory as storage.
func NewEventStore(options ...Option) (*EventStore, error) {
	s := &EventStore{
		db:   map[uuid.UUID]aggregateRecord{},
		inTX: map[uuid.UUID]struct{}{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithEventHandler adds an event handler that will be called after saving events.
// An example would be to add an event bus to publish events.
func WithEventHandler(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerAfterSave != nil {
			return fmt.Errorf("another event handler is already set")
		}

		s.eventHandlerAfterSave = h

		return nil
	}
}

// WithEventHandlerInTX adds an event handler that will be called during saving of
// events. An example would be moving value as part of a ledger operation.
func WithEventHandlerInTX(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerInTX != nil {
			return fmt.Errorf("another TX event handler is already set")
		}

		s.eventHandlerInTX = h

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

	if err := checkEvents(events, originalVersion); err != nil {
		return &eh.EventStoreError{
			Err:              err,
			Op:               eh.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	if err := s.append(id, at, events, originalVersion); err != nil {
		return &eh.EventStoreError{
			Err:              err,
			Op:               eh.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	if s.eventHandlerInTX != nil {
		txCtx, undo := eh.WithCompensations(context.WithValue(ctx, txKey{}, storeTX{store: s, id: id}))

		for _, e := range events {
			if err := s.eventHandlerInTX.HandleEvent(txCtx, e); err != nil {
				s.rollback(id, originalVersion)

				err = fmt.Errorf("could not handle event in transaction: %w", err)
				if undoErr := undo.Rollback(ctx, 0); undoErr != nil {
					err = errors.Join(err, fmt.Errorf("could not undo side effects: %w", undoErr))
				}

				return &eh.EventStoreError{
					Err:              err,
					Op:               eh.EventStoreOpSave,
					AggregateType:    at,
					AggregateID:      id,
					AggregateVersion: originalVersion,
					Events:           events,
				}
			}
		}
	}

	s.commit(id)

	// Let the optional event handler handle the events.
	if s.eventHandlerAfterSave != nil {
		for _, e := range events {
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

func checkEvents(events []eh.Event, originalVersion int) error {
	id := events[0].AggregateID()
	at := events[0].AggregateType()

	for i, event := range events {
		// Only accept events belonging to the same aggregate.
		if event.AggregateID() != id {
			return eh.ErrMismatchedEventAggregateIDs
		}

		if event.AggregateType() != at {
			return eh.ErrMismatchedEventAggregateTypes
		}

		// Only accept events that apply to the correct aggregate version.
		if event.Version() != originalVersion+i+1 {
			return eh.ErrIncorrectEventVersion
		}
	}

	return nil
}

func (s *EventStore) append(id uuid.UUID, at eh.AggregateType, events []eh.Event, originalVersion int) error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if _, ok := s.inTX[id]; ok {
		return eh.ErrSaveInProgress
	}

	a, ok := s.db[id]
	if !ok {
		a = aggregateRecord{AggregateType: at}
	}

	if a.Version != originalVersion {
		return eh.ErrEventConflictFromOtherSave
	}

	for _, e := range events {
		s.position++
		stored := copyEvent(e, map[string]interface{}{
			"position": s.position,
		})
		a.Events = append(a.Events, stored)
		s.log = append(s.log, stored)
	}

	a.Version = events[len(events)-1].Version()
	s.db[id] = a
	s.inTX[id] = struct{}{}

	return nil
}

func (s *EventStore) commit(id uuid.UUID) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	delete(s.inTX, id)

	a := s.db[id]
	a.Committed = a.Version
	s.db[id] = a
}

func (s *EventStore) rollback(id uuid.UUID, originalVersion int) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	delete(s.inTX, id)

	a := s.db[id]
	if originalVersion == 0 {
		delete(s.db, id)
	} else {
		a.Events = a.Events[:originalVersion]
		a.Version = originalVersion
		s.db[id] = a
	}

	log := s.log[:0]

	for _, e := range s.log {
		if e.AggregateID() == id && e.Version() > originalVersion {
			continue
		}

		log = append(log, e)
	}

	s.log = log
}

// Load implements the Load method of the eh.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]eh.Event, error) {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()

	a, ok := s.db[id]

	visible := a.Committed
	if txID, inTX := txFromContext(ctx, s); inTX && txID == id {
		visible = a.Version
	}

	if !ok || visible == 0 {
		return nil, &eh.EventStoreError{
			Err:         eh.ErrAggregateNotFound,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	events := make([]eh.Event, visible)
	for i, e := range a.Events[:visible] {
		events[i] = copyEvent(e, nil)
	}

	return events, nil
}

// LoadAll implements the LoadAll method of the eh.EventLog interface.
func (s *EventStore) LoadAll(ctx context.Context) ([]eh.Event, error) {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()

	events := make([]eh.Event, 0, len(s.log))

	for _, e := range s.log {
		if _, ok := s.inTX[e.AggregateID()]; ok && e.Version() > s.db[e.AggregateID()].Committed {
			continue
		}

		events = append(events, copyEvent(e, nil))
	}

	return events, nil
}

// Close implements the Close method of the eh.EventStore interface.
func (s *EventStore) Close() error {
	return nil
}

// copyEvent duplicates an event.
func copyEvent(event eh.Event, metadata map[string]interface{}) eh.Event {
	md := map[string]interface{}{}
	for k, v := range event.Metadata() {
		md[k] = v
	}

	for k, v := range metadata {
		md[k] = v
	}

	return eh.NewEvent(
		event.EventType(),
		event.Data(),
		event.Timestamp(),
		eh.ForAggregate(
			event.AggregateType(),
			event.AggregateID(),
			event.Version(),
		),
		eh.WithMetadata(md),
	)
}
