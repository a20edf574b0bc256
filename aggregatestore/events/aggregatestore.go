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

package events

import (
	"context"
	"errors"
	"fmt"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

var (
	// ErrInvalidEventStore is when an aggregate store is created with a nil event store.
	ErrInvalidEventStore = errors.New("invalid event store")
	// ErrAggregateNotVersioned occurs when a loaded aggregate is not versioned.
	ErrAggregateNotVersioned = errors.New("aggregate is not versioned")
	// ErrMismatchedEventType occurs when loaded events from ID does not match aggregate type.
	ErrMismatchedEventType = errors.New("mismatched event type and aggregate type")
)

// ApplyEventError is when an event could not be applied. It contains the error
// and the event that caused it.
type ApplyEventError struct {
	// Event is the event that caused the error.
	Event eh.Event
	// Err is the error that happened when applying the event.
	Err error
}

// Error implements the Error method of the error interface.
func (a *ApplyEventError) Error() string {
	return "failed to apply event " + a.Event.String() + ": " + a.Err.Error()
}

// Unwrap implements the errors.Unwrap method.
func (a *ApplyEventError) Unwrap() error {
	return a.Err
}

// AggregateStore is an aggregate store using event sourcing. It
// uses an event store for loading and saving events used to build the aggregate.
type AggregateStore struct {
	store eh.EventStore
}

// NewAggregateStore creates an aggregate store with an event store.
func NewAggregateStore(store eh.EventStore) (*AggregateStore, error) {
	if store == nil {
		return nil, ErrInvalidEventStore
	}

	d := &AggregateStore{
		store: store,
	}

	return d, nil
}

// Load implements the Load method of the eh.AggregateStore interface.
// It loads an aggregate from the event store by creating a new aggregate of the
// type with the ID and then applies all events to it, thus making it the most
// current version of the aggregate. An aggregate without events is returned
// as new, at version 0.
func (r *AggregateStore) Load(ctx context.Context, aggregateType eh.AggregateType, id uuid.UUID) (eh.Aggregate, error) {
	agg, err := eh.CreateAggregate(aggregateType, id)
	if err != nil {
		return nil, &eh.AggregateStoreError{
			Err:           err,
			Op:            eh.AggregateStoreOpLoad,
			AggregateType: aggregateType,
			AggregateID:   id,
		}
	}

	a, ok := agg.(VersionedAggregate)
	if !ok {
		return nil, &eh.AggregateStoreError{
			Err:           ErrAggregateNotVersioned,
			Op:            eh.AggregateStoreOpLoad,
			AggregateType: aggregateType,
			AggregateID:   id,
		}
	}

	events, err := r.store.Load(ctx, a.EntityID())
	if err != nil && !errors.Is(err, eh.ErrAggregateNotFound) {
		return nil, &eh.AggregateStoreError{
			Err:           err,
			Op:            eh.AggregateStoreOpLoad,
			AggregateType: aggregateType,
			AggregateID:   id,
		}
	}

	if err := r.applyEvents(ctx, a, events); err != nil {
		return nil, &eh.AggregateStoreError{
			Err:           err,
			Op:            eh.AggregateStoreOpLoad,
			AggregateType: aggregateType,
			AggregateID:   id,
		}
	}

	return a, nil
}

// Save implements the Save method of the eh.AggregateStore interface.
// The uncommitted events are first applied to the aggregate, so that an event
// the aggregate refuses aborts the save before anything is stored. They are
// then saved to the event store.
func (r *AggregateStore) Save(ctx context.Context, agg eh.Aggregate) error {
	a, ok := agg.(VersionedAggregate)
	if !ok {
		return &eh.AggregateStoreError{
			Err:           ErrAggregateNotVersioned,
			Op:            eh.AggregateStoreOpSave,
			AggregateType: agg.AggregateType(),
			AggregateID:   agg.EntityID(),
		}
	}

	events := a.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	originalVersion := a.AggregateVersion()

	if err := r.applyEvents(ctx, a, events); err != nil {
		a.SetAggregateVersion(originalVersion)

		return &eh.AggregateStoreError{
			Err:           err,
			Op:            eh.AggregateStoreOpSave,
			AggregateType: a.AggregateType(),
			AggregateID:   a.EntityID(),
		}
	}

	if err := r.store.Save(ctx, events, originalVersion); err != nil {
		return &eh.AggregateStoreError{
			Err:           fmt.Errorf("could not save events: %w", err),
			Op:            eh.AggregateStoreOpSave,
			AggregateType: a.AggregateType(),
			AggregateID:   a.EntityID(),
		}
	}

	a.ClearUncommittedEvents()

	return nil
}

func (r *AggregateStore) applyEvents(ctx context.Context, a VersionedAggregate, events []eh.Event) error {
	for _, event := range events {
		if event.AggregateType() != a.AggregateType() {
			return ErrMismatchedEventType
		}

		if err := a.ApplyEvent(ctx, event); err != nil {
			return &ApplyEventError{
				Event: event,
				Err:   err,
			}
		}

		a.SetAggregateVersion(event.Version())
	}

	return nil
}
