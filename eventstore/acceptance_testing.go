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

// Package eventstore holds the acceptance tests shared by the event store
// implementations.
package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kr/pretty"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventStore
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventStore(t *testing.T) {
//	    store := NewEventStore()
//	    eventstore.AcceptanceTest(t, store, context.Background())
//	}
func AcceptanceTest(t *testing.T, store eh.EventStore, ctx context.Context) []eh.Event {
	savedEvents := []eh.Event{}

	ctx = mocks.WithContextOne(ctx, "testval")

	// Save no events.
	err := store.Save(ctx, []eh.Event{}, 0)
	if !errors.Is(err, eh.ErrMissingEvents) {
		t.Error("there should be a ErrMissingEvents error:", err)
	}

	// Save event, version 1.
	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 1),
		eh.WithMetadata(map[string]interface{}{"meta": "data"}))

	if err := store.Save(ctx, []eh.Event{event1}, 0); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event1)

	// Try to save same event twice.
	err = store.Save(ctx, []eh.Event{event1}, 1)
	if !errors.Is(err, eh.ErrIncorrectEventVersion) {
		t.Error("there should be a ErrIncorrectEventVersion error:", err)
	}

	// Try to save an event that was raced by another save.
	err = store.Save(ctx, []eh.Event{event1}, 0)
	if !errors.Is(err, eh.ErrEventConflictFromOtherSave) {
		t.Error("there should be a ErrEventConflictFromOtherSave error:", err)
	}

	// Save event, version 2.
	event2 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event2"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 2))

	if err := store.Save(ctx, []eh.Event{event2}, 1); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event2)

	// Save event without data, version 3.
	event3 := eh.NewEvent(mocks.EventOtherType, nil, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 3))

	if err := store.Save(ctx, []eh.Event{event3}, 2); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event3)

	// Save multiple events, version 4 and 5.
	event4 := eh.NewEvent(mocks.EventOtherType, nil, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 4))
	event5 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event5"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 5))

	if err := store.Save(ctx, []eh.Event{event4, event5}, 3); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event4, event5)

	// Mismatched aggregates in the same save.
	id2 := uuid.New()
	mixed := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "mixed"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id2, 2))
	first := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "first"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 6))

	err = store.Save(ctx, []eh.Event{first, mixed}, 5)
	if !errors.Is(err, eh.ErrMismatchedEventAggregateIDs) {
		t.Error("there should be a ErrMismatchedEventAggregateIDs error:", err)
	}

	// Save event for another aggregate.
	event7 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event7"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id2, 1))

	if err := store.Save(ctx, []eh.Event{event7}, 0); err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event7)

	// Load events for non-existing aggregate.
	events, err := store.Load(ctx, uuid.New())
	if !errors.Is(err, eh.ErrAggregateNotFound) {
		t.Error("there should be a not found error:", err)
	}

	if len(events) != 0 {
		t.Error("there should be no loaded events:", events)
	}

	// Load events.
	events, err = store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	expectedEvents := []eh.Event{event1, event2, event3, event4, event5}
	if !mocks.EqualEvents(events, expectedEvents) {
		t.Error("the loaded events should be correct:")
		t.Log(pretty.Sprint(events))
	}

	if len(events) > 0 && events[0].Metadata()["meta"] != "data" {
		t.Error("the metadata should be stored:", events[0].Metadata())
	}

	// Load events for another aggregate.
	events, err = store.Load(ctx, id2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !mocks.EqualEvents(events, []eh.Event{event7}) {
		t.Error("the loaded events should be correct:")
		t.Log(pretty.Sprint(events))
	}

	// The global log keeps the save order.
	if log, ok := store.(eh.EventLog); ok {
		all, err := log.LoadAll(ctx)
		if err != nil {
			t.Error("there should be no error:", err)
		}

		if !mocks.EqualEvents(tail(all, len(savedEvents)), savedEvents) {
			t.Error("the global log should be correct:")
			t.Log(pretty.Sprint(all))
		}
	}

	return savedEvents
}

// TransactionAcceptanceTest checks the handling of in-transaction handlers. The
// newStore func must create a store with the handler set to run inside the
// save transaction.
func TransactionAcceptanceTest(t *testing.T, ctx context.Context, newStore func(inTX eh.EventHandler) eh.EventStore) {
	var store eh.EventStore

	var (
		handlerErr  error
		loadedInTX  []eh.Event
		loadedOther error
		nestedErr   error
		undone      []int
		noUndo      bool
	)

	handler := eh.EventHandlerFunc(func(txCtx context.Context, event eh.Event) error {
		version := event.Version()
		if !eh.OnRollback(txCtx, func(ctx context.Context) error {
			undone = append(undone, version)

			return nil
		}) {
			noUndo = true
		}

		if event.Version() == 2 {
			loadedInTX, _ = store.Load(txCtx, event.AggregateID())
			_, loadedOther = store.Load(context.Background(), event.AggregateID())

			// Write again to the aggregate from inside its own save.
			nested := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "nested"}, event.Timestamp(),
				eh.ForAggregate(mocks.AggregateType, event.AggregateID(), 3))
			nestedErr = store.Save(txCtx, []eh.Event{nested}, 2)
		}

		return handlerErr
	})

	store = newStore(handler)

	id := uuid.New()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 1))

	if err := store.Save(ctx, []eh.Event{event1}, 0); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// A failing handler rolls the save back.
	handlerErr = errors.New("handler error")
	event2 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event2"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 2))

	if err := store.Save(ctx, []eh.Event{event2}, 1); !errors.Is(err, handlerErr) {
		t.Error("the handler error should be returned:", err)
	}

	if noUndo {
		t.Error("the handler should be able to register undo steps")
	}

	if len(undone) != 1 || undone[0] != 2 {
		t.Error("only the undo step of the failed save should run:", undone)
	}

	if !mocks.EqualEvents(loadedInTX, []eh.Event{event1, event2}) {
		t.Error("the handler should see the appended events:", pretty.Sprint(loadedInTX))
	}

	if !errors.Is(nestedErr, eh.ErrSaveInProgress) && !errors.Is(nestedErr, eh.ErrEventConflictFromOtherSave) {
		t.Error("a nested save should fail:", nestedErr)
	}

	if loadedOther != nil {
		t.Error("loading outside the transaction should work:", loadedOther)
	}

	events, err := store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !mocks.EqualEvents(events, []eh.Event{event1}) {
		t.Error("the failed save should be rolled back:", pretty.Sprint(events))
	}

	// The same version can be saved again after a rollback.
	handlerErr = nil

	if err := store.Save(ctx, []eh.Event{event2}, 1); err != nil {
		t.Error("there should be no error:", err)
	}

	events, err = store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !mocks.EqualEvents(events, []eh.Event{event1, event2}) {
		t.Error("the loaded events should be correct:", pretty.Sprint(events))
	}

	if len(undone) != 1 {
		t.Error("committed saves should not be undone:", undone)
	}
}

func tail(events []eh.Event, n int) []eh.Event {
	if len(events) < n {
		return events
	}

	return events[len(events)-n:]
}
