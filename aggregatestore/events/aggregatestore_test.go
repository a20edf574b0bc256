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
	"testing"

	"github.com/kr/pretty"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventstore/memory"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func newStore(t *testing.T) (*AggregateStore, eh.EventStore) {
	t.Helper()

	eventStore, err := memory.NewEventStore()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	store, err := NewAggregateStore(eventStore)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	return store, eventStore
}

func TestNewAggregateStore(t *testing.T) {
	store, err := NewAggregateStore(nil)
	if !errors.Is(err, ErrInvalidEventStore) {
		t.Error("there should be a ErrInvalidEventStore error:", err)
	}

	if store != nil {
		t.Error("there should be no aggregate store:", store)
	}
}

func TestAggregateStore_LoadNew(t *testing.T) {
	store, _ := newStore(t)
	id := uuid.New()

	agg, err := store.Load(context.Background(), mocks.AggregateType, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	a, ok := agg.(*mocks.Aggregate)
	if !ok {
		t.Fatalf("incorrect aggregate type %T", agg)
	}

	if a.EntityID() != id || a.AggregateVersion() != 0 {
		t.Error("the aggregate should be new:", a.EntityID(), a.AggregateVersion())
	}
}

func TestAggregateStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, eventStore := newStore(t)
	id := uuid.New()

	agg, err := store.Load(ctx, mocks.AggregateType, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	for _, content := range []string{"first", "second"} {
		if err := agg.HandleCommand(ctx, mocks.Command{ID: id, Content: content}); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	if err := store.Save(ctx, agg); err != nil {
		t.Fatal("there should be no error:", err)
	}

	a := agg.(*mocks.Aggregate)
	if a.AggregateVersion() != 2 || len(a.UncommittedEvents()) != 0 {
		t.Error("the aggregate should be at version 2 without pending events:", a.AggregateVersion(), a.Pending)
	}

	stored, err := eventStore.Load(ctx, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if len(stored) != 2 {
		t.Fatal("there should be 2 stored events:", stored)
	}

	loaded, err := store.Load(ctx, mocks.AggregateType, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	l := loaded.(*mocks.Aggregate)
	if l.AggregateVersion() != 2 {
		t.Error("the loaded version should be 2:", l.AggregateVersion())
	}

	if !mocks.EqualEvents(l.Applied, stored) {
		t.Error("the applied events should be the stored ones:")
		t.Log(pretty.Sprint(l.Applied))
	}
}

func TestAggregateStore_SaveNothing(t *testing.T) {
	store, eventStore := newStore(t)
	id := uuid.New()

	if err := store.Save(context.Background(), mocks.NewAggregate(id)); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, err := eventStore.Load(context.Background(), id); !errors.Is(err, eh.ErrAggregateNotFound) {
		t.Error("there should be nothing stored:", err)
	}
}

func TestAggregateStore_SaveRejected(t *testing.T) {
	ctx := context.Background()
	store, eventStore := newStore(t)
	id := uuid.New()

	agg, _ := store.Load(ctx, mocks.AggregateType, id)
	if err := agg.HandleCommand(ctx, mocks.Command{ID: id, Content: "reject"}); err != nil {
		t.Fatal("there should be no error:", err)
	}

	err := store.Save(ctx, agg)

	var applyErr *ApplyEventError
	if !errors.As(err, &applyErr) || !errors.Is(err, mocks.ErrRejected) {
		t.Fatal("there should be a rejected apply error:", err)
	}

	var storeErr *eh.AggregateStoreError
	if !errors.As(err, &storeErr) || storeErr.Op != eh.AggregateStoreOpSave {
		t.Error("the error should be from the save:", err)
	}

	if v := agg.(*mocks.Aggregate).AggregateVersion(); v != 0 {
		t.Error("the version should be restored:", v)
	}

	if _, err := eventStore.Load(ctx, id); !errors.Is(err, eh.ErrAggregateNotFound) {
		t.Error("there should be nothing stored:", err)
	}
}

func TestAggregateStore_SaveConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	id := uuid.New()

	first, _ := store.Load(ctx, mocks.AggregateType, id)
	second, _ := store.Load(ctx, mocks.AggregateType, id)

	for _, agg := range []eh.Aggregate{first, second} {
		if err := agg.HandleCommand(ctx, mocks.Command{ID: id, Content: "racing"}); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	if err := store.Save(ctx, first); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := store.Save(ctx, second); !errors.Is(err, eh.ErrEventConflictFromOtherSave) {
		t.Error("there should be a conflict:", err)
	}
}

func TestAggregateStore_LoadErrors(t *testing.T) {
	storeErr := errors.New("store error")

	store, err := NewAggregateStore(&mocks.EventStore{Err: storeErr})
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	_, err = store.Load(context.Background(), mocks.AggregateType, uuid.New())
	if !errors.Is(err, storeErr) {
		t.Error("there should be a store error:", err)
	}

	_, err = store.Load(context.Background(), eh.AggregateType("unknown"), uuid.New())
	if !errors.Is(err, eh.ErrAggregateNotRegistered) {
		t.Error("there should be a ErrAggregateNotRegistered error:", err)
	}
}
