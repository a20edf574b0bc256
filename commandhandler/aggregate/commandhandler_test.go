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

package aggregate

import (
	"context"
	"errors"
	"testing"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/aggregatestore/events"
	"github.com/rsvpkit/rsvpkit/eventstore/memory"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func createHandler(t *testing.T, store eh.EventStore) *CommandHandler {
	t.Helper()

	aggregates, err := events.NewAggregateStore(store)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	h, err := NewCommandHandler(mocks.AggregateType, aggregates)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	return h
}

func TestNewCommandHandler(t *testing.T) {
	h, err := NewCommandHandler(mocks.AggregateType, nil)
	if !errors.Is(err, ErrNilAggregateStore) {
		t.Error("there should be a ErrNilAggregateStore error:", err)
	}

	if h != nil {
		t.Error("there should be no handler:", h)
	}
}

func TestCommandHandler(t *testing.T) {
	store, err := memory.NewEventStore()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	h := createHandler(t, store)
	id := uuid.New()

	for _, content := range []string{"command1", "command2"} {
		if err := h.HandleCommand(context.Background(), mocks.Command{ID: id, Content: content}); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	stored, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if len(stored) != 2 || stored[1].Version() != 2 {
		t.Fatal("there should be 2 events:", stored)
	}

	if d, ok := stored[1].Data().(*mocks.EventData); !ok || d.Content != "command2" {
		t.Error("the event data should be correct:", stored[1].Data())
	}
}

func TestCommandHandler_Errors(t *testing.T) {
	store, _ := memory.NewEventStore()
	h := createHandler(t, store)

	err := h.HandleCommand(context.Background(), mocks.CommandOther{ID: uuid.New()})
	if !errors.Is(err, ErrMismatchedAggregateType) {
		t.Error("there should be no handling of a command for another type:", err)
	}

	var fieldErr *eh.CommandFieldError

	err = h.HandleCommand(context.Background(), mocks.Command{ID: uuid.New()})
	if !errors.As(err, &fieldErr) {
		t.Error("there should be a missing field error:", err)
	}

	saveErr := errors.New("save error")
	h = createHandler(t, &mocks.EventStore{Err: saveErr})

	err = h.HandleCommand(context.Background(), mocks.Command{ID: uuid.New(), Content: "command1"})
	if !errors.Is(err, saveErr) {
		t.Error("there should be the store error:", err)
	}
}
