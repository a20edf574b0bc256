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

// Package eventbus holds the acceptance test shared by the event bus
// implementations.
package eventbus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kr/pretty"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventBus
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventBus(t *testing.T) {
//	    bus1 := NewEventBus()
//	    bus2 := NewEventBus()
//	    eventbus.AcceptanceTest(t, bus1, bus2, time.Second)
//	}
func AcceptanceTest(t *testing.T, bus1, bus2 eh.EventBus, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus1.AddHandler(ctx, nil, mocks.NewEventHandler("no-matcher")); !errors.Is(err, eh.ErrMissingMatcher) {
		t.Error("the error should be correct:", err)
	}

	if err := bus1.AddHandler(ctx, eh.MatchAll{}, nil); !errors.Is(err, eh.ErrMissingHandler) {
		t.Error("the error should be correct:", err)
	}

	if err := bus1.AddHandler(ctx, eh.MatchAll{}, mocks.NewEventHandler("multi")); err != nil {
		t.Error("there should be no error:", err)
	}

	if err := bus1.AddHandler(ctx, eh.MatchAll{}, mocks.NewEventHandler("multi")); !errors.Is(err, eh.ErrHandlerAlreadyAdded) {
		t.Error("the error should be correct:", err)
	}

	ctx = mocks.WithContextOne(ctx, "testval")

	// Without handler.
	id := uuid.MustParse("c1138e5f-f6fb-4dd0-8e79-255c6c8d3756")
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"}, timestamp,
		eh.ForAggregate(mocks.AggregateType, id, 1))

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	const (
		handlerName  = "handler"
		observerName = "observer"
	)

	// Add handlers and observers.
	handlerBus1 := mocks.NewEventHandler(handlerName)
	handlerBus2 := mocks.NewEventHandler(handlerName)
	anotherHandlerBus2 := mocks.NewEventHandler("another_handler")
	observerBus1 := mocks.NewEventHandler(observerName + "_1")
	observerBus2 := mocks.NewEventHandler(observerName + "_2")

	for _, add := range []struct {
		bus eh.EventBus
		h   eh.EventHandler
	}{
		{bus1, handlerBus1},
		{bus2, handlerBus2},
		{bus2, anotherHandlerBus2},
		{bus1, observerBus1},
		{bus2, observerBus2},
	} {
		if err := add.bus.AddHandler(ctx, eh.MatchAll{}, add.h); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	// Let networked buses set up their subscriptions.
	time.Sleep(timeout / 10)

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	// Check for correct event in handler 1 or 2.
	expectedEvents := []eh.Event{event1}
	if !(handlerBus1.Wait(timeout) || handlerBus2.Wait(timeout)) {
		t.Error("did not receive event in time")
	}

	handlerBus1.RLock()
	handlerBus2.RLock()

	if !(mocks.EqualEvents(handlerBus1.Events, expectedEvents) ||
		mocks.EqualEvents(handlerBus2.Events, expectedEvents)) {
		t.Error("the events were incorrect:")
		t.Log(pretty.Sprint(handlerBus1.Events))
		t.Log(pretty.Sprint(handlerBus2.Events))
	}

	if mocks.EqualEvents(handlerBus1.Events, handlerBus2.Events) {
		t.Error("only one handler should receive the events")
	}

	correctCtx1 := false
	if val, ok := mocks.ContextOne(handlerBus1.Context); ok && val == "testval" {
		correctCtx1 = true
	}

	correctCtx2 := false
	if val, ok := mocks.ContextOne(handlerBus2.Context); ok && val == "testval" {
		correctCtx2 = true
	}

	handlerBus1.RUnlock()
	handlerBus2.RUnlock()

	if !correctCtx1 && !correctCtx2 {
		t.Error("the context should be correct")
	}

	// Check the other handler and the observers.
	for _, h := range []*mocks.EventHandler{anotherHandlerBus2, observerBus1, observerBus2} {
		if !h.Wait(timeout) {
			t.Error("did not receive event in time:", h.Type)
		}

		h.RLock()

		if !mocks.EqualEvents(h.Events, expectedEvents) {
			t.Error("the events were incorrect:", h.Type)
			t.Log(pretty.Sprint(h.Events))
		}

		if val, ok := mocks.ContextOne(h.Context); !ok || val != "testval" {
			t.Error("the context should be correct:", h.Context)
		}

		h.RUnlock()
	}

	// Test async errors from handlers.
	errorHandler := mocks.NewEventHandler("error_handler")
	errorHandler.Err = errors.New("handler error")

	if err := bus1.AddHandler(ctx, eh.MatchAll{}, errorHandler); err != nil {
		t.Fatal("there should be no error:", err)
	}

	time.Sleep(timeout / 10)

	if err := bus1.HandleEvent(ctx, event1); err != nil {
		t.Error("there should be no error:", err)
	}

	select {
	case <-time.After(timeout):
		t.Error("there should be an async error")
	case err := <-bus1.Errors():
		// Good case.
		if !strings.Contains(err.Error(), "could not handle event (error_handler): handler error") {
			t.Error(err, "wrong error sent on event bus")
		}
	}
}
