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

// Package chain runs a list of event handlers synchronously, in order.
package chain

import (
	"context"
	"sync"

	eh "github.com/rsvpkit/rsvpkit"
)

type link struct {
	m eh.EventMatcher
	h eh.EventHandler
}

// EventHandler calls each added handler whose matcher matches the event, in
// the order they were added. The first error stops the chain.
type EventHandler struct {
	handlerType eh.EventHandlerType
	links       []link
	mu          sync.RWMutex
}

var _ = eh.EventHandler(&EventHandler{})

// NewEventHandler creates an empty chain.
func NewEventHandler(handlerType eh.EventHandlerType) *EventHandler {
	return &EventHandler{
		handlerType: handlerType,
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (c *EventHandler) HandlerType() eh.EventHandlerType {
	return c.handlerType
}

// AddHandler appends a handler to the chain.
func (c *EventHandler) AddHandler(m eh.EventMatcher, h eh.EventHandler) error {
	if m == nil {
		return eh.ErrMissingMatcher
	}

	if h == nil {
		return eh.ErrMissingHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.links {
		if l.h.HandlerType() == h.HandlerType() {
			return eh.ErrHandlerAlreadyAdded
		}
	}

	c.links = append(c.links, link{m, h})

	return nil
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (c *EventHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	c.mu.RLock()
	links := c.links
	c.mu.RUnlock()

	for _, l := range links {
		if !l.m.Match(event) {
			continue
		}

		if err := l.h.HandleEvent(ctx, event); err != nil {
			return &eh.EventHandlerError{
				Err:   err,
				Event: event,
			}
		}
	}

	return nil
}
