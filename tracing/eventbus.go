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

package tracing

import (
	"context"

	eh "github.com/rsvpkit/rsvpkit"
)

// EventBus traces both the publishing of events and every handler added to
// the wrapped bus.
type EventBus struct {
	eh.EventBus
	publish eh.EventHandler
}

// NewEventBus creates an EventBus.
func NewEventBus(bus eh.EventBus) *EventBus {
	return &EventBus{
		EventBus: bus,
		publish:  NewEventHandlerMiddleware()(bus),
	}
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	return b.publish.HandleEvent(ctx, event)
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	if h == nil {
		return eh.ErrMissingHandler
	}

	return b.EventBus.AddHandler(ctx, m, NewEventHandlerMiddleware()(h))
}
