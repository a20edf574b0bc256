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

// NewCommandHandlerMiddleware traces every handled command.
func NewCommandHandlerMiddleware() eh.CommandHandlerMiddleware {
	return func(h eh.CommandHandler) eh.CommandHandler {
		return eh.CommandHandlerFunc(func(ctx context.Context, cmd eh.Command) error {
			ctx, finish := start(ctx, "command:"+cmd.CommandType().String())

			err := h.HandleCommand(ctx, cmd)
			finish(err, tags{
				"rsvpkit.command_type":   cmd.CommandType(),
				"rsvpkit.aggregate_type": cmd.AggregateType(),
				"rsvpkit.aggregate_id":   cmd.AggregateID(),
			})

			return err
		})
	}
}

// NewEventHandlerMiddleware traces every handled event, named by the handler
// type so that the settlement and the projection show up apart.
func NewEventHandlerMiddleware() eh.EventHandlerMiddleware {
	return func(h eh.EventHandler) eh.EventHandler {
		return &eventHandler{h}
	}
}

type eventHandler struct {
	eh.EventHandler
}

// InnerHandler returns the wrapped handler.
func (h *eventHandler) InnerHandler() eh.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (h *eventHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	ctx, finish := start(ctx, h.HandlerType().String()+":"+event.EventType().String())

	err := h.EventHandler.HandleEvent(ctx, event)
	finish(err, eventTags(event))

	return err
}
