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

// Package bus routes commands to the handler registered for their type.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	eh "github.com/rsvpkit/rsvpkit"
)

var (
	// ErrHandlerAlreadySet is when a command type already has a route.
	ErrHandlerAlreadySet = errors.New("handler is already set")
	// ErrHandlerNotFound is when a command type has no route.
	ErrHandlerNotFound = errors.New("no handler for command")
)

// CommandHandler checks the fields of every command and passes it on to the
// handler routed for its type.
type CommandHandler struct {
	mu     sync.RWMutex
	routes map[eh.CommandType]eh.CommandHandler
}

// NewCommandHandler creates a CommandHandler without routes.
func NewCommandHandler() *CommandHandler {
	return &CommandHandler{
		routes: map[eh.CommandType]eh.CommandHandler{},
	}
}

// HandleCommand implements the HandleCommand method of the eh.CommandHandler interface.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd eh.Command) error {
	if err := eh.CheckCommand(cmd); err != nil {
		return err
	}

	h.mu.RLock()
	handler, ok := h.routes[cmd.CommandType()]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.CommandType())
	}

	return handler.HandleCommand(ctx, cmd)
}

// Route sends the commands of all types to handler. Nothing is routed if any
// of the types already has a route.
func (h *CommandHandler) Route(handler eh.CommandHandler, types ...eh.CommandType) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range types {
		if _, ok := h.routes[t]; ok {
			return fmt.Errorf("%w: %s", ErrHandlerAlreadySet, t)
		}
	}

	for _, t := range types {
		h.routes[t] = handler
	}

	return nil
}

// Handles reports whether commands of type t have a route.
func (h *CommandHandler) Handles(t eh.CommandType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.routes[t]

	return ok
}
