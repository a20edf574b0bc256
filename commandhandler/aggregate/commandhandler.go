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

// Package aggregate handles commands by loading the target aggregate, letting
// it record events and saving it again.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	eh "github.com/rsvpkit/rsvpkit"
)

var (
	// ErrNilAggregateStore is when a command handler is created with a nil aggregate store.
	ErrNilAggregateStore = errors.New("aggregate store is nil")
	// ErrMismatchedAggregateType is when a command targets another aggregate type.
	ErrMismatchedAggregateType = errors.New("mismatched aggregate type")
)

// CommandHandler runs the commands of one aggregate type. A command is a
// single load, handle and save, so the events recorded by the aggregate are
// committed together with what the store runs inside its transaction.
type CommandHandler struct {
	aggregateType eh.AggregateType
	aggregates    eh.AggregateStore
}

// NewCommandHandler creates a CommandHandler for aggregateType.
func NewCommandHandler(aggregateType eh.AggregateType, aggregates eh.AggregateStore) (*CommandHandler, error) {
	if aggregates == nil {
		return nil, ErrNilAggregateStore
	}

	return &CommandHandler{aggregateType: aggregateType, aggregates: aggregates}, nil
}

// HandleCommand implements the HandleCommand method of the eh.CommandHandler interface.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd eh.Command) error {
	if t := cmd.AggregateType(); t != h.aggregateType {
		return fmt.Errorf("%w: %s for %s", ErrMismatchedAggregateType, t, h.aggregateType)
	}

	if err := eh.CheckCommand(cmd); err != nil {
		return err
	}

	a, err := h.aggregates.Load(ctx, h.aggregateType, cmd.AggregateID())
	switch {
	case err != nil:
		return err
	case a == nil:
		return eh.ErrAggregateNotFound
	}

	if err := a.HandleCommand(ctx, cmd); err != nil {
		return err
	}

	return h.aggregates.Save(ctx, a)
}
