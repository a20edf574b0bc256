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

package rsvpkit

import (
	"context"
	"errors"
	"sync"
)

// Compensations collects the undo steps of side effects made while a save is
// running, typically by event handlers run inside its transaction. The event
// store runs them, newest first, when the save is not committed.
type Compensations struct {
	mu    sync.Mutex
	steps []func(context.Context) error
}

type compensationsKey struct{}

// WithCompensations returns a context collecting the undo steps registered
// with OnRollback.
func WithCompensations(ctx context.Context) (context.Context, *Compensations) {
	c := &Compensations{}

	return context.WithValue(ctx, compensationsKey{}, c), c
}

// OnRollback registers step to run if the save that ctx belongs to is not
// committed. It reports false when ctx is not part of a save.
func OnRollback(ctx context.Context, step func(context.Context) error) bool {
	c, ok := ctx.Value(compensationsKey{}).(*Compensations)
	if !ok || step == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step)

	return true
}

// Len returns the number of registered steps. It marks a point to roll back
// to, for nested saves.
func (c *Compensations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.steps)
}

// Rollback runs and drops the steps registered after mark, newest first.
// All steps are run; their errors are joined. The steps run even when ctx is
// canceled.
func (c *Compensations) Rollback(ctx context.Context, mark int) error {
	c.mu.Lock()
	if mark < 0 || mark > len(c.steps) {
		mark = len(c.steps)
	}

	steps := c.steps[mark:]
	c.steps = c.steps[:mark:mark]
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	var errs []error

	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
