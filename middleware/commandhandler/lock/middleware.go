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

package lock

import (
	"context"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
)

type heldLocksKey struct{}

// NewMiddleware returns a new lock middle ware using a provided lock implementation.
// Useful for handling only one command per aggregate at a time.
//
// Commands issued with a context that already holds the lock for the same
// aggregate, for example from an event handler running inside the save of a
// previous command, pass through without locking again. The event store is
// then responsible for rejecting conflicting writes.
func NewMiddleware(l Lock, logger *zap.Logger) eh.CommandHandlerMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return eh.CommandHandlerMiddleware(func(h eh.CommandHandler) eh.CommandHandler {
		return eh.CommandHandlerFunc(func(ctx context.Context, cmd eh.Command) error {
			id := lockID(cmd)

			held, _ := ctx.Value(heldLocksKey{}).(map[string]struct{})
			if _, ok := held[id]; ok {
				return h.HandleCommand(ctx, cmd)
			}

			if err := l.Lock(ctx, id); err != nil {
				return err
			}

			defer func() {
				if err := l.Unlock(id); err != nil {
					logger.Error("could not unlock aggregate",
						zap.String("lock", id),
						zap.Stringer("command", cmd.CommandType()),
						zap.Error(err),
					)
				}
			}()

			return h.HandleCommand(withHeld(ctx, held, id), cmd)
		})
	})
}

func lockID(cmd eh.Command) string {
	return string(cmd.AggregateType()) + ":" + cmd.AggregateID().String()
}

func withHeld(ctx context.Context, held map[string]struct{}, id string) context.Context {
	next := make(map[string]struct{}, len(held)+1)
	for k := range held {
		next[k] = struct{}{}
	}

	next[id] = struct{}{}

	return context.WithValue(ctx, heldLocksKey{}, next)
}
