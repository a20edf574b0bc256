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

// Package retry has an event handler middleware retrying failed handling
// with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
)

// Option is an option setter used to configure the middleware.
type Option func(*eventHandler)

// WithAttempts sets the maximum number of attempts, default 5.
func WithAttempts(n int) Option {
	return func(h *eventHandler) {
		h.attempts = n
	}
}

// WithBackoff sets the delays between attempts, default 10ms doubling up
// to 1s.
func WithBackoff(min, max time.Duration) Option {
	return func(h *eventHandler) {
		h.min, h.max = min, max
	}
}

// WithLogger sets the logger used for failed attempts.
func WithLogger(l *zap.Logger) Option {
	return func(h *eventHandler) {
		h.logger = l
	}
}

// NewMiddleware returns a middleware retrying the handling of an event until
// it succeeds, the attempts run out or the context is done. It is meant for
// relaying events to external systems, where failures are often transient.
func NewMiddleware(options ...Option) eh.EventHandlerMiddleware {
	return eh.EventHandlerMiddleware(func(h eh.EventHandler) eh.EventHandler {
		r := &eventHandler{
			EventHandler: h,
			attempts:     5,
			min:          10 * time.Millisecond,
			max:          time.Second,
			logger:       zap.NewNop(),
		}

		for _, option := range options {
			option(r)
		}

		return r
	})
}

type eventHandler struct {
	eh.EventHandler
	attempts int
	min, max time.Duration
	logger   *zap.Logger
}

// InnerHandler returns the wrapped handler.
func (h *eventHandler) InnerHandler() eh.EventHandler {
	return h.EventHandler
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (h *eventHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	delay := &backoff.Backoff{
		Min:    h.min,
		Max:    h.max,
		Factor: 2,
	}

	var err error

	for attempt := 1; ; attempt++ {
		if err = h.EventHandler.HandleEvent(ctx, event); err == nil {
			return nil
		}

		if attempt >= h.attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay.Duration()
		h.logger.Warn("could not handle event, retrying",
			zap.Stringer("handler", h.HandlerType()),
			zap.String("event", event.String()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}
}
