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

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/codec/json"
)

// RetryDelay is the pause before a failed receive is tried again.
var RetryDelay = time.Second

// Outcome tells a bus what to do with a delivered message.
type Outcome int

const (
	// Ack means the message was handled, or was not for the handler.
	Ack Outcome = iota
	// Retry means the handler failed and the message should be redelivered.
	Retry
	// Drop means the message could not be decoded and never will be.
	Drop
)

// Handlers keeps the handlers added to a bus and the goroutines receiving for
// them. Failures that happen outside of a call are sent on the error channel,
// or logged when nobody reads it.
type Handlers struct {
	name   string
	codec  eh.EventCodec
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	mu    sync.Mutex
	added map[eh.EventHandlerType]struct{}
}

// NewHandlers creates the Handlers of the bus called name, decoding with the
// JSON codec until SetCodec is called.
func NewHandlers(name string) *Handlers {
	ctx, cancel := context.WithCancel(context.Background())

	return &Handlers{
		name:   name,
		codec:  &json.EventCodec{},
		logger: zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan error, 100),
		added:  map[eh.EventHandlerType]struct{}{},
	}
}

// SetCodec sets the codec used by Encode and Deliver.
func (s *Handlers) SetCodec(c eh.EventCodec) error {
	if c == nil {
		return errors.New("missing codec")
	}

	s.codec = c

	return nil
}

// SetLogger sets the logger, named after the bus.
func (s *Handlers) SetLogger(l *zap.Logger) error {
	if l == nil {
		return errors.New("missing logger")
	}

	s.logger = l.Named(s.name)

	return nil
}

// Logger returns the logger of the bus.
func (s *Handlers) Logger() *zap.Logger {
	return s.logger
}

// Context is canceled when the bus stops.
func (s *Handlers) Context() context.Context {
	return s.ctx
}

// Add registers h and calls subscribe to set up its delivery. The handler
// type stays free if subscribe fails.
func (s *Handlers) Add(m eh.EventMatcher, h eh.EventHandler, subscribe func() error) error {
	if m == nil {
		return eh.ErrMissingMatcher
	}

	if h == nil {
		return eh.ErrMissingHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.added[h.HandlerType()]; ok {
		return eh.ErrHandlerAlreadyAdded
	}

	if err := subscribe(); err != nil {
		return err
	}

	s.added[h.HandlerType()] = struct{}{}

	return nil
}

// Go runs f until it returns, Stop waits for it.
func (s *Handlers) Go(f func(ctx context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		f(s.ctx)
	}()
}

// Receive runs recv in a loop until the bus stops. Errors are reported and
// followed by a pause of RetryDelay.
func (s *Handlers) Receive(recv func(ctx context.Context) error) {
	s.Go(func(ctx context.Context) {
		for {
			err := recv(ctx)
			if ctx.Err() != nil {
				return
			}

			if err == nil {
				continue
			}

			s.Fail(&eh.EventBusError{Err: fmt.Errorf("could not receive: %w", err)})

			select {
			case <-ctx.Done():
				return
			case <-time.After(RetryDelay):
			}
		}
	})
}

// Encode marshals an event for publishing.
func (s *Handlers) Encode(ctx context.Context, event eh.Event) ([]byte, error) {
	b, err := s.codec.MarshalEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("could not marshal event: %w", err)
	}

	return b, nil
}

// Deliver decodes a message and passes it to h when m matches.
func (s *Handlers) Deliver(ctx context.Context, m eh.EventMatcher, h eh.EventHandler, data []byte) (eh.Event, Outcome) {
	event, ctx, err := s.codec.UnmarshalEvent(ctx, data)
	if err != nil {
		s.Fail(&eh.EventBusError{Err: fmt.Errorf("could not unmarshal event: %w", err), Ctx: ctx})

		return nil, Drop
	}

	return event, s.Handle(ctx, m, h, event)
}

// Handle passes event to h when m matches.
func (s *Handlers) Handle(ctx context.Context, m eh.EventMatcher, h eh.EventHandler, event eh.Event) Outcome {
	if !m.Match(event) {
		return Ack
	}

	if err := h.HandleEvent(ctx, event); err != nil {
		s.Fail(&eh.EventBusError{
			Err:   fmt.Errorf("could not handle event (%s): %w", h.HandlerType(), err),
			Ctx:   ctx,
			Event: event,
		})

		return Retry
	}

	return Ack
}

// Fail reports an asynchronous error.
func (s *Handlers) Fail(err *eh.EventBusError) {
	select {
	case s.errs <- err:
	default:
		s.logger.Error("missed error in event bus", zap.String("bus", s.name), zap.Error(err))
	}
}

// Errors implements the Errors method of the eh.EventBus interface.
func (s *Handlers) Errors() <-chan error {
	return s.errs
}

// Stop cancels the context and waits for the goroutines started by Go.
func (s *Handlers) Stop() {
	s.cancel()
	s.wg.Wait()
}
