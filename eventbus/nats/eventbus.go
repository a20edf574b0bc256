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

// Package nats publishes the notifications to a NATS JetStream stream. Each
// handler type gets a durable queue consumer, so a notification is handled
// once per handler type and redelivered until it is acked.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventbus"
)

// EventBus is a remote event bus backed by NATS JetStream.
type EventBus struct {
	subs *eventbus.Handlers

	appID    string
	stream   string
	connOpts []nats.Option
	conn     *nats.Conn
	js       nats.JetStreamContext

	mu        sync.Mutex
	consumers []*nats.Subscription
}

// NewEventBus creates an EventBus, creating the stream of the app if needed.
func NewEventBus(url, appID string, options ...Option) (*EventBus, error) {
	b := &EventBus{
		subs:   eventbus.NewHandlers("nats"),
		appID:  appID,
		stream: appID + "_events",
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(b); err != nil {
			b.subs.Stop()

			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := b.connect(url); err != nil {
		b.subs.Stop()

		if b.conn != nil {
			b.conn.Close()
		}

		return nil, err
	}

	return b, nil
}

func (b *EventBus) connect(url string) error {
	var err error

	if b.conn, err = nats.Connect(url, b.connOpts...); err != nil {
		return fmt.Errorf("could not connect to NATS: %w", err)
	}

	if b.js, err = b.conn.JetStream(); err != nil {
		return fmt.Errorf("could not create JetStream context: %w", err)
	}

	_, err = b.js.StreamInfo(b.stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := b.js.AddStream(&nats.StreamConfig{
			Name:     b.stream,
			Subjects: []string{b.stream + ".*.*"},
		}); err != nil {
			return fmt.Errorf("could not create NATS stream: %w", err)
		}
	case err != nil:
		return fmt.Errorf("could not get NATS stream: %w", err)
	}

	return nil
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec eh.EventCodec) Option {
	return func(b *EventBus) error {
		return b.subs.SetCodec(codec)
	}
}

// WithNATSOptions adds the NATS options to the underlying client.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(b *EventBus) error {
		b.connOpts = append(b.connOpts, opts...)

		return nil
	}
}

// WithLogger sets the logger used for errors that could not be delivered on
// the error channel.
func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) error {
		if b.subs == nil {
			b.subs = eventbus.NewHandlers("nats")
		}

		return b.subs.SetLogger(l)
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
// The subject carries the aggregate and event type.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	data, err := b.subs.Encode(ctx, event)
	if err != nil {
		return err
	}

	subject := b.stream + "." + event.AggregateType().String() + "." + event.EventType().String()
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return b.subs.Add(m, h, func() error {
		// Durable names may not contain dots.
		name := strings.ReplaceAll(b.appID+"_"+h.HandlerType().String(), ".", "_")

		sub, err := b.js.QueueSubscribe(b.stream+".*.*", name, b.handler(m, h),
			nats.Durable(name),
			nats.DeliverNew(),
			nats.ManualAck(),
			nats.AckExplicit(),
		)
		if err != nil {
			return fmt.Errorf("could not subscribe to queue: %w", err)
		}

		b.mu.Lock()
		b.consumers = append(b.consumers, sub)
		b.mu.Unlock()

		return nil
	})
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.subs.Errors()
}

// Close implements the Close method of the eh.EventBus interface. Draining
// keeps the durable consumers for the next process.
func (b *EventBus) Close() error {
	b.subs.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error

	for _, sub := range b.consumers {
		if err := sub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("could not drain subscription: %w", err))
		}
	}

	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("could not drain connection: %w", err))
	}

	return errors.Join(errs...)
}

func (b *EventBus) handler(m eh.EventMatcher, h eh.EventHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := b.subs.Context()

		var err error

		event, outcome := b.subs.Deliver(ctx, m, h, msg.Data)
		switch outcome {
		case eventbus.Drop:
			err = msg.Term()
		case eventbus.Retry:
			err = msg.Nak()
		default:
			err = msg.Ack()
		}

		if err != nil {
			b.subs.Fail(&eh.EventBusError{Err: fmt.Errorf("could not settle message: %w", err), Ctx: ctx, Event: event})
		}
	}
}
