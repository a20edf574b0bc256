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

// Package redis publishes the notifications to a Redis stream. Each handler
// type reads with its own consumer group, so every notification is handled
// once per handler type across all processes sharing the app ID.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventbus"
)

// EventBus is a remote event bus backed by Redis streams.
type EventBus struct {
	subs *eventbus.Handlers

	appID    string
	clientID string
	stream   string
	opts     *redis.Options
	client   *redis.Client
}

// NewEventBus creates an EventBus for the app, clientID names this process
// within the consumer groups.
func NewEventBus(addr, appID, clientID string, options ...Option) (*EventBus, error) {
	b := &EventBus{
		subs:     eventbus.NewHandlers("redis"),
		appID:    appID,
		clientID: clientID,
		stream:   appID + "_events",
		opts:     &redis.Options{Addr: addr},
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

	b.client = redis.NewClient(b.opts)

	if err := b.client.Ping(b.subs.Context()).Err(); err != nil {
		b.subs.Stop()

		return nil, fmt.Errorf("could not check Redis server: %w", err)
	}

	return b, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec eh.EventCodec) Option {
	return func(b *EventBus) error {
		return b.subs.SetCodec(codec)
	}
}

// WithRedisOptions replaces the client options, including the address.
func WithRedisOptions(opts *redis.Options) Option {
	return func(b *EventBus) error {
		b.opts = opts

		return nil
	}
}

// WithLogger sets the logger used for errors that could not be delivered on
// the error channel.
func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) error {
		if b.subs == nil {
			b.subs = eventbus.NewHandlers("redis")
		}

		return b.subs.SetLogger(l)
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

const (
	aggregateTypeKey = "aggregate_type"
	eventTypeKey     = "event_type"
	dataKey          = "data"
)

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	data, err := b.subs.Encode(ctx, event)
	if err != nil {
		return err
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			aggregateTypeKey: event.AggregateType().String(),
			eventTypeKey:     event.EventType().String(),
			dataKey:          data,
		},
	}).Err(); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return b.subs.Add(m, h, func() error {
		group := b.appID + "_" + h.HandlerType().String()

		// The group is shared by all processes and only created by the first.
		err := b.client.XGroupCreateMkStream(ctx, b.stream, group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("could not create consumer group: %w", err)
		}

		b.subs.Receive(func(ctx context.Context) error {
			return b.read(ctx, m, h, group)
		})

		return nil
	})
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.subs.Errors()
}

// Close implements the Close method of the eh.EventBus interface.
func (b *EventBus) Close() error {
	b.subs.Stop()

	return b.client.Close()
}

// read blocks for the next batch of the group and handles it.
func (b *EventBus) read(ctx context.Context, m eh.EventMatcher, h eh.EventHandler, group string) error {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: group + "_" + b.clientID,
		Streams:  []string{b.stream, ">"},
	}).Result()
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			b.deliver(ctx, m, h, group, msg)
		}
	}

	return nil
}

func (b *EventBus) deliver(ctx context.Context, m eh.EventMatcher, h eh.EventHandler, group string, msg redis.XMessage) {
	data, ok := msg.Values[dataKey].(string)
	if !ok {
		b.subs.Fail(&eh.EventBusError{Err: fmt.Errorf("event data is of incorrect type %T", msg.Values[dataKey]), Ctx: ctx})
		b.ack(ctx, group, msg.ID)

		return
	}

	// Failed events stay pending in the group.
	if _, outcome := b.subs.Deliver(ctx, m, h, []byte(data)); outcome == eventbus.Retry {
		return
	}

	b.ack(ctx, group, msg.ID)
}

func (b *EventBus) ack(ctx context.Context, group, id string) {
	if err := b.client.XAck(ctx, b.stream, group, id).Err(); err != nil {
		b.subs.Fail(&eh.EventBusError{Err: fmt.Errorf("could not ack event: %w", err), Ctx: ctx})
	}
}
