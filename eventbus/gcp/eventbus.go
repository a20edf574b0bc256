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

// Package gcp publishes the notifications to a Google Cloud Pub/Sub topic.
// Each handler type has its own subscription, messages of one aggregate are
// ordered by using its ID as ordering key.
package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventbus"
)

// EventBus is a remote event bus backed by Pub/Sub.
type EventBus struct {
	subs *eventbus.Handlers

	appID      string
	clientOpts []option.ClientOption
	client     *pubsub.Client
	topic      *pubsub.Topic
}

// NewEventBus creates an EventBus, creating the topic of the app if needed.
// The Pub/Sub emulator is used when PUBSUB_EMULATOR_HOST is set.
func NewEventBus(projectID, appID string, options ...Option) (*EventBus, error) {
	b := &EventBus{
		subs:  eventbus.NewHandlers("gcp"),
		appID: appID,
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

	ctx := b.subs.Context()

	var err error
	if b.client, err = pubsub.NewClient(ctx, projectID, b.clientOpts...); err != nil {
		b.subs.Stop()

		return nil, fmt.Errorf("could not create Pub/Sub client: %w", err)
	}

	if b.topic, err = b.ensureTopic(ctx, appID+"_events"); err != nil {
		b.subs.Stop()

		if err := b.client.Close(); err != nil {
			b.subs.Logger().Warn("could not close Pub/Sub client", zap.Error(err))
		}

		return nil, err
	}

	b.topic.EnableMessageOrdering = true

	return b, nil
}

func (b *EventBus) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := b.client.Topic(name)

	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not check topic: %w", err)
	} else if ok {
		return topic, nil
	}

	if topic, err = b.client.CreateTopic(ctx, name); err != nil {
		return nil, fmt.Errorf("could not create topic: %w", err)
	}

	return topic, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec eh.EventCodec) Option {
	return func(b *EventBus) error {
		return b.subs.SetCodec(codec)
	}
}

// WithClientOptions adds the options to the underlying Pub/Sub client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(b *EventBus) error {
		b.clientOpts = append(b.clientOpts, opts...)

		return nil
	}
}

// WithLogger sets the logger used for errors that could not be delivered on
// the error channel.
func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) error {
		if b.subs == nil {
			b.subs = eventbus.NewHandlers("gcp")
		}

		return b.subs.SetLogger(l)
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

const (
	aggregateTypeAttribute = "aggregate_type"
	eventTypeAttribute     = "event_type"
)

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	data, err := b.subs.Encode(ctx, event)
	if err != nil {
		return err
	}

	key := event.AggregateID().String()

	res := b.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: key,
		Attributes: map[string]string{
			aggregateTypeAttribute: event.AggregateType().String(),
			eventTypeAttribute:     event.EventType().String(),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		// Publishing on the key is paused after an error.
		b.topic.ResumePublish(key)

		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return b.subs.Add(m, h, func() error {
		sub, err := b.subscription(ctx, b.appID+"_"+h.HandlerType().String())
		if err != nil {
			return err
		}

		b.subs.Receive(func(ctx context.Context) error {
			return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				// Undecodable messages are acked away, failed ones come back.
				if _, outcome := b.subs.Deliver(ctx, m, h, msg.Data); outcome == eventbus.Retry {
					msg.Nack()

					return
				}

				msg.Ack()
			})
		})

		return nil
	})
}

func (b *EventBus) subscription(ctx context.Context, id string) (*pubsub.Subscription, error) {
	sub := b.client.Subscription(id)

	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not check subscription: %w", err)
	} else if ok {
		return sub, nil
	}

	sub, err = b.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
		Topic:                 b.topic,
		AckDeadline:           60 * time.Second,
		EnableMessageOrdering: true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create subscription: %w", err)
	}

	return sub, nil
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.subs.Errors()
}

// Close implements the Close method of the eh.EventBus interface.
func (b *EventBus) Close() error {
	b.subs.Stop()
	b.topic.Stop()

	return b.client.Close()
}
