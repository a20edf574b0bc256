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

// Package kafka publishes the notifications to a Kafka topic. Each handler
// type reads with its own consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventbus"
)

// JoinTimeout is how long AddHandler waits for the reader to join its group.
var JoinTimeout = 10 * time.Second

// EventBus is a remote event bus backed by a Kafka topic with one partition,
// which keeps the notifications in order.
type EventBus struct {
	subs *eventbus.Handlers

	addr   string
	appID  string
	topic  string
	writer *kafka.Writer
}

// NewEventBus creates an EventBus, creating the topic of the app if needed.
func NewEventBus(addr, appID string, options ...Option) (*EventBus, error) {
	b := &EventBus{
		subs:  eventbus.NewHandlers("kafka"),
		addr:  addr,
		appID: appID,
		topic: appID + "_events",
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

	if err := b.createTopic(b.subs.Context()); err != nil {
		b.subs.Stop()

		return nil, err
	}

	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Topic:        b.topic,
		BatchSize:    1,
		RequiredAcks: kafka.RequireOne,
	}

	return b, nil
}

// createTopic waits for the broker to come up, at most ten attempts apart
// by five seconds.
func (b *EventBus) createTopic(ctx context.Context) error {
	client := &kafka.Client{Addr: kafka.TCP(b.addr)}
	req := &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{Topic: b.topic, NumPartitions: 1, ReplicationFactor: 1}},
	}

	for attempt := 0; attempt < 10; attempt++ {
		resp, err := client.CreateTopics(ctx, req)
		if errors.Is(err, kafka.BrokerNotAvailable) {
			b.subs.Logger().Info("waiting for Kafka broker", zap.String("addr", b.addr))
			time.Sleep(5 * time.Second)

			continue
		} else if err != nil {
			return fmt.Errorf("error creating Kafka topic: %w", err)
		}

		if err := resp.Errors[b.topic]; err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("invalid Kafka topic: %w", err)
		}

		return nil
	}

	return errors.New("could not get/create Kafka topic in time")
}

// Option is an option setter used to configure creation.
type Option func(*EventBus) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec eh.EventCodec) Option {
	return func(b *EventBus) error {
		return b.subs.SetCodec(codec)
	}
}

// WithLogger sets the logger used for errors that could not be delivered on
// the error channel.
func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) error {
		if b.subs == nil {
			b.subs = eventbus.NewHandlers("kafka")
		}

		return b.subs.SetLogger(l)
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

const (
	aggregateTypeHeader = "aggregate_type"
	eventTypeHeader     = "event_type"
)

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	data, err := b.subs.Encode(ctx, event)
	if err != nil {
		return err
	}

	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Value: data,
		Headers: []kafka.Header{
			{Key: aggregateTypeHeader, Value: []byte(event.AggregateType().String())},
			{Key: eventTypeHeader, Value: []byte(event.EventType().String())},
		},
	}); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}

	return nil
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
// It returns when the reader of the handler has joined its group, so that no
// later notification is missed.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return b.subs.Add(m, h, func() error {
		r, err := b.join(b.appID + "_" + h.HandlerType().String())
		if err != nil {
			return err
		}

		b.subs.Receive(func(ctx context.Context) error {
			return b.fetch(ctx, m, h, r)
		})

		b.subs.Go(func(ctx context.Context) {
			<-ctx.Done()

			if err := r.Close(); err != nil {
				b.subs.Logger().Warn("could not close Kafka reader", zap.Error(err))
			}
		})

		return nil
	})
}

func (b *EventBus) join(group string) (*kafka.Reader, error) {
	joined := make(chan struct{})
	logger := b.subs.Logger()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                []string{b.addr},
		Topic:                  b.topic,
		GroupID:                group,
		MaxBytes:               100e3,
		MaxWait:                time.Second,
		PartitionWatchInterval: time.Second,
		WatchPartitionChanges:  true,
		StartOffset:            kafka.LastOffset,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			// Joining the group is only visible in the reader log.
			if strings.HasPrefix(msg, "Joined group") {
				select {
				case <-joined:
				default:
					close(joined)
				}
			}
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Warnf(msg, args...)
		}),
	})

	select {
	case <-joined:
		return r, nil
	case <-time.After(JoinTimeout):
		if err := r.Close(); err != nil {
			logger.Warn("could not close Kafka reader", zap.Error(err))
		}

		return nil, fmt.Errorf("did not join group %s in time", group)
	}
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.subs.Errors()
}

// Close implements the Close method of the eh.EventBus interface.
func (b *EventBus) Close() error {
	b.subs.Stop()

	return b.writer.Close()
}

// fetch handles the next message of the reader. Failed messages are not
// committed, so the group reads them again after a rebalance.
func (b *EventBus) fetch(ctx context.Context, m eh.EventMatcher, h eh.EventHandler, r *kafka.Reader) error {
	msg, err := r.FetchMessage(ctx)
	if err != nil {
		return err
	}

	event, outcome := b.subs.Deliver(ctx, m, h, msg.Value)
	if outcome == eventbus.Retry {
		return nil
	}

	if err := r.CommitMessages(ctx, msg); err != nil {
		b.subs.Fail(&eh.EventBusError{Err: fmt.Errorf("could not commit message: %w", err), Ctx: ctx, Event: event})
	}

	return nil
}
