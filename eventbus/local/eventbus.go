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

// Package local is the in-process event bus. Every handler type has a
// buffered queue in a Group, busses sharing a group compete for its queues.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventbus"
)

// DefaultQueueSize is the number of events a handler queue buffers before
// publishing drops events for it.
var DefaultQueueSize = 1000

// EventBus delivers published events to the matching handlers, each on its
// own goroutine and in publishing order.
type EventBus struct {
	group *Group
	subs  *eventbus.Handlers
}

// Option is an option setter used to configure creation.
type Option func(*EventBus)

// WithLogger sets the logger used to report dropped events and errors
// nobody received.
func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) {
		if err := b.subs.SetLogger(l); err == nil {
			b.group.setLogger(b.subs.Logger())
		}
	}
}

// NewEventBus creates an EventBus publishing to g, or to a group of its own
// when g is nil.
func NewEventBus(g *Group, options ...Option) *EventBus {
	if g == nil {
		g = NewGroup()
	}

	b := &EventBus{
		group: g,
		subs:  eventbus.NewHandlers("local"),
	}

	for _, option := range options {
		option(b)
	}

	return b
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	return b.group.publish(ctx, event)
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return b.subs.Add(m, h, func() error {
		queue := b.group.queue(h.HandlerType().String())

		b.subs.Go(func(context.Context) {
			for q := range queue {
				b.subs.Handle(q.ctx, m, h, q.event)
			}
		})

		return nil
	})
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.subs.Errors()
}

// Close implements the Close method of the eh.EventBus interface. It closes
// the queues of the whole group.
func (b *EventBus) Close() error {
	b.group.close()
	b.subs.Stop()

	return nil
}

// Group holds the handler queues shared by one or more busses.
type Group struct {
	mu     sync.RWMutex
	queues map[string]chan queued
	logger *zap.Logger
}

// NewGroup creates a Group.
func NewGroup() *Group {
	return &Group{
		queues: map[string]chan queued{},
		logger: zap.NewNop(),
	}
}

type queued struct {
	ctx   context.Context
	event eh.Event
}

func (g *Group) setLogger(l *zap.Logger) {
	g.mu.Lock()
	g.logger = l
	g.mu.Unlock()
}

func (g *Group) queue(name string) <-chan queued {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.queues[name]
	if !ok {
		q = make(chan queued, DefaultQueueSize)
		g.queues[name] = q
	}

	return q
}

// publish queues a copy of event for every handler, so that no handler sees
// the changes of another or of the publisher.
func (g *Group) publish(ctx context.Context, event eh.Event) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for name, q := range g.queues {
		c, err := clone(event)
		if err != nil {
			return err
		}

		select {
		case q <- queued{ctx, c}:
		default:
			g.logger.Warn("handler queue full, dropping event",
				zap.String("handler", name),
				zap.Stringer("event", c),
			)
		}
	}

	return nil
}

func (g *Group) close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, q := range g.queues {
		close(q)
	}

	g.queues = map[string]chan queued{}
}

func clone(event eh.Event) (eh.Event, error) {
	var data eh.EventData

	if event.Data() != nil {
		var err error
		if data, err = eh.CreateEventData(event.EventType()); err != nil {
			return nil, fmt.Errorf("could not create event data: %w", err)
		}

		if err := copier.Copy(data, event.Data()); err != nil {
			return nil, fmt.Errorf("could not copy event data: %w", err)
		}
	}

	return eh.NewEvent(event.EventType(), data, event.Timestamp(),
		eh.ForAggregate(event.AggregateType(), event.AggregateID(), event.Version()),
		eh.WithMetadata(event.Metadata()),
	), nil
}
