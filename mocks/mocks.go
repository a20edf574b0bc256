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

// Package mocks contains fakes of the toolkit interfaces, useful in testing.
package mocks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func init() {
	eh.RegisterAggregate(func(id uuid.UUID) eh.Aggregate {
		return NewAggregate(id)
	})

	eh.RegisterEventData(EventType, func() eh.EventData { return &EventData{} })
	eh.RegisterEventData(EventOtherType, func() eh.EventData { return &EventData{} })

	eh.RegisterContextMarshaler(func(ctx context.Context, vals map[string]interface{}) {
		if val, ok := ContextOne(ctx); ok {
			vals[contextKeyOneStr] = val
		}
	})
	eh.RegisterContextUnmarshaler(func(ctx context.Context, vals map[string]interface{}) context.Context {
		if val, ok := vals[contextKeyOneStr].(string); ok {
			return WithContextOne(ctx, val)
		}

		return ctx
	})
}

const (
	// AggregateType is the type for Aggregate.
	AggregateType eh.AggregateType = "Aggregate"

	// EventType is a the type for Event.
	EventType eh.EventType = "Event"
	// EventOtherType is the type for EventOther.
	EventOtherType eh.EventType = "EventOther"

	// CommandType is the type for Command.
	CommandType eh.CommandType = "Command"
	// CommandOtherType is the type for CommandOther.
	CommandOtherType eh.CommandType = "CommandOther"
)

// ErrRejected is the error returned by Aggregate.ApplyEvent for rejected events.
var ErrRejected = errors.New("rejected")

// Aggregate is a mocked versioned aggregate, useful in testing.
type Aggregate struct {
	ID       uuid.UUID
	Version  int
	Commands []eh.Command
	Applied  []eh.Event
	Pending  []eh.Event
	Context  context.Context
	// Used to simulate errors in HandleCommand.
	Err error
}

var _ = eh.Aggregate(&Aggregate{})

// NewAggregate returns a new Aggregate.
func NewAggregate(id uuid.UUID) *Aggregate {
	return &Aggregate{
		ID: id,
	}
}

// EntityID implements the EntityID method of the eh.Entity and eh.Aggregate interface.
func (a *Aggregate) EntityID() uuid.UUID {
	return a.ID
}

// AggregateType implements the AggregateType method of the eh.Aggregate interface.
func (a *Aggregate) AggregateType() eh.AggregateType {
	return AggregateType
}

// AggregateVersion implements the AggregateVersion method of the versioned aggregate.
func (a *Aggregate) AggregateVersion() int {
	return a.Version
}

// SetAggregateVersion implements the SetAggregateVersion method of the versioned aggregate.
func (a *Aggregate) SetAggregateVersion(v int) {
	a.Version = v
}

// UncommittedEvents returns the pending events.
func (a *Aggregate) UncommittedEvents() []eh.Event {
	return a.Pending
}

// ClearUncommittedEvents clears the pending events.
func (a *Aggregate) ClearUncommittedEvents() {
	a.Pending = nil
}

// HandleCommand implements the HandleCommand method of the eh.Aggregate interface.
// Each Command records one Event with its content.
func (a *Aggregate) HandleCommand(ctx context.Context, cmd eh.Command) error {
	if a.Err != nil {
		return a.Err
	}

	a.Commands = append(a.Commands, cmd)
	a.Context = ctx

	if c, ok := cmd.(Command); ok {
		a.Pending = append(a.Pending, eh.NewEvent(EventType, &EventData{Content: c.Content},
			time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
			eh.ForAggregate(AggregateType, a.ID, a.Version+len(a.Pending)+1)))
	}

	return nil
}

// ApplyEvent implements the ApplyEvent method of the versioned aggregate.
// Events with the content "reject" are refused.
func (a *Aggregate) ApplyEvent(ctx context.Context, event eh.Event) error {
	if d, ok := event.Data().(*EventData); ok && d.Content == "reject" {
		return ErrRejected
	}

	a.Applied = append(a.Applied, event)
	a.Context = ctx

	return nil
}

// EventData is a mocked event data, useful in testing.
type EventData struct {
	Content string
}

// Command is a mocked eh.Command, useful in testing.
type Command struct {
	ID      uuid.UUID
	Content string
}

var _ = eh.Command(Command{})

func (t Command) AggregateID() uuid.UUID          { return t.ID }
func (t Command) AggregateType() eh.AggregateType { return AggregateType }
func (t Command) CommandType() eh.CommandType     { return CommandType }

// CommandOther is a mocked eh.Command, useful in testing.
type CommandOther struct {
	ID      uuid.UUID
	Content string `eh:"optional"`
}

var _ = eh.Command(CommandOther{})

func (t CommandOther) AggregateID() uuid.UUID          { return t.ID }
func (t CommandOther) AggregateType() eh.AggregateType { return AggregateType }
func (t CommandOther) CommandType() eh.CommandType     { return CommandOtherType }

// Model is a mocked read model, useful in testing.
type Model struct {
	ID        uuid.UUID `json:"id"         bson:"_id"`
	Version   int       `json:"version"    bson:"version"`
	Content   string    `json:"content"    bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

var _ = eh.Entity(&Model{})
var _ = eh.Versionable(&Model{})

// EntityID implements the EntityID method of the eh.Entity interface.
func (m *Model) EntityID() uuid.UUID {
	return m.ID
}

// AggregateVersion implements the AggregateVersion method of the eh.Versionable interface.
func (m *Model) AggregateVersion() int {
	return m.Version
}

// CommandHandler is a mocked eh.CommandHandler, useful in testing.
type CommandHandler struct {
	sync.RWMutex
	Commands []eh.Command
	Context  context.Context
	// Used to simulate errors when handling.
	Err error
}

var _ = eh.CommandHandler(&CommandHandler{})

// HandleCommand implements the HandleCommand method of the eh.CommandHandler interface.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd eh.Command) error {
	h.Lock()
	defer h.Unlock()

	if h.Err != nil {
		return h.Err
	}

	h.Commands = append(h.Commands, cmd)
	h.Context = ctx

	return nil
}

// EventHandler is a mocked eh.EventHandler, useful in testing.
type EventHandler struct {
	sync.RWMutex
	Type    eh.EventHandlerType
	Events  []eh.Event
	Context context.Context
	Time    time.Time
	Recv    chan eh.Event
	// Used to simulate errors when handling.
	Err error
}

var _ = eh.EventHandler(&EventHandler{})

// NewEventHandler creates a new EventHandler.
func NewEventHandler(handlerType eh.EventHandlerType) *EventHandler {
	return &EventHandler{
		Type:    handlerType,
		Events:  []eh.Event{},
		Context: context.Background(),
		Recv:    make(chan eh.Event, 10),
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (m *EventHandler) HandlerType() eh.EventHandlerType {
	return m.Type
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (m *EventHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, event)
	m.Context = ctx
	m.Time = time.Now()
	select {
	case m.Recv <- event:
	default:
	}

	return nil
}

// Reset resets the mock data.
func (m *EventHandler) Reset() {
	m.Lock()
	defer m.Unlock()

	m.Events = []eh.Event{}
	m.Context = context.Background()
	m.Time = time.Time{}
}

// Wait is a helper to wait some duration until for an event to be handled.
func (m *EventHandler) Wait(d time.Duration) bool {
	select {
	case <-m.Recv:
		return true
	case <-time.After(d):
		return false
	}
}

// WaitForEvent is a helper to wait until an event has been handled, it timeouts
// after 1 second.
func (m *EventHandler) WaitForEvent(t *testing.T) {
	t.Helper()

	if !m.Wait(time.Second) {
		t.Error("did not receive event in time")
	}
}

// EventStore is a mocked eh.EventStore, useful in testing.
type EventStore struct {
	Events  []eh.Event
	Loaded  uuid.UUID
	Context context.Context
	// Used to simulate errors in the store.
	Err error
}

var _ = eh.EventStore(&EventStore{})

// Save implements the Save method of the eh.EventStore interface.
func (m *EventStore) Save(ctx context.Context, events []eh.Event, originalVersion int) error {
	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, events...)
	m.Context = ctx

	return nil
}

// Load implements the Load method of the eh.EventStore interface.
func (m *EventStore) Load(ctx context.Context, id uuid.UUID) ([]eh.Event, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.Loaded = id
	m.Context = ctx

	var events []eh.Event

	for _, e := range m.Events {
		if e.AggregateID() == id {
			events = append(events, e)
		}
	}

	if len(events) == 0 {
		return nil, &eh.EventStoreError{
			Err:         eh.ErrAggregateNotFound,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return events, nil
}

// Close implements the Close method of the eh.EventStore interface.
func (m *EventStore) Close() error {
	return nil
}

// EventBus is a mocked eh.EventBus, useful in testing.
type EventBus struct {
	sync.RWMutex
	Events  []eh.Event
	Context context.Context
	// Used to simulate errors in HandleEvent.
	Err   error
	errCh chan error
}

var _ = eh.EventBus(&EventBus{})

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		errCh: make(chan error, 1),
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (b *EventBus) HandlerType() eh.EventHandlerType {
	return "eventbus"
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (b *EventBus) HandleEvent(ctx context.Context, event eh.Event) error {
	b.Lock()
	defer b.Unlock()

	if b.Err != nil {
		return b.Err
	}

	b.Events = append(b.Events, event)
	b.Context = ctx

	return nil
}

// AddHandler implements the AddHandler method of the eh.EventBus interface.
func (b *EventBus) AddHandler(ctx context.Context, m eh.EventMatcher, h eh.EventHandler) error {
	return nil
}

// Errors implements the Errors method of the eh.EventBus interface.
func (b *EventBus) Errors() <-chan error {
	return b.errCh
}

// Close implements the Close method of the eh.EventBus interface.
func (b *EventBus) Close() error {
	return nil
}

// Repo is a mocked eh.ReadRepo, useful in testing.
type Repo struct {
	ParentRepo eh.ReadWriteRepo
	Entity     eh.Entity
	Entities   []eh.Entity
	// Used to simulate errors in the store.
	LoadErr, SaveErr error

	FindCalled, FindAllCalled, SaveCalled, RemoveCalled bool
}

var _ = eh.ReadWriteRepo(&Repo{})

// InnerRepo implements the InnerRepo method of the eh.ReadRepo interface.
func (r *Repo) InnerRepo(ctx context.Context) eh.ReadRepo {
	return r.ParentRepo
}

// Find implements the Find method of the eh.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id uuid.UUID) (eh.Entity, error) {
	r.FindCalled = true

	if r.LoadErr != nil {
		return nil, r.LoadErr
	}

	return r.Entity, nil
}

// FindAll implements the FindAll method of the eh.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]eh.Entity, error) {
	r.FindAllCalled = true

	if r.LoadErr != nil {
		return nil, r.LoadErr
	}

	return r.Entities, nil
}

// Save implements the Save method of the eh.ReadRepo interface.
func (r *Repo) Save(ctx context.Context, entity eh.Entity) error {
	r.SaveCalled = true

	if r.SaveErr != nil {
		return r.SaveErr
	}

	r.Entity = entity

	return nil
}

// Remove implements the Remove method of the eh.ReadRepo interface.
func (r *Repo) Remove(ctx context.Context, id uuid.UUID) error {
	r.RemoveCalled = true

	if r.SaveErr != nil {
		return r.SaveErr
	}

	r.Entity = nil

	return nil
}

// Close implements the Close method of the eh.ReadRepo interface.
func (r *Repo) Close() error {
	return nil
}

type contextKey int

const (
	contextKeyOne contextKey = iota
)

// Context keys for testing.
const (
	contextKeyOneStr = "context_one"
)

// WithContextOne sets a value for One one the context.
func WithContextOne(ctx context.Context, val string) context.Context {
	return context.WithValue(ctx, contextKeyOne, val)
}

// ContextOne returns a value for One from the context.
func ContextOne(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(contextKeyOne).(string)

	return val, ok
}
