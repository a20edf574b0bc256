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

package projector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// Projector is a projector of events onto models.
type Projector interface {
	// ProjectorType returns the type of the projector.
	ProjectorType() Type

	// Project projects an event onto a model and returns the updated model or
	// an error.
	Project(context.Context, eh.Event, eh.Entity) (eh.Entity, error)
}

// Type is the type of a projector, used as its unique identifier.
type Type string

// String returns the string representation of a projector type.
func (t Type) String() string {
	return string(t)
}

var (
	// ErrMissingEvent is when there is no event to project.
	ErrMissingEvent = errors.New("missing event")
	// ErrModelNotSet is when a model factory is not set on the EventHandler.
	ErrModelNotSet = errors.New("model not set")
	// ErrModelRemoved is when a model has been removed.
	ErrModelRemoved = errors.New("model removed")
	// ErrIncorrectEntityVersion is when an entity is not one version behind
	// the projected event.
	ErrIncorrectEntityVersion = errors.New("incorrect entity version")
	// Returned if the model has not incremented its version as predicted.
	ErrIncorrectProjectedEntityVersion = errors.New("incorrect projected entity version")
)

// Error is an error in the projector.
type Error struct {
	// Err is the error that happened when projecting the event.
	Err error
	// Projector is the projector where the error happened.
	Projector string
	// Event is the event being projected.
	Event eh.Event
	// EntityID of related operation.
	EntityID uuid.UUID
	// EntityVersion is the version of the entity.
	EntityVersion int
}

// Error implements the Error method of the errors.Error interface.
func (e *Error) Error() string {
	str := "projector '" + e.Projector + "': "

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.EntityID != uuid.Nil {
		str += fmt.Sprintf(", Entity(%s, v%d)", e.EntityID, e.EntityVersion)
	}

	if e.Event != nil {
		str += ", " + e.Event.String()
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// EventHandler runs a Projector on the events it handles, loading the entity
// from a repo and saving or removing the projected entity.
type EventHandler struct {
	projector Projector
	repo      eh.ReadWriteRepo
	newEntity func() eh.Entity
	irregular bool
	lookup    func(eh.Event) uuid.UUID
	logger    *zap.Logger
}

var _ = eh.EventHandler(&EventHandler{})

// NewEventHandler creates a new EventHandler.
func NewEventHandler(projector Projector, repo eh.ReadWriteRepo, options ...Option) *EventHandler {
	h := &EventHandler{
		projector: projector,
		repo:      repo,
		lookup:    eh.Event.AggregateID,
		logger:    zap.NewNop(),
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// Option is an option setter used to configure creation.
type Option func(*EventHandler)

// WithIrregularVersioning allows gaps in the versions, for projections of
// only some of the events of an aggregate or of several aggregates.
func WithIrregularVersioning() Option {
	return func(h *EventHandler) {
		h.irregular = true
	}
}

// WithEntityLookup sets how the ID of the projected entity is found from an
// event, by default the aggregate ID.
func WithEntityLookup(f func(eh.Event) uuid.UUID) Option {
	return func(h *EventHandler) {
		h.lookup = f
	}
}

// WithLogger logs the saved and removed entities at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(h *EventHandler) {
		if logger != nil {
			h.logger = logger.Named("projector").With(zap.Stringer("projector", h.projector.ProjectorType()))
		}
	}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (h *EventHandler) HandlerType() eh.EventHandlerType {
	return eh.EventHandlerType("projector_" + h.projector.ProjectorType())
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
// Versionable entities must be exactly one version behind the event, older
// events are ignored.
func (h *EventHandler) HandleEvent(ctx context.Context, event eh.Event) error {
	if event == nil {
		return h.fail(ErrMissingEvent, nil, uuid.Nil, 0)
	}

	id := h.lookup(event)

	entity, err := h.repo.Find(ctx, id)

	switch {
	case errors.Is(err, eh.ErrEntityNotFound):
		if h.newEntity == nil {
			return h.fail(ErrModelNotSet, event, id, 0)
		}

		entity = h.newEntity()
	case err != nil:
		return h.fail(fmt.Errorf("could not load entity: %w", err), event, id, 0)
	}

	version := 0

	if v, ok := entity.(eh.Versionable); ok {
		version = v.AggregateVersion()

		if event.Version() <= version {
			return nil
		}

		if err := h.checkNext(version, event.Version()); err != nil {
			return h.fail(err, event, id, version)
		}
	}

	projected, err := h.projector.Project(ctx, event, entity)
	if err != nil {
		return h.fail(fmt.Errorf("could not project: %w", err), event, id, version)
	}

	if v, ok := projected.(eh.Versionable); ok {
		version = v.AggregateVersion()
		if version != event.Version() {
			return h.fail(ErrIncorrectProjectedEntityVersion, event, id, version)
		}
	}

	if projected == nil {
		if err := h.repo.Remove(ctx, id); err != nil {
			return h.fail(fmt.Errorf("could not remove: %w", err), event, id, version)
		}

		h.logger.Debug("removed", zap.Stringer("entity", id), zap.Stringer("event", event.EventType()))

		return nil
	}

	if projected.EntityID() != id {
		return h.fail(errors.New("incorrect entity ID after projection"), event, id, version)
	}

	if err := h.repo.Save(ctx, projected); err != nil {
		return h.fail(fmt.Errorf("could not save: %w", err), event, id, version)
	}

	h.logger.Debug("saved", zap.Stringer("entity", id), zap.Stringer("event", event.EventType()))

	return nil
}

// checkNext checks that an event version follows the entity version.
func (h *EventHandler) checkNext(entityVersion, eventVersion int) error {
	switch {
	case h.irregular || eventVersion == entityVersion+1:
		return nil
	case entityVersion == 0:
		// A missing entity that should have earlier events.
		return ErrModelRemoved
	default:
		return ErrIncorrectEntityVersion
	}
}

func (h *EventHandler) fail(err error, event eh.Event, id uuid.UUID, version int) error {
	return &Error{
		Err:           err,
		Projector:     h.projector.ProjectorType().String(),
		Event:         event,
		EntityID:      id,
		EntityVersion: version,
	}
}

// SetEntityFactory sets a factory function that creates concrete entity types.
func (h *EventHandler) SetEntityFactory(f func() eh.Entity) {
	h.newEntity = f
}
