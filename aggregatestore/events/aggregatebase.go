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

package events

import (
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// AggregateBase keeps the identity, version and pending events of an event
// sourced aggregate. Domain aggregates embed it and add their own state:
//
//	type Ledger struct {
//	    *events.AggregateBase
//
//	    attendees map[domain.Identity]*domain.AttendeeState
//	}
//
//	func NewLedger(id uuid.UUID) *Ledger {
//	    return &Ledger{AggregateBase: events.NewAggregateBase(LedgerAggregateType, id)}
//	}
//
// Commands record events with AppendEvent; the store applies them with
// ApplyEvent when saving, and again in order when loading.
type AggregateBase struct {
	id      uuid.UUID
	kind    eh.AggregateType
	version int
	pending []eh.Event
}

// NewAggregateBase creates an AggregateBase at version 0.
func NewAggregateBase(kind eh.AggregateType, id uuid.UUID) *AggregateBase {
	return &AggregateBase{id: id, kind: kind}
}

// EntityID implements the EntityID method of the eh.Entity interface.
func (a *AggregateBase) EntityID() uuid.UUID { return a.id }

// AggregateType implements the AggregateType method of the eh.Aggregate interface.
func (a *AggregateBase) AggregateType() eh.AggregateType { return a.kind }

// AggregateVersion is the version of the last applied event.
func (a *AggregateBase) AggregateVersion() int { return a.version }

// SetAggregateVersion is called by the store after an event has been applied.
func (a *AggregateBase) SetAggregateVersion(v int) { a.version = v }

// UncommittedEvents returns the events appended since the last save.
func (a *AggregateBase) UncommittedEvents() []eh.Event { return a.pending }

// ClearUncommittedEvents drops the pending events after a save.
func (a *AggregateBase) ClearUncommittedEvents() { a.pending = nil }

// AppendEvent records an event for the next save. Its version follows the
// applied version and the events already pending.
func (a *AggregateBase) AppendEvent(t eh.EventType, data eh.EventData, timestamp time.Time, options ...eh.EventOption) eh.Event {
	next := a.version + len(a.pending) + 1
	e := eh.NewEvent(t, data, timestamp, append(options, eh.ForAggregate(a.kind, a.id, next))...)
	a.pending = append(a.pending, e)

	return e
}
