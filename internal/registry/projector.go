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

package registry

import (
	"context"
	"errors"
	"fmt"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventhandler/projector"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// ProjectorType is the type of the event record projector.
const ProjectorType = projector.Type("registry_events")

var (
	// ErrUnknownEvent is when a ledger notification refers to an event that
	// was never projected.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMissedLedgerEvent is when ledger notifications were skipped; the
	// record must be rebuilt by replaying them in order.
	ErrMissedLedgerEvent = errors.New("missed ledger event")
)

// Projector projects catalog and ledger notifications onto Event records.
type Projector struct{}

// ProjectorType implements the ProjectorType method of the projector.Projector interface.
func (p *Projector) ProjectorType() projector.Type {
	return ProjectorType
}

// Project implements the Project method of the projector.Projector interface.
func (p *Projector) Project(ctx context.Context, event eh.Event, entity eh.Entity) (eh.Entity, error) {
	model, ok := entity.(*Event)
	if !ok {
		return nil, errors.New("model is of incorrect type")
	}

	if event.EventType() == domain.EventCreatedEvent {
		data, ok := event.Data().(*domain.EventCreatedData)
		if !ok {
			return nil, errors.New("invalid event data")
		}

		// Replays of the creation keep the counters.
		if model.EventID == 0 {
			*model = Event{
				ID:           domain.RecordID(data.EventID),
				EventID:      data.EventID,
				Organizer:    data.Organizer,
				Deposit:      data.DepositWei,
				RSVPDeadline: data.RSVPDeadline,
				CheckinStart: data.CheckinStart,
				CheckinEnd:   data.CheckinEnd,
				Beneficiary:  data.Beneficiary,
				CreatedAt:    event.Timestamp(),
				UpdatedAt:    event.Timestamp(),
			}
		}

		return model, nil
	}

	eventID, _ := domain.EventIDOf(event)
	if model.EventID == 0 || model.EventID != eventID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}

	// Ledger events are delivered at least once.
	if event.Version() <= model.LedgerVersion {
		return model, nil
	}

	if event.Version() != model.LedgerVersion+1 {
		return nil, fmt.Errorf("%w: %s at v%d, record at v%d",
			ErrMissedLedgerEvent, eventID, event.Version(), model.LedgerVersion)
	}

	switch event.EventType() {
	case domain.RSVPedEvent:
		model.RSVPCount++
	case domain.CheckedInEvent:
		model.CheckinCount++
	case domain.FinalizedEvent:
		model.Finalized = true
	case domain.RefundedEvent:
	default:
		return model, fmt.Errorf("could not project event: %s", event.EventType())
	}

	model.LedgerVersion = event.Version()
	model.UpdatedAt = event.Timestamp()

	return model, nil
}

// NewEventHandler returns the projector wrapped in an event handler saving
// to repo. Notifications are matched to records by their event ID.
func NewEventHandler(repo eh.ReadWriteRepo, options ...projector.Option) *projector.EventHandler {
	options = append([]projector.Option{
		projector.WithEntityLookup(func(event eh.Event) uuid.UUID {
			if id, ok := domain.EventIDOf(event); ok {
				return domain.RecordID(id)
			}

			return event.AggregateID()
		}),
		projector.WithIrregularVersioning(),
	}, options...)

	h := projector.NewEventHandler(&Projector{}, repo, options...)
	h.SetEntityFactory(func() eh.Entity { return &Event{} })

	return h
}

// Matcher matches the notifications projected onto Event records.
func Matcher() eh.EventMatcher {
	return eh.MatchEvents(append([]eh.EventType{domain.EventCreatedEvent}, domain.LedgerEvents...))
}
