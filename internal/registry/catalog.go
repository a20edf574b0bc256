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
	"github.com/rsvpkit/rsvpkit/aggregatestore/events"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func init() {
	eh.RegisterAggregate(func(id uuid.UUID) eh.Aggregate {
		return NewCatalog(id)
	})
}

// CatalogAggregateType is the aggregate type of the event catalog.
const CatalogAggregateType = eh.AggregateType("catalog")

// ErrEventIDTaken is when a creation races another one for the same ID.
var ErrEventIDTaken = errors.New("event ID already assigned")

// Catalog is the aggregate allocating event IDs. Each created event is one
// EventCreated notification, so the catalog version is the last assigned ID.
type Catalog struct {
	*events.AggregateBase

	next domain.EventID
}

var _ = eh.Aggregate(&Catalog{})

// NewCatalog creates an empty catalog.
func NewCatalog(id uuid.UUID) *Catalog {
	return &Catalog{
		AggregateBase: events.NewAggregateBase(CatalogAggregateType, id),
		next:          1,
	}
}

// Next returns the ID the next created event will get.
func (a *Catalog) Next() domain.EventID {
	return a.next
}

// HandleCommand implements the HandleCommand method of the eh.CommandHandler interface.
func (a *Catalog) HandleCommand(ctx context.Context, cmd eh.Command) error {
	switch cmd := cmd.(type) {
	case *CreateEvent:
		if err := cmd.Terms().Validate(cmd.At); err != nil {
			return err
		}

		if cmd.EventID != a.next {
			return fmt.Errorf("%w: %s, next is %s", ErrEventIDTaken, cmd.EventID, a.next)
		}

		a.AppendEvent(domain.EventCreatedEvent, &domain.EventCreatedData{
			EventID:      cmd.EventID,
			Organizer:    cmd.Organizer,
			DepositWei:   cmd.Deposit,
			RSVPDeadline: cmd.RSVPDeadline,
			CheckinStart: cmd.CheckinStart,
			CheckinEnd:   cmd.CheckinEnd,
			Beneficiary:  cmd.Beneficiary,
		}, cmd.At)
	default:
		return fmt.Errorf("could not handle command: %s", cmd.CommandType())
	}

	return nil
}

// ApplyEvent implements the ApplyEvent method of the versioned aggregate.
func (a *Catalog) ApplyEvent(ctx context.Context, event eh.Event) error {
	switch event.EventType() {
	case domain.EventCreatedEvent:
		data, ok := event.Data().(*domain.EventCreatedData)
		if !ok {
			return errors.New("invalid event data")
		}

		if data.EventID != a.next {
			return fmt.Errorf("%w: event %s created out of order", domain.ErrLedgerInconsistent, data.EventID)
		}

		a.next++
	default:
		return fmt.Errorf("could not apply event: %s", event.EventType())
	}

	return nil
}
