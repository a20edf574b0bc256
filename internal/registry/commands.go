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
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func init() {
	eh.RegisterCommand(func() eh.Command { return &CreateEvent{} })
}

// CreateEventCommand is the type for the CreateEvent command.
const CreateEventCommand = eh.CommandType("registry:create_event")

var _ = eh.Command(&CreateEvent{})

// CreateEvent adds an event with the next ID to the catalog. The terms are
// checked by the catalog, so that bad input maps to the registry errors.
type CreateEvent struct {
	EventID      domain.EventID
	Organizer    domain.Identity `eh:"optional"`
	Deposit      domain.Amount
	RSVPDeadline time.Time       `eh:"optional"`
	CheckinStart time.Time       `eh:"optional"`
	CheckinEnd   time.Time       `eh:"optional"`
	Beneficiary  domain.Identity `eh:"optional"`
	At           time.Time
}

func (c *CreateEvent) AggregateType() eh.AggregateType { return CatalogAggregateType }
func (c *CreateEvent) AggregateID() uuid.UUID          { return domain.CatalogID }
func (c *CreateEvent) CommandType() eh.CommandType     { return CreateEventCommand }

// Terms returns the terms of the event to create.
func (c *CreateEvent) Terms() domain.Terms {
	return domain.Terms{
		Organizer:    c.Organizer,
		Deposit:      c.Deposit,
		RSVPDeadline: c.RSVPDeadline,
		CheckinStart: c.CheckinStart,
		CheckinEnd:   c.CheckinEnd,
		Beneficiary:  c.Beneficiary,
	}
}
