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

// Event is the registry record of an event. The immutable terms come from
// EventCreated, the counters and the finalized flag from the ledger.
type Event struct {
	ID           uuid.UUID       `json:"id"           bson:"_id"`
	EventID      domain.EventID  `json:"eventId"      bson:"eventId"`
	Organizer    domain.Identity `json:"organizer"    bson:"organizer"`
	Deposit      domain.Amount   `json:"depositWei"   bson:"depositWei"`
	RSVPDeadline time.Time       `json:"rsvpDeadline" bson:"rsvpDeadline"`
	CheckinStart time.Time       `json:"checkinStart" bson:"checkinStart"`
	CheckinEnd   time.Time       `json:"checkinEnd"   bson:"checkinEnd"`
	Beneficiary  domain.Identity `json:"beneficiary"  bson:"beneficiary"`
	Finalized    bool            `json:"finalized"    bson:"finalized"`
	RSVPCount    uint64          `json:"rsvpCount"    bson:"rsvpCount"`
	CheckinCount uint64          `json:"checkinCount" bson:"checkinCount"`
	CreatedAt    time.Time       `json:"createdAt"    bson:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"    bson:"updatedAt"`

	// LedgerVersion is the version of the last projected ledger event.
	LedgerVersion int `json:"ledgerVersion" bson:"ledgerVersion"`
}

var _ = eh.Entity(&Event{})

// EntityID implements the EntityID method of the eh.Entity interface.
func (e *Event) EntityID() uuid.UUID {
	return e.ID
}

// Terms returns the immutable parameters of the event.
func (e *Event) Terms() domain.Terms {
	return domain.Terms{
		Organizer:    e.Organizer,
		Deposit:      e.Deposit,
		RSVPDeadline: e.RSVPDeadline,
		CheckinStart: e.CheckinStart,
		CheckinEnd:   e.CheckinEnd,
		Beneficiary:  e.Beneficiary,
	}
}
