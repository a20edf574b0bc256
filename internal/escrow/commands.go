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

package escrow

import (
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func init() {
	eh.RegisterCommand(func() eh.Command { return &RSVP{} })
	eh.RegisterCommand(func() eh.Command { return &CheckIn{} })
	eh.RegisterCommand(func() eh.Command { return &ClaimRefund{} })
	eh.RegisterCommand(func() eh.Command { return &Finalize{} })
}

const (
	// RSVPCommand is the type for the RSVP command.
	RSVPCommand = eh.CommandType("escrow:rsvp")
	// CheckInCommand is the type for the CheckIn command.
	CheckInCommand = eh.CommandType("escrow:check_in")
	// ClaimRefundCommand is the type for the ClaimRefund command.
	ClaimRefundCommand = eh.CommandType("escrow:claim_refund")
	// FinalizeCommand is the type for the Finalize command.
	FinalizeCommand = eh.CommandType("escrow:finalize")
)

// Static type check that the eh.Command interface is implemented.
var _ = eh.Command(&RSVP{})
var _ = eh.Command(&CheckIn{})
var _ = eh.Command(&ClaimRefund{})
var _ = eh.Command(&Finalize{})

// Every command carries the terms read from the registry when it was issued
// and the time it was issued at.

// RSVP pays the deposit of an attendee.
type RSVP struct {
	EventID  domain.EventID
	Terms    domain.Terms
	Attendee domain.Identity `eh:"optional"`
	Payment  domain.Amount
	At       time.Time
}

func (c *RSVP) AggregateType() eh.AggregateType { return LedgerAggregateType }
func (c *RSVP) AggregateID() uuid.UUID          { return domain.LedgerID(c.EventID) }
func (c *RSVP) CommandType() eh.CommandType     { return RSVPCommand }

// CheckIn marks an attendee as present.
type CheckIn struct {
	EventID   domain.EventID
	Terms     domain.Terms
	Organizer domain.Identity `eh:"optional"`
	Attendee  domain.Identity `eh:"optional"`
	At        time.Time
}

func (c *CheckIn) AggregateType() eh.AggregateType { return LedgerAggregateType }
func (c *CheckIn) AggregateID() uuid.UUID          { return domain.LedgerID(c.EventID) }
func (c *CheckIn) CommandType() eh.CommandType     { return CheckInCommand }

// ClaimRefund returns the deposit to a checked in attendee.
type ClaimRefund struct {
	EventID  domain.EventID
	Terms    domain.Terms
	Attendee domain.Identity `eh:"optional"`
	At       time.Time
}

func (c *ClaimRefund) AggregateType() eh.AggregateType { return LedgerAggregateType }
func (c *ClaimRefund) AggregateID() uuid.UUID          { return domain.LedgerID(c.EventID) }
func (c *ClaimRefund) CommandType() eh.CommandType     { return ClaimRefundCommand }

// Finalize sweeps the forfeited deposits to the beneficiary.
type Finalize struct {
	EventID   domain.EventID
	Terms     domain.Terms
	Organizer domain.Identity `eh:"optional"`
	At        time.Time
}

func (c *Finalize) AggregateType() eh.AggregateType { return LedgerAggregateType }
func (c *Finalize) AggregateID() uuid.UUID          { return domain.LedgerID(c.EventID) }
func (c *Finalize) CommandType() eh.CommandType     { return FinalizeCommand }
