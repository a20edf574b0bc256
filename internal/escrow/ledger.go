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
		return NewLedger(id)
	})
}

// LedgerAggregateType is the aggregate type of the per event ledger.
const LedgerAggregateType = eh.AggregateType("ledger")

// Ledger holds the deposits of one event: the state of every attendee and
// the custodied, refunded and swept amounts. Every applied notification
// re-checks that deposit × rsvpCount == custodied + refunded + swept.
type Ledger struct {
	*events.AggregateBase

	eventID   domain.EventID
	deposit   domain.Amount
	attendees map[domain.Identity]domain.AttendeeState

	rsvpCount    uint64
	checkinCount uint64
	refundCount  uint64

	custodied domain.Amount
	refunded  domain.Amount
	swept     domain.Amount
	finalized bool
}

var _ = eh.Aggregate(&Ledger{})

// NewLedger creates an empty ledger.
func NewLedger(id uuid.UUID) *Ledger {
	return &Ledger{
		AggregateBase: events.NewAggregateBase(LedgerAggregateType, id),
		attendees:     map[domain.Identity]domain.AttendeeState{},
	}
}

// Attendee returns the state of an attendee, the zero state if it never
// RSVPed.
func (a *Ledger) Attendee(who domain.Identity) domain.AttendeeState {
	return a.attendees[who]
}

// Balance returns the accounting of the ledger.
func (a *Ledger) Balance() Balance {
	deposited, _ := a.deposit.Mul(a.rsvpCount)

	return Balance{
		EventID:      a.eventID,
		Deposit:      a.deposit,
		Deposited:    deposited,
		Custodied:    a.custodied,
		Refunded:     a.refunded,
		Swept:        a.swept,
		RSVPCount:    a.rsvpCount,
		CheckinCount: a.checkinCount,
		RefundCount:  a.refundCount,
		Finalized:    a.finalized,
	}
}

// HandleCommand implements the HandleCommand method of the eh.CommandHandler interface.
func (a *Ledger) HandleCommand(ctx context.Context, cmd eh.Command) error {
	switch cmd := cmd.(type) {
	case *RSVP:
		if a.finalized {
			return domain.ErrAlreadyFinalized
		}

		if !cmd.Terms.RSVPOpen(cmd.At) {
			return domain.ErrRSVPClosed
		}

		if a.attendees[cmd.Attendee].HasRSVPed {
			return domain.ErrAlreadyRSVPed
		}

		if cmd.Payment != cmd.Terms.Deposit {
			return domain.ErrWrongDepositAmount
		}

		a.AppendEvent(domain.RSVPedEvent, &domain.RSVPedData{
			EventID:  cmd.EventID,
			Attendee: cmd.Attendee,
			Amount:   cmd.Payment,
		}, cmd.At)
	case *CheckIn:
		if cmd.Organizer != cmd.Terms.Organizer {
			return domain.ErrNotOrganizer
		}

		if !cmd.Terms.CheckinOpen(cmd.At) {
			return domain.ErrCheckinNotOpen
		}

		switch a.attendees[cmd.Attendee].Stage() {
		case domain.StageNeverRSVPed:
			return domain.ErrNotRSVPed
		case domain.StageCheckedIn, domain.StageRefunded:
			return domain.ErrAlreadyCheckedIn
		}

		a.AppendEvent(domain.CheckedInEvent, &domain.CheckedInData{
			EventID:  cmd.EventID,
			Attendee: cmd.Attendee,
		}, cmd.At)
	case *ClaimRefund:
		if !cmd.Terms.Closed(cmd.At) {
			return domain.ErrRefundNotYetAvailable
		}

		if a.finalized {
			return domain.ErrAlreadyFinalized
		}

		if a.attendees[cmd.Attendee].Stage() != domain.StageCheckedIn {
			return domain.ErrNotEligible
		}

		a.AppendEvent(domain.RefundedEvent, &domain.RefundedData{
			EventID:  cmd.EventID,
			Attendee: cmd.Attendee,
			Amount:   cmd.Terms.Deposit,
		}, cmd.At)
	case *Finalize:
		if cmd.Organizer != cmd.Terms.Organizer {
			return domain.ErrNotOrganizer
		}

		if !cmd.Terms.Closed(cmd.At) {
			return domain.ErrTooEarly
		}

		if a.finalized {
			return domain.ErrAlreadyFinalized
		}

		forfeited, err := a.forfeited()
		if err != nil {
			return err
		}

		a.AppendEvent(domain.FinalizedEvent, &domain.FinalizedData{
			EventID:     cmd.EventID,
			Beneficiary: cmd.Terms.Beneficiary,
			Amount:      forfeited,
		}, cmd.At)
	default:
		return fmt.Errorf("could not handle command: %s", cmd.CommandType())
	}

	return nil
}

// forfeited is deposit × (rsvpCount − refundCount), which must be what is
// still custodied.
func (a *Ledger) forfeited() (domain.Amount, error) {
	if a.refundCount > a.rsvpCount {
		return 0, fmt.Errorf("%w: %d refunds for %d rsvps", domain.ErrLedgerInconsistent, a.refundCount, a.rsvpCount)
	}

	forfeited, err := a.deposit.Mul(a.rsvpCount - a.refundCount)
	if err != nil {
		return 0, err
	}

	if forfeited != a.custodied {
		return 0, fmt.Errorf("%w: forfeited %s but custodied %s", domain.ErrLedgerInconsistent, forfeited, a.custodied)
	}

	return forfeited, nil
}

// ApplyEvent implements the ApplyEvent method of the versioned aggregate.
func (a *Ledger) ApplyEvent(ctx context.Context, event eh.Event) error {
	if err := a.apply(event); err != nil {
		return err
	}

	return a.checkConservation()
}

func (a *Ledger) apply(event eh.Event) error {
	eventID, ok := domain.EventIDOf(event)
	if !ok {
		return errors.New("invalid event data")
	}

	if a.eventID == 0 {
		a.eventID = eventID
	} else if eventID != a.eventID {
		return fmt.Errorf("%w: event %s in ledger of %s", domain.ErrLedgerInconsistent, eventID, a.eventID)
	}

	switch data := event.Data().(type) {
	case *domain.RSVPedData:
		state := a.attendees[data.Attendee]
		if state.HasRSVPed || a.finalized {
			return fmt.Errorf("%w: duplicate rsvp of %s", domain.ErrLedgerInconsistent, data.Attendee)
		}

		if a.deposit == 0 {
			a.deposit = data.Amount
		} else if data.Amount != a.deposit {
			return fmt.Errorf("%w: rsvp of %s, deposit is %s", domain.ErrLedgerInconsistent, data.Amount, a.deposit)
		}

		custodied, err := a.custodied.Add(data.Amount)
		if err != nil {
			return err
		}

		state.HasRSVPed = true
		a.attendees[data.Attendee] = state
		a.custodied = custodied
		a.rsvpCount++
	case *domain.CheckedInData:
		state := a.attendees[data.Attendee]
		if state.Stage() != domain.StageRSVPed {
			return fmt.Errorf("%w: check in of %s at stage %s", domain.ErrLedgerInconsistent, data.Attendee, state.Stage())
		}

		state.CheckedIn = true
		a.attendees[data.Attendee] = state
		a.checkinCount++
	case *domain.RefundedData:
		state := a.attendees[data.Attendee]
		if state.Stage() != domain.StageCheckedIn || a.finalized {
			return fmt.Errorf("%w: refund of %s at stage %s", domain.ErrLedgerInconsistent, data.Attendee, state.Stage())
		}

		if data.Amount != a.deposit {
			return fmt.Errorf("%w: refund of %s, deposit is %s", domain.ErrLedgerInconsistent, data.Amount, a.deposit)
		}

		custodied, err := a.custodied.Sub(data.Amount)
		if err != nil {
			return err
		}

		refunded, err := a.refunded.Add(data.Amount)
		if err != nil {
			return err
		}

		state.Refunded = true
		a.attendees[data.Attendee] = state
		a.custodied = custodied
		a.refunded = refunded
		a.refundCount++
	case *domain.FinalizedData:
		if a.finalized {
			return fmt.Errorf("%w: finalized twice", domain.ErrLedgerInconsistent)
		}

		if data.Amount != a.custodied {
			return fmt.Errorf("%w: sweep of %s, custodied %s", domain.ErrLedgerInconsistent, data.Amount, a.custodied)
		}

		swept, err := a.swept.Add(data.Amount)
		if err != nil {
			return err
		}

		a.custodied = 0
		a.swept = swept
		a.finalized = true
	default:
		return fmt.Errorf("could not apply event: %s", event.EventType())
	}

	return nil
}

// checkConservation checks that every deposit is custodied, refunded or
// swept.
func (a *Ledger) checkConservation() error {
	deposited, err := a.deposit.Mul(a.rsvpCount)
	if err != nil {
		return err
	}

	held, err := a.custodied.Add(a.refunded)
	if err != nil {
		return err
	}

	if held, err = held.Add(a.swept); err != nil {
		return err
	}

	if deposited != held {
		return fmt.Errorf("%w: deposited %s, held %s", domain.ErrLedgerInconsistent, deposited, held)
	}

	return nil
}

// Balance is the accounting of one event.
type Balance struct {
	EventID      domain.EventID `json:"eventId"`
	Deposit      domain.Amount  `json:"depositWei"`
	Deposited    domain.Amount  `json:"deposited"`
	Custodied    domain.Amount  `json:"custodied"`
	Refunded     domain.Amount  `json:"refunded"`
	Swept        domain.Amount  `json:"swept"`
	RSVPCount    uint64         `json:"rsvpCount"`
	CheckinCount uint64         `json:"checkinCount"`
	RefundCount  uint64         `json:"refundCount"`
	Finalized    bool           `json:"finalized"`
}

// Conserved returns true if every deposit is custodied, refunded or swept.
func (b Balance) Conserved() bool {
	held, err := b.Custodied.Add(b.Refunded)
	if err != nil {
		return false
	}

	held, err = held.Add(b.Swept)

	return err == nil && held == b.Deposited
}
