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
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/mocks"
)

var (
	organizer   = domain.MustParseIdentity("0x00000000000000000000000000000000000000a0")
	beneficiary = domain.MustParseIdentity("0x00000000000000000000000000000000000000b0")
	alice       = domain.MustParseIdentity("0x00000000000000000000000000000000000000c1")
	bob         = domain.MustParseIdentity("0x00000000000000000000000000000000000000c2")

	start = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

	terms = domain.Terms{
		Organizer:    organizer,
		Deposit:      100,
		RSVPDeadline: start.Add(10 * time.Second),
		CheckinStart: start.Add(20 * time.Second),
		CheckinEnd:   start.Add(30 * time.Second),
		Beneficiary:  beneficiary,
	}
)

func at(s int) time.Time {
	return start.Add(time.Duration(s) * time.Second)
}

// ledgerWith builds a ledger of event 1 from committed notifications.
func ledgerWith(t *testing.T, data ...eh.EventData) *Ledger {
	t.Helper()

	a := NewLedger(domain.LedgerID(1))

	for i, d := range data {
		var et eh.EventType

		switch d.(type) {
		case *domain.RSVPedData:
			et = domain.RSVPedEvent
		case *domain.CheckedInData:
			et = domain.CheckedInEvent
		case *domain.RefundedData:
			et = domain.RefundedEvent
		case *domain.FinalizedData:
			et = domain.FinalizedEvent
		}

		e := eh.NewEvent(et, d, start, eh.ForAggregate(LedgerAggregateType, a.EntityID(), i+1))
		if err := a.ApplyEvent(context.Background(), e); err != nil {
			t.Fatal("could not apply event:", err)
		}

		a.SetAggregateVersion(i + 1)
	}

	return a
}

func rsvped(who domain.Identity) *domain.RSVPedData {
	return &domain.RSVPedData{EventID: 1, Attendee: who, Amount: 100}
}

func checkedIn(who domain.Identity) *domain.CheckedInData {
	return &domain.CheckedInData{EventID: 1, Attendee: who}
}

func refunded(who domain.Identity) *domain.RefundedData {
	return &domain.RefundedData{EventID: 1, Attendee: who, Amount: 100}
}

func finalized(amount domain.Amount) *domain.FinalizedData {
	return &domain.FinalizedData{EventID: 1, Beneficiary: beneficiary, Amount: amount}
}

func TestLedgerHandleCommand(t *testing.T) {
	id := domain.LedgerID(1)

	cases := map[string]struct {
		history        []eh.EventData
		cmd            eh.Command
		expectedEvents []eh.Event
		expectedErr    error
	}{
		"unknown command": {
			nil,
			&mocks.Command{ID: id, Content: "testcontent"},
			nil,
			errors.New("could not handle command: Command"),
		},
		"rsvp": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 100, At: at(5)},
			[]eh.Event{
				eh.NewEvent(domain.RSVPedEvent, rsvped(alice), at(5),
					eh.ForAggregate(LedgerAggregateType, id, 1)),
			},
			nil,
		},
		"rsvp (last second)": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 100, At: at(9)},
			[]eh.Event{
				eh.NewEvent(domain.RSVPedEvent, rsvped(alice), at(9),
					eh.ForAggregate(LedgerAggregateType, id, 1)),
			},
			nil,
		},
		"rsvp (at deadline)": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 100, At: at(10)},
			nil,
			domain.ErrRSVPClosed,
		},
		"rsvp (twice)": {
			[]eh.EventData{rsvped(alice)},
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 100, At: at(5)},
			nil,
			domain.ErrAlreadyRSVPed,
		},
		"rsvp (too little)": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 99, At: at(5)},
			nil,
			domain.ErrWrongDepositAmount,
		},
		"rsvp (too much)": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 101, At: at(5)},
			nil,
			domain.ErrWrongDepositAmount,
		},
		"rsvp (closed before amount)": {
			nil,
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 99, At: at(11)},
			nil,
			domain.ErrRSVPClosed,
		},
		"check in (window start)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: alice, At: at(20)},
			[]eh.Event{
				eh.NewEvent(domain.CheckedInEvent, checkedIn(alice), at(20),
					eh.ForAggregate(LedgerAggregateType, id, 2)),
			},
			nil,
		},
		"check in (window end)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: alice, At: at(30)},
			[]eh.Event{
				eh.NewEvent(domain.CheckedInEvent, checkedIn(alice), at(30),
					eh.ForAggregate(LedgerAggregateType, id, 2)),
			},
			nil,
		},
		"check in (not organizer)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: alice, Attendee: alice, At: at(25)},
			nil,
			domain.ErrNotOrganizer,
		},
		"check in (not organizer before window)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: alice, Attendee: alice, At: at(15)},
			nil,
			domain.ErrNotOrganizer,
		},
		"check in (before window)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: alice, At: at(19)},
			nil,
			domain.ErrCheckinNotOpen,
		},
		"check in (after window)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: alice, At: at(31)},
			nil,
			domain.ErrCheckinNotOpen,
		},
		"check in (not rsvped)": {
			[]eh.EventData{rsvped(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: bob, At: at(25)},
			nil,
			domain.ErrNotRSVPed,
		},
		"check in (twice)": {
			[]eh.EventData{rsvped(alice), checkedIn(alice)},
			&CheckIn{EventID: 1, Terms: terms, Organizer: organizer, Attendee: alice, At: at(25)},
			nil,
			domain.ErrAlreadyCheckedIn,
		},
		"claim refund": {
			[]eh.EventData{rsvped(alice), checkedIn(alice)},
			&ClaimRefund{EventID: 1, Terms: terms, Attendee: alice, At: at(31)},
			[]eh.Event{
				eh.NewEvent(domain.RefundedEvent, refunded(alice), at(31),
					eh.ForAggregate(LedgerAggregateType, id, 3)),
			},
			nil,
		},
		"claim refund (window end)": {
			[]eh.EventData{rsvped(alice), checkedIn(alice)},
			&ClaimRefund{EventID: 1, Terms: terms, Attendee: alice, At: at(30)},
			nil,
			domain.ErrRefundNotYetAvailable,
		},
		"claim refund (not checked in)": {
			[]eh.EventData{rsvped(alice)},
			&ClaimRefund{EventID: 1, Terms: terms, Attendee: alice, At: at(31)},
			nil,
			domain.ErrNotEligible,
		},
		"claim refund (twice)": {
			[]eh.EventData{rsvped(alice), checkedIn(alice), refunded(alice)},
			&ClaimRefund{EventID: 1, Terms: terms, Attendee: alice, At: at(31)},
			nil,
			domain.ErrNotEligible,
		},
		"claim refund (finalized)": {
			[]eh.EventData{rsvped(alice), checkedIn(alice), finalized(100)},
			&ClaimRefund{EventID: 1, Terms: terms, Attendee: alice, At: at(31)},
			nil,
			domain.ErrAlreadyFinalized,
		},
		"finalize": {
			[]eh.EventData{rsvped(alice), rsvped(bob), checkedIn(alice), refunded(alice)},
			&Finalize{EventID: 1, Terms: terms, Organizer: organizer, At: at(31)},
			[]eh.Event{
				eh.NewEvent(domain.FinalizedEvent, finalized(100), at(31),
					eh.ForAggregate(LedgerAggregateType, id, 5)),
			},
			nil,
		},
		"finalize (nothing to sweep)": {
			nil,
			&Finalize{EventID: 1, Terms: terms, Organizer: organizer, At: at(31)},
			[]eh.Event{
				eh.NewEvent(domain.FinalizedEvent, finalized(0), at(31),
					eh.ForAggregate(LedgerAggregateType, id, 1)),
			},
			nil,
		},
		"finalize (unclaimed refund)": {
			[]eh.EventData{rsvped(alice), checkedIn(alice)},
			&Finalize{EventID: 1, Terms: terms, Organizer: organizer, At: at(31)},
			[]eh.Event{
				eh.NewEvent(domain.FinalizedEvent, finalized(100), at(31),
					eh.ForAggregate(LedgerAggregateType, id, 3)),
			},
			nil,
		},
		"finalize (not organizer)": {
			nil,
			&Finalize{EventID: 1, Terms: terms, Organizer: beneficiary, At: at(31)},
			nil,
			domain.ErrNotOrganizer,
		},
		"finalize (window end)": {
			nil,
			&Finalize{EventID: 1, Terms: terms, Organizer: organizer, At: at(30)},
			nil,
			domain.ErrTooEarly,
		},
		"finalize (twice)": {
			[]eh.EventData{finalized(0)},
			&Finalize{EventID: 1, Terms: terms, Organizer: organizer, At: at(31)},
			nil,
			domain.ErrAlreadyFinalized,
		},
		"rsvp (finalized)": {
			[]eh.EventData{finalized(0)},
			&RSVP{EventID: 1, Terms: terms, Attendee: alice, Payment: 100, At: at(5)},
			nil,
			domain.ErrAlreadyFinalized,
		},
	}

	for name, tc := range cases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := ledgerWith(t, tc.history...)

			err := a.HandleCommand(context.Background(), tc.cmd)
			if (err != nil && tc.expectedErr == nil) ||
				(err == nil && tc.expectedErr != nil) ||
				(err != nil && tc.expectedErr != nil && err.Error() != tc.expectedErr.Error()) {
				t.Errorf("test case '%s': incorrect error", name)
				t.Log("exp:", tc.expectedErr)
				t.Log("got:", err)
			}

			events := a.UncommittedEvents()
			if len(events) == 0 {
				events = nil
			}

			if !reflect.DeepEqual(events, tc.expectedEvents) {
				t.Errorf("test case '%s': incorrect events", name)
				t.Log("exp:\n", pretty.Sprint(tc.expectedEvents))
				t.Log("got:\n", pretty.Sprint(events))
			}
		})
	}
}

func TestLedgerApplyEvent(t *testing.T) {
	cases := map[string]struct {
		history     []eh.EventData
		event       eh.EventData
		expectedErr error
	}{
		"rsvp twice": {
			[]eh.EventData{rsvped(alice)},
			rsvped(alice),
			domain.ErrLedgerInconsistent,
		},
		"rsvp with other deposit": {
			[]eh.EventData{rsvped(alice)},
			&domain.RSVPedData{EventID: 1, Attendee: bob, Amount: 50},
			domain.ErrLedgerInconsistent,
		},
		"rsvp of other event": {
			[]eh.EventData{rsvped(alice)},
			&domain.RSVPedData{EventID: 2, Attendee: bob, Amount: 100},
			domain.ErrLedgerInconsistent,
		},
		"check in without rsvp": {
			[]eh.EventData{rsvped(alice)},
			checkedIn(bob),
			domain.ErrLedgerInconsistent,
		},
		"refund without check in": {
			[]eh.EventData{rsvped(alice)},
			refunded(alice),
			domain.ErrLedgerInconsistent,
		},
		"refund of other amount": {
			[]eh.EventData{rsvped(alice), checkedIn(alice)},
			&domain.RefundedData{EventID: 1, Attendee: alice, Amount: 200},
			domain.ErrLedgerInconsistent,
		},
		"sweep of other amount": {
			[]eh.EventData{rsvped(alice)},
			finalized(50),
			domain.ErrLedgerInconsistent,
		},
		"finalize twice": {
			[]eh.EventData{finalized(0)},
			finalized(0),
			domain.ErrLedgerInconsistent,
		},
		"refund after finalize": {
			[]eh.EventData{rsvped(alice), checkedIn(alice), finalized(100)},
			refunded(alice),
			domain.ErrLedgerInconsistent,
		},
		"rsvp overflow": {
			[]eh.EventData{&domain.RSVPedData{EventID: 1, Attendee: alice, Amount: domain.MaxAmount}},
			&domain.RSVPedData{EventID: 1, Attendee: bob, Amount: domain.MaxAmount},
			domain.ErrAmountOverflow,
		},
	}

	for name, tc := range cases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := ledgerWith(t, tc.history...)
			before := a.Balance()

			var et eh.EventType
			switch tc.event.(type) {
			case *domain.RSVPedData:
				et = domain.RSVPedEvent
			case *domain.CheckedInData:
				et = domain.CheckedInEvent
			case *domain.RefundedData:
				et = domain.RefundedEvent
			case *domain.FinalizedData:
				et = domain.FinalizedEvent
			}

			err := a.ApplyEvent(context.Background(), eh.NewEvent(et, tc.event, start))
			if !errors.Is(err, tc.expectedErr) {
				t.Errorf("test case '%s': incorrect error", name)
				t.Log("exp:", tc.expectedErr)
				t.Log("got:", err)
			}

			if b := a.Balance(); !reflect.DeepEqual(b, before) {
				t.Errorf("test case '%s': balance changed", name)
				t.Log("exp:\n", pretty.Sprint(before))
				t.Log("got:\n", pretty.Sprint(b))
			}
		})
	}
}

func TestLedgerBalance(t *testing.T) {
	a := ledgerWith(t,
		rsvped(alice),
		rsvped(bob),
		checkedIn(alice),
		checkedIn(bob),
		refunded(alice),
	)

	expected := Balance{
		EventID:      1,
		Deposit:      100,
		Deposited:    200,
		Custodied:    100,
		Refunded:     100,
		RSVPCount:    2,
		CheckinCount: 2,
		RefundCount:  1,
	}
	if b := a.Balance(); b != expected {
		t.Error("the balance should be correct:", pretty.Diff(b, expected))
	}

	if !expected.Conserved() {
		t.Error("the balance should be conserved")
	}

	if state := a.Attendee(alice); state.Stage() != domain.StageRefunded {
		t.Error("alice should be refunded:", state.Stage())
	}

	if state := a.Attendee(bob); state.Stage() != domain.StageCheckedIn {
		t.Error("bob should be checked in:", state.Stage())
	}

	expected.Custodied = 0
	if expected.Conserved() {
		t.Error("the balance should not be conserved")
	}

	expected.Swept = 100
	if !expected.Conserved() {
		t.Error("the balance should be conserved")
	}
}

func TestCommandFields(t *testing.T) {
	cmds := []eh.Command{
		&RSVP{EventID: 1, Terms: terms, Payment: 100, At: at(5)},
		&CheckIn{EventID: 1, Terms: terms, At: at(25)},
		&ClaimRefund{EventID: 1, Terms: terms, At: at(31)},
		&Finalize{EventID: 1, Terms: terms, At: at(31)},
	}

	// Identities are checked by the ledger, which knows the right error.
	for _, cmd := range cmds {
		if err := eh.CheckCommand(cmd); err != nil {
			t.Errorf("%s: there should be no error: %v", cmd.CommandType(), err)
		}

		if cmd.AggregateID() != domain.LedgerID(1) {
			t.Errorf("%s: incorrect aggregate ID: %s", cmd.CommandType(), cmd.AggregateID())
		}

		if cmd.AggregateType() != LedgerAggregateType {
			t.Errorf("%s: incorrect aggregate type: %s", cmd.CommandType(), cmd.AggregateType())
		}
	}

	err := eh.CheckCommand(&RSVP{EventID: 1, Terms: terms, Payment: 100})

	var fieldErr *eh.CommandFieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "At" {
		t.Error("there should be a missing field error:", err)
	}
}
