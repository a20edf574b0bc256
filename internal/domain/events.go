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

package domain

import (
	"fmt"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
)

func init() {
	eh.RegisterEventData(EventCreatedEvent, func() eh.EventData { return &EventCreatedData{} })
	eh.RegisterEventData(RSVPedEvent, func() eh.EventData { return &RSVPedData{} })
	eh.RegisterEventData(CheckedInEvent, func() eh.EventData { return &CheckedInData{} })
	eh.RegisterEventData(RefundedEvent, func() eh.EventData { return &RefundedData{} })
	eh.RegisterEventData(FinalizedEvent, func() eh.EventData { return &FinalizedData{} })
}

const (
	// EventCreatedEvent is when an event is added to the registry.
	EventCreatedEvent = eh.EventType("EventCreated")
	// RSVPedEvent is when an attendee has paid the deposit.
	RSVPedEvent = eh.EventType("Rsvped")
	// CheckedInEvent is when the organizer has checked an attendee in.
	CheckedInEvent = eh.EventType("CheckedIn")
	// RefundedEvent is when a checked in attendee got the deposit back.
	RefundedEvent = eh.EventType("Refunded")
	// FinalizedEvent is when the forfeited deposits were swept.
	FinalizedEvent = eh.EventType("Finalized")
)

// LedgerEvents are the events recorded by the escrow ledgers.
var LedgerEvents = []eh.EventType{
	RSVPedEvent,
	CheckedInEvent,
	RefundedEvent,
	FinalizedEvent,
}

// EventCreatedData is the data of EventCreatedEvent.
type EventCreatedData struct {
	EventID      EventID   `json:"eventId"      bson:"eventId"`
	Organizer    Identity  `json:"organizer"    bson:"organizer"`
	DepositWei   Amount    `json:"depositWei"   bson:"depositWei"`
	RSVPDeadline time.Time `json:"rsvpDeadline" bson:"rsvpDeadline"`
	CheckinStart time.Time `json:"checkinStart" bson:"checkinStart"`
	CheckinEnd   time.Time `json:"checkinEnd"   bson:"checkinEnd"`
	Beneficiary  Identity  `json:"beneficiary"  bson:"beneficiary"`
}

// RSVPedData is the data of RSVPedEvent.
type RSVPedData struct {
	EventID  EventID  `json:"eventId"  bson:"eventId"`
	Attendee Identity `json:"attendee" bson:"attendee"`
	Amount   Amount   `json:"amount"   bson:"amount"`
}

// CheckedInData is the data of CheckedInEvent.
type CheckedInData struct {
	EventID  EventID  `json:"eventId"  bson:"eventId"`
	Attendee Identity `json:"attendee" bson:"attendee"`
}

// RefundedData is the data of RefundedEvent.
type RefundedData struct {
	EventID  EventID  `json:"eventId"  bson:"eventId"`
	Attendee Identity `json:"attendee" bson:"attendee"`
	Amount   Amount   `json:"amount"   bson:"amount"`
}

// FinalizedData is the data of FinalizedEvent.
type FinalizedData struct {
	EventID     EventID  `json:"eventId"     bson:"eventId"`
	Beneficiary Identity `json:"beneficiary" bson:"beneficiary"`
	Amount      Amount   `json:"amount"      bson:"amount"`
}

// EventIDOf returns the event ID carried by a notification.
func EventIDOf(e eh.Event) (EventID, bool) {
	switch d := e.Data().(type) {
	case *EventCreatedData:
		return d.EventID, true
	case *RSVPedData:
		return d.EventID, true
	case *CheckedInData:
		return d.EventID, true
	case *RefundedData:
		return d.EventID, true
	case *FinalizedData:
		return d.EventID, true
	default:
		return 0, false
	}
}

// Describe returns a one line description of a notification, used in the
// activity log.
func Describe(e eh.Event) string {
	switch d := e.Data().(type) {
	case *EventCreatedData:
		return fmt.Sprintf("event %s created by %s with deposit %s", d.EventID, d.Organizer, d.DepositWei)
	case *RSVPedData:
		return fmt.Sprintf("%s rsvped to event %s with %s", d.Attendee, d.EventID, d.Amount)
	case *CheckedInData:
		return fmt.Sprintf("%s checked in to event %s", d.Attendee, d.EventID)
	case *RefundedData:
		return fmt.Sprintf("%s refunded %s from event %s", d.Attendee, d.Amount, d.EventID)
	case *FinalizedData:
		return fmt.Sprintf("event %s finalized, %s swept to %s", d.EventID, d.Amount, d.Beneficiary)
	default:
		return e.String()
	}
}
