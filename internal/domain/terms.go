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

import "time"

// Terms are the immutable parameters of an event, fixed at creation.
type Terms struct {
	Organizer    Identity
	Deposit      Amount
	RSVPDeadline time.Time
	CheckinStart time.Time
	CheckinEnd   time.Time
	Beneficiary  Identity
}

// Validate checks the terms of a new event created at now.
func (t Terms) Validate(now time.Time) error {
	if t.Organizer.IsZero() {
		return ErrInvalidOrganizer
	}

	if !t.RSVPDeadline.Before(t.CheckinStart) ||
		!t.CheckinStart.Before(t.CheckinEnd) ||
		!t.RSVPDeadline.After(now) {
		return ErrInvalidTimeline
	}

	if t.Deposit == 0 {
		return ErrInvalidAmount
	}

	if t.Beneficiary.IsZero() {
		return ErrInvalidBeneficiary
	}

	return nil
}

// RSVPOpen returns true while RSVPs are accepted, strictly before the
// deadline.
func (t Terms) RSVPOpen(now time.Time) bool {
	return now.Before(t.RSVPDeadline)
}

// CheckinOpen returns true inside the inclusive check-in window.
func (t Terms) CheckinOpen(now time.Time) bool {
	return !now.Before(t.CheckinStart) && !now.After(t.CheckinEnd)
}

// Closed returns true strictly after the check-in window.
func (t Terms) Closed(now time.Time) bool {
	return now.After(t.CheckinEnd)
}

// Stage is the position of an attendee in the deposit lifecycle.
type Stage int

const (
	// StageNeverRSVPed is before any deposit.
	StageNeverRSVPed Stage = iota
	// StageRSVPed is after paying the deposit.
	StageRSVPed
	// StageCheckedIn is after being checked in.
	StageCheckedIn
	// StageRefunded is after claiming the deposit back.
	StageRefunded
)

// String returns the name of the stage.
func (s Stage) String() string {
	switch s {
	case StageRSVPed:
		return "rsvped"
	case StageCheckedIn:
		return "checked-in"
	case StageRefunded:
		return "refunded"
	default:
		return "never-rsvped"
	}
}

// AttendeeState is the deposit state of an attendee for one event. Each
// flag flips once, in order.
type AttendeeState struct {
	HasRSVPed bool `json:"hasRsvped" bson:"hasRsvped"`
	CheckedIn bool `json:"checkedIn" bson:"checkedIn"`
	Refunded  bool `json:"refunded"  bson:"refunded"`
}

// Stage returns the lifecycle stage of the state.
func (s AttendeeState) Stage() Stage {
	switch {
	case s.Refunded:
		return StageRefunded
	case s.CheckedIn:
		return StageCheckedIn
	case s.HasRSVPed:
		return StageRSVPed
	default:
		return StageNeverRSVPed
	}
}

// Clock returns the current time of the engine.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC with second precision.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
