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
	"errors"
)

// Class groups errors by how a caller may react to them.
type Class int

const (
	// ClassUnknown is for errors not raised by the engine.
	ClassUnknown Class = iota
	// ClassValidation is for bad input, retryable with corrected input.
	ClassValidation
	// ClassAuthorization is for a caller that may not do the operation.
	ClassAuthorization
	// ClassTiming is for operations outside their time window.
	ClassTiming
	// ClassState is for operations not valid in the current state.
	ClassState
	// ClassInternal is for inconsistencies that abort the operation.
	ClassInternal
)

// String returns the name of the class.
func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassTiming:
		return "timing"
	case ClassState:
		return "state"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is an engine error with a stable code.
type Error struct {
	Code  string
	Class Class
}

// Error implements the Error method of the error interface.
func (e *Error) Error() string {
	return e.Code
}

func newError(code string, class Class) *Error {
	return &Error{Code: code, Class: class}
}

// Validation errors.
var (
	ErrInvalidTimeline    = newError("InvalidTimeline", ClassValidation)
	ErrInvalidAmount      = newError("InvalidAmount", ClassValidation)
	ErrInvalidBeneficiary = newError("InvalidBeneficiary", ClassValidation)
	ErrInvalidOrganizer   = newError("InvalidOrganizer", ClassValidation)
	ErrWrongDepositAmount = newError("WrongDepositAmount", ClassValidation)
)

// Authorization errors.
var (
	ErrNotOrganizer = newError("NotOrganizer", ClassAuthorization)
)

// Timing errors.
var (
	ErrRSVPClosed            = newError("RsvpClosed", ClassTiming)
	ErrCheckinNotOpen        = newError("CheckinNotOpen", ClassTiming)
	ErrRefundNotYetAvailable = newError("RefundNotYetAvailable", ClassTiming)
	ErrTooEarly              = newError("TooEarly", ClassTiming)
)

// State errors.
var (
	ErrAlreadyRSVPed    = newError("AlreadyRsvped", ClassState)
	ErrNotRSVPed        = newError("NotRsvped", ClassState)
	ErrAlreadyCheckedIn = newError("AlreadyCheckedIn", ClassState)
	ErrNotEligible      = newError("NotEligible", ClassState)
	ErrAlreadyFinalized = newError("AlreadyFinalized", ClassState)
	ErrEventNotFound    = newError("EventNotFound", ClassState)
	ErrNotFound         = newError("NotFound", ClassState)
)

// Internal errors.
var (
	ErrAmountOverflow     = newError("AmountOverflow", ClassInternal)
	ErrLedgerInconsistent = newError("LedgerInconsistent", ClassInternal)
)

// ClassOf returns the class of the engine error wrapped in err.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}

	return ClassUnknown
}

// Retryable returns true if the same call may succeed later or with
// corrected input. Authorization, state and internal errors never do.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassValidation, ClassTiming:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the engine error wrapped in err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}
