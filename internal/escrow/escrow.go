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

// Package escrow holds the deposits of the registry events: RSVPs, check-ins,
// refund claims and the final sweep of forfeited deposits.
//
// Each event has a Ledger aggregate. The terms of the event are read from the
// registry for every operation and passed to the ledger with the command.
package escrow

import (
	"context"
	"errors"
	"fmt"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/registry"
)

// Events looks up registry events.
type Events interface {
	GetEvent(ctx context.Context, id domain.EventID) (*registry.Event, error)
}

// Escrow runs the deposit operations of all events.
type Escrow struct {
	commands eh.CommandHandler
	ledgers  eh.AggregateStore
	events   Events
	now      domain.Clock
}

// Option is an option setter used to configure creation.
type Option func(*Escrow)

// WithClock sets the clock used to gate the operations.
func WithClock(now domain.Clock) Option {
	return func(e *Escrow) {
		e.now = now
	}
}

// New creates an escrow sending commands to commands and reading the ledgers
// from ledgers.
func New(commands eh.CommandHandler, ledgers eh.AggregateStore, events Events, options ...Option) (*Escrow, error) {
	if commands == nil || ledgers == nil || events == nil {
		return nil, errors.New("missing command handler, aggregate store or registry")
	}

	e := &Escrow{
		commands: commands,
		ledgers:  ledgers,
		events:   events,
		now:      domain.SystemClock,
	}

	for _, option := range options {
		option(e)
	}

	return e, nil
}

// RSVP pays the deposit of attendee for an event. The payment must be
// exactly the deposit.
func (e *Escrow) RSVP(ctx context.Context, id domain.EventID, attendee domain.Identity, payment domain.Amount) error {
	terms, err := e.terms(ctx, id)
	if err != nil {
		return err
	}

	return e.commands.HandleCommand(ctx, &RSVP{
		EventID:  id,
		Terms:    terms,
		Attendee: attendee,
		Payment:  payment,
		At:       e.now(),
	})
}

// CheckIn marks attendee as present. Only the organizer may check in, inside
// the check-in window.
func (e *Escrow) CheckIn(ctx context.Context, id domain.EventID, organizer, attendee domain.Identity) error {
	terms, err := e.terms(ctx, id)
	if err != nil {
		return err
	}

	return e.commands.HandleCommand(ctx, &CheckIn{
		EventID:   id,
		Terms:     terms,
		Organizer: organizer,
		Attendee:  attendee,
		At:        e.now(),
	})
}

// ClaimRefund pays the deposit back to a checked in attendee after the
// check-in window, unless the event is finalized.
func (e *Escrow) ClaimRefund(ctx context.Context, id domain.EventID, attendee domain.Identity) error {
	terms, err := e.terms(ctx, id)
	if err != nil {
		return err
	}

	return e.commands.HandleCommand(ctx, &ClaimRefund{
		EventID:  id,
		Terms:    terms,
		Attendee: attendee,
		At:       e.now(),
	})
}

// Finalize sweeps what is left in custody to the beneficiary. It can only
// happen once, after the check-in window.
func (e *Escrow) Finalize(ctx context.Context, id domain.EventID, organizer domain.Identity) error {
	terms, err := e.terms(ctx, id)
	if err != nil {
		return err
	}

	return e.commands.HandleCommand(ctx, &Finalize{
		EventID:   id,
		Terms:     terms,
		Organizer: organizer,
		At:        e.now(),
	})
}

// Attendee returns the deposit state of an attendee.
func (e *Escrow) Attendee(ctx context.Context, id domain.EventID, who domain.Identity) (domain.AttendeeState, error) {
	ledger, _, err := e.ledger(ctx, id)
	if err != nil {
		return domain.AttendeeState{}, err
	}

	return ledger.Attendee(who), nil
}

// Balance returns the accounting of an event.
func (e *Escrow) Balance(ctx context.Context, id domain.EventID) (Balance, error) {
	ledger, terms, err := e.ledger(ctx, id)
	if err != nil {
		return Balance{}, err
	}

	// Without RSVPs the ledger has not seen the deposit.
	b := ledger.Balance()
	b.EventID = id
	b.Deposit = terms.Deposit

	return b, nil
}

func (e *Escrow) terms(ctx context.Context, id domain.EventID) (domain.Terms, error) {
	event, err := e.events.GetEvent(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Terms{}, domain.ErrEventNotFound
	} else if err != nil {
		return domain.Terms{}, fmt.Errorf("could not look up event %s: %w", id, err)
	}

	return event.Terms(), nil
}

func (e *Escrow) ledger(ctx context.Context, id domain.EventID) (*Ledger, domain.Terms, error) {
	terms, err := e.terms(ctx, id)
	if err != nil {
		return nil, terms, err
	}

	agg, err := e.ledgers.Load(ctx, LedgerAggregateType, domain.LedgerID(id))
	if err != nil {
		return nil, terms, fmt.Errorf("could not load ledger of %s: %w", id, err)
	}

	ledger, ok := agg.(*Ledger)
	if !ok {
		return nil, terms, fmt.Errorf("incorrect aggregate type %T for ledger", agg)
	}

	return ledger, terms, nil
}
