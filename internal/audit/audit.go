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

// Package audit reconciles the escrow ledgers with the vault, on demand or on
// a cron schedule.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/escrow"
	"github.com/rsvpkit/rsvpkit/internal/registry"
)

// Events lists the registered events.
type Events interface {
	Events(ctx context.Context) ([]*registry.Event, error)
}

// Ledgers returns the accounting of an event.
type Ledgers interface {
	Balance(ctx context.Context, id domain.EventID) (escrow.Balance, error)
}

// Custodian reports the value held in custody.
type Custodian interface {
	Custody(ctx context.Context) (domain.Amount, error)
}

// Violation is a failed check of a reconciliation.
type Violation struct {
	// EventID is 0 for checks of the total custody.
	EventID domain.EventID `json:"eventId,omitempty"`
	Reason  string         `json:"reason"`
}

// Report is the result of a reconciliation.
type Report struct {
	At           time.Time        `json:"at"`
	Events       int              `json:"events"`
	Custodied    domain.Amount    `json:"custodied"`
	VaultCustody domain.Amount    `json:"vaultCustody"`
	Balances     []escrow.Balance `json:"balances"`
	Violations   []Violation      `json:"violations,omitempty"`
}

// OK returns true if no check failed.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Reconciler checks that every ledger conserves its deposits and that the
// ledgers together custody what the vault holds.
type Reconciler struct {
	events  Events
	ledgers Ledgers
	vault   Custodian
	logger  *zap.Logger
	now     domain.Clock
	resync  func(context.Context) error
}

// Option is an option setter used to configure the reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger for the reports.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger.Named("audit")
		}
	}
}

// WithClock sets the time source of the report timestamps.
func WithClock(now domain.Clock) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithResync brings the event records up to date before each run.
func WithResync(resync func(context.Context) error) Option {
	return func(r *Reconciler) {
		r.resync = resync
	}
}

// NewReconciler creates a reconciler. Without a custodian only the ledgers
// are checked.
func NewReconciler(events Events, ledgers Ledgers, vault Custodian, options ...Option) (*Reconciler, error) {
	if events == nil || ledgers == nil {
		return nil, errors.New("missing events or ledgers")
	}

	r := &Reconciler{
		events:  events,
		ledgers: ledgers,
		vault:   vault,
		logger:  zap.NewNop(),
		now:     domain.SystemClock,
	}

	for _, option := range options {
		option(r)
	}

	return r, nil
}

// Run reconciles all events once. Failed checks are reported as violations,
// errors are only returned when the state could not be read.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if r.resync != nil {
		if err := r.resync(ctx); err != nil {
			return nil, fmt.Errorf("could not resync events: %w", err)
		}
	}

	events, err := r.events.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}

	report := &Report{
		At:     r.now(),
		Events: len(events),
	}

	var overflow bool

	for _, event := range events {
		b, err := r.ledgers.Balance(ctx, event.EventID)
		if err != nil {
			return nil, fmt.Errorf("could not get balance of %s: %w", event.EventID, err)
		}

		report.Balances = append(report.Balances, b)

		if !b.Conserved() {
			report.Violations = append(report.Violations, Violation{
				EventID: event.EventID,
				Reason: fmt.Sprintf("deposited %s but custodied %s, refunded %s, swept %s",
					b.Deposited, b.Custodied, b.Refunded, b.Swept),
			})
		}

		if b.Finalized != event.Finalized {
			report.Violations = append(report.Violations, Violation{
				EventID: event.EventID,
				Reason:  "finalized flag differs between ledger and registry",
			})
		}

		if b.Finalized && b.Custodied != 0 {
			report.Violations = append(report.Violations, Violation{
				EventID: event.EventID,
				Reason:  fmt.Sprintf("finalized with %s still custodied", b.Custodied),
			})
		}

		if report.Custodied, err = report.Custodied.Add(b.Custodied); err != nil {
			overflow = true
		}
	}

	if overflow {
		report.Violations = append(report.Violations, Violation{Reason: "total custody overflows"})
	}

	if r.vault != nil && !overflow {
		if report.VaultCustody, err = r.vault.Custody(ctx); err != nil {
			return nil, fmt.Errorf("could not get vault custody: %w", err)
		}

		if report.VaultCustody != report.Custodied {
			report.Violations = append(report.Violations, Violation{
				Reason: fmt.Sprintf("ledgers custody %s but vault holds %s",
					report.Custodied, report.VaultCustody),
			})
		}
	}

	r.log(report)

	return report, nil
}

func (r *Reconciler) log(report *Report) {
	fields := []zap.Field{
		zap.Int("events", report.Events),
		zap.Stringer("custodied", report.Custodied),
		zap.Stringer("vault_custody", report.VaultCustody),
	}

	if report.OK() {
		r.logger.Info("reconciliation passed", fields...)

		return
	}

	for _, v := range report.Violations {
		r.logger.Error("reconciliation failed",
			append(fields, zap.Stringer("event_id", v.EventID), zap.String("reason", v.Reason))...)
	}
}

// Schedule runs the reconciliation on a cron line, with the syntax of
// github.com/gorhill/cronexpr, until the context is done. Each report is
// passed to onReport if set; errors are logged.
func (r *Reconciler) Schedule(ctx context.Context, cronLine string, onReport func(*Report, error)) error {
	expr, err := cronexpr.Parse(cronLine)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cronLine, err)
	}

	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				r.logger.Warn("schedule has no more runs", zap.String("schedule", cronLine))

				return
			}

			select {
			case <-time.After(time.Until(next)):
			case <-ctx.Done():
				return
			}

			report, err := r.Run(ctx)
			if err != nil {
				r.logger.Error("could not reconcile", zap.Error(err))
			}

			if onReport != nil {
				onReport(report, err)
			}
		}
	}()

	return nil
}
