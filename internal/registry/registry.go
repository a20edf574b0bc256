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

// Package registry is the catalog of events: creation, immutable terms and
// read access. It does not depend on the escrow; the escrow counters shown on
// the records are projected from the ledger notifications.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
)

// Params are the caller supplied parameters of a new event.
type Params struct {
	Deposit      domain.Amount
	RSVPDeadline time.Time
	CheckinStart time.Time
	CheckinEnd   time.Time
	Beneficiary  domain.Identity
}

// Registry creates and reads events.
type Registry struct {
	commands eh.CommandHandler
	catalog  eh.AggregateStore
	records  eh.ReadRepo
	now      domain.Clock

	// Serializes ID allocation in this process.
	createMu sync.Mutex
}

// Option is an option setter used to configure creation.
type Option func(*Registry)

// WithClock sets the clock used to stamp and validate new events.
func WithClock(now domain.Clock) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry sending commands to commands, reading the catalog
// from catalog and the event records from records.
func New(commands eh.CommandHandler, catalog eh.AggregateStore, records eh.ReadRepo, options ...Option) (*Registry, error) {
	if commands == nil || catalog == nil || records == nil {
		return nil, errors.New("missing command handler, aggregate store or repo")
	}

	r := &Registry{
		commands: commands,
		catalog:  catalog,
		records:  records,
		now:      domain.SystemClock,
	}

	for _, option := range options {
		option(r)
	}

	return r, nil
}

// CreateEvent creates an event organized by organizer and returns its ID.
func (r *Registry) CreateEvent(ctx context.Context, organizer domain.Identity, p Params) (domain.EventID, error) {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	next, err := r.NextEventID(ctx)
	if err != nil {
		return 0, err
	}

	cmd := &CreateEvent{
		EventID:      next,
		Organizer:    organizer,
		Deposit:      p.Deposit,
		RSVPDeadline: p.RSVPDeadline.UTC(),
		CheckinStart: p.CheckinStart.UTC(),
		CheckinEnd:   p.CheckinEnd.UTC(),
		Beneficiary:  p.Beneficiary,
		At:           r.now(),
	}

	if err := r.commands.HandleCommand(ctx, cmd); err != nil {
		return 0, fmt.Errorf("could not create event: %w", err)
	}

	return next, nil
}

// GetEvent returns the event with an ID, or domain.ErrNotFound.
func (r *Registry) GetEvent(ctx context.Context, id domain.EventID) (*Event, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}

	entity, err := r.records.Find(ctx, domain.RecordID(id))
	if errors.Is(err, eh.ErrEntityNotFound) {
		return nil, domain.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("could not find event %s: %w", id, err)
	}

	event, ok := entity.(*Event)
	if !ok {
		return nil, fmt.Errorf("incorrect entity type %T for event %s", entity, id)
	}

	return event, nil
}

// NextEventID returns the ID that the next created event will get.
func (r *Registry) NextEventID(ctx context.Context) (domain.EventID, error) {
	agg, err := r.catalog.Load(ctx, CatalogAggregateType, domain.CatalogID)
	if err != nil {
		return 0, fmt.Errorf("could not load catalog: %w", err)
	}

	catalog, ok := agg.(*Catalog)
	if !ok {
		return 0, fmt.Errorf("incorrect aggregate type %T for catalog", agg)
	}

	return catalog.Next(), nil
}

// Events returns all events ordered by ID.
func (r *Registry) Events(ctx context.Context) ([]*Event, error) {
	entities, err := r.records.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}

	events := make([]*Event, 0, len(entities))

	for _, entity := range entities {
		if event, ok := entity.(*Event); ok {
			events = append(events, event)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].EventID < events[j].EventID
	})

	return events, nil
}
