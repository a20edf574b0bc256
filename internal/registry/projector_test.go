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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/repo/memory"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func ledgerEvent(t eh.EventType, data eh.EventData, id domain.EventID, version int, s int) eh.Event {
	return eh.NewEvent(t, data, created.Add(time.Duration(s)*time.Second),
		eh.ForAggregate("ledger", domain.LedgerID(id), version))
}

func TestProjector(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepo()
	h := NewEventHandler(repo)

	assert.Equal(t, eh.EventHandlerType("projector_registry_events"), h.HandlerType())

	creation := eh.NewEvent(domain.EventCreatedEvent, createdData(1), created,
		eh.ForAggregate(CatalogAggregateType, domain.CatalogID, 1))

	for _, e := range []eh.Event{
		creation,
		ledgerEvent(domain.RSVPedEvent, &domain.RSVPedData{EventID: 1, Attendee: attendee, Amount: 100}, 1, 1, 5),
		ledgerEvent(domain.CheckedInEvent, &domain.CheckedInData{EventID: 1, Attendee: attendee}, 1, 2, 25),
		// Redelivered.
		ledgerEvent(domain.CheckedInEvent, &domain.CheckedInData{EventID: 1, Attendee: attendee}, 1, 2, 25),
		ledgerEvent(domain.RefundedEvent, &domain.RefundedData{EventID: 1, Attendee: attendee, Amount: 100}, 1, 3, 31),
		ledgerEvent(domain.FinalizedEvent, &domain.FinalizedData{EventID: 1, Beneficiary: beneficiary}, 1, 4, 32),
		// Replayed creation.
		creation,
	} {
		require.NoError(t, h.HandleEvent(ctx, e), "event %s", e)
	}

	entity, err := repo.Find(ctx, domain.RecordID(1))
	require.NoError(t, err)

	expected := &Event{
		ID:            domain.RecordID(1),
		EventID:       1,
		Organizer:     organizer,
		Deposit:       100,
		RSVPDeadline:  created.Add(10 * time.Second),
		CheckinStart:  created.Add(20 * time.Second),
		CheckinEnd:    created.Add(30 * time.Second),
		Beneficiary:   beneficiary,
		Finalized:     true,
		RSVPCount:     1,
		CheckinCount:  1,
		CreatedAt:     created,
		UpdatedAt:     created.Add(32 * time.Second),
		LedgerVersion: 4,
	}
	if !assert.Equal(t, expected, entity) {
		t.Log("diff:", pretty.Diff(expected, entity))
	}
}

func TestProjectorUnknownEvent(t *testing.T) {
	ctx := context.Background()
	h := NewEventHandler(memory.NewRepo())

	err := h.HandleEvent(ctx, ledgerEvent(domain.RSVPedEvent,
		&domain.RSVPedData{EventID: 7, Attendee: attendee, Amount: 100}, 7, 1, 5))
	assert.True(t, errors.Is(err, ErrUnknownEvent), "error: %v", err)
}

func TestProjectorIncorrectModel(t *testing.T) {
	p := &Projector{}

	_, err := p.Project(context.Background(),
		eh.NewEvent(domain.EventCreatedEvent, createdData(1), created), &otherEntity{})
	assert.EqualError(t, err, "model is of incorrect type")
}

type otherEntity struct{}

func (otherEntity) EntityID() uuid.UUID { return uuid.Nil }

func TestMatcher(t *testing.T) {
	m := Matcher()

	for _, et := range append([]eh.EventType{domain.EventCreatedEvent}, domain.LedgerEvents...) {
		assert.True(t, m.Match(eh.NewEvent(et, nil, created)), "%s should match", et)
	}

	assert.False(t, m.Match(eh.NewEvent("other", nil, created)))
}

func TestProjectorMissedLedgerEvent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepo()
	h := NewEventHandler(repo)

	rsvp := ledgerEvent(domain.RSVPedEvent, &domain.RSVPedData{EventID: 1, Attendee: attendee, Amount: 100}, 1, 1, 5)
	checkIn := ledgerEvent(domain.CheckedInEvent, &domain.CheckedInData{EventID: 1, Attendee: attendee}, 1, 2, 25)

	require.NoError(t, h.HandleEvent(ctx, eh.NewEvent(domain.EventCreatedEvent, createdData(1), created,
		eh.ForAggregate(CatalogAggregateType, domain.CatalogID, 1))))

	err := h.HandleEvent(ctx, checkIn)
	assert.True(t, errors.Is(err, ErrMissedLedgerEvent), "error: %v", err)

	// Projecting in order catches up.
	require.NoError(t, h.HandleEvent(ctx, rsvp))
	require.NoError(t, h.HandleEvent(ctx, checkIn))

	entity, err := repo.Find(ctx, domain.RecordID(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entity.(*Event).RSVPCount)
	assert.Equal(t, uint64(1), entity.(*Event).CheckinCount)
	assert.Equal(t, 2, entity.(*Event).LedgerVersion)
}
