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

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/registry"
	"github.com/rsvpkit/rsvpkit/internal/vault"
	"github.com/rsvpkit/rsvpkit/mocks"
	repomemory "github.com/rsvpkit/rsvpkit/repo/memory"
)

var (
	organizer   = domain.MustParseIdentity("0x00000000000000000000000000000000000000a0")
	beneficiary = domain.MustParseIdentity("0x00000000000000000000000000000000000000b0")
	attendeeX   = domain.MustParseIdentity("0x00000000000000000000000000000000000000c1")
	attendeeY   = domain.MustParseIdentity("0x00000000000000000000000000000000000000c2")
	attendeeZ   = domain.MustParseIdentity("0x00000000000000000000000000000000000000c3")

	// T is the creation time of the test events.
	T = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// At sets the clock to T+s seconds.
func (c *clock) At(s int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = T.Add(time.Duration(s) * time.Second)
}

type fixture struct {
	*Engine
	clock *clock
	vault *vault.Memory
}

func newFixture(t *testing.T, options ...func(*Options)) *fixture {
	t.Helper()

	c := &clock{now: T}
	v := vault.NewMemory()

	for _, who := range []domain.Identity{attendeeX, attendeeY, attendeeZ} {
		require.NoError(t, v.Fund(who, 1000))
	}

	o := Options{
		Vault: v,
		Clock: c.Now,
	}

	for _, option := range options {
		option(&o)
	}

	e, err := New(context.Background(), o)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, e.Close()) })

	return &fixture{Engine: e, clock: c, vault: v}
}

// createEvent creates the event of the scenarios: deposit 100, RSVP until
// T+10, check-in from T+20 to T+30.
func (f *fixture) createEvent(t *testing.T) domain.EventID {
	t.Helper()

	id, err := f.Registry.CreateEvent(context.Background(), organizer, registry.Params{
		Deposit:      100,
		RSVPDeadline: T.Add(10 * time.Second),
		CheckinStart: T.Add(20 * time.Second),
		CheckinEnd:   T.Add(30 * time.Second),
		Beneficiary:  beneficiary,
	})
	require.NoError(t, err)

	return id
}

func (f *fixture) event(t *testing.T, id domain.EventID) *registry.Event {
	t.Helper()

	event, err := f.Registry.GetEvent(context.Background(), id)
	require.NoError(t, err)

	return event
}

func (f *fixture) requireConserved(t *testing.T, ids ...domain.EventID) {
	t.Helper()

	var custodied domain.Amount

	for _, id := range ids {
		b, err := f.Escrow.Balance(context.Background(), id)
		require.NoError(t, err)
		require.True(t, b.Conserved(), "balance not conserved: %+v", b)

		custodied += b.Custodied
	}

	held, err := f.vault.Custody(context.Background())
	require.NoError(t, err)
	require.Equal(t, held, custodied, "vault custody")
}

func TestScenarioA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)
	assert.Equal(t, domain.EventID(1), id)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))
	assert.Equal(t, uint64(1), f.event(t, id).RSVPCount)
	assert.Equal(t, domain.Amount(900), f.vault.Wallet(attendeeX))

	f.clock.At(25)
	require.NoError(t, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))
	assert.Equal(t, uint64(1), f.event(t, id).CheckinCount)

	f.clock.At(31)
	require.NoError(t, f.Escrow.ClaimRefund(ctx, id, attendeeX))
	assert.Equal(t, domain.Amount(1000), f.vault.Wallet(attendeeX))

	state, err := f.Escrow.Attendee(ctx, id, attendeeX)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeState{HasRSVPed: true, CheckedIn: true, Refunded: true}, state)

	// No double pay.
	assert.Equal(t, domain.ErrNotEligible, f.Escrow.ClaimRefund(ctx, id, attendeeX))
	assert.Equal(t, domain.Amount(1000), f.vault.Wallet(attendeeX))

	f.requireConserved(t, id)
}

func TestScenarioB(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeY, 100))

	f.clock.At(31)
	require.NoError(t, f.Escrow.Finalize(ctx, id, organizer))
	assert.Equal(t, domain.Amount(100), f.vault.Wallet(beneficiary))
	assert.True(t, f.event(t, id).Finalized)

	assert.Equal(t, domain.ErrAlreadyFinalized, f.Escrow.ClaimRefund(ctx, id, attendeeY))

	// Finalize is only done once, with one sweep.
	assert.Equal(t, domain.ErrAlreadyFinalized, f.Escrow.Finalize(ctx, id, organizer))
	assert.Equal(t, domain.Amount(100), f.vault.Wallet(beneficiary))

	sweeps := 0
	for _, tr := range f.vault.Transfers() {
		if tr.Party == beneficiary {
			sweeps++
		}
	}
	assert.Equal(t, 1, sweeps)

	b, err := f.Escrow.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(100), b.Swept)
	assert.Equal(t, domain.Amount(0), b.Custodied)

	f.requireConserved(t, id)
}

func TestScenarioC(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(5)
	assert.Equal(t, domain.ErrWrongDepositAmount, f.Escrow.RSVP(ctx, id, attendeeZ, 99))
	assert.Equal(t, domain.ErrWrongDepositAmount, f.Escrow.RSVP(ctx, id, attendeeZ, 101))

	assert.Equal(t, uint64(0), f.event(t, id).RSVPCount)
	assert.Equal(t, domain.Amount(1000), f.vault.Wallet(attendeeZ))

	state, err := f.Escrow.Attendee(ctx, id, attendeeZ)
	require.NoError(t, err)
	assert.Equal(t, domain.StageNeverRSVPed, state.Stage())
}

func TestRSVPWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(9)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))

	f.clock.At(10)
	assert.Equal(t, domain.ErrRSVPClosed, f.Escrow.RSVP(ctx, id, attendeeY, 100))
	assert.Equal(t, uint64(1), f.event(t, id).RSVPCount)
}

func TestOperationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeY, 100))
	assert.Equal(t, domain.ErrAlreadyRSVPed, f.Escrow.RSVP(ctx, id, attendeeX, 100))

	// Unknown events.
	assert.Equal(t, domain.ErrEventNotFound, f.Escrow.RSVP(ctx, 99, attendeeX, 100))
	assert.Equal(t, domain.ErrEventNotFound, f.Escrow.CheckIn(ctx, 99, organizer, attendeeX))
	assert.Equal(t, domain.ErrEventNotFound, f.Escrow.ClaimRefund(ctx, 99, attendeeX))
	assert.Equal(t, domain.ErrEventNotFound, f.Escrow.Finalize(ctx, 99, organizer))

	// Check-in window, inclusive on both ends.
	f.clock.At(19)
	assert.Equal(t, domain.ErrCheckinNotOpen, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))

	f.clock.At(20)
	assert.Equal(t, domain.ErrNotOrganizer, f.Escrow.CheckIn(ctx, id, attendeeX, attendeeX))
	assert.Equal(t, domain.ErrNotRSVPed, f.Escrow.CheckIn(ctx, id, organizer, attendeeZ))
	require.NoError(t, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))
	assert.Equal(t, domain.ErrAlreadyCheckedIn, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))

	f.clock.At(30)
	require.NoError(t, f.Escrow.CheckIn(ctx, id, organizer, attendeeY))
	assert.Equal(t, domain.ErrRefundNotYetAvailable, f.Escrow.ClaimRefund(ctx, id, attendeeX))
	assert.Equal(t, domain.ErrTooEarly, f.Escrow.Finalize(ctx, id, organizer))

	f.clock.At(31)
	assert.Equal(t, domain.ErrCheckinNotOpen, f.Escrow.CheckIn(ctx, id, organizer, attendeeZ))
	assert.Equal(t, domain.ErrNotEligible, f.Escrow.ClaimRefund(ctx, id, attendeeZ))
	assert.Equal(t, domain.ErrNotOrganizer, f.Escrow.Finalize(ctx, id, beneficiary))

	require.NoError(t, f.Escrow.ClaimRefund(ctx, id, attendeeX))
	require.NoError(t, f.Escrow.Finalize(ctx, id, organizer))

	// Y checked in but did not claim before the sweep.
	assert.Equal(t, domain.ErrAlreadyFinalized, f.Escrow.ClaimRefund(ctx, id, attendeeY))
	assert.Equal(t, domain.ErrAlreadyFinalized, f.Escrow.RSVP(ctx, id, attendeeZ, 100))

	assert.Equal(t, domain.Amount(100), f.vault.Wallet(beneficiary))

	event := f.event(t, id)
	assert.Equal(t, uint64(2), event.RSVPCount)
	assert.Equal(t, uint64(2), event.CheckinCount)
	assert.True(t, event.Finalized)

	f.requireConserved(t, id)
}

func TestFinalizeWithoutDeposits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(31)
	require.NoError(t, f.Escrow.Finalize(ctx, id, organizer))
	assert.Empty(t, f.vault.Transfers())

	b, err := f.Escrow.Balance(ctx, id)
	require.NoError(t, err)
	assert.True(t, b.Finalized)
	assert.Equal(t, domain.Amount(100), b.Deposit)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	next, err := f.Registry.NextEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventID(1), next)

	_, err = f.Registry.GetEvent(ctx, 1)
	assert.Equal(t, domain.ErrNotFound, err)

	_, err = f.Registry.GetEvent(ctx, 0)
	assert.Equal(t, domain.ErrNotFound, err)

	first := f.createEvent(t)
	second := f.createEvent(t)
	assert.Equal(t, domain.EventID(1), first)
	assert.Equal(t, domain.EventID(2), second)

	next, err = f.Registry.NextEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventID(3), next)

	event := f.event(t, second)
	assert.Equal(t, organizer, event.Organizer)
	assert.Equal(t, beneficiary, event.Beneficiary)
	assert.Equal(t, domain.Amount(100), event.Deposit)
	assert.Equal(t, T.Add(10*time.Second), event.RSVPDeadline)
	assert.Equal(t, T, event.CreatedAt)
	assert.False(t, event.Finalized)

	events, err := f.Registry.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].EventID)

	// Invalid parameters do not use an ID.
	_, err = f.Registry.CreateEvent(ctx, organizer, registry.Params{
		Deposit:      0,
		RSVPDeadline: T.Add(10 * time.Second),
		CheckinStart: T.Add(20 * time.Second),
		CheckinEnd:   T.Add(30 * time.Second),
		Beneficiary:  beneficiary,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount), "error: %v", err)

	_, err = f.Registry.CreateEvent(ctx, organizer, registry.Params{
		Deposit:      100,
		RSVPDeadline: T.Add(10 * time.Second),
		CheckinStart: T.Add(10 * time.Second),
		CheckinEnd:   T.Add(30 * time.Second),
		Beneficiary:  beneficiary,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidTimeline), "error: %v", err)

	_, err = f.Registry.CreateEvent(ctx, organizer, registry.Params{
		Deposit:      100,
		RSVPDeadline: T.Add(10 * time.Second),
		CheckinStart: T.Add(20 * time.Second),
		CheckinEnd:   T.Add(30 * time.Second),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidBeneficiary), "error: %v", err)

	next, err = f.Registry.NextEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventID(3), next)
}

func TestReentrantRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeY, 100))

	f.clock.At(25)
	require.NoError(t, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))

	var refundErr, finalizeErr error

	f.vault.OnTransfer = func(ctx context.Context, tr vault.Transfer) error {
		if tr.Direction != vault.Out || tr.Party != attendeeX {
			return nil
		}

		// The receiver calls back while being paid.
		refundErr = f.Escrow.ClaimRefund(ctx, id, attendeeX)
		finalizeErr = f.Escrow.Finalize(ctx, id, organizer)

		return nil
	}

	f.clock.At(31)
	require.NoError(t, f.Escrow.ClaimRefund(ctx, id, attendeeX))

	assert.Equal(t, domain.ErrNotEligible, refundErr)
	assert.True(t, errors.Is(finalizeErr, eh.ErrSaveInProgress), "error: %v", finalizeErr)
	assert.Equal(t, domain.Amount(1000), f.vault.Wallet(attendeeX))

	f.vault.OnTransfer = nil

	require.NoError(t, f.Escrow.Finalize(ctx, id, organizer))
	assert.Equal(t, domain.Amount(100), f.vault.Wallet(beneficiary))

	f.requireConserved(t, id)
}

func TestVaultFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	poor := domain.MustParseIdentity("0x00000000000000000000000000000000000000d1")

	f.clock.At(5)
	err := f.Escrow.RSVP(ctx, id, poor, 100)
	assert.True(t, errors.Is(err, vault.ErrInsufficientFunds), "error: %v", err)

	state, err := f.Escrow.Attendee(ctx, id, poor)
	require.NoError(t, err)
	assert.False(t, state.HasRSVPed)
	assert.Equal(t, uint64(0), f.event(t, id).RSVPCount)

	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))

	f.clock.At(25)
	require.NoError(t, f.Escrow.CheckIn(ctx, id, organizer, attendeeX))

	errRejected := errors.New("rejected by receiver")
	f.vault.OnTransfer = func(ctx context.Context, tr vault.Transfer) error {
		return errRejected
	}

	f.clock.At(31)
	err = f.Escrow.ClaimRefund(ctx, id, attendeeX)
	assert.True(t, errors.Is(err, errRejected), "error: %v", err)

	state, err = f.Escrow.Attendee(ctx, id, attendeeX)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCheckedIn, state.Stage())
	assert.Equal(t, domain.Amount(900), f.vault.Wallet(attendeeX))
	f.requireConserved(t, id)

	// The claim can be retried once the receiver accepts.
	f.vault.OnTransfer = nil

	require.NoError(t, f.Escrow.ClaimRefund(ctx, id, attendeeX))
	assert.Equal(t, domain.Amount(1000), f.vault.Wallet(attendeeX))
	f.requireConserved(t, id)
}

func TestConservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.createEvent(t)
	second := f.createEvent(t)
	attendees := []domain.Identity{attendeeX, attendeeY, attendeeZ}

	f.clock.At(5)
	for _, id := range []domain.EventID{first, second} {
		for _, who := range attendees {
			require.NoError(t, f.Escrow.RSVP(ctx, id, who, 100))
			f.requireConserved(t, first, second)
		}
	}

	f.clock.At(25)
	for _, who := range attendees[:2] {
		require.NoError(t, f.Escrow.CheckIn(ctx, first, organizer, who))
	}
	require.NoError(t, f.Escrow.CheckIn(ctx, second, organizer, attendeeZ))

	f.clock.At(31)
	require.NoError(t, f.Escrow.ClaimRefund(ctx, first, attendeeX))
	f.requireConserved(t, first, second)

	require.NoError(t, f.Escrow.Finalize(ctx, first, organizer))
	require.NoError(t, f.Escrow.Finalize(ctx, second, organizer))
	f.requireConserved(t, first, second)

	b, err := f.Escrow.Balance(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(300), b.Deposited)
	assert.Equal(t, domain.Amount(100), b.Refunded)
	assert.Equal(t, domain.Amount(200), b.Swept)
	assert.Equal(t, uint64(1), b.RefundCount)

	assert.Equal(t, domain.Amount(500), f.vault.Wallet(beneficiary))
}

func TestConcurrentRSVPs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	attendees := make([]domain.Identity, 20)
	for i := range attendees {
		attendees[i][0] = 0xe0
		attendees[i][19] = byte(i + 1)
		require.NoError(t, f.vault.Fund(attendees[i], 100))
	}

	f.clock.At(5)

	var wg sync.WaitGroup
	errs := make(chan error, len(attendees)*2)

	for _, who := range attendees {
		wg.Add(2)

		// Each attendee races itself, only one RSVP may succeed.
		for i := 0; i < 2; i++ {
			go func(who domain.Identity) {
				defer wg.Done()

				errs <- f.Escrow.RSVP(ctx, id, who, 100)
			}(who)
		}
	}

	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, domain.ErrAlreadyRSVPed) ||
				errors.Is(err, vault.ErrInsufficientFunds), "error: %v", err)
		}
	}

	assert.Equal(t, len(attendees), succeeded)
	assert.Equal(t, uint64(len(attendees)), f.event(t, id).RSVPCount)
	f.requireConserved(t, id)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h := mocks.NewEventHandler("watcher")
	require.NoError(t, f.Bus.AddHandler(ctx, eh.MatchAll{}, h))

	id := f.createEvent(t)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))

	types := []eh.EventType{}
	for len(types) < 2 {
		if !h.Wait(time.Second) {
			t.Fatal("did not receive event in time")
		}

		h.RLock()
		types = types[:0]
		for _, e := range h.Events {
			types = append(types, e.EventType())
		}
		h.RUnlock()
	}

	assert.Equal(t, []eh.EventType{domain.EventCreatedEvent, domain.RSVPedEvent}, types)

	h.RLock()
	data, ok := h.Events[1].Data().(*domain.RSVPedData)
	h.RUnlock()
	require.True(t, ok)
	assert.Equal(t, domain.RSVPedData{EventID: id, Attendee: attendeeX, Amount: 100}, *data)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createEvent(t)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))

	// A second engine on the same store rebuilds the records.
	store := f.Store
	e, err := New(ctx, Options{
		Vault: f.vault,
		Clock: f.clock.Now,
		Store: func(ctx context.Context, inTX, afterSave eh.EventHandler) (eh.EventStore, error) {
			return store, nil
		},
	})
	require.NoError(t, err)

	event, err := e.Registry.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.RSVPCount)
	assert.Equal(t, organizer, event.Organizer)
}

// flakyRepo is a read model repo whose saves fail while it is down.
type flakyRepo struct {
	eh.ReadWriteRepo
	down atomic.Bool
}

var errRepoDown = errors.New("read model down")

func (r *flakyRepo) Save(ctx context.Context, entity eh.Entity) error {
	if r.down.Load() {
		return errRepoDown
	}

	return r.ReadWriteRepo.Save(ctx, entity)
}

func TestReadModelFailure(t *testing.T) {
	ctx := context.Background()
	records := &flakyRepo{ReadWriteRepo: repomemory.NewRepo()}
	core, logs := observer.New(zap.WarnLevel)

	f := newFixture(t, func(o *Options) {
		o.Records = records
		o.Logger = zap.New(core)
	})
	id := f.createEvent(t)

	// Committed operations succeed when the read model cannot be updated.
	records.down.Store(true)

	f.clock.At(5)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeX, 100))
	assert.Equal(t, domain.Amount(900), f.vault.Wallet(attendeeX))

	err := f.Escrow.RSVP(ctx, id, attendeeX, 100)
	assert.True(t, errors.Is(err, domain.ErrAlreadyRSVPed), "error: %v", err)
	assert.Equal(t, domain.Amount(900), f.vault.Wallet(attendeeX))

	f.clock.At(0)
	second := f.createEvent(t)
	assert.Equal(t, domain.EventID(2), second)

	_, err = f.Registry.GetEvent(ctx, second)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "error: %v", err)

	next, err := f.Registry.NextEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventID(3), next)

	assert.Equal(t, 2, logs.FilterMessage("could not handle committed event").Len())

	// Later notifications wait for the missed ones.
	records.down.Store(false)

	f.clock.At(6)
	require.NoError(t, f.Escrow.RSVP(ctx, id, attendeeY, 100))
	assert.Equal(t, uint64(0), f.event(t, id).RSVPCount)

	require.NoError(t, f.Resync(ctx))
	assert.Equal(t, uint64(2), f.event(t, id).RSVPCount)
	assert.Equal(t, organizer, f.event(t, second).Organizer)

	f.requireConserved(t, id, second)
}
