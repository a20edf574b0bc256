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

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rsvpkit/rsvpkit/internal/domain"
	"github.com/rsvpkit/rsvpkit/internal/escrow"
	"github.com/rsvpkit/rsvpkit/internal/registry"
)

type fakeState struct {
	events   []*registry.Event
	balances map[domain.EventID]escrow.Balance
	custody  domain.Amount
	err      error
}

func (f *fakeState) Events(ctx context.Context) ([]*registry.Event, error) {
	return f.events, f.err
}

func (f *fakeState) Balance(ctx context.Context, id domain.EventID) (escrow.Balance, error) {
	return f.balances[id], nil
}

func (f *fakeState) Custody(ctx context.Context) (domain.Amount, error) {
	return f.custody, nil
}

var at = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func healthy() *fakeState {
	return &fakeState{
		events: []*registry.Event{
			{EventID: 1},
			{EventID: 2, Finalized: true},
		},
		balances: map[domain.EventID]escrow.Balance{
			1: {EventID: 1, Deposit: 100, Deposited: 300, Custodied: 200, Refunded: 100},
			2: {EventID: 2, Deposit: 50, Deposited: 100, Refunded: 50, Swept: 50, Finalized: true},
		},
		custody: 200,
	}
}

func TestRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	tests := map[string]struct {
		state      func() *fakeState
		violations []Violation
	}{
		"conserved": {
			state: healthy,
		},
		"vault mismatch": {
			state: func() *fakeState {
				s := healthy()
				s.custody = 150

				return s
			},
			violations: []Violation{
				{Reason: "ledgers custody 200 but vault holds 150"},
			},
		},
		"ledger not conserved": {
			state: func() *fakeState {
				s := healthy()
				s.balances[1] = escrow.Balance{EventID: 1, Deposited: 300, Custodied: 200}

				return s
			},
			violations: []Violation{
				{EventID: 1, Reason: "deposited 300 but custodied 200, refunded 0, swept 0"},
			},
		},
		"finalized with custody": {
			state: func() *fakeState {
				s := healthy()
				s.events[0].Finalized = true
				b := s.balances[1]
				b.Finalized = true
				s.balances[1] = b

				return s
			},
			violations: []Violation{
				{EventID: 1, Reason: "finalized with 200 still custodied"},
			},
		},
		"registry out of sync": {
			state: func() *fakeState {
				s := healthy()
				s.events[1].Finalized = false

				return s
			},
			violations: []Violation{
				{EventID: 2, Reason: "finalized flag differs between ledger and registry"},
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			state := tc.state()

			r, err := NewReconciler(state, state, state,
				WithLogger(zap.New(core)),
				WithClock(func() time.Time { return at }),
			)
			require.NoError(t, err)

			report, err := r.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, at, report.At)
			assert.Equal(t, 2, report.Events)
			assert.Len(t, report.Balances, 2)
			assert.Equal(t, tc.violations, report.Violations)
			assert.Equal(t, len(tc.violations) == 0, report.OK())
		})
	}

	assert.Equal(t, 1, logs.FilterMessage("reconciliation passed").Len())
	assert.Equal(t, 4, logs.FilterMessage("reconciliation failed").Len())
}

func TestRunWithoutVault(t *testing.T) {
	state := healthy()
	state.custody = 1

	r, err := NewReconciler(state, state, nil)
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, domain.Amount(200), report.Custodied)
	assert.Zero(t, report.VaultCustody)
}

func TestRunError(t *testing.T) {
	state := &fakeState{err: errors.New("db down")}

	r, err := NewReconciler(state, state, state)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, state.err)
}

func TestRunResync(t *testing.T) {
	state := healthy()

	var resynced int

	r, err := NewReconciler(state, state, state, WithResync(func(ctx context.Context) error {
		resynced++

		return nil
	}))
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, resynced)

	errResync := errors.New("repo down")
	r, err = NewReconciler(state, state, state, WithResync(func(ctx context.Context) error {
		return errResync
	}))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, errResync)
}

func TestNewReconciler(t *testing.T) {
	_, err := NewReconciler(nil, nil, nil)
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	state := healthy()

	r, err := NewReconciler(state, state, state)
	require.NoError(t, err)

	assert.Error(t, r.Schedule(context.Background(), "not a schedule", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		reports []*Report
	)

	require.NoError(t, r.Schedule(ctx, "* * * * * * *", func(report *Report, err error) {
		assert.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()

		reports = append(reports, report)
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(reports) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	mu.Lock()
	defer mu.Unlock()

	for _, report := range reports {
		assert.True(t, report.OK())
	}
}
