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

package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rsvpkit/rsvpkit/internal/domain"
)

var (
	alice = domain.MustParseIdentity("0x00000000000000000000000000000000000000c1")
	bob   = domain.MustParseIdentity("0x00000000000000000000000000000000000000c2")
)

func custody(t *testing.T, v interface {
	Custody(context.Context) (domain.Amount, error)
}) domain.Amount {
	t.Helper()

	c, err := v.Custody(context.Background())
	require.NoError(t, err)

	return c
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()

	require.NoError(t, v.Fund(alice, 150))
	assert.ErrorIs(t, v.Fund(alice, domain.MaxAmount), domain.ErrAmountOverflow)

	require.NoError(t, v.Collect(ctx, alice, 100))
	assert.Equal(t, domain.Amount(50), v.Wallet(alice))
	assert.Equal(t, domain.Amount(100), custody(t, v))

	err := v.Collect(ctx, alice, 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, domain.Amount(50), v.Wallet(alice))

	require.NoError(t, v.Pay(ctx, bob, 60))
	assert.Equal(t, domain.Amount(60), v.Wallet(bob))
	assert.Equal(t, domain.Amount(40), custody(t, v))

	err = v.Pay(ctx, bob, 41)
	assert.ErrorIs(t, err, ErrInsufficientCustody)
	assert.Equal(t, domain.Amount(40), custody(t, v))

	assert.Equal(t, []Transfer{
		{Direction: In, Party: alice, Amount: 100},
		{Direction: Out, Party: bob, Amount: 60},
	}, v.Transfers())
}

func TestMemoryOnTransfer(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()
	require.NoError(t, v.Fund(alice, 100))

	var seen []Transfer
	v.OnTransfer = func(ctx context.Context, tr Transfer) error {
		// The value has moved when the hook runs.
		assert.Equal(t, domain.Amount(0), v.Wallet(alice))
		seen = append(seen, tr)

		return nil
	}

	require.NoError(t, v.Collect(ctx, alice, 100))
	assert.Equal(t, []Transfer{{Direction: In, Party: alice, Amount: 100}}, seen)

	errRejected := errors.New("rejected")
	v.OnTransfer = func(ctx context.Context, tr Transfer) error {
		return errRejected
	}

	err := v.Pay(ctx, alice, 100)
	assert.ErrorIs(t, err, errRejected)
	assert.EqualError(t, err, "transfer rejected: rejected")

	// Reverted.
	assert.Equal(t, domain.Amount(0), v.Wallet(alice))
	assert.Equal(t, domain.Amount(100), custody(t, v))
	assert.Len(t, v.Transfers(), 1)
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	j := NewJournal(zap.New(core))

	require.NoError(t, j.Collect(ctx, alice, 100))
	require.NoError(t, j.Pay(ctx, bob, 30))
	assert.Equal(t, domain.Amount(70), custody(t, j))

	err := j.Pay(ctx, bob, 71)
	assert.ErrorIs(t, err, ErrInsufficientCustody)
	assert.Equal(t, domain.Amount(70), custody(t, j))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "vault", entries[0].LoggerName)
	assert.Equal(t, "collect", entries[0].Message)
	assert.Equal(t, map[string]interface{}{
		"to":      bob.String(),
		"amount":  "30",
		"custody": "70",
	}, entries[1].ContextMap())

	j.Restore(500)
	assert.Equal(t, domain.Amount(500), custody(t, j))
}
