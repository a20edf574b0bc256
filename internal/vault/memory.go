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
	"fmt"
	"sync"

	"github.com/rsvpkit/rsvpkit/internal/domain"
)

// Memory keeps wallets and custody in memory.
//
// The OnTransfer hook runs after the value has moved, outside of the vault
// lock, like the code of a receiving account would. An error from the hook
// reverts the transfer and fails it.
type Memory struct {
	mu        sync.Mutex
	wallets   map[domain.Identity]domain.Amount
	custody   domain.Amount
	transfers []Transfer

	OnTransfer func(ctx context.Context, t Transfer) error
}

// NewMemory creates an empty vault.
func NewMemory() *Memory {
	return &Memory{
		wallets: map[domain.Identity]domain.Amount{},
	}
}

// Fund adds amount to a wallet.
func (v *Memory) Fund(who domain.Identity, amount domain.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.wallets[who].Add(amount)
	if err != nil {
		return err
	}

	v.wallets[who] = balance

	return nil
}

// Wallet returns the balance of a wallet.
func (v *Memory) Wallet(who domain.Identity) domain.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.wallets[who]
}

// Custody returns the value held in custody.
func (v *Memory) Custody(ctx context.Context) (domain.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.custody, nil
}

// Transfers returns the completed transfers in order.
func (v *Memory) Transfers() []Transfer {
	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]Transfer(nil), v.transfers...)
}

// Collect implements the Collect method of the escrow.Vault interface.
func (v *Memory) Collect(ctx context.Context, from domain.Identity, amount domain.Amount) error {
	return v.transfer(ctx, Transfer{Direction: In, Party: from, Amount: amount})
}

// Pay implements the Pay method of the escrow.Vault interface.
func (v *Memory) Pay(ctx context.Context, to domain.Identity, amount domain.Amount) error {
	return v.transfer(ctx, Transfer{Direction: Out, Party: to, Amount: amount})
}

func (v *Memory) transfer(ctx context.Context, t Transfer) error {
	if err := v.move(t); err != nil {
		return err
	}

	if v.OnTransfer == nil {
		return nil
	}

	if err := v.OnTransfer(ctx, t); err != nil {
		v.revert(t)

		return fmt.Errorf("transfer rejected: %w", err)
	}

	return nil
}

func (v *Memory) move(t Transfer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	wallet, custody := v.wallets[t.Party], v.custody

	var err error

	switch t.Direction {
	case In:
		if wallet, err = wallet.Sub(t.Amount); err != nil {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, t.Party, v.wallets[t.Party], t.Amount)
		}

		if custody, err = custody.Add(t.Amount); err != nil {
			return err
		}
	case Out:
		if custody, err = custody.Sub(t.Amount); err != nil {
			return fmt.Errorf("%w: %s held, %s needed", ErrInsufficientCustody, v.custody, t.Amount)
		}

		if wallet, err = wallet.Add(t.Amount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown direction %q", t.Direction)
	}

	v.wallets[t.Party], v.custody = wallet, custody
	v.transfers = append(v.transfers, t)

	return nil
}

func (v *Memory) revert(t Transfer) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch t.Direction {
	case In:
		v.wallets[t.Party] += t.Amount
		v.custody -= t.Amount
	case Out:
		v.wallets[t.Party] -= t.Amount
		v.custody += t.Amount
	}

	for i := len(v.transfers) - 1; i >= 0; i-- {
		if v.transfers[i] == t {
			v.transfers = append(v.transfers[:i], v.transfers[i+1:]...)

			break
		}
	}
}
