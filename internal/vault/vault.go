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

// Package vault has the implementations of the currency transfers used by the
// escrow. Moving real money is outside the engine, so these either simulate
// wallets in memory or only journal what should be settled elsewhere.
package vault

import (
	"errors"

	"github.com/rsvpkit/rsvpkit/internal/domain"
)

var (
	// ErrInsufficientFunds is when a wallet cannot pay a deposit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientCustody is when custody cannot cover a payout.
	ErrInsufficientCustody = errors.New("insufficient custody")
)

// Direction is the direction of a transfer, seen from custody.
type Direction string

const (
	// In is a transfer from a wallet into custody.
	In Direction = "in"
	// Out is a transfer from custody to a wallet.
	Out Direction = "out"
)

// Transfer is a completed transfer.
type Transfer struct {
	Direction Direction       `json:"direction"`
	Party     domain.Identity `json:"party"`
	Amount    domain.Amount   `json:"amount"`
}
