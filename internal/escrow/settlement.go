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

package escrow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
)

// Vault moves the underlying currency in and out of custody.
type Vault interface {
	// Collect takes amount from an identity into custody.
	Collect(ctx context.Context, from domain.Identity, amount domain.Amount) error
	// Pay sends amount from custody to an identity.
	Pay(ctx context.Context, to domain.Identity, amount domain.Amount) error
}

// SettlementHandlerType is the type of the settlement handler.
const SettlementHandlerType = eh.EventHandlerType("escrow_settlement")

// Settlement moves value for the ledger notifications. It runs inside the
// event store save, after the notification has been appended, so that a
// failing transfer rolls the operation back and a reentrant call sees the
// new state. Each transfer registers its reversal with the save, which is
// made if the save is not committed after all.
type Settlement struct {
	vault  Vault
	logger *zap.Logger
}

var _ = eh.EventHandler(&Settlement{})

// NewSettlement creates a settlement handler using vault.
func NewSettlement(vault Vault, logger *zap.Logger) (*Settlement, error) {
	if vault == nil {
		return nil, errors.New("missing vault")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Settlement{
		vault:  vault,
		logger: logger,
	}, nil
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (s *Settlement) HandlerType() eh.EventHandlerType {
	return SettlementHandlerType
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (s *Settlement) HandleEvent(ctx context.Context, event eh.Event) error {
	switch data := event.Data().(type) {
	case *domain.RSVPedData:
		if err := s.vault.Collect(ctx, data.Attendee, data.Amount); err != nil {
			return fmt.Errorf("could not collect deposit of %s: %w", data.Attendee, err)
		}

		s.reverse(ctx, event, func(ctx context.Context) error {
			return s.vault.Pay(ctx, data.Attendee, data.Amount)
		})

		s.logger.Debug("deposit collected",
			zap.Stringer("event_id", data.EventID),
			zap.Stringer("attendee", data.Attendee),
			zap.Stringer("amount", data.Amount),
		)
	case *domain.RefundedData:
		if err := s.vault.Pay(ctx, data.Attendee, data.Amount); err != nil {
			return fmt.Errorf("could not refund %s: %w", data.Attendee, err)
		}

		s.reverse(ctx, event, func(ctx context.Context) error {
			return s.vault.Collect(ctx, data.Attendee, data.Amount)
		})

		s.logger.Debug("deposit refunded",
			zap.Stringer("event_id", data.EventID),
			zap.Stringer("attendee", data.Attendee),
			zap.Stringer("amount", data.Amount),
		)
	case *domain.FinalizedData:
		if data.Amount == 0 {
			return nil
		}

		if err := s.vault.Pay(ctx, data.Beneficiary, data.Amount); err != nil {
			return fmt.Errorf("could not sweep to %s: %w", data.Beneficiary, err)
		}

		s.reverse(ctx, event, func(ctx context.Context) error {
			return s.vault.Collect(ctx, data.Beneficiary, data.Amount)
		})

		s.logger.Debug("forfeits swept",
			zap.Stringer("event_id", data.EventID),
			zap.Stringer("beneficiary", data.Beneficiary),
			zap.Stringer("amount", data.Amount),
		)
	}

	return nil
}

// reverse registers the reversal of a transfer with the running save.
func (s *Settlement) reverse(ctx context.Context, event eh.Event, transfer func(context.Context) error) {
	eh.OnRollback(ctx, func(ctx context.Context) error {
		if err := transfer(ctx); err != nil {
			return fmt.Errorf("could not reverse transfer of %s: %w", event, err)
		}

		s.logger.Warn("transfer reversed", zap.Stringer("event", event))

		return nil
	})
}
