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

	"go.uber.org/zap"

	"github.com/rsvpkit/rsvpkit/internal/domain"
)

// Journal records the transfers to the log for an external settlement. It
// tracks the expected custody so that payouts never exceed what was
// collected.
type Journal struct {
	mu      sync.Mutex
	custody domain.Amount
	logger  *zap.Logger
}

// NewJournal creates a journal vault writing to logger.
func NewJournal(logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Journal{
		logger: logger.Named("vault"),
	}
}

// Custody returns the value expected in custody.
func (j *Journal) Custody(ctx context.Context) (domain.Amount, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.custody, nil
}

// Restore sets the expected custody, used when starting from a persistent
// store.
func (j *Journal) Restore(custody domain.Amount) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.custody = custody
}

// Collect implements the Collect method of the escrow.Vault interface.
func (j *Journal) Collect(ctx context.Context, from domain.Identity, amount domain.Amount) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	custody, err := j.custody.Add(amount)
	if err != nil {
		return err
	}

	j.custody = custody
	j.logger.Info("collect",
		zap.Stringer("from", from),
		zap.Stringer("amount", amount),
		zap.Stringer("custody", custody),
	)

	return nil
}

// Pay implements the Pay method of the escrow.Vault interface.
func (j *Journal) Pay(ctx context.Context, to domain.Identity, amount domain.Amount) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	custody, err := j.custody.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s held, %s needed", ErrInsufficientCustody, j.custody, amount)
	}

	j.custody = custody
	j.logger.Info("pay",
		zap.Stringer("to", to),
		zap.Stringer("amount", amount),
		zap.Stringer("custody", custody),
	)

	return nil
}
