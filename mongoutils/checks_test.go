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

package mongoutils

import (
	"errors"
	"testing"
)

func TestCheckCollectionName(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		wantErr    error
	}{
		{"empty name", "", ErrMissingCollectionName},
		{"valid name", "ledger_events", nil},
		{"with spaces", "ledger events", ErrInvalidCharInCollectionName},
		{"with dollar", "ledger$events", ErrInvalidCharInCollectionName},
		{"system prefix", "system.views", ErrReservedCollectionName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckCollectionName(tt.collection); !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckCollectionName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
