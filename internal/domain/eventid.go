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

package domain

import (
	"strconv"

	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventID identifies an event in the registry. IDs start at 1 and are never
// reused; 0 is never assigned.
type EventID uint64

// String returns the decimal form of the ID.
func (id EventID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseEventID parses a decimal event ID.
func ParseEventID(s string) (EventID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return EventID(v), nil
}

// namespace for the IDs derived from event IDs.
var namespace = uuid.MustParse("0b4f7c52-6f6e-4c8e-9d31-5a0c2f7e9b14")

// CatalogID is the ID of the single catalog aggregate allocating event IDs.
var CatalogID = uuid.NewSHA1(namespace, []byte("catalog"))

// LedgerID is the ID of the escrow ledger aggregate of an event.
func LedgerID(id EventID) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte("ledger/"+id.String()))
}

// RecordID is the ID of the registry read model record of an event.
func RecordID(id EventID) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte("event/"+id.String()))
}
