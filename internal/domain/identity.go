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
	"encoding/hex"
	"fmt"
	"strings"
)

// IdentityLength is the width of an identity in bytes.
const IdentityLength = 20

// Identity is an opaque account identity. Identities are only compared for
// equality.
type Identity [IdentityLength]byte

// ZeroIdentity is the null identity.
var ZeroIdentity Identity

// IsZero returns true for the null identity.
func (i Identity) IsZero() bool {
	return i == ZeroIdentity
}

// String returns the 0x-prefixed hex form of the identity.
func (i Identity) String() string {
	return "0x" + hex.EncodeToString(i[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (i *Identity) UnmarshalText(b []byte) error {
	id, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}

	*i = id

	return nil
}

// ParseIdentity parses a hex identity, with or without the 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	var id Identity

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*IdentityLength {
		return id, fmt.Errorf("invalid identity length %d", len(s))
	}

	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid identity: %w", err)
	}

	return id, nil
}

// MustParseIdentity parses an identity or panics.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}

	return id
}
