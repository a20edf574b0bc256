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

package rsvpkit

import "github.com/rsvpkit/rsvpkit/uuid"

// Entity is a read model item, such as a projected event record, keyed by a
// stable ID that survives changes to its fields.
type Entity interface {
	EntityID() uuid.UUID
}

// Versionable entities track the aggregate version they were projected up to,
// letting the projector skip stale and reject out of order events.
type Versionable interface {
	AggregateVersion() int
}
