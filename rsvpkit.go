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

// Package rsvpkit is a small CQRS/ES toolkit used to build the custodial
// ledgers of the RSVP deposit engine.
//
// Commands are validated and handled by aggregates, which record events. The
// events are saved to an event store, which lets handlers run inside the save
// transaction (for example to move value) and after it (for example to project
// read models or publish notifications).
package rsvpkit
