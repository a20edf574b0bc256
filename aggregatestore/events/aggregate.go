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

package events

import (
	"context"

	eh "github.com/rsvpkit/rsvpkit"
)

// VersionedAggregate is an interface representing a versioned aggregate created
// from events. It receives commands and generates events that are stored.
//
// The aggregate is loaded and saved by the AggregateStore inside the aggregate
// command handler. A domain specific aggregate most commonly embeds
// *AggregateBase to take care of the common methods.
type VersionedAggregate interface {
	// Provides all the basic aggregate data.
	eh.Aggregate

	// UncommittedEvents returns events that are not yet saved.
	UncommittedEvents() []eh.Event
	// ClearUncommittedEvents clears the events after they have been saved.
	ClearUncommittedEvents()

	// AggregateVersion returns the version of the aggregate.
	AggregateVersion() int
	// SetAggregateVersion sets the version of the aggregate. It should only be
	// called after an event has been successfully applied.
	SetAggregateVersion(int)

	// ApplyEvent applies an event on the aggregate by setting its values.
	// Returning an error aborts the load or save that applied the event.
	ApplyEvent(context.Context, eh.Event) error
}
