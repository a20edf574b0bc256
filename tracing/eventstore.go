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

package tracing

import (
	"context"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventStore traces the saves and loads of the ledgers.
type EventStore struct {
	eh.EventStore
}

// NewEventStore wraps store, or returns nil for a nil store.
func NewEventStore(store eh.EventStore) *EventStore {
	if store == nil {
		return nil
	}

	return &EventStore{EventStore: store}
}

// Save implements the Save method of the eh.EventStore interface. The span is
// tagged with the first event of the batch.
func (s *EventStore) Save(ctx context.Context, events []eh.Event, originalVersion int) error {
	ctx, finish := start(ctx, "store.save")

	err := s.EventStore.Save(ctx, events, originalVersion)

	t := tags{"rsvpkit.events": len(events), "rsvpkit.original_version": originalVersion}
	if len(events) > 0 {
		for k, v := range eventTags(events[0]) {
			t[k] = v
		}
	}

	finish(err, t)

	return err
}

// Load implements the Load method of the eh.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]eh.Event, error) {
	ctx, finish := start(ctx, "store.load")

	events, err := s.EventStore.Load(ctx, id)
	finish(err, tags{"rsvpkit.aggregate_id": id, "rsvpkit.events": len(events)})

	return events, err
}

// LoadAll implements the LoadAll method of the eh.EventLog interface. Stores
// without a global log have no events to return.
func (s *EventStore) LoadAll(ctx context.Context) ([]eh.Event, error) {
	log, ok := s.EventStore.(eh.EventLog)
	if !ok {
		return nil, nil
	}

	ctx, finish := start(ctx, "store.load_all")

	events, err := log.LoadAll(ctx)
	finish(err, tags{"rsvpkit.events": len(events)})

	return events, err
}
