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

// Package json is the JSON event codec used by the networked event buses.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventCodec encodes events as JSON envelopes. The event data is nested as a
// JSON object and decoded with the factory registered for the event type.
type EventCodec struct{}

var _ = eh.EventCodec(&EventCodec{})

// envelope is the wire format of an event.
type envelope struct {
	Type      eh.EventType           `json:"type"`
	Data      json.RawMessage        `json:"data,omitempty"`
	At        time.Time              `json:"at"`
	Aggregate aggregateRef           `json:"aggregate"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

type aggregateRef struct {
	Type    eh.AggregateType `json:"type,omitempty"`
	ID      string           `json:"id,omitempty"`
	Version int              `json:"version,omitempty"`
}

// MarshalEvent implements the MarshalEvent method of the eh.EventCodec interface.
func (c *EventCodec) MarshalEvent(ctx context.Context, event eh.Event) ([]byte, error) {
	e := envelope{
		Type:     event.EventType(),
		At:       event.Timestamp(),
		Metadata: event.Metadata(),
		Context:  eh.MarshalContext(ctx),
		Aggregate: aggregateRef{
			Type:    event.AggregateType(),
			Version: event.Version(),
		},
	}

	if id := event.AggregateID(); id != uuid.Nil {
		e.Aggregate.ID = id.String()
	}

	if event.Data() != nil {
		var err error
		if e.Data, err = json.Marshal(event.Data()); err != nil {
			return nil, fmt.Errorf("could not marshal data of %s: %w", event.EventType(), err)
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s: %w", event.EventType(), err)
	}

	return b, nil
}

// UnmarshalEvent implements the UnmarshalEvent method of the eh.EventCodec
// interface. The returned context carries the values of the sending context.
func (c *EventCodec) UnmarshalEvent(ctx context.Context, b []byte) (eh.Event, context.Context, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, nil, fmt.Errorf("could not unmarshal event: %w", err)
	}

	id := uuid.Nil
	if e.Aggregate.ID != "" {
		var err error
		if id, err = uuid.Parse(e.Aggregate.ID); err != nil {
			return nil, nil, fmt.Errorf("invalid aggregate ID of %s: %w", e.Type, err)
		}
	}

	var data eh.EventData

	if len(e.Data) > 0 && string(e.Data) != "null" {
		var err error
		if data, err = eh.CreateEventData(e.Type); err != nil {
			return nil, nil, fmt.Errorf("could not create data of %s: %w", e.Type, err)
		}

		if err := json.Unmarshal(e.Data, data); err != nil {
			return nil, nil, fmt.Errorf("could not unmarshal data of %s: %w", e.Type, err)
		}
	}

	event := eh.NewEvent(e.Type, data, e.At,
		eh.ForAggregate(e.Aggregate.Type, id, e.Aggregate.Version),
		eh.WithMetadata(e.Metadata),
	)

	return event, eh.UnmarshalContext(ctx, e.Context), nil
}
