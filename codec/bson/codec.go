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

package bson

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// EventCodec encodes events as BSON documents using the Registry, so that
// identities and IDs in the event data are readable strings.
type EventCodec struct{}

var _ = eh.EventCodec(&EventCodec{})

type envelope struct {
	Type      eh.EventType           `bson:"type"`
	Data      bson.Raw               `bson:"data,omitempty"`
	At        time.Time              `bson:"at"`
	Aggregate aggregateRef           `bson:"aggregate"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty"`
	Context   map[string]interface{} `bson:"context,omitempty"`
}

type aggregateRef struct {
	Type    eh.AggregateType `bson:"type,omitempty"`
	ID      string           `bson:"id,omitempty"`
	Version int              `bson:"version,omitempty"`
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
		b, err := Marshal(event.Data())
		if err != nil {
			return nil, fmt.Errorf("could not marshal data of %s: %w", event.EventType(), err)
		}

		e.Data = bson.Raw(b)
	}

	b, err := Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s: %w", event.EventType(), err)
	}

	return b, nil
}

// UnmarshalEvent implements the UnmarshalEvent method of the eh.EventCodec
// interface. Times are decoded with millisecond precision.
func (c *EventCodec) UnmarshalEvent(ctx context.Context, b []byte) (eh.Event, context.Context, error) {
	var e envelope
	if err := Unmarshal(b, &e); err != nil {
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

	if len(e.Data) > 0 {
		var err error
		if data, err = eh.CreateEventData(e.Type); err != nil {
			return nil, nil, fmt.Errorf("could not create data of %s: %w", e.Type, err)
		}

		if err := Unmarshal(e.Data, data); err != nil {
			return nil, nil, fmt.Errorf("could not unmarshal data of %s: %w", e.Type, err)
		}
	}

	event := eh.NewEvent(e.Type, data, e.At.UTC(),
		eh.ForAggregate(e.Aggregate.Type, id, e.Aggregate.Version),
		eh.WithMetadata(e.Metadata),
	)

	return event, eh.UnmarshalContext(ctx, e.Context), nil
}
