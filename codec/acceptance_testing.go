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

// Package codec holds the acceptance test of the event codecs.
package codec

import (
	"context"
	"reflect"
	"testing"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func init() {
	eh.RegisterEventData(EventType, func() eh.EventData { return &EventData{} })
}

// EventType is the type of the acceptance test event.
const EventType eh.EventType = "CodecEvent"

// EventData is event data covering the value kinds used by notifications.
type EventData struct {
	Attendee uuid.UUID         `json:"attendee" bson:"attendee"`
	Amount   uint64            `json:"amount"   bson:"amount"`
	Open     bool              `json:"open"     bson:"open"`
	At       time.Time         `json:"at"       bson:"at"`
	Tags     []string          `json:"tags"     bson:"tags"`
	Labels   map[string]string `json:"labels"   bson:"labels"`
	Refund   *Nested           `json:"refund"   bson:"refund"`
}

// Nested is nested event data.
type Nested struct {
	Amount uint64 `json:"amount" bson:"amount"`
	Reason string `json:"reason" bson:"reason"`
}

// EventCodecAcceptanceTest is the acceptance test that all implementations of
// eh.EventCodec should pass. It should be called from a test in each
// implementation:
//
//	func TestEventCodec(t *testing.T) {
//		codec.EventCodecAcceptanceTest(t, &EventCodec{})
//	}
func EventCodecAcceptanceTest(t *testing.T, c eh.EventCodec) {
	t.Helper()

	// Millisecond precision is what all codecs keep.
	at := time.Date(2026, time.June, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	id := uuid.MustParse("10a7ec0f-7f2b-46f5-bca1-877b6e33c9fd")
	data := &EventData{
		Attendee: uuid.MustParse("5d1a1f0c-7a8e-4d87-9c7e-0b5b6f3d2a10"),
		Amount:   100,
		Open:     true,
		At:       at,
		Tags:     []string{"a", "b"},
		Labels:   map[string]string{"source": "cli"},
		Refund:   &Nested{Amount: 100, Reason: "checked in"},
	}

	cases := map[string]eh.Event{
		"with data": eh.NewEvent(EventType, data, at,
			eh.ForAggregate(mocks.AggregateType, id, 3),
			eh.WithMetadata(map[string]interface{}{"num": 42.0}),
		),
		"without data": eh.NewEvent(EventType, nil, at,
			eh.ForAggregate(mocks.AggregateType, id, 4),
		),
		"without aggregate": eh.NewEvent(EventType, data, at),
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := mocks.WithContextOne(context.Background(), "request-1")

			b, err := c.MarshalEvent(ctx, event)
			if err != nil {
				t.Fatal("there should be no error:", err)
			}

			decoded, decodedCtx, err := c.UnmarshalEvent(context.Background(), b)
			if err != nil {
				t.Fatal("there should be no error:", err)
			}

			if err := mocks.CompareEvents(decoded, event); err != nil {
				t.Error("the decoded event should be correct:", err)
			}

			if decoded.Version() != event.Version() || !decoded.Timestamp().Equal(event.Timestamp()) {
				t.Error("the version and timestamp should be correct:", decoded.Version(), decoded.Timestamp())
			}

			if len(event.Metadata()) > 0 && !reflect.DeepEqual(decoded.Metadata(), event.Metadata()) {
				t.Error("the metadata should be correct:", decoded.Metadata())
			}

			if val, ok := mocks.ContextOne(decodedCtx); !ok || val != "request-1" {
				t.Error("the decoded context should be correct:", decodedCtx)
			}
		})
	}

	if _, _, err := c.UnmarshalEvent(context.Background(), []byte("not an event")); err == nil {
		t.Error("there should be an error for garbage")
	}
}
