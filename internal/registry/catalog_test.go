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

package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
)

var (
	organizer   = domain.MustParseIdentity("0x00000000000000000000000000000000000000a0")
	beneficiary = domain.MustParseIdentity("0x00000000000000000000000000000000000000b0")
	attendee    = domain.MustParseIdentity("0x00000000000000000000000000000000000000c1")

	created = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
)

func createEvent(id domain.EventID) *CreateEvent {
	return &CreateEvent{
		EventID:      id,
		Organizer:    organizer,
		Deposit:      100,
		RSVPDeadline: created.Add(10 * time.Second),
		CheckinStart: created.Add(20 * time.Second),
		CheckinEnd:   created.Add(30 * time.Second),
		Beneficiary:  beneficiary,
		At:           created,
	}
}

func createdData(id domain.EventID) *domain.EventCreatedData {
	return &domain.EventCreatedData{
		EventID:      id,
		Organizer:    organizer,
		DepositWei:   100,
		RSVPDeadline: created.Add(10 * time.Second),
		CheckinStart: created.Add(20 * time.Second),
		CheckinEnd:   created.Add(30 * time.Second),
		Beneficiary:  beneficiary,
	}
}

func TestCatalogHandleCommand(t *testing.T) {
	cases := map[string]struct {
		next           int
		cmd            *CreateEvent
		expectedEvents []eh.Event
		expectedErr    error
	}{
		"first": {
			0,
			createEvent(1),
			[]eh.Event{
				eh.NewEvent(domain.EventCreatedEvent, createdData(1), created,
					eh.ForAggregate(CatalogAggregateType, domain.CatalogID, 1)),
			},
			nil,
		},
		"third": {
			2,
			createEvent(3),
			[]eh.Event{
				eh.NewEvent(domain.EventCreatedEvent, createdData(3), created,
					eh.ForAggregate(CatalogAggregateType, domain.CatalogID, 3)),
			},
			nil,
		},
		"taken": {
			2,
			createEvent(2),
			nil,
			ErrEventIDTaken,
		},
		"invalid timeline": {
			0,
			func() *CreateEvent {
				cmd := createEvent(1)
				cmd.CheckinEnd = cmd.CheckinStart

				return cmd
			}(),
			nil,
			domain.ErrInvalidTimeline,
		},
		"deadline passed": {
			0,
			func() *CreateEvent {
				cmd := createEvent(1)
				cmd.At = cmd.RSVPDeadline

				return cmd
			}(),
			nil,
			domain.ErrInvalidTimeline,
		},
		"zero deposit": {
			0,
			func() *CreateEvent {
				cmd := createEvent(1)
				cmd.Deposit = 0

				return cmd
			}(),
			nil,
			domain.ErrInvalidAmount,
		},
		"no organizer": {
			0,
			func() *CreateEvent {
				cmd := createEvent(1)
				cmd.Organizer = domain.ZeroIdentity

				return cmd
			}(),
			nil,
			domain.ErrInvalidOrganizer,
		},
		"no beneficiary": {
			0,
			func() *CreateEvent {
				cmd := createEvent(1)
				cmd.Beneficiary = domain.ZeroIdentity

				return cmd
			}(),
			nil,
			domain.ErrInvalidBeneficiary,
		},
	}

	for name, tc := range cases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := NewCatalog(domain.CatalogID)
			for i := 1; i <= tc.next; i++ {
				e := eh.NewEvent(domain.EventCreatedEvent, createdData(domain.EventID(i)), created)
				if err := a.ApplyEvent(context.Background(), e); err != nil {
					t.Fatal("there should be no error:", err)
				}
			}
			a.SetAggregateVersion(tc.next)

			err := a.HandleCommand(context.Background(), tc.cmd)
			if !errors.Is(err, tc.expectedErr) {
				t.Errorf("test case '%s': incorrect error", name)
				t.Log("exp:", tc.expectedErr)
				t.Log("got:", err)
			}

			events := a.UncommittedEvents()
			if len(events) == 0 {
				events = nil
			}

			if !reflect.DeepEqual(events, tc.expectedEvents) {
				t.Errorf("test case '%s': incorrect events", name)
				t.Log("exp:\n", pretty.Sprint(tc.expectedEvents))
				t.Log("got:\n", pretty.Sprint(events))
			}
		})
	}
}

func TestCatalogApplyEvent(t *testing.T) {
	a := NewCatalog(domain.CatalogID)
	if a.Next() != 1 {
		t.Error("the first ID should be 1:", a.Next())
	}

	ctx := context.Background()
	if err := a.ApplyEvent(ctx, eh.NewEvent(domain.EventCreatedEvent, createdData(1), created)); err != nil {
		t.Error("there should be no error:", err)
	}

	if a.Next() != 2 {
		t.Error("the next ID should be 2:", a.Next())
	}

	err := a.ApplyEvent(ctx, eh.NewEvent(domain.EventCreatedEvent, createdData(5), created))
	if !errors.Is(err, domain.ErrLedgerInconsistent) {
		t.Error("there should be an inconsistency error:", err)
	}

	err = a.ApplyEvent(ctx, eh.NewEvent(domain.RSVPedEvent, &domain.RSVPedData{EventID: 1}, created))
	if err == nil || err.Error() != "could not apply event: Rsvped" {
		t.Error("there should be an unknown event error:", err)
	}

	if a.Next() != 2 {
		t.Error("the next ID should still be 2:", a.Next())
	}
}
