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

package mocks

import (
	"fmt"
	"reflect"

	eh "github.com/rsvpkit/rsvpkit"
)

// CompareEvents returns an error describing the first difference between
// got and want, looking at what identifies an event and its data only.
func CompareEvents(got, want eh.Event) error {
	fields := []struct {
		name      string
		got, want interface{}
	}{
		{"aggregate ID", got.AggregateID(), want.AggregateID()},
		{"aggregate type", got.AggregateType(), want.AggregateType()},
		{"event type", got.EventType(), want.EventType()},
		{"event data", got.Data(), want.Data()},
	}

	for _, f := range fields {
		if !reflect.DeepEqual(f.got, f.want) {
			return fmt.Errorf("incorrect %s: %v (should be %v)", f.name, f.got, f.want)
		}
	}

	return nil
}

// EqualEvents reports whether two event sequences match pairwise, including
// their timestamps and versions but not their metadata.
func EqualEvents(got, want []eh.Event) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		if CompareEvents(got[i], want[i]) != nil ||
			!got[i].Timestamp().Equal(want[i].Timestamp()) ||
			got[i].Version() != want[i].Version() {
			return false
		}
	}

	return true
}
