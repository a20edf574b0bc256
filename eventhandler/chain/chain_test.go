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

package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func TestEventHandler(t *testing.T) {
	c := NewEventHandler("after_save")
	assert.Equal(t, eh.EventHandlerType("after_save"), c.HandlerType())

	first := mocks.NewEventHandler("first")
	second := mocks.NewEventHandler("second")
	other := mocks.NewEventHandler("other")

	require.NoError(t, c.AddHandler(eh.MatchAll{}, first))
	require.NoError(t, c.AddHandler(eh.MatchEvents{mocks.EventType}, second))
	require.NoError(t, c.AddHandler(eh.MatchEvents{mocks.EventOtherType}, other))

	assert.Equal(t, eh.ErrHandlerAlreadyAdded, c.AddHandler(eh.MatchAll{}, first))
	assert.Equal(t, eh.ErrMissingMatcher, c.AddHandler(nil, first))
	assert.Equal(t, eh.ErrMissingHandler, c.AddHandler(eh.MatchAll{}, nil))

	event := eh.NewEvent(mocks.EventType, &mocks.EventData{Content: "event1"},
		time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		eh.ForAggregate(mocks.AggregateType, uuid.New(), 1))

	require.NoError(t, c.HandleEvent(context.Background(), event))
	assert.Len(t, first.Events, 1)
	assert.Len(t, second.Events, 1)
	assert.Empty(t, other.Events)

	// The first error stops the chain.
	first.Err = errors.New("failed")
	err := c.HandleEvent(context.Background(), event)

	handlerErr := &eh.EventHandlerError{}
	require.True(t, errors.As(err, &handlerErr))
	assert.Equal(t, first.Err, handlerErr.Err)
	assert.Len(t, second.Events, 1)
}
