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

package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "a"))
	require.NoError(t, l.Lock(ctx, "b"))

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Lock(timeout, "a"), context.DeadlineExceeded)

	acquired := make(chan struct{})

	go func() {
		if err := l.Lock(ctx, "a"); err == nil {
			close(acquired)
		}
	}()

	require.NoError(t, l.Unlock("a"))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("the waiting lock should be acquired")
	}

	require.NoError(t, l.Unlock("a"))
	assert.ErrorIs(t, l.Unlock("a"), ErrNoLockExists)
	require.NoError(t, l.Unlock("b"))
}

func TestMiddleware_Serializes(t *testing.T) {
	var (
		running, maxRunning int32
		wg                  sync.WaitGroup
	)

	inner := eh.CommandHandlerFunc(func(ctx context.Context, cmd eh.Command) error {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)

		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)

		return nil
	})

	h := eh.UseCommandHandlerMiddleware(inner, NewMiddleware(NewLocalLock(), nil))
	id := uuid.New()

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, h.HandleCommand(context.Background(), mocks.Command{ID: id, Content: "cmd"}))
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxRunning)
}

func TestMiddleware_Reentrant(t *testing.T) {
	id := uuid.New()
	calls := 0

	var h eh.CommandHandler

	inner := eh.CommandHandlerFunc(func(ctx context.Context, cmd eh.Command) error {
		calls++
		if calls == 1 {
			// A command for the same aggregate from within the handling.
			return h.HandleCommand(ctx, mocks.Command{ID: id, Content: "nested"})
		}

		return nil
	})

	h = eh.UseCommandHandlerMiddleware(inner, NewMiddleware(NewLocalLock(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, h.HandleCommand(ctx, mocks.Command{ID: id, Content: "outer"}))
	assert.Equal(t, 2, calls)
}

type failingLock struct {
	LocalLock
	err error
}

func (l *failingLock) Lock(ctx context.Context, id string) error {
	return l.err
}

func TestMiddleware_LockError(t *testing.T) {
	lockErr := errors.New("lock error")
	handler := &mocks.CommandHandler{}
	h := eh.UseCommandHandlerMiddleware(handler, NewMiddleware(&failingLock{err: lockErr}, nil))

	err := h.HandleCommand(context.Background(), mocks.Command{ID: uuid.New(), Content: "cmd"})
	assert.ErrorIs(t, err, lockErr)
	assert.Empty(t, handler.Commands)
}
