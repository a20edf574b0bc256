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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/repo"
	"github.com/rsvpkit/rsvpkit/uuid"
)

func TestReadRepo(t *testing.T) {
	r := NewRepo()
	if r == nil {
		t.Error("there should be a repository")
	}

	repo.AcceptanceTest(t, r, context.Background())
}

func TestReadRepo_Copies(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()

	m := &mocks.Model{
		ID:        uuid.New(),
		Version:   1,
		Content:   "saved",
		CreatedAt: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.Save(ctx, m))

	m.Content = "changed after save"

	found, err := r.Find(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "saved", found.(*mocks.Model).Content)

	found.(*mocks.Model).Content = "changed after find"

	again, err := r.Find(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "saved", again.(*mocks.Model).Content)
	assert.Equal(t, m.CreatedAt, again.(*mocks.Model).CreatedAt)
}

func TestRepository(t *testing.T) {
	ctx := context.Background()

	if r := Repository(ctx, nil); r != nil {
		t.Error("the parent repository should be nil:", r)
	}

	inner := NewRepo()
	if r := Repository(ctx, inner); r != inner {
		t.Error("the parent repository should be correct:", r)
	}

	outer := &mocks.Repo{ParentRepo: inner}
	if r := Repository(ctx, outer); r != inner {
		t.Error("the parent repository should be correct:", r)
	}
}
