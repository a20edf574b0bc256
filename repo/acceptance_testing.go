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

// Package repo holds the acceptance test shared by the read repositories.
package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// AcceptanceTest runs the behavior every read repository must have against an
// empty repo. Call it from the tests of each implementation:
//
//	func TestRepo(t *testing.T) {
//	    repo.AcceptanceTest(t, NewRepo(), context.Background())
//	}
func AcceptanceTest(t *testing.T, repo eh.ReadWriteRepo, ctx context.Context) {
	created := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	model := func(id uuid.UUID, content string) *mocks.Model {
		return &mocks.Model{ID: id, Content: content, CreatedAt: created}
	}

	missing := func(id uuid.UUID) {
		t.Helper()

		entity, err := repo.Find(ctx, id)
		if !errors.Is(err, eh.ErrEntityNotFound) {
			t.Error("there should be a ErrEntityNotFound error:", err)
		}

		if entity != nil {
			t.Error("there should be no entity:", entity)
		}
	}

	save := func(m *mocks.Model) {
		t.Helper()

		if err := repo.Save(ctx, m); err != nil {
			t.Error("there should be no error:", err)
		}

		entity, err := repo.Find(ctx, m.ID)
		if err != nil {
			t.Error("there should be no error:", err)
		}

		if !reflect.DeepEqual(entity, m) {
			t.Error("the entity should be correct:", entity)
		}
	}

	all := func(want ...eh.Entity) {
		t.Helper()

		got, err := repo.FindAll(ctx)
		if err != nil {
			t.Error("there should be no error:", err)
		}

		if len(got) != len(want) {
			t.Fatalf("there should be %d entities: %v", len(want), got)
		}

		// The order of the result is not defined.
		for _, w := range want {
			found := false

			for _, g := range got {
				if reflect.DeepEqual(g, w) {
					found = true
				}
			}

			if !found {
				t.Error("the entities should be correct:", got)
			}
		}
	}

	missing(uuid.New())
	all()

	var repoErr *eh.RepoError
	if err := repo.Save(ctx, model(uuid.Nil, "no id")); !errors.As(err, &repoErr) || repoErr.Err.Error() != "missing entity ID" {
		t.Error("there should be a repo error:", err)
	}

	first := model(uuid.New(), "first")
	save(first)
	all(first)

	replaced := model(first.ID, "replaced")
	save(replaced)
	all(replaced)

	second := model(uuid.New(), "second")
	save(second)
	all(replaced, second)

	if err := repo.Remove(ctx, replaced.ID); err != nil {
		t.Error("there should be no error:", err)
	}

	missing(replaced.ID)
	all(second)

	if err := repo.Remove(ctx, replaced.ID); !errors.Is(err, eh.ErrEntityNotFound) {
		t.Error("there should be a ErrEntityNotFound error:", err)
	}
}
