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
	"fmt"
	"reflect"
	"sync"

	"github.com/jinzhu/copier"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// Repo implements an in memory repository of read models. Entities are copied
// when saved and found, so callers never share state with the repo. Entities
// holding maps or slices share those with their copies.
type Repo struct {
	db   map[uuid.UUID]eh.Entity
	dbMu sync.RWMutex

	// A list of all item ids, only the order is used.
	ids []uuid.UUID
}

var _ = eh.ReadWriteRepo(&Repo{})

// NewRepo creates a new Repo.
func NewRepo() *Repo {
	r := &Repo{
		db: map[uuid.UUID]eh.Entity{},
	}

	return r
}

// InnerRepo implements the InnerRepo method of the eh.ReadRepo interface.
func (r *Repo) InnerRepo(ctx context.Context) eh.ReadRepo {
	return nil
}

// Find implements the Find method of the eh.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id uuid.UUID) (eh.Entity, error) {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()

	entity, ok := r.db[id]
	if !ok {
		return nil, &eh.RepoError{
			Err:      eh.ErrEntityNotFound,
			Op:       eh.RepoOpFind,
			EntityID: id,
		}
	}

	return copyEntity(entity)
}

// FindAll implements the FindAll method of the eh.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]eh.Entity, error) {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()

	all := []eh.Entity{}

	for _, id := range r.ids {
		if entity, ok := r.db[id]; ok {
			c, err := copyEntity(entity)
			if err != nil {
				return nil, &eh.RepoError{
					Err:      err,
					Op:       eh.RepoOpFindAll,
					EntityID: id,
				}
			}

			all = append(all, c)
		}
	}

	return all, nil
}

// Save implements the Save method of the eh.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity eh.Entity) error {
	id := entity.EntityID()
	if id == uuid.Nil {
		return &eh.RepoError{
			Err: eh.ErrMissingEntityID,
			Op:  eh.RepoOpSave,
		}
	}

	c, err := copyEntity(entity)
	if err != nil {
		return &eh.RepoError{
			Err:      err,
			Op:       eh.RepoOpSave,
			EntityID: id,
		}
	}

	r.dbMu.Lock()
	defer r.dbMu.Unlock()

	if _, ok := r.db[id]; !ok {
		r.ids = append(r.ids, id)
	}

	r.db[id] = c

	return nil
}

// Remove implements the Remove method of the eh.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id uuid.UUID) error {
	r.dbMu.Lock()
	defer r.dbMu.Unlock()

	if _, ok := r.db[id]; !ok {
		return &eh.RepoError{
			Err:      eh.ErrEntityNotFound,
			Op:       eh.RepoOpRemove,
			EntityID: id,
		}
	}

	delete(r.db, id)

	for i, d := range r.ids {
		if id == d {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)

			break
		}
	}

	return nil
}

// Close implements the Close method of the eh.ReadRepo interface.
func (r *Repo) Close() error {
	return nil
}

// Repository returns a parent ReadRepo if there is one.
func Repository(ctx context.Context, repo eh.ReadRepo) *Repo {
	if repo == nil {
		return nil
	}

	if r, ok := repo.(*Repo); ok {
		return r
	}

	return Repository(ctx, repo.InnerRepo(ctx))
}

func copyEntity(entity eh.Entity) (eh.Entity, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("entity must be a non-nil pointer, got %T", entity)
	}

	c := reflect.New(rv.Elem().Type()).Interface()
	if err := copier.Copy(c, entity); err != nil {
		return nil, fmt.Errorf("could not copy entity: %w", err)
	}

	e, ok := c.(eh.Entity)
	if !ok {
		return nil, fmt.Errorf("copied entity %T is not an entity", c)
	}

	return e, nil
}
