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

package tracing

import (
	"context"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

// Repo traces the reads and writes of a read model.
type Repo struct {
	eh.ReadWriteRepo
}

// NewRepo creates a Repo.
func NewRepo(repo eh.ReadWriteRepo) *Repo {
	return &Repo{ReadWriteRepo: repo}
}

// InnerRepo implements the InnerRepo method of the eh.ReadRepo interface.
func (r *Repo) InnerRepo(ctx context.Context) eh.ReadRepo {
	return r.ReadWriteRepo
}

// Find implements the Find method of the eh.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id uuid.UUID) (eh.Entity, error) {
	ctx, finish := start(ctx, "repo.find")

	entity, err := r.ReadWriteRepo.Find(ctx, id)
	finish(err, tags{"rsvpkit.entity_id": id, "rsvpkit.found": err == nil})

	return entity, err
}

// FindAll implements the FindAll method of the eh.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]eh.Entity, error) {
	ctx, finish := start(ctx, "repo.find_all")

	entities, err := r.ReadWriteRepo.FindAll(ctx)
	finish(err, tags{"rsvpkit.entities": len(entities)})

	return entities, err
}

// Save implements the Save method of the eh.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity eh.Entity) error {
	ctx, finish := start(ctx, "repo.save")

	err := r.ReadWriteRepo.Save(ctx, entity)
	finish(err, tags{"rsvpkit.entity_id": entity.EntityID()})

	return err
}

// Remove implements the Remove method of the eh.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id uuid.UUID) error {
	ctx, finish := start(ctx, "repo.remove")

	err := r.ReadWriteRepo.Remove(ctx, id)
	finish(err, tags{"rsvpkit.entity_id": id})

	return err
}
