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

// Package postgres is a read model repository for PostgreSQL using GORM.
// Entities are stored as JSON documents in a single table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/uuid"
)

const defaultTableName = "read_models"

// ErrModelNotSet is when a model factory is not set on the Repo.
var ErrModelNotSet = errors.New("model not set")

// Repo implements a PostgreSQL repository for entities.
type Repo struct {
	db        *gorm.DB
	ownsDB    bool
	table     string
	newEntity func() eh.Entity
	logger    *zap.Logger
}

var _ = eh.ReadWriteRepo(&Repo{})

// record is a stored entity.
type record struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Version   int             `gorm:"not null;default:0"`
	Data      json.RawMessage `gorm:"type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"index"`
	UpdatedAt time.Time
}

// NewRepo connects to the DSN and creates a new Repo, creating its table if
// needed.
func NewRepo(dsn string, options ...Option) (*Repo, error) {
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	r, err := newRepo(db, true, options...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}

		return nil, err
	}

	return r, nil
}

// NewRepoWithDB creates a new Repo with a DB, which is not closed with the
// repo.
func NewRepoWithDB(db *gorm.DB, options ...Option) (*Repo, error) {
	return newRepo(db, false, options...)
}

func newRepo(db *gorm.DB, ownsDB bool, options ...Option) (*Repo, error) {
	if db == nil {
		return nil, fmt.Errorf("missing DB")
	}

	r := &Repo{
		db:     db,
		ownsDB: ownsDB,
		table:  defaultTableName,
		logger: zap.NewNop(),
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := r.db.Table(r.table).AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("could not migrate table %s: %w", r.table, err)
	}

	r.logger.Debug("read model table ready", zap.String("table", r.table))

	return r, nil
}

// Option is an option setter used to configure creation.
type Option func(*Repo) error

// WithTableName uses a different table from the default "read_models" table.
func WithTableName(table string) Option {
	return func(r *Repo) error {
		if table == "" {
			return fmt.Errorf("missing table name")
		}

		r.table = table

		return nil
	}
}

// WithLogger sets the logger used by the repo.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repo) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		r.logger = logger.Named("postgres_repo")

		return nil
	}
}

func (r *Repo) query(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// InnerRepo implements the InnerRepo method of the eh.ReadRepo interface.
func (r *Repo) InnerRepo(ctx context.Context) eh.ReadRepo {
	return nil
}

// IntoRepo tries to convert a eh.ReadRepo into a Repo by recursively looking at
// inner repos. Returns nil if none was found.
func IntoRepo(ctx context.Context, repo eh.ReadRepo) *Repo {
	if repo == nil {
		return nil
	}

	if r, ok := repo.(*Repo); ok {
		return r
	}

	return IntoRepo(ctx, repo.InnerRepo(ctx))
}

// Find implements the Find method of the eh.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id uuid.UUID) (eh.Entity, error) {
	if r.newEntity == nil {
		return nil, &eh.RepoError{
			Err:      ErrModelNotSet,
			Op:       eh.RepoOpFind,
			EntityID: id,
		}
	}

	var rec record
	if err := r.query(ctx).Where("id = ?", id.String()).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = eh.ErrEntityNotFound
		}

		return nil, &eh.RepoError{
			Err:      err,
			Op:       eh.RepoOpFind,
			EntityID: id,
		}
	}

	entity, err := r.decode(rec)
	if err != nil {
		return nil, &eh.RepoError{
			Err:      err,
			Op:       eh.RepoOpFind,
			EntityID: id,
		}
	}

	return entity, nil
}

// FindAll implements the FindAll method of the eh.ReadRepo interface. The
// entities are returned in the order they were first saved.
func (r *Repo) FindAll(ctx context.Context) ([]eh.Entity, error) {
	if r.newEntity == nil {
		return nil, &eh.RepoError{
			Err: ErrModelNotSet,
			Op:  eh.RepoOpFindAll,
		}
	}

	var recs []record
	if err := r.query(ctx).Order("created_at, id").Find(&recs).Error; err != nil {
		return nil, &eh.RepoError{
			Err: fmt.Errorf("could not find: %w", err),
			Op:  eh.RepoOpFindAll,
		}
	}

	result := make([]eh.Entity, 0, len(recs))

	for _, rec := range recs {
		entity, err := r.decode(rec)
		if err != nil {
			return nil, &eh.RepoError{
				Err: err,
				Op:  eh.RepoOpFindAll,
			}
		}

		result = append(result, entity)
	}

	return result, nil
}

func (r *Repo) decode(rec record) (eh.Entity, error) {
	entity := r.newEntity()
	if err := json.Unmarshal(rec.Data, entity); err != nil {
		return nil, fmt.Errorf("could not unmarshal: %w", err)
	}

	return entity, nil
}

// Save implements the Save method of the eh.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity eh.Entity) error {
	id := entity.EntityID()
	if id == uuid.Nil {
		return &eh.RepoError{
			Err: fmt.Errorf("missing entity ID"),
			Op:  eh.RepoOpSave,
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return &eh.RepoError{
			Err:      fmt.Errorf("could not marshal: %w", err),
			Op:       eh.RepoOpSave,
			EntityID: id,
		}
	}

	rec := record{
		ID:   id.String(),
		Data: data,
	}

	if v, ok := entity.(eh.Versionable); ok {
		rec.Version = v.AggregateVersion()
	}

	if err := r.query(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "data", "updated_at"}),
	}).Create(&rec).Error; err != nil {
		return &eh.RepoError{
			Err:      fmt.Errorf("could not save/update: %w", err),
			Op:       eh.RepoOpSave,
			EntityID: id,
		}
	}

	return nil
}

// Remove implements the Remove method of the eh.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id uuid.UUID) error {
	res := r.query(ctx).Where("id = ?", id.String()).Delete(&record{})
	if res.Error != nil {
		return &eh.RepoError{
			Err:      res.Error,
			Op:       eh.RepoOpRemove,
			EntityID: id,
		}
	} else if res.RowsAffected == 0 {
		return &eh.RepoError{
			Err:      eh.ErrEntityNotFound,
			Op:       eh.RepoOpRemove,
			EntityID: id,
		}
	}

	return nil
}

// SetEntityFactory sets a factory function that creates concrete entity types.
func (r *Repo) SetEntityFactory(f func() eh.Entity) {
	r.newEntity = f
}

// Clear removes all entities from the table.
func (r *Repo) Clear(ctx context.Context) error {
	if err := r.query(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&record{}).Error; err != nil {
		return &eh.RepoError{
			Err: fmt.Errorf("could not clear table: %w", err),
			Op:  eh.RepoOpClear,
		}
	}

	return nil
}

// Close implements the Close method of the eh.ReadRepo interface.
func (r *Repo) Close() error {
	if !r.ownsDB {
		return nil
	}

	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
