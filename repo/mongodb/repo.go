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

// Package mongodb is a read model repository for MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/mongoutils"
	"github.com/rsvpkit/rsvpkit/uuid"
)

const defaultCollectionName = "repository"

var (
	// ErrModelNotSet is when a model factory is not set on the Repo.
	ErrModelNotSet = errors.New("model not set")
	// ErrNoCursor is when a provided callback function returns a nil cursor.
	ErrNoCursor = errors.New("no cursor")
)

// Repo implements a MongoDB repository for entities. Entities are stored as
// documents with their ID as _id.
type Repo struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	db              *mongo.Database
	collectionName  string
	newEntity       func() eh.Entity
	connectionCheck bool
	logger          *zap.Logger
}

var _ = eh.ReadWriteRepo(&Repo{})

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewRepo creates a new Repo with a MongoDB URI: `mongodb://hostname`.
func NewRepo(uri, dbName string, opts ...Option) (*Repo, error) {
	client, err := mongo.Connect(mongoutils.ClientOptions(uri))
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	r, err := newRepo(client, internalClient, dbName, opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())

		return nil, err
	}

	return r, nil
}

// NewRepoWithClient creates a new Repo with a client, which is not closed
// with the repo.
func NewRepoWithClient(client *mongo.Client, dbName string, opts ...Option) (*Repo, error) {
	return newRepo(client, externalClient, dbName, opts...)
}

func newRepo(client *mongo.Client, ownership clientOwnership, dbName string, opts ...Option) (*Repo, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	r := &Repo{
		client:          client,
		clientOwnership: ownership,
		db:              client.Database(dbName),
		collectionName:  defaultCollectionName,
		logger:          zap.NewNop(),
	}

	for _, option := range opts {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if r.connectionCheck {
		if err := r.client.Ping(context.Background(), readpref.Primary()); err != nil {
			return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
		}
	}

	return r, nil
}

func (r *Repo) collection() *mongo.Collection {
	return r.db.Collection(r.collectionName)
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

	entity := r.newEntity()

	if err := r.collection().FindOne(ctx, bson.M{"_id": id}).Decode(entity); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = eh.ErrEntityNotFound
		}

		return nil, &eh.RepoError{
			Err:      err,
			Op:       eh.RepoOpFind,
			EntityID: id,
		}
	}

	return entity, nil
}

// FindAll implements the FindAll method of the eh.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]eh.Entity, error) {
	if r.newEntity == nil {
		return nil, &eh.RepoError{
			Err: ErrModelNotSet,
			Op:  eh.RepoOpFindAll,
		}
	}

	cursor, err := r.collection().Find(ctx, bson.M{})
	if err != nil {
		return nil, &eh.RepoError{
			Err: fmt.Errorf("could not find: %w", err),
			Op:  eh.RepoOpFindAll,
		}
	}

	result, err := r.decodeAll(ctx, cursor)
	if err != nil {
		return nil, &eh.RepoError{
			Err: err,
			Op:  eh.RepoOpFindAll,
		}
	}

	return result, nil
}

// FindCustom uses a callback to specify a custom query for returning models.
// A nil cursor from the callback returns ErrNoCursor.
func (r *Repo) FindCustom(ctx context.Context, f func(context.Context, *mongo.Collection) (*mongo.Cursor, error)) ([]eh.Entity, error) {
	if r.newEntity == nil {
		return nil, &eh.RepoError{
			Err: ErrModelNotSet,
			Op:  eh.RepoOpFindAll,
		}
	}

	cursor, err := f(ctx, r.collection())
	if err != nil {
		return nil, &eh.RepoError{
			Err: fmt.Errorf("could not find: %w", err),
			Op:  eh.RepoOpFindAll,
		}
	}

	if cursor == nil {
		return nil, &eh.RepoError{
			Err: ErrNoCursor,
			Op:  eh.RepoOpFindAll,
		}
	}

	result, err := r.decodeAll(ctx, cursor)
	if err != nil {
		return nil, &eh.RepoError{
			Err: err,
			Op:  eh.RepoOpFindAll,
		}
	}

	return result, nil
}

func (r *Repo) decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]eh.Entity, error) {
	result := []eh.Entity{}

	for cursor.Next(ctx) {
		entity := r.newEntity()
		if err := cursor.Decode(entity); err != nil {
			_ = cursor.Close(ctx)

			return nil, fmt.Errorf("could not unmarshal: %w", err)
		}

		result = append(result, entity)
	}

	if err := cursor.Err(); err != nil {
		_ = cursor.Close(ctx)

		return nil, fmt.Errorf("could not read cursor: %w", err)
	}

	if err := cursor.Close(ctx); err != nil {
		return nil, fmt.Errorf("could not close cursor: %w", err)
	}

	return result, nil
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

	if _, err := r.collection().ReplaceOne(ctx,
		bson.M{"_id": id},
		entity,
		options.Replace().SetUpsert(true),
	); err != nil {
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
	res, err := r.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return &eh.RepoError{
			Err:      err,
			Op:       eh.RepoOpRemove,
			EntityID: id,
		}
	} else if res.DeletedCount == 0 {
		return &eh.RepoError{
			Err:      eh.ErrEntityNotFound,
			Op:       eh.RepoOpRemove,
			EntityID: id,
		}
	}

	return nil
}

// CreateIndex creates an index for a field.
func (r *Repo) CreateIndex(ctx context.Context, field string) error {
	index := mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}

	name, err := r.collection().Indexes().CreateOne(ctx, index)
	if err != nil {
		return fmt.Errorf("could not create index: %w", err)
	}

	r.logger.Debug("index created", zap.String("collection", r.collectionName), zap.String("index", name))

	return nil
}

// SetEntityFactory sets a factory function that creates concrete entity types.
func (r *Repo) SetEntityFactory(f func() eh.Entity) {
	r.newEntity = f
}

// Clear clears the read model collection.
func (r *Repo) Clear(ctx context.Context) error {
	if err := r.collection().Drop(ctx); err != nil {
		return &eh.RepoError{
			Err: fmt.Errorf("could not drop collection: %w", err),
			Op:  eh.RepoOpClear,
		}
	}

	return nil
}

// Close implements the Close method of the eh.ReadRepo interface.
func (r *Repo) Close() error {
	if r.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return r.client.Disconnect(context.Background())
}
