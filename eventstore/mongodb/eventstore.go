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

// Package mongodb is an event store for MongoDB, using one collection for all
// events and another to keep track of the aggregate streams. MongoDB must run
// as a replica set since saves are transactional.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
	bsoncodec "github.com/rsvpkit/rsvpkit/codec/bson"
	"github.com/rsvpkit/rsvpkit/mongoutils"
	"github.com/rsvpkit/rsvpkit/uuid"
)

const allStream = "$all"

// EventStore is an eh.EventStore and eh.EventLog for MongoDB. The global
// position of each event is used as its document ID and is stored as
// metadata.
//
// Handlers set with WithEventHandlerInTX get a context bound to the save
// session. Loads made with it see the appended events and saves made with it
// for other aggregates join the transaction. A failing joined save aborts the
// transaction it joined, since MongoDB has no savepoints.
type EventStore struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	events          *mongo.Collection
	streams         *mongo.Collection
	logger          *zap.Logger

	eventHandlerAfterSave eh.EventHandler
	eventHandlerInTX      eh.EventHandler
}

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

type txKey struct{}

type storeTX struct {
	store  *EventStore
	ids    map[uuid.UUID]struct{}
	joined []eh.Event
	err    error
}

func txFromContext(ctx context.Context, s *EventStore) (*storeTX, bool) {
	tx, ok := ctx.Value(txKey{}).(*storeTX)
	if !ok || tx.store != s {
		return nil, false
	}

	return tx, true
}

// NewEventStore creates a new EventStore with a MongoDB URI: `mongodb://hostname`.
func NewEventStore(uri, dbName string, options ...Option) (*EventStore, error) {
	client, err := mongo.Connect(mongoutils.ClientOptions(uri))
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	s, err := newEventStoreWithClient(client, internalClient, dbName, options...)
	if err != nil {
		_ = client.Disconnect(context.Background())

		return nil, err
	}

	return s, nil
}

// NewEventStoreWithClient creates a new EventStore with a client. The client
// should be created with mongoutils.ClientOptions so that IDs and identities are stored
// as strings.
func NewEventStoreWithClient(client *mongo.Client, dbName string, options ...Option) (*EventStore, error) {
	return newEventStoreWithClient(client, externalClient, dbName, options...)
}

func newEventStoreWithClient(client *mongo.Client, ownership clientOwnership, dbName string, opts ...Option) (*EventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	db := client.Database(dbName)
	s := &EventStore{
		client:          client,
		clientOwnership: ownership,
		events:          db.Collection("events"),
		streams:         db.Collection("streams"),
		logger:          zap.NewNop(),
	}

	for _, option := range opts {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx := context.Background()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("could not ensure events index: %w", err)
	}

	// Make sure the $all stream exists.
	if _, err := s.streams.UpdateOne(ctx,
		bson.M{"_id": allStream},
		bson.M{"$setOnInsert": bson.M{"position": 0}},
		options.UpdateOne().SetUpsert(true),
	); err != nil {
		return nil, fmt.Errorf("could not create the $all stream document: %w", err)
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithEventHandler adds an event handler that will be called after saving events.
// An example would be to add an event bus to publish events.
func WithEventHandler(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerAfterSave != nil {
			return fmt.Errorf("another event handler is already set")
		}

		s.eventHandlerAfterSave = h

		return nil
	}
}

// WithEventHandlerInTX adds an event handler that will be called during saving
// of events, inside the save transaction.
func WithEventHandlerInTX(h eh.EventHandler) Option {
	return func(s *EventStore) error {
		if s.eventHandlerInTX != nil {
			return fmt.Errorf("another TX event handler is already set")
		}

		s.eventHandlerInTX = h

		return nil
	}
}

// WithCollectionNames uses different collections from the default "events"
// and "streams" collections.
func WithCollectionNames(eventsColl, streamsColl string) Option {
	return func(s *EventStore) error {
		if err := mongoutils.CheckCollectionName(eventsColl); err != nil {
			return fmt.Errorf("events collection: %w", err)
		} else if err := mongoutils.CheckCollectionName(streamsColl); err != nil {
			return fmt.Errorf("streams collection: %w", err)
		} else if eventsColl == streamsColl {
			return fmt.Errorf("custom collection names are equal")
		}

		db := s.events.Database()
		s.events = db.Collection(eventsColl)
		s.streams = db.Collection(streamsColl)

		return nil
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *zap.Logger) Option {
	return func(s *EventStore) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		s.logger = logger.Named("mongodb")

		return nil
	}
}

// Save implements the Save method of the eh.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []eh.Event, originalVersion int) error {
	if len(events) == 0 {
		return &eh.EventStoreError{
			Err: eh.ErrMissingEvents,
			Op:  eh.EventStoreOpSave,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	storeErr := func(err error) error {
		return &eh.EventStoreError{
			Err:              err,
			Op:               eh.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	dbEvents := make([]*evt, len(events))

	for i, event := range events {
		// Only accept events belonging to the same aggregate.
		if event.AggregateID() != id {
			return storeErr(eh.ErrMismatchedEventAggregateIDs)
		}

		if event.AggregateType() != at {
			return storeErr(eh.ErrMismatchedEventAggregateTypes)
		}

		// Only accept events that apply to the correct aggregate version.
		if event.Version() != originalVersion+i+1 {
			return storeErr(eh.ErrIncorrectEventVersion)
		}

		e, err := newEvt(event)
		if err != nil {
			return storeErr(err)
		}

		dbEvents[i] = e
	}

	// Joining a running save shares its session and its commit.
	if parent, ok := txFromContext(ctx, s); ok {
		if _, busy := parent.ids[id]; busy {
			return storeErr(eh.ErrSaveInProgress)
		}

		parent.ids[id] = struct{}{}
		defer delete(parent.ids, id)

		if err := s.save(ctx, dbEvents, events, originalVersion); err != nil {
			if parent.err == nil {
				parent.err = err
			}

			return storeErr(err)
		}

		parent.joined = append(parent.joined, events...)

		return nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return storeErr(fmt.Errorf("could not start session: %w", err))
	}
	defer sess.EndSession(ctx)

	// The transaction is driven by hand instead of with WithTransaction, which
	// would retry the in-TX handlers on transient errors.
	if err := sess.StartTransaction(); err != nil {
		return storeErr(fmt.Errorf("could not start transaction: %w", err))
	}

	stx := &storeTX{
		store: s,
		ids:   map[uuid.UUID]struct{}{id: {}},
	}
	txCtx, undo := eh.WithCompensations(context.WithValue(mongo.NewSessionContext(ctx, sess), txKey{}, stx))

	err = s.save(txCtx, dbEvents, events, originalVersion)
	if err == nil && stx.err != nil {
		err = fmt.Errorf("joined save failed: %w", stx.err)
	}

	if err != nil {
		if abortErr := sess.AbortTransaction(context.Background()); abortErr != nil {
			s.logger.Error("could not abort transaction",
				zap.Stringer("aggregate_id", id),
				zap.Error(abortErr),
			)
		}

		return storeErr(s.undo(ctx, undo, err))
	}

	if err := sess.CommitTransaction(ctx); err != nil {
		if isConflict(err) {
			err = eh.ErrEventConflictFromOtherSave
		}

		return storeErr(s.undo(ctx, undo, fmt.Errorf("could not commit transaction: %w", err)))
	}

	if s.eventHandlerAfterSave != nil {
		for _, e := range append(events[:len(events):len(events)], stx.joined...) {
			if err := s.eventHandlerAfterSave.HandleEvent(ctx, e); err != nil {
				return &eh.EventHandlerError{
					Err:   err,
					Event: e,
				}
			}
		}
	}

	return nil
}

// undo runs the undo steps of the in-TX handlers of a save that failed with
// err.
func (s *EventStore) undo(ctx context.Context, c *eh.Compensations, err error) error {
	if undoErr := c.Rollback(ctx, 0); undoErr != nil {
		s.logger.Error("could not undo side effects of failed save", zap.Error(undoErr))

		return errors.Join(err, fmt.Errorf("could not undo side effects: %w", undoErr))
	}

	return err
}

// save writes the events and runs the in-TX handlers, using the session bound
// to the context.
func (s *EventStore) save(txCtx context.Context, dbEvents []*evt, events []eh.Event, originalVersion int) error {
	// Fetch and increment the global position in the all-stream.
	var all struct {
		Position int `bson:"position"`
	}

	if err := s.streams.FindOneAndUpdate(txCtx,
		bson.M{"_id": allStream},
		bson.M{"$inc": bson.M{"position": len(dbEvents)}},
	).Decode(&all); err != nil {
		if isConflict(err) {
			return eh.ErrEventConflictFromOtherSave
		}

		return fmt.Errorf("could not increment global position: %w", err)
	}

	docs := make([]interface{}, len(dbEvents))

	for i, e := range dbEvents {
		// The global position is the ID of the stored event, which natively
		// prevents duplicates.
		e.Position = all.Position + i + 1
		e.Metadata["position"] = e.Position
		docs[i] = e
	}

	last := dbEvents[len(dbEvents)-1]

	// Update the stream, checking the version for concurrent saves.
	if originalVersion == 0 {
		if _, err := s.streams.InsertOne(txCtx, stream{
			ID:            last.AggregateID,
			Position:      last.Position,
			AggregateType: last.AggregateType,
			Version:       last.Version,
			UpdatedAt:     last.Timestamp,
		}); err != nil {
			if isConflict(err) {
				return eh.ErrEventConflictFromOtherSave
			}

			return fmt.Errorf("could not insert stream: %w", err)
		}
	} else {
		r, err := s.streams.UpdateOne(txCtx,
			bson.M{
				"_id":     last.AggregateID,
				"version": originalVersion,
			},
			bson.M{
				"$set": bson.M{
					"position":   last.Position,
					"updated_at": last.Timestamp,
				},
				"$inc": bson.M{"version": len(dbEvents)},
			},
		)
		if err != nil {
			if isConflict(err) {
				return eh.ErrEventConflictFromOtherSave
			}

			return fmt.Errorf("could not update stream: %w", err)
		} else if r.MatchedCount == 0 {
			return eh.ErrEventConflictFromOtherSave
		}
	}

	if _, err := s.events.InsertMany(txCtx, docs); err != nil {
		if isConflict(err) {
			return eh.ErrEventConflictFromOtherSave
		}

		return fmt.Errorf("could not insert events: %w", err)
	}

	if s.eventHandlerInTX != nil {
		for _, e := range events {
			if err := s.eventHandlerInTX.HandleEvent(txCtx, e); err != nil {
				return fmt.Errorf("could not handle event in transaction: %w", err)
			}
		}
	}

	return nil
}

// Load implements the Load method of the eh.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id uuid.UUID) ([]eh.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := s.events.Find(ctx, bson.M{"aggregate_id": id}, opts)
	if err != nil {
		return nil, &eh.EventStoreError{
			Err:         fmt.Errorf("could not find event: %w", err),
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	events, err := s.loadFromCursor(ctx, cursor)
	if err != nil {
		return nil, &eh.EventStoreError{
			Err:         err,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
			Events:      events,
		}
	}

	if len(events) == 0 {
		return nil, &eh.EventStoreError{
			Err:         eh.ErrAggregateNotFound,
			Op:          eh.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return events, nil
}

// LoadAll implements the LoadAll method of the eh.EventLog interface.
func (s *EventStore) LoadAll(ctx context.Context) ([]eh.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := s.events.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &eh.EventStoreError{
			Err: fmt.Errorf("could not find events: %w", err),
			Op:  eh.EventStoreOpLoadAll,
		}
	}

	events, err := s.loadFromCursor(ctx, cursor)
	if err != nil {
		return nil, &eh.EventStoreError{
			Err:    err,
			Op:     eh.EventStoreOpLoadAll,
			Events: events,
		}
	}

	return events, nil
}

func (s *EventStore) loadFromCursor(ctx context.Context, cursor *mongo.Cursor) ([]eh.Event, error) {
	defer cursor.Close(ctx)

	var events []eh.Event

	for cursor.Next(ctx) {
		var e evt
		if err := cursor.Decode(&e); err != nil {
			return events, fmt.Errorf("could not decode event: %w", err)
		}

		// Create an event of the correct type and decode from raw BSON.
		var data eh.EventData

		if len(e.RawData) > 0 {
			var err error
			if data, err = eh.CreateEventData(e.EventType); err != nil {
				return events, fmt.Errorf("could not create event data: %w", err)
			}

			if err := bsoncodec.Unmarshal(e.RawData, data); err != nil {
				return events, fmt.Errorf("could not unmarshal event data: %w", err)
			}
		}

		if e.Metadata == nil {
			e.Metadata = map[string]interface{}{}
		}

		e.Metadata["position"] = e.Position

		events = append(events, eh.NewEvent(
			e.EventType,
			data,
			e.Timestamp,
			eh.ForAggregate(
				e.AggregateType,
				e.AggregateID,
				e.Version,
			),
			eh.WithMetadata(e.Metadata),
		))
	}

	if err := cursor.Err(); err != nil {
		return events, fmt.Errorf("could not read events: %w", err)
	}

	return events, nil
}

// Clear removes all events and streams, used in testing.
func (s *EventStore) Clear(ctx context.Context) error {
	if _, err := s.events.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("could not clear events collection: %w", err)
	}

	if _, err := s.streams.DeleteMany(ctx, bson.M{"_id": bson.M{"$ne": allStream}}); err != nil {
		return fmt.Errorf("could not clear streams collection: %w", err)
	}

	return nil
}

// Close implements the Close method of the eh.EventStore interface.
func (s *EventStore) Close() error {
	if s.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return s.client.Disconnect(context.Background())
}

func isConflict(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}

	var le mongo.LabeledError
	if errors.As(err, &le) && le.HasErrorLabel("TransientTransactionError") {
		return true
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Name == "WriteConflict" {
		return true
	}

	return false
}

// stream is a stream of events, often containing the events for an aggregate.
type stream struct {
	ID            uuid.UUID        `bson:"_id"`
	Position      int              `bson:"position"`
	AggregateType eh.AggregateType `bson:"aggregate_type"`
	Version       int              `bson:"version"`
	UpdatedAt     time.Time        `bson:"updated_at"`
}

// evt is the internal event record for the MongoDB event store used
// to save and load events from the DB.
type evt struct {
	Position      int                    `bson:"_id"`
	EventType     eh.EventType           `bson:"event_type"`
	Timestamp     time.Time              `bson:"timestamp"`
	AggregateType eh.AggregateType       `bson:"aggregate_type"`
	AggregateID   uuid.UUID              `bson:"aggregate_id"`
	Version       int                    `bson:"version"`
	RawData       bson.Raw               `bson:"data,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata"`
}

// newEvt returns a new evt for an event.
func newEvt(event eh.Event) (*evt, error) {
	e := &evt{
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Version:       event.Version(),
		Metadata:      map[string]interface{}{},
	}

	for k, v := range event.Metadata() {
		e.Metadata[k] = v
	}

	// Marshal event data if there is any.
	if event.Data() != nil {
		var err error
		if e.RawData, err = bsoncodec.Marshal(event.Data()); err != nil {
			return nil, fmt.Errorf("could not marshal event data: %w", err)
		}
	}

	return e, nil
}
