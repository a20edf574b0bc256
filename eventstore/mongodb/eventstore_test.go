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

package mongodb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap/zaptest"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/eventstore"
	"github.com/rsvpkit/rsvpkit/mocks"
	"github.com/rsvpkit/rsvpkit/mongoutils"
)

// mongoURI returns the URI of MONGODB_ADDR or starts a single node replica
// set in a container.
func mongoURI(t *testing.T) string {
	t.Helper()

	if addr := os.Getenv("MONGODB_ADDR"); addr != "" {
		return "mongodb://" + addr
	}

	ctx := context.Background()

	container, err := tcmongodb.Run(ctx, "mongo:7", tcmongodb.WithReplicaSet("rs0"))
	testcontainers.CleanupContainer(t, container)

	if err != nil {
		t.Skip("could not start MongoDB container:", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	return uri
}

func randomDB(t *testing.T) string {
	t.Helper()

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}

	db := "test-" + hex.EncodeToString(b)
	t.Log("using DB:", db)

	return db
}

func TestEventStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	uri := mongoURI(t)

	t.Run("acceptance", func(t *testing.T) {
		h := mocks.NewEventHandler("after-save")

		store, err := NewEventStore(uri, randomDB(t),
			WithEventHandler(h),
			WithLogger(zaptest.NewLogger(t)),
		)
		if err != nil {
			t.Fatal("there should be no error:", err)
		}

		defer store.Close()

		saved := eventstore.AcceptanceTest(t, store, context.Background())

		h.RLock()
		defer h.RUnlock()

		if !mocks.EqualEvents(h.Events, saved) {
			t.Error("the after-save handler should see all saved events")
		}
	})

	t.Run("transaction", func(t *testing.T) {
		db := randomDB(t)

		eventstore.TransactionAcceptanceTest(t, context.Background(), func(inTX eh.EventHandler) eh.EventStore {
			store, err := NewEventStore(uri, db, WithEventHandlerInTX(inTX))
			if err != nil {
				t.Fatal("there should be no error:", err)
			}

			t.Cleanup(func() { store.Close() })

			return store
		})
	})

	t.Run("external client", func(t *testing.T) {
		client, err := mongo.Connect(mongoutils.ClientOptions(uri))
		if err != nil {
			t.Fatal("there should be no error:", err)
		}

		defer client.Disconnect(context.Background())

		store, err := NewEventStoreWithClient(client, randomDB(t),
			WithCollectionNames("ledger_events", "ledger_streams"))
		if err != nil {
			t.Fatal("there should be no error:", err)
		}

		eventstore.AcceptanceTest(t, store, context.Background())

		if err := store.Clear(context.Background()); err != nil {
			t.Error("there should be no error:", err)
		}

		if err := store.Close(); err != nil {
			t.Error("closing should keep the external client:", err)
		}

		if err := client.Ping(context.Background(), nil); err != nil {
			t.Error("the client should still be connected:", err)
		}
	})
}

func TestWithCollectionNames(t *testing.T) {
	s := &EventStore{}

	if err := WithCollectionNames("events", "events")(s); err == nil {
		t.Error("there should be an error for equal names")
	}

	if err := WithCollectionNames("my events", "streams")(s); err == nil {
		t.Error("there should be an error for an invalid name")
	}

	if err := WithLogger(nil)(s); err == nil {
		t.Error("there should be an error for a nil logger")
	}
}

func TestNewEventStoreWithClient_MissingClient(t *testing.T) {
	if _, err := NewEventStoreWithClient(nil, "db"); err == nil {
		t.Error("there should be an error for a missing client")
	}
}
