package mongodb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
)

// Necesita un replica set: MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0
func setupStore(t *testing.T) *EventStoreMongoDB {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping mongodb integration test")
	}
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	dbName := "orderlog_test_" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = client.Database(dbName).Drop(ctx) })

	store, err := NewEventStoreMongoDB(ctx, client, dbName)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(ctx))
	return store
}

func event(id string, p orderDomain.Payload) orderDomain.Event {
	// Mongo guarda milisegundos.
	return orderDomain.Event{AggregateID: id, Timestamp: time.Now().UTC(), Payload: p}
}

func TestEventStoreMongoDB_AppendAndReadAll(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	created := orderDomain.OrderCreated{CustomerID: "c1", Items: []orderDomain.OrderItem{{ProductID: "A", Quantity: 1, Price: 100}}}
	first, err := store.Append(ctx, event("o1", created), 0)
	require.NoError(t, err)
	second, err := store.Append(ctx, event("o1", orderDomain.RolledBack{Descriptor: orderDomain.RollbackDescriptor{Type: orderDomain.RollbackByVersion, ToVersion: 1}}), 1)
	require.NoError(t, err)

	events, err := store.ReadAll(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []orderDomain.Event{first, second}, events)

	count, err := store.outboxColl.CountDocuments(ctx, map[string]any{"processed": false})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestEventStoreMongoDB_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	created := orderDomain.OrderCreated{CustomerID: "c1", Items: []orderDomain.OrderItem{{ProductID: "A", Quantity: 1, Price: 100}}}
	_, err := store.Append(ctx, event("o1", created), 0)
	require.NoError(t, err)

	_, err = store.Append(ctx, event("o1", orderDomain.ItemRemoved{ProductID: "A"}), 0)

	var conflict *orderDomain.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 0, conflict.Expected)
	assert.Equal(t, 1, conflict.Actual)
}

func TestEventStoreMongoDB_Stats(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	created := orderDomain.OrderCreated{CustomerID: "c1", Items: []orderDomain.OrderItem{{ProductID: "A", Quantity: 1, Price: 100}}}
	_, err := store.Append(ctx, event("o1", created), 0)
	require.NoError(t, err)
	_, err = store.Append(ctx, event("o2", created), 0)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)

	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEvents)
	assert.EqualValues(t, 2, stats.TotalOrders)
	assert.EqualValues(t, 2, stats.EventsByKind["Created"])
	assert.NotNil(t, stats.LastEventAt)
}
