package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedSQLite "github.com/davicafu/orderlog/internal/shared/infra/platform/db/sqlite"
)

var ts = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*EventStoreSQLite, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// :memory: es una base distinta por conexión.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := NewEventStoreSQLite(db)
	require.NoError(t, store.InitSchema(context.Background()))
	return store, db
}

func event(id string, offset time.Duration, p orderDomain.Payload) orderDomain.Event {
	return orderDomain.Event{AggregateID: id, Timestamp: ts.Add(offset), Payload: p}
}

func created(id string) orderDomain.Event {
	return event(id, 0, orderDomain.OrderCreated{
		CustomerID: "c1",
		Items:      []orderDomain.OrderItem{{ProductID: "A", Name: "Keyboard", Quantity: 1, Price: 100}},
	})
}

func TestEventStoreSQLite_AppendAndReadAll(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	first, err := store.Append(ctx, created("o1"), 0)
	require.NoError(t, err)
	second, err := store.Append(ctx, event("o1", time.Minute, orderDomain.StatusChanged{From: orderDomain.StatusPending, To: orderDomain.StatusConfirmed}), 1)
	require.NoError(t, err)
	third, err := store.Append(ctx, event("o1", 2*time.Minute, orderDomain.RolledBack{
		Descriptor: orderDomain.RollbackDescriptor{Type: orderDomain.RollbackByVersion, ToVersion: 1},
	}), orderDomain.AnyVersion)
	require.NoError(t, err)

	events, err := store.ReadAll(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []orderDomain.Event{first, second, third}, events)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Version, events[1].Version, events[2].Version})

	o, err := orderDomain.Rebuild(events)
	require.NoError(t, err)
	assert.Equal(t, orderDomain.StatusPending, o.Status)
}

func TestEventStoreSQLite_UnknownAggregate(t *testing.T) {
	store, _ := setupStore(t)

	events, err := store.ReadAll(context.Background(), "missing")

	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStoreSQLite_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	store, db := setupStore(t)

	add := func(p string) orderDomain.Event {
		return event("o1", time.Minute, orderDomain.ItemAdded{Item: orderDomain.OrderItem{ProductID: p, Quantity: 1, Price: 1}})
	}
	_, err := store.Append(ctx, created("o1"), 0)
	require.NoError(t, err)
	_, err = store.Append(ctx, add("B"), 1)
	require.NoError(t, err)

	// Dos escritores leyeron la versión 2.
	_, errA := store.Append(ctx, add("C"), 2)
	_, errB := store.Append(ctx, add("D"), 2)

	require.NoError(t, errA)
	var conflict *orderDomain.ConcurrencyConflictError
	require.True(t, errors.As(errB, &conflict))
	assert.Equal(t, 2, conflict.Expected)
	assert.Equal(t, 3, conflict.Actual)

	// El intento fallido no deja rastro ni en el log ni en el outbox.
	events, err := store.ReadAll(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
	pending, err := sharedSQLite.NewOutboxRepoSQLite(db).FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	store, db := setupStore(t)
	_, err := store.Append(ctx, created("o1"), 0)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO order_events VALUES ('o1', 1, 'ItemRemoved', '{"productId":"A"}', ?)`, sharedSQLite.FormatTime(ts))

	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(errors.New("disk I/O error")))
}

func TestEventStoreSQLite_OutboxInSameTransaction(t *testing.T) {
	ctx := context.Background()
	store, db := setupStore(t)
	_, err := store.Append(ctx, created("o1"), 0)
	require.NoError(t, err)

	outbox := sharedSQLite.NewOutboxRepoSQLite(db)
	pending, err := outbox.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, orderDomain.EventTypeCreated, pending[0].EventType)
	assert.Equal(t, "o1", pending[0].AggregateID)
}

func TestEventStoreSQLite_ReadEverythingAndStats(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)
	for _, id := range []string{"o2", "o1"} {
		_, err := store.Append(ctx, created(id), 0)
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, event("o1", time.Hour, orderDomain.StatusChanged{To: orderDomain.StatusCancelled}), 1)
	require.NoError(t, err)

	all, err := store.ReadEverything(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o1", all[0].AggregateID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.TotalOrders)
	assert.Equal(t, int64(2), stats.EventsByKind["Created"])
	assert.Equal(t, int64(1), stats.EventsByKind["StatusChanged"])
	require.NotNil(t, stats.LastEventAt)
	assert.Equal(t, ts.Add(time.Hour), *stats.LastEventAt)
}
