package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/orderlog/internal/mocks"
	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedEvents "github.com/davicafu/orderlog/internal/shared/domain/events"
	infraEvents "github.com/davicafu/orderlog/internal/shared/infra/events"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func integrationPayload(t *testing.T, evt orderDomain.Event) []byte {
	t.Helper()
	env, err := orderDomain.ToEnvelope(evt)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	raw, err := json.Marshal(sharedEvents.IntegrationEvent{
		Type:      orderDomain.EventTypeFor(evt.Kind()),
		Key:       evt.AggregateID,
		Timestamp: evt.Timestamp,
		Data:      data,
	})
	require.NoError(t, err)
	return raw
}

func statusEvent() orderDomain.Event {
	return orderDomain.Event{
		AggregateID: "o1",
		Version:     2,
		Timestamp:   t0,
		Payload:     orderDomain.StatusChanged{From: orderDomain.StatusPending, To: orderDomain.StatusConfirmed},
	}
}

func TestOrderConsumer_InvalidatesCacheAndLogsAnalytics(t *testing.T) {
	ctx := context.Background()
	cache := mocks.NewDummyCache()
	key := orderDomain.OrderCacheKeyByID("o1")
	require.NoError(t, cache.Set(ctx, key, map[string]string{"id": "o1"}, 60))

	analytics := new(mocks.MockAnalyticsRepository)
	analytics.On("LogBatch", mock.Anything, []orderDomain.Event{statusEvent()}).Return(nil).Once()

	consumer := NewOrderConsumer(cache, analytics, zap.NewNop())
	consumer.HandleMessage(ctx, "o1", integrationPayload(t, statusEvent()))

	assert.False(t, cache.Has(key))
	analytics.AssertExpectations(t)
}

func TestOrderConsumer_WithoutAnalytics(t *testing.T) {
	ctx := context.Background()
	cache := mocks.NewDummyCache()
	key := orderDomain.OrderCacheKeyByID("o1")
	require.NoError(t, cache.Set(ctx, key, "stale", 60))

	NewOrderConsumer(cache, nil, zap.NewNop()).HandleMessage(ctx, "", integrationPayload(t, statusEvent()))

	assert.False(t, cache.Has(key))
}

func TestOrderConsumer_AnalyticsFailureIsNotFatal(t *testing.T) {
	analytics := new(mocks.MockAnalyticsRepository)
	analytics.On("LogBatch", mock.Anything, mock.Anything).Return(errors.New("clickhouse down"))

	consumer := NewOrderConsumer(mocks.NewDummyCache(), analytics, zap.NewNop())

	assert.NotPanics(t, func() {
		consumer.HandleMessage(context.Background(), "o1", integrationPayload(t, statusEvent()))
	})
	analytics.AssertNumberOfCalls(t, "LogBatch", 1)
}

func TestOrderConsumer_IgnoresForeignAndMalformedEvents(t *testing.T) {
	analytics := new(mocks.MockAnalyticsRepository)
	consumer := NewOrderConsumer(mocks.NewDummyCache(), analytics, zap.NewNop())

	foreign, _ := json.Marshal(sharedEvents.IntegrationEvent{Type: "user.created", Data: json.RawMessage(`{}`)})
	consumer.HandleMessage(context.Background(), "", foreign)
	consumer.HandleMessage(context.Background(), "", []byte("not json"))

	badEnvelope, _ := json.Marshal(sharedEvents.IntegrationEvent{Type: orderDomain.EventTypeCreated, Data: json.RawMessage(`{"aggregateId":"o1","version":0}`)})
	consumer.HandleMessage(context.Background(), "", badEnvelope)

	analytics.AssertNotCalled(t, "LogBatch", mock.Anything, mock.Anything)
}

func TestOrderConsumer_FromInMemoryBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analytics := new(mocks.MockAnalyticsRepository)
	done := make(chan struct{})
	analytics.On("LogBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

	bus := infraEvents.NewInMemoryEventBus(orderDomain.OrderTopic)
	bus.Consume(ctx, NewOrderConsumer(mocks.NewDummyCache(), analytics, zap.NewNop()), 10, zap.NewNop())

	env, err := orderDomain.ToEnvelope(statusEvent())
	require.NoError(t, err)
	data, _ := json.Marshal(env)
	require.NoError(t, bus.Publish(ctx, sharedEvents.IntegrationEvent{Type: orderDomain.EventTypeStatusChanged, Key: "o1", Data: data}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was not consumed")
	}
}
