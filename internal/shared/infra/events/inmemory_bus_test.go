package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *recordingHandler) HandleMessage(ctx context.Context, key string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus("order")
	sub := bus.Subscribe(1)

	require.NoError(t, bus.Publish(context.Background(), map[string]string{"type": "order.Created"}))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"type":"order.Created"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no se recibió el evento")
	}
}

func TestInMemoryEventBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewInMemoryEventBus("order")
	_ = bus.Subscribe(1)

	require.NoError(t, bus.Publish(context.Background(), "a"))
	require.NoError(t, bus.Publish(context.Background(), "b"))
}

func TestInMemoryEventBus_Consume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewInMemoryEventBus("order")
	handler := &recordingHandler{}
	bus.Consume(ctx, handler, 10, zap.NewNop())

	require.NoError(t, bus.Publish(ctx, "x"))
	require.NoError(t, bus.Publish(ctx, "y"))

	assert.Eventually(t, func() bool { return handler.count() == 2 }, time.Second, 5*time.Millisecond)
}
