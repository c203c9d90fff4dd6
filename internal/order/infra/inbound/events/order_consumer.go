package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"

	// --- Importaciones compartidas ---
	sharedEvents "github.com/davicafu/orderlog/internal/shared/domain/events"
	sharedCache "github.com/davicafu/orderlog/internal/shared/infra/platform/cache"
	sharedUtils "github.com/davicafu/orderlog/internal/shared/infra/utils"
)

const handleTimeout = 500 * time.Millisecond

// OrderConsumer procesa los eventos order.* publicados por el relay: invalida
// la caché de lectura del pedido y, si hay analítica, registra el evento.
type OrderConsumer struct {
	cache     sharedCache.Cache
	analytics orderDomain.OrderAnalyticsRepository
	log       *zap.Logger
}

// NewOrderConsumer es el constructor. analytics puede ser nil.
func NewOrderConsumer(cache sharedCache.Cache, analytics orderDomain.OrderAnalyticsRepository, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{
		cache:     cache,
		analytics: analytics,
		log:       logger,
	}
}

// HandleMessage es el punto de entrada para un nuevo mensaje/evento.
func (c *OrderConsumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	var base sharedEvents.IntegrationEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		c.log.Warn("Failed to unmarshal integration event for order", zap.String("key", key), zap.Error(err))
		return
	}

	if _, ok := orderDomain.KindFromEventType(base.Type); !ok {
		c.log.Warn("Unknown order event type", zap.String("type", base.Type), zap.String("key", key))
		return
	}

	sharedUtils.UnmarshalAndHandle[orderDomain.EventEnvelope](c.log, base.Data, func(env orderDomain.EventEnvelope) {
		evt, err := orderDomain.FromEnvelope(env)
		if err != nil {
			c.log.Warn("Invalid order event", zap.String("type", base.Type), zap.Error(err))
			return
		}
		c.handle(ctx, evt)
	})
}

func (c *OrderConsumer) handle(ctx context.Context, evt orderDomain.Event) {
	ctxEvt, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	sharedCache.Invalidate(ctxEvt, c.cache, orderDomain.OrderCacheKeyByID(evt.AggregateID), c.log)

	if c.analytics != nil {
		if err := c.analytics.LogBatch(ctxEvt, []orderDomain.Event{evt}); err != nil {
			c.log.Warn("Failed to log order event to analytics",
				zap.String("order_id", evt.AggregateID),
				zap.Int("version", evt.Version),
				zap.Error(err),
			)
			return
		}
	}

	c.log.Debug("Order event processed",
		zap.String("order_id", evt.AggregateID),
		zap.Int("version", evt.Version),
		zap.String("kind", string(evt.Kind())),
	)
}
