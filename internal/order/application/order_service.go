package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	// --- Importaciones del dominio y compartidas ---
	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedDomain "github.com/davicafu/orderlog/internal/shared/domain"
	sharedCache "github.com/davicafu/orderlog/internal/shared/infra/platform/cache"
	sharedQuery "github.com/davicafu/orderlog/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/orderlog/internal/shared/infra/utils"
	"github.com/davicafu/orderlog/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrStatsUnavailable     = errors.New("stats not supported by the configured store")
	ErrAnalyticsUnavailable = errors.New("analytics backend not configured")
)

const (
	defaultCommandRetries = 3
	defaultCacheTTL       = 60 // segundos
	conflictRetryDelay    = 20 * time.Millisecond
	readRetryDelay        = 100 * time.Millisecond
)

// OrderService define los casos de uso del pedido. Ningún estado se guarda:
// cada comando lee el log, reconstruye, decide y añade un evento.
type OrderService struct {
	store     orderDomain.EventStore
	cache     sharedCache.Cache
	analytics orderDomain.OrderAnalyticsRepository
	clock     orderDomain.Clock
	retries   int
	cacheTTL  int
	log       *zap.Logger
	tracer    trace.Tracer
}

type Option func(*OrderService)

func WithClock(c orderDomain.Clock) Option {
	return func(s *OrderService) { s.clock = c }
}

func WithAnalytics(a orderDomain.OrderAnalyticsRepository) Option {
	return func(s *OrderService) { s.analytics = a }
}

// WithCommandRetries fija cuántas veces se reintenta un comando sin
// expectedVersion tras un conflicto de concurrencia.
func WithCommandRetries(n int) Option {
	return func(s *OrderService) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *OrderService) {
		if secs := int(ttl.Seconds()); secs > 0 {
			s.cacheTTL = secs
		}
	}
}

// NewOrderService es el constructor para el servicio de pedidos.
func NewOrderService(store orderDomain.EventStore, cache sharedCache.Cache, log *zap.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		store:    store,
		cache:    cache,
		clock:    orderDomain.SystemClock{},
		retries:  defaultCommandRetries,
		cacheTTL: defaultCacheTTL,
		log:      log,
		tracer:   otel.Tracer("order/application"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------- Comandos ----------------

// CreateOrder crea un pedido nuevo en estado PENDING.
func (s *OrderService) CreateOrder(ctx context.Context, customerID string, items []orderDomain.OrderItem) (*orderDomain.Order, error) {
	id := uuid.NewString()
	ctx, span := s.startSpan(ctx, "CreateOrder", id)
	defer span.End()

	order, err := orderDomain.NewOrder(id, customerID, items)
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid order", id, err)
	}

	stored, err := s.store.Append(ctx, orderDomain.Event{
		AggregateID: id,
		Timestamp:   s.clock.Now().UTC(),
		Payload:     orderDomain.OrderCreated{CustomerID: order.CustomerID, Items: order.Items},
	}, 0)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to create order", id, err)
	}

	order.Version = stored.Version
	s.log.Info("✅ Order created", logger.Fields(ctx, zap.String("order_id", id), zap.String("customer_id", customerID))...)
	return &order, nil
}

// ChangeStatus pide la transición. Pedir el estado actual no registra ningún evento.
func (s *OrderService) ChangeStatus(ctx context.Context, id string, to orderDomain.OrderStatus, expectedVersion *int) (*orderDomain.Order, error) {
	res, err := s.execute(ctx, "ChangeStatus", id, expectedVersion,
		func(_ []orderDomain.Event, current orderDomain.Order) (orderDomain.Payload, error) {
			next, err := current.ChangeStatus(to)
			if err != nil {
				return nil, err
			}
			if next.Status == current.Status {
				return nil, nil
			}
			return orderDomain.StatusChanged{From: current.Status, To: to}, nil
		})
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

func (s *OrderService) AddItem(ctx context.Context, id string, item orderDomain.OrderItem, expectedVersion *int) (*orderDomain.Order, error) {
	res, err := s.execute(ctx, "AddItem", id, expectedVersion,
		func(_ []orderDomain.Event, current orderDomain.Order) (orderDomain.Payload, error) {
			if _, err := current.AddItem(item); err != nil {
				return nil, err
			}
			return orderDomain.ItemAdded{Item: item}, nil
		})
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

func (s *OrderService) RemoveItem(ctx context.Context, id, productID string, expectedVersion *int) (*orderDomain.Order, error) {
	res, err := s.execute(ctx, "RemoveItem", id, expectedVersion,
		func(_ []orderDomain.Event, current orderDomain.Order) (orderDomain.Payload, error) {
			if _, err := current.RemoveItem(productID); err != nil {
				return nil, err
			}
			return orderDomain.ItemRemoved{ProductID: productID}, nil
		})
	if err != nil {
		return nil, err
	}
	return res.order, nil
}

// RollbackResult es el pedido tras el rollback junto con lo que deshizo.
type RollbackResult struct {
	Order    *orderDomain.Order       `json:"order"`
	Rollback orderDomain.RollbackInfo `json:"rollback"`
}

// Rollback registra un RolledBack. Los eventos anteriores nunca se modifican.
func (s *OrderService) Rollback(ctx context.Context, id string, req orderDomain.RollbackRequest, expectedVersion *int) (*RollbackResult, error) {
	res, err := s.execute(ctx, "Rollback", id, expectedVersion,
		func(events []orderDomain.Event, _ orderDomain.Order) (orderDomain.Payload, error) {
			d, err := orderDomain.ValidateRollbackRequest(events, req)
			if err != nil {
				return nil, err
			}
			return orderDomain.RolledBack{Descriptor: d}, nil
		})
	if err != nil {
		return nil, err
	}

	info := orderDomain.DescribeRollback(res.events, res.stored)
	s.log.Info("⏪ Order rolled back", logger.Fields(ctx,
		zap.String("order_id", id),
		zap.Int("version", res.stored.Version),
		zap.Ints("skipped_versions", info.SkippedVersions))...)
	return &RollbackResult{Order: res.order, Rollback: info}, nil
}

// decision recibe el log y el estado actual y devuelve el payload del
// siguiente evento; nil significa que no hay nada que registrar.
type decision func(events []orderDomain.Event, current orderDomain.Order) (orderDomain.Payload, error)

type commandResult struct {
	order  *orderDomain.Order
	events []orderDomain.Event // log completo tras el append
	stored orderDomain.Event
}

// execute hace readAll -> rebuild -> decide -> append. Sin expectedVersion del
// llamador se usa la versión recién leída y los conflictos se reintentan
// releyendo el log; con expectedVersion un conflicto se devuelve tal cual.
func (s *OrderService) execute(ctx context.Context, op, id string, expectedVersion *int, decide decision) (*commandResult, error) {
	ctx, span := s.startSpan(ctx, op, id)
	defer span.End()

	attempts := 1
	if expectedVersion == nil {
		attempts += s.retries
	}

	var res *commandResult
	err := sharedUtils.RetryIf(ctx, attempts, conflictRetryDelay, isConflict, func() error {
		events, err := s.store.ReadAll(ctx, id)
		if err != nil {
			return err
		}
		current, err := orderDomain.Replay(events, s.onSkip(ctx))
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", orderDomain.ErrAggregateNotFound, id)
		}

		expected := current.Version
		if expectedVersion != nil {
			if *expectedVersion != current.Version {
				return &orderDomain.ConcurrencyConflictError{AggregateID: id, Expected: *expectedVersion, Actual: current.Version}
			}
			expected = *expectedVersion
		}

		payload, err := decide(events, *current)
		if err != nil {
			return err
		}
		if payload == nil {
			res = &commandResult{order: current, events: events}
			return nil
		}

		stored, err := s.store.Append(ctx, orderDomain.Event{
			AggregateID: id,
			Timestamp:   s.clock.Now().UTC(),
			Payload:     payload,
		}, expected)
		if err != nil {
			return err
		}

		all := append(events[:len(events):len(events)], stored)
		next, err := orderDomain.Replay(all, s.onSkip(ctx))
		if err != nil {
			return err
		}
		res = &commandResult{order: next, events: all, stored: stored}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, op+" failed", id, err)
	}

	if res.stored.Version > 0 {
		span.SetAttributes(attribute.Int("order.version", res.stored.Version))
		sharedCache.Invalidate(ctx, s.cache, orderDomain.OrderCacheKeyByID(id), s.log)
	}
	return res, nil
}

func isConflict(err error) bool {
	return errors.Is(err, orderDomain.ErrConcurrencyConflict)
}

// ---------------- Consultas ----------------

// GetOrder obtiene el estado actual, usando el patrón cache-aside con reintentos.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*orderDomain.Order, error) {
	ctx, span := s.startSpan(ctx, "GetOrder", id)
	defer span.End()

	// 1. Intentar obtener de la caché
	key := orderDomain.OrderCacheKeyByID(id)
	if s.cache != nil {
		var o orderDomain.Order
		if hit, _ := s.cache.Get(ctx, key, &o); hit {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &o, nil
		}
	}

	// 2. Si es 'miss', reconstruir desde el log
	events, err := s.readWithRetry(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to read order events", id, err)
	}
	order, err := orderDomain.Replay(events, s.onSkip(ctx))
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to rebuild order", id, err)
	}
	if order == nil {
		return nil, s.fail(ctx, span, "Order not found", id, fmt.Errorf("%w: %s", orderDomain.ErrAggregateNotFound, id))
	}

	// 3. Actualizar caché en segundo plano para la próxima vez
	sharedCache.AsyncCacheSet(s.cache, key, order, s.cacheTTL, s.log)
	return order, nil
}

// GetOrderAtVersion reconstruye el pedido tal y como era tras la versión dada.
func (s *OrderService) GetOrderAtVersion(ctx context.Context, id string, version int) (*orderDomain.Order, error) {
	ctx, span := s.startSpan(ctx, "GetOrderAtVersion", id)
	defer span.End()

	events, err := s.readWithRetry(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to read order events", id, err)
	}
	if len(events) == 0 {
		return nil, s.fail(ctx, span, "Order not found", id, fmt.Errorf("%w: %s", orderDomain.ErrAggregateNotFound, id))
	}
	order, err := orderDomain.AtVersion(events, version)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to rebuild order", id, err)
	}
	if order == nil {
		return nil, s.fail(ctx, span, "Order did not exist at version", id,
			fmt.Errorf("%w: %s at version %d", orderDomain.ErrAggregateNotFound, id, version))
	}
	return order, nil
}

// GetOrderAtTime reconstruye el pedido con los eventos registrados hasta at.
func (s *OrderService) GetOrderAtTime(ctx context.Context, id string, at time.Time) (*orderDomain.Order, error) {
	ctx, span := s.startSpan(ctx, "GetOrderAtTime", id)
	defer span.End()

	events, err := s.readWithRetry(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to read order events", id, err)
	}
	if len(events) == 0 {
		return nil, s.fail(ctx, span, "Order not found", id, fmt.Errorf("%w: %s", orderDomain.ErrAggregateNotFound, id))
	}
	order, err := orderDomain.Replay(orderDomain.RecordedBy(events, at), s.onSkip(ctx))
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to rebuild order", id, err)
	}
	if order == nil {
		return nil, s.fail(ctx, span, "Order did not exist at time", id,
			fmt.Errorf("%w: %s at %s", orderDomain.ErrAggregateNotFound, id, at.UTC().Format(time.RFC3339Nano)))
	}
	return order, nil
}

// OrderHistory es el log del pedido con los datos derivados de sus rollbacks.
type OrderHistory struct {
	OrderID         string                      `json:"orderId"`
	Version         int                         `json:"version"`
	Events          []orderDomain.EventEnvelope `json:"events"`
	Rollbacks       []orderDomain.RollbackInfo  `json:"rollbacks"`
	SkippedVersions []int                       `json:"skippedVersions"`
}

func (s *OrderService) GetHistory(ctx context.Context, id string) (*OrderHistory, error) {
	ctx, span := s.startSpan(ctx, "GetHistory", id)
	defer span.End()

	events, err := s.readWithRetry(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to read order events", id, err)
	}
	if len(events) == 0 {
		return nil, s.fail(ctx, span, "Order not found", id, fmt.Errorf("%w: %s", orderDomain.ErrAggregateNotFound, id))
	}

	sorted := orderDomain.SortByVersion(events)
	h := &OrderHistory{
		OrderID:         id,
		Version:         orderDomain.MaxVersion(sorted),
		Events:          make([]orderDomain.EventEnvelope, 0, len(sorted)),
		Rollbacks:       []orderDomain.RollbackInfo{},
		SkippedVersions: orderDomain.ComputeSkippedVersions(sorted).Sorted(),
	}
	for _, e := range sorted {
		env, err := orderDomain.ToEnvelope(e)
		if err != nil {
			return nil, s.fail(ctx, span, "Failed to encode order event", id, err)
		}
		h.Events = append(h.Events, env)
		if e.IsRollback() {
			h.Rollbacks = append(h.Rollbacks, orderDomain.DescribeRollback(sorted, e))
		}
	}
	return h, nil
}

// OrderPage es una página del listado junto con el total filtrado.
type OrderPage struct {
	Items  []*orderDomain.Order `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListOrders reconstruye todos los pedidos y filtra en memoria: el estado de un
// pedido solo existe como resultado de reproducir su log. Los pedidos cuyo
// log no se puede reproducir se omiten con un aviso.
func (s *OrderService) ListOrders(ctx context.Context, criteria sharedDomain.Criteria, pagination sharedQuery.OffsetPagination, sorting sharedQuery.Sort) (*OrderPage, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	var events []orderDomain.Event
	err := sharedUtils.Retry(ctx, 3, readRetryDelay, func() error {
		var errRetry error
		events, errRetry = s.store.ReadEverything(ctx)
		return errRetry
	})
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to read event log", "", err)
	}

	streams := make(map[string][]orderDomain.Event)
	var ids []string
	for _, e := range events {
		if _, ok := streams[e.AggregateID]; !ok {
			ids = append(ids, e.AggregateID)
		}
		streams[e.AggregateID] = append(streams[e.AggregateID], e)
	}

	orders := make([]*orderDomain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := orderDomain.Replay(streams[id], s.onSkip(ctx))
		if err != nil {
			s.log.Warn("⚠️ Skipping order that cannot be rebuilt", logger.Fields(ctx, zap.String("order_id", id), zap.Error(err))...)
			continue
		}
		if o != nil && orderDomain.Matches(*o, criteria) {
			orders = append(orders, o)
		}
	}
	sortOrders(orders, sorting)

	p := pagination.Normalize()
	start, end := p.Window(len(orders))
	span.SetAttributes(attribute.Int("orders.total", len(orders)))
	return &OrderPage{Items: orders[start:end], Total: len(orders), Limit: p.Limit, Offset: p.Offset}, nil
}

func sortOrders(orders []*orderDomain.Order, sorting sharedQuery.Sort) {
	less := func(a, b *orderDomain.Order) bool { return a.ID < b.ID }
	switch sorting.Field {
	case "version":
		less = func(a, b *orderDomain.Order) bool { return a.Version < b.Version }
	case "total_amount":
		less = func(a, b *orderDomain.Order) bool { return a.TotalAmount() < b.TotalAmount() }
	case "status":
		less = func(a, b *orderDomain.Order) bool { return a.Status < b.Status }
	case "customer_id":
		less = func(a, b *orderDomain.Order) bool { return a.CustomerID < b.CustomerID }
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if sorting.Desc {
			return less(orders[j], orders[i])
		}
		return less(orders[i], orders[j])
	})
}

// Stats solo está disponible si el store implementa StatsProvider.
func (s *OrderService) Stats(ctx context.Context) (orderDomain.StoreStats, error) {
	provider, ok := s.store.(orderDomain.StatsProvider)
	if !ok {
		return orderDomain.StoreStats{}, ErrStatsUnavailable
	}
	return provider.Stats(ctx)
}

// DailyTrend consulta el backend de analítica alimentado por el consumidor de eventos.
func (s *OrderService) DailyTrend(ctx context.Context, start, end time.Time) ([]orderDomain.DailyOrderTrend, error) {
	if s.analytics == nil {
		return nil, ErrAnalyticsUnavailable
	}
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return s.analytics.GetDailyTrend(ctx, start, end)
}

// ---------------- Helpers ----------------

// readWithRetry reintenta solo los fallos de almacenamiento.
func (s *OrderService) readWithRetry(ctx context.Context, id string) ([]orderDomain.Event, error) {
	var events []orderDomain.Event
	err := sharedUtils.Retry(ctx, 3, readRetryDelay, func() error {
		var errRetry error
		events, errRetry = s.store.ReadAll(ctx, id)
		return errRetry
	})
	return events, err
}

func (s *OrderService) onSkip(ctx context.Context) func(orderDomain.Event) {
	return func(e orderDomain.Event) {
		s.log.Warn("⚠️ Skipping event with unknown kind", logger.Fields(ctx,
			zap.String("order_id", e.AggregateID),
			zap.Int("version", e.Version),
			zap.String("kind", string(e.Kind())))...)
	}
}

func (s *OrderService) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "OrderService."+op, trace.WithAttributes(attribute.String("order.id", id)))
}

// fail registra el error en el span y en el log. Las reglas de negocio y los
// "no encontrado" son respuestas normales: van a Warn, el resto a Error.
func (s *OrderService) fail(ctx context.Context, span trace.Span, msg, id string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	fields := logger.Fields(ctx, zap.String("order_id", id), zap.Error(err))
	switch {
	case orderDomain.IsBusinessRule(err),
		errors.Is(err, orderDomain.ErrAggregateNotFound),
		errors.Is(err, orderDomain.ErrConcurrencyConflict),
		errors.Is(err, orderDomain.ErrInvalidRollbackTarget):
		s.log.Warn(msg, fields...)
	default:
		s.log.Error(msg, fields...)
	}
	return err
}
