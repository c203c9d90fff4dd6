package mocks

import (
	"context"
	"time"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	"github.com/stretchr/testify/mock"
)

// MockEventStore simula un EventStore.
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Append(ctx context.Context, evt orderDomain.Event, expectedVersion int) (orderDomain.Event, error) {
	args := m.Called(ctx, evt, expectedVersion)
	stored, _ := args.Get(0).(orderDomain.Event)
	return stored, args.Error(1)
}

func (m *MockEventStore) ReadAll(ctx context.Context, aggregateID string) ([]orderDomain.Event, error) {
	args := m.Called(ctx, aggregateID)
	events, _ := args.Get(0).([]orderDomain.Event)
	return events, args.Error(1)
}

func (m *MockEventStore) ReadEverything(ctx context.Context) ([]orderDomain.Event, error) {
	args := m.Called(ctx)
	events, _ := args.Get(0).([]orderDomain.Event)
	return events, args.Error(1)
}

// MockAnalyticsRepository simula el repositorio de analítica.
type MockAnalyticsRepository struct {
	mock.Mock
}

func (m *MockAnalyticsRepository) LogBatch(ctx context.Context, events []orderDomain.Event) error {
	return m.Called(ctx, events).Error(0)
}

func (m *MockAnalyticsRepository) GetDailyTrend(ctx context.Context, start, end time.Time) ([]orderDomain.DailyOrderTrend, error) {
	args := m.Called(ctx, start, end)
	trend, _ := args.Get(0).([]orderDomain.DailyOrderTrend)
	return trend, args.Error(1)
}

// FixedClock devuelve siempre el mismo instante, avanzando Step en cada llamada.
type FixedClock struct {
	At   time.Time
	Step time.Duration
}

func (c *FixedClock) Now() time.Time {
	now := c.At
	c.At = c.At.Add(c.Step)
	return now
}
