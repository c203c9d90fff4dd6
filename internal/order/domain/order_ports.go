package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AnyVersion desactiva la comprobación de versión esperada en Append.
const AnyVersion = -1

// ---------- Interfaces (Ports) ----------

// EventStore es el log append-only de eventos por pedido.
type EventStore interface {
	// Append persiste evt si no existe ya (AggregateID, Version). Con Version 0
	// el store asigna max+1. Con expectedVersion != AnyVersion la versión actual
	// debe coincidir; si no, devuelve *ConcurrencyConflictError. La comprobación
	// y la escritura son atómicas respecto a otros Append del mismo pedido.
	// Devuelve el evento tal y como quedó guardado.
	Append(ctx context.Context, evt Event, expectedVersion int) (Event, error)

	// ReadAll devuelve los eventos del pedido ordenados por versión.
	// Un pedido desconocido devuelve una lista vacía, no un error.
	ReadAll(ctx context.Context, aggregateID string) ([]Event, error)

	// ReadEverything devuelve todos los eventos de todos los pedidos.
	ReadEverything(ctx context.Context) ([]Event, error)
}

// StoreStats resume el contenido del log.
type StoreStats struct {
	TotalEvents  int64            `json:"totalEvents"`
	TotalOrders  int64            `json:"totalOrders"`
	EventsByKind map[string]int64 `json:"eventsByKind"`
	LastEventAt  *time.Time       `json:"lastEventAt,omitempty"`
}

// StatsProvider es una capacidad opcional: solo los stores durables la implementan.
type StatsProvider interface {
	Stats(ctx context.Context) (StoreStats, error)
}

// DailyOrderTrend agrega por día los eventos enviados a analítica.
type DailyOrderTrend struct {
	Day           time.Time `json:"day"`
	CreatedCount  int       `json:"createdCount"`
	StatusChanges int       `json:"statusChanges"`
	RollbackCount int       `json:"rollbackCount"`
}

type OrderAnalyticsRepository interface {
	LogBatch(ctx context.Context, events []Event) error
	GetDailyTrend(ctx context.Context, start, end time.Time) ([]DailyOrderTrend, error)
}

// Clock da el timestamp de los eventos en el momento del append.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// TimestampPrecision es la precisión más fina que conservan todos los stores
// (milisegundos en las fechas BSON de MongoDB; microsegundos en TIMESTAMPTZ).
const TimestampPrecision = time.Millisecond

// PrepareAppend es la comprobación que todo store hace dentro de su sección
// atómica: valida expectedVersion contra la versión actual, asigna la versión
// si no viene y rellena (y trunca) el timestamp. Una versión explícita debe ser current+1.
func PrepareAppend(evt Event, expectedVersion, current int) (Event, error) {
	if evt.AggregateID == "" {
		return Event{}, errors.New("event without aggregate id")
	}
	if evt.Payload == nil {
		return Event{}, fmt.Errorf("event %s without payload", evt.AggregateID)
	}
	if expectedVersion != AnyVersion && expectedVersion != current {
		return Event{}, &ConcurrencyConflictError{AggregateID: evt.AggregateID, Expected: expectedVersion, Actual: current}
	}

	switch {
	case evt.Version == 0:
		evt.Version = current + 1
	case evt.Version != current+1:
		return Event{}, &ConcurrencyConflictError{AggregateID: evt.AggregateID, Expected: evt.Version - 1, Actual: current}
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	// El evento devuelto debe ser idéntico al que se leerá después del store.
	evt.Timestamp = evt.Timestamp.UTC().Truncate(TimestampPrecision)
	return evt, nil
}

// ---------- Helpers comunes (cache keys, etc.) ----------

func OrderCacheKeyByID(id string) string {
	return fmt.Sprintf("order:id:%s", id)
}
