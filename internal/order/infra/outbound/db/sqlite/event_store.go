package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedSQLite "github.com/davicafu/orderlog/internal/shared/infra/platform/db/sqlite"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS order_events (
	aggregate_id TEXT    NOT NULL,
	version      INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	payload      TEXT    NOT NULL,
	recorded_at  TEXT    NOT NULL,
	PRIMARY KEY (aggregate_id, version)
);`

// EventStoreSQLite guarda el log en SQLite. SQLite solo admite un escritor, así
// que el mutex serializa los Append del proceso y la PK (aggregate_id, version)
// frena a cualquier otro proceso que escriba en el mismo fichero.
type EventStoreSQLite struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ orderDomain.EventStore    = (*EventStoreSQLite)(nil)
	_ orderDomain.StatsProvider = (*EventStoreSQLite)(nil)
)

func NewEventStoreSQLite(db *sql.DB) *EventStoreSQLite {
	return &EventStoreSQLite{db: db}
}

// InitSchema crea las tablas de eventos y outbox si no existen.
func (s *EventStoreSQLite) InitSchema(ctx context.Context) error {
	for _, stmt := range []string{eventsSchema, sharedSQLite.OutboxSchema} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// ------------------ Escritura ------------------

func (s *EventStoreSQLite) Append(ctx context.Context, evt orderDomain.Event, expectedVersion int) (stored orderDomain.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orderDomain.Event{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM order_events WHERE aggregate_id = ?`, evt.AggregateID,
	).Scan(&current); err != nil {
		return orderDomain.Event{}, err
	}

	if stored, err = orderDomain.PrepareAppend(evt, expectedVersion, current); err != nil {
		return orderDomain.Event{}, err
	}
	env, err := orderDomain.ToEnvelope(stored)
	if err != nil {
		return orderDomain.Event{}, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO order_events (aggregate_id, version, kind, payload, recorded_at) VALUES (?,?,?,?,?)`,
		stored.AggregateID, stored.Version, env.Kind, string(env.Payload), sharedSQLite.FormatTime(stored.Timestamp),
	); err != nil {
		if isUniqueViolation(err) {
			err = &orderDomain.ConcurrencyConflictError{AggregateID: stored.AggregateID, Expected: current, Actual: stored.Version}
		}
		return orderDomain.Event{}, err
	}

	out, err := orderDomain.NewOutboxEvent(stored)
	if err != nil {
		return orderDomain.Event{}, err
	}
	if err = sharedSQLite.InsertOutboxTx(ctx, tx, out); err != nil {
		return orderDomain.Event{}, err
	}

	if err = tx.Commit(); err != nil {
		return orderDomain.Event{}, err
	}
	return stored, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// ------------------ Lectura ------------------

func (s *EventStoreSQLite) ReadAll(ctx context.Context, aggregateID string) ([]orderDomain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, kind, payload, recorded_at
		 FROM order_events WHERE aggregate_id = ? ORDER BY version`, aggregateID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *EventStoreSQLite) ReadEverything(ctx context.Context) ([]orderDomain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, kind, payload, recorded_at
		 FROM order_events ORDER BY aggregate_id, version`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]orderDomain.Event, error) {
	defer rows.Close()

	events := []orderDomain.Event{}
	for rows.Next() {
		var env orderDomain.EventEnvelope
		var payload, recordedAt string
		if err := rows.Scan(&env.AggregateID, &env.Version, &env.Kind, &payload, &recordedAt); err != nil {
			return nil, err
		}
		t, err := sharedSQLite.ParseTime(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("event %s/%d has invalid recorded_at: %w", env.AggregateID, env.Version, err)
		}
		env.Timestamp = t.Format(time.RFC3339Nano)
		env.Payload = []byte(payload)

		evt, err := orderDomain.FromEnvelope(env)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ------------------ Stats ------------------

func (s *EventStoreSQLite) Stats(ctx context.Context) (orderDomain.StoreStats, error) {
	stats := orderDomain.StoreStats{EventsByKind: map[string]int64{}}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT aggregate_id), MAX(recorded_at) FROM order_events`,
	).Scan(&stats.TotalEvents, &stats.TotalOrders, &last); err != nil {
		return orderDomain.StoreStats{}, err
	}
	if last.Valid {
		t, err := sharedSQLite.ParseTime(last.String)
		if err != nil {
			return orderDomain.StoreStats{}, err
		}
		stats.LastEventAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM order_events GROUP BY kind`)
	if err != nil {
		return orderDomain.StoreStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return orderDomain.StoreStats{}, err
		}
		stats.EventsByKind[kind] = n
	}
	return stats, rows.Err()
}
