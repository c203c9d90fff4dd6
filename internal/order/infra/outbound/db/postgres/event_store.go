package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedPostgres "github.com/davicafu/orderlog/internal/shared/infra/platform/db/postgres"
)

const uniqueViolation = "23505"

const eventsSchema = `
CREATE TABLE IF NOT EXISTS order_events (
	aggregate_id TEXT        NOT NULL,
	version      INTEGER     NOT NULL CHECK (version >= 1),
	kind         TEXT        NOT NULL,
	payload      JSONB       NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (aggregate_id, version)
);`

// EventStorePostgres serializa los Append de un mismo pedido con un advisory
// lock de transacción; la PK (aggregate_id, version) es la última barrera.
type EventStorePostgres struct {
	db *sql.DB
}

var (
	_ orderDomain.EventStore    = (*EventStorePostgres)(nil)
	_ orderDomain.StatsProvider = (*EventStorePostgres)(nil)
)

func NewEventStorePostgres(db *sql.DB) *EventStorePostgres {
	return &EventStorePostgres{db: db}
}

func (s *EventStorePostgres) InitSchema(ctx context.Context) error {
	for _, stmt := range []string{eventsSchema, sharedPostgres.OutboxSchema} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}
	return nil
}

// ------------------ Escritura ------------------

func (s *EventStorePostgres) Append(ctx context.Context, evt orderDomain.Event, expectedVersion int) (orderDomain.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orderDomain.Event{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() // Se ignora si el Commit() es exitoso

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, evt.AggregateID); err != nil {
		return orderDomain.Event{}, fmt.Errorf("lock order stream: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM order_events WHERE aggregate_id = $1`, evt.AggregateID,
	).Scan(&current); err != nil {
		return orderDomain.Event{}, fmt.Errorf("db error: %w", err)
	}

	stored, err := orderDomain.PrepareAppend(evt, expectedVersion, current)
	if err != nil {
		return orderDomain.Event{}, err
	}
	env, err := orderDomain.ToEnvelope(stored)
	if err != nil {
		return orderDomain.Event{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_events (aggregate_id, version, kind, payload, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		stored.AggregateID, stored.Version, env.Kind, []byte(env.Payload), stored.Timestamp,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return orderDomain.Event{}, &orderDomain.ConcurrencyConflictError{AggregateID: stored.AggregateID, Expected: current, Actual: stored.Version}
		}
		return orderDomain.Event{}, fmt.Errorf("db error: %w", err)
	}

	out, err := orderDomain.NewOutboxEvent(stored)
	if err != nil {
		return orderDomain.Event{}, err
	}
	if err := sharedPostgres.InsertOutboxTx(ctx, tx, out); err != nil {
		return orderDomain.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return orderDomain.Event{}, err
	}
	return stored, nil
}

// ------------------ Lectura ------------------

func (s *EventStorePostgres) ReadAll(ctx context.Context, aggregateID string) ([]orderDomain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate_id, version, kind, payload, recorded_at
		 FROM order_events WHERE aggregate_id = $1 ORDER BY version`, aggregateID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *EventStorePostgres) ReadEverything(ctx context.Context) ([]orderDomain.Event, error) {
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
		var payload []byte
		var recordedAt time.Time
		if err := rows.Scan(&env.AggregateID, &env.Version, &env.Kind, &payload, &recordedAt); err != nil {
			return nil, err
		}
		env.Payload = payload
		env.Timestamp = recordedAt.UTC().Format(time.RFC3339Nano)

		evt, err := orderDomain.FromEnvelope(env)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ------------------ Stats ------------------

func (s *EventStorePostgres) Stats(ctx context.Context) (orderDomain.StoreStats, error) {
	stats := orderDomain.StoreStats{EventsByKind: map[string]int64{}}

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT aggregate_id), MAX(recorded_at) FROM order_events`,
	).Scan(&stats.TotalEvents, &stats.TotalOrders, &last); err != nil {
		return orderDomain.StoreStats{}, err
	}
	if last.Valid {
		t := last.Time.UTC()
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
