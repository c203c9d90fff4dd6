package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// OrderAnalyticsRepo implementa la interfaz OrderAnalyticsRepository para ClickHouse.
type OrderAnalyticsRepo struct {
	db *sql.DB
}

// NewOrderAnalyticsRepo es el constructor.
func NewOrderAnalyticsRepo(addr, dbName, user, password string) (*OrderAnalyticsRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
			Username: user,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &OrderAnalyticsRepo{db: conn}, nil
}

// NewOrderAnalyticsRepoFromDB permite inyectar una conexión ya abierta.
func NewOrderAnalyticsRepoFromDB(db *sql.DB) *OrderAnalyticsRepo {
	return &OrderAnalyticsRepo{db: db}
}

// LogBatch inserta un lote de eventos. ClickHouse funciona mejor con inserciones en lotes.
func (r *OrderAnalyticsRepo) LogBatch(ctx context.Context, events []orderDomain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO order_events_log (aggregate_id, version, kind, status, payload, event_time)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := orderDomain.EncodePayload(e.Payload)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode event %s/%d: %w", e.AggregateID, e.Version, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.AggregateID,
			uint32(e.Version),
			string(e.Kind()),
			statusOf(e),
			string(payload),
			e.Timestamp.UTC(),
		); err != nil {
			// Si un registro falla, se descarta el lote completo.
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s/%d: %w", e.AggregateID, e.Version, err)
		}
	}

	return tx.Commit()
}

// statusOf solo tiene valor para los cambios de estado.
func statusOf(e orderDomain.Event) string {
	if sc, ok := e.Payload.(orderDomain.StatusChanged); ok {
		return string(sc.To)
	}
	return ""
}

func (r *OrderAnalyticsRepo) GetDailyTrend(ctx context.Context, start, end time.Time) ([]orderDomain.DailyOrderTrend, error) {
	query := `
		SELECT
			toStartOfDay(event_time) AS day,
			countIf(kind = 'Created') AS created,
			countIf(kind = 'StatusChanged') AS status_changes,
			countIf(kind = 'RolledBack') AS rollbacks
		FROM order_events_log FINAL
		WHERE event_time BETWEEN ? AND ?
		GROUP BY day
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trends := []orderDomain.DailyOrderTrend{}
	for rows.Next() {
		var (
			trend                           orderDomain.DailyOrderTrend
			created, statusChanges, rollbacks uint64
		)
		if err := rows.Scan(&trend.Day, &created, &statusChanges, &rollbacks); err != nil {
			return nil, err
		}
		trend.CreatedCount = int(created)
		trend.StatusChanges = int(statusChanges)
		trend.RollbackCount = int(rollbacks)
		trends = append(trends, trend)
	}
	return trends, rows.Err()
}

// InitSchema crea la tabla en ClickHouse si no existe.
// ReplacingMergeTree descarta los duplicados de (aggregate_id, version) que
// deja la entrega at-least-once del bus.
func (r *OrderAnalyticsRepo) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS order_events_log (
			aggregate_id String,
			version      UInt32,
			kind         LowCardinality(String),
			status       LowCardinality(String),
			payload      String,
			event_time   DateTime64(3)
		) ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (aggregate_id, version);
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *OrderAnalyticsRepo) Close() error {
	return r.db.Close()
}

// Verificación estática de la interfaz.
var _ orderDomain.OrderAnalyticsRepository = (*OrderAnalyticsRepo)(nil)
