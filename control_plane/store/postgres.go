package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/tierroute/control_plane/task"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id              TEXT PRIMARY KEY,
	task_type            TEXT NOT NULL,
	priority             INTEGER NOT NULL,
	latency_requirement  INTEGER NOT NULL,
	requires_accelerator BOOLEAN NOT NULL,
	cost_sensitivity     INTEGER NOT NULL,
	payload              JSONB,
	chosen_class         TEXT NOT NULL,
	confidence           DOUBLE PRECISION NOT NULL,
	alternatives         JSONB,
	rationale            TEXT NOT NULL,
	features             JSONB,
	status               TEXT NOT NULL,
	error_kind           TEXT NOT NULL DEFAULT '',
	execution_time       DOUBLE PRECISION NOT NULL,
	cost                 DOUBLE PRECISION NOT NULL,
	message              TEXT NOT NULL DEFAULT '',
	node                 TEXT NOT NULL DEFAULT '',
	metadata             JSONB,
	executor_response    JSONB,
	recorded_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_recorded_at ON task_history (recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_history_class ON task_history (chosen_class, recorded_at DESC);
`

// PostgresStore implements History using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate task_history: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, rec task.Record) error {
	if rec.TaskID == "" {
		return ErrMissingTaskID
	}
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO task_history (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (task_id) DO UPDATE SET
			task_type = EXCLUDED.task_type,
			priority = EXCLUDED.priority,
			latency_requirement = EXCLUDED.latency_requirement,
			requires_accelerator = EXCLUDED.requires_accelerator,
			cost_sensitivity = EXCLUDED.cost_sensitivity,
			payload = EXCLUDED.payload,
			chosen_class = EXCLUDED.chosen_class,
			confidence = EXCLUDED.confidence,
			alternatives = EXCLUDED.alternatives,
			rationale = EXCLUDED.rationale,
			features = EXCLUDED.features,
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			execution_time = EXCLUDED.execution_time,
			cost = EXCLUDED.cost,
			message = EXCLUDED.message,
			node = EXCLUDED.node,
			metadata = EXCLUDED.metadata,
			executor_response = EXCLUDED.executor_response,
			recorded_at = EXCLUDED.recorded_at
	`
	args := append(r.values(), rec.Timestamp)
	_, err = s.pool.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, taskID string) (*task.Record, error) {
	query := `SELECT ` + columns + ` FROM task_history WHERE task_id = $1`

	var r row
	var ts time.Time
	err := s.pool.QueryRow(ctx, query, taskID).Scan(append(r.dest(), &ts)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := r.record()
	if err != nil {
		return nil, err
	}
	rec.Timestamp = ts
	return &rec, nil
}

func (s *PostgresStore) Query(ctx context.Context, limit int, class *task.Class) ([]task.Record, error) {
	limit = normalizeLimit(limit)

	var rows pgx.Rows
	var err error
	if class != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+columns+` FROM task_history WHERE chosen_class = $1 ORDER BY recorded_at DESC, task_id DESC LIMIT $2`,
			class.String(), limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+columns+` FROM task_history ORDER BY recorded_at DESC, task_id DESC LIMIT $1`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []task.Record
	for rows.Next() {
		var r row
		var ts time.Time
		if err := rows.Scan(append(r.dest(), &ts)...); err != nil {
			return nil, err
		}
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		rec.Timestamp = ts
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Statistics(ctx context.Context) (Statistics, error) {
	rows, err := s.pool.Query(ctx, statisticsQuery)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()

	var groups []classAggregate
	for rows.Next() {
		g, err := scanAggregate(rows.Scan)
		if err != nil {
			return Statistics{}, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}
	return buildStatistics(groups), nil
}

// statisticsQuery aggregates in one statement so every figure comes from the
// same snapshot.
const statisticsQuery = `
	SELECT chosen_class,
	       COUNT(*),
	       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(execution_time), 0),
	       COALESCE(SUM(cost), 0)
	FROM task_history
	GROUP BY chosen_class
`

func scanAggregate(scan func(dest ...interface{}) error) (classAggregate, error) {
	var label string
	var g classAggregate
	var count, successful int64
	if err := scan(&label, &count, &successful, &g.sumExec, &g.sumCost); err != nil {
		return classAggregate{}, err
	}
	class, err := task.ParseClass(label)
	if err != nil {
		return classAggregate{}, err
	}
	g.class = class
	g.count = int(count)
	g.successful = int(successful)
	return g, nil
}
