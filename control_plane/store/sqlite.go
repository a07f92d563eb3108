package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/itskum47/tierroute/control_plane/task"
)

// recorded_at holds Unix nanoseconds so ordering is numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id              TEXT PRIMARY KEY,
	task_type            TEXT NOT NULL,
	priority             INTEGER NOT NULL,
	latency_requirement  INTEGER NOT NULL,
	requires_accelerator INTEGER NOT NULL,
	cost_sensitivity     INTEGER NOT NULL,
	payload              TEXT,
	chosen_class         TEXT NOT NULL,
	confidence           REAL NOT NULL,
	alternatives         TEXT,
	rationale            TEXT NOT NULL,
	features             TEXT,
	status               TEXT NOT NULL,
	error_kind           TEXT NOT NULL DEFAULT '',
	execution_time       REAL NOT NULL,
	cost                 REAL NOT NULL,
	message              TEXT NOT NULL DEFAULT '',
	node                 TEXT NOT NULL DEFAULT '',
	metadata             TEXT,
	executor_response    TEXT,
	recorded_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_recorded_at ON task_history(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_history_class ON task_history(chosen_class, recorded_at DESC);
`

// sqliteReaders caps the read pool. Reads never share a connection with the
// writer, so a long query cannot hold up Record.
const sqliteReaders = 4

// SQLiteStore implements History on a local SQLite file. Writes go through a
// single connection; reads use a separate query_only pool over WAL.
type SQLiteStore struct {
	db     *sql.DB
	reader *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs the
// schema migration. path must name a file; ":memory:" would give the reader
// pool a different database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := openSQLite(path, 1,
		"journal_mode(WAL)", "busy_timeout(5000)", "synchronous(NORMAL)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	reader, err := openSQLite(path, sqliteReaders, "busy_timeout(5000)", "query_only(1)")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, reader: reader}, nil
}

// openSQLite applies pragmas through the DSN so every pooled connection
// gets them.
func openSQLite(path string, conns int, pragmas ...string) (*sql.DB, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Close() error {
	return errors.Join(s.reader.Close(), s.db.Close())
}

func (s *SQLiteStore) Record(ctx context.Context, rec task.Record) error {
	if rec.TaskID == "" {
		return ErrMissingTaskID
	}
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	query := `INSERT OR REPLACE INTO task_history (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := append(textArgs(r.values()), rec.Timestamp.UnixNano())
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (*task.Record, error) {
	query := `SELECT ` + columns + ` FROM task_history WHERE task_id = ?`
	rec, err := scanSQLite(s.reader.QueryRowContext(ctx, query, taskID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) Query(ctx context.Context, limit int, class *task.Class) ([]task.Record, error) {
	limit = normalizeLimit(limit)

	var rows *sql.Rows
	var err error
	if class != nil {
		rows, err = s.reader.QueryContext(ctx,
			`SELECT `+columns+` FROM task_history WHERE chosen_class = ? ORDER BY recorded_at DESC, task_id DESC LIMIT ?`,
			class.String(), limit)
	} else {
		rows, err = s.reader.QueryContext(ctx,
			`SELECT `+columns+` FROM task_history ORDER BY recorded_at DESC, task_id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []task.Record
	for rows.Next() {
		rec, err := scanSQLite(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Statistics(ctx context.Context) (Statistics, error) {
	rows, err := s.reader.QueryContext(ctx, statisticsQuery)
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

func scanSQLite(scan func(dest ...interface{}) error) (task.Record, error) {
	var r row
	var nanos int64
	if err := scan(append(r.dest(), &nanos)...); err != nil {
		return task.Record{}, err
	}
	rec, err := r.record()
	if err != nil {
		return task.Record{}, err
	}
	rec.Timestamp = time.Unix(0, nanos)
	return rec, nil
}

// textArgs stores JSON columns as TEXT rather than BLOB.
func textArgs(values []interface{}) []interface{} {
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			if b == nil {
				values[i] = nil
			} else {
				values[i] = string(b)
			}
		}
	}
	return values
}
