package store

import (
	"context"
	"errors"

	"github.com/itskum47/tierroute/control_plane/task"
)

// ErrPersistence wraps every failed history write surfaced to callers.
var ErrPersistence = errors.New("history persistence failure")

// ErrMissingTaskID is returned by Record for a record without a task id.
var ErrMissingTaskID = errors.New("record has no task id")

// DefaultQueryLimit applies when a query asks for a non-positive limit.
const DefaultQueryLimit = 100

// History is the durable record of completed tasks.
// It abstracts over the in-memory, SQLite and Postgres backends.
type History interface {
	// Record upserts by task id. Recording the same id twice leaves one entry
	// holding the last write.
	Record(ctx context.Context, rec task.Record) error

	// Get returns nil, nil when the task is unknown.
	Get(ctx context.Context, taskID string) (*task.Record, error)

	// Query returns up to limit records, most recent first, optionally
	// restricted to one class.
	Query(ctx context.Context, limit int, class *task.Class) ([]task.Record, error)

	// Statistics aggregates over every stored record.
	Statistics(ctx context.Context) (Statistics, error)

	Close() error
}
