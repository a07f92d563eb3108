// Package resilience keeps task records that the history store failed to
// accept and writes them back once it recovers.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/task"
)

const (
	DefaultMaxPending = 10000
	DefaultMaxAge     = 24 * time.Hour
)

// PendingRecord is a record whose history write failed.
type PendingRecord struct {
	Record     task.Record
	FailedAt   time.Time
	Attempts   int
	Reconciled bool
}

// DegradedHistory wraps a History. A failed Record still returns its error,
// but the record is kept in a bounded buffer and replayed by Reconcile.
// Reads pass straight through.
type DegradedHistory struct {
	store.History

	mu         sync.Mutex
	degraded   bool
	since      time.Time
	pending    []PendingRecord
	maxPending int
	maxAge     time.Duration

	now func() time.Time
}

func NewDegradedHistory(h store.History, maxPending int, maxAge time.Duration) *DegradedHistory {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &DegradedHistory{
		History:    h,
		maxPending: maxPending,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func (d *DegradedHistory) Record(ctx context.Context, rec task.Record) error {
	err := d.History.Record(ctx, rec)
	if err != nil {
		d.hold(rec)
		return err
	}
	return nil
}

func (d *DegradedHistory) hold(rec task.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.degraded {
		log.Warn().Msg("[DEGRADED MODE] history unavailable, buffering records")
		d.degraded = true
		d.since = d.now()
	}

	// Bounded: drop the oldest when full.
	if len(d.pending) >= d.maxPending {
		dropped := d.pending[0]
		d.pending = d.pending[1:]
		log.Error().Str("task_id", dropped.Record.TaskID).Int("max", d.maxPending).
			Msg("[DEGRADED MODE] pending buffer full, dropping oldest record")
	}

	d.pending = append(d.pending, PendingRecord{Record: rec, FailedAt: d.now()})
	observability.HistoryPendingRecords.Set(float64(len(d.pending)))
	observability.HistoryDegraded.Set(1)
}

// IsDegraded reports whether a write has failed since the last full reconcile.
func (d *DegradedHistory) IsDegraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.degraded
}

// Pending returns the number of buffered records.
func (d *DegradedHistory) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Status is the degraded-mode summary exposed in system metrics.
type Status struct {
	Degraded bool       `json:"degraded"`
	Since    *time.Time `json:"since,omitempty"`
	Pending  int        `json:"pending_records"`
}

func (d *DegradedHistory) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{Degraded: d.degraded, Pending: len(d.pending)}
	if d.degraded {
		since := d.since
		s.Since = &since
	}
	return s
}
