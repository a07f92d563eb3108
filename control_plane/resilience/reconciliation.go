package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
)

// ReconcilePending replays buffered records. A record is skipped when the
// store already holds a newer record for the same task id, and dropped when it
// is older than maxAge.
func (d *DegradedHistory) ReconcilePending(ctx context.Context) error {
	d.mu.Lock()
	pending := make([]PendingRecord, len(d.pending))
	copy(pending, d.pending)
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	log.Info().Int("pending", len(pending)).Msg("[DEGRADED MODE] reconciling buffered records")

	var success, skipped, failed, stale int
	done := make(map[string]time.Time, len(pending))

	for _, p := range pending {
		rec := p.Record
		if age := d.now().Sub(p.FailedAt); age > d.maxAge {
			log.Warn().Str("task_id", rec.TaskID).Dur("age", age).Msg("[DEGRADED MODE] dropping stale record")
			done[rec.TaskID] = rec.Timestamp
			stale++
			continue
		}

		existing, err := d.History.Get(ctx, rec.TaskID)
		if err != nil {
			failed++
			continue
		}
		if existing != nil && !existing.Timestamp.Before(rec.Timestamp) {
			done[rec.TaskID] = rec.Timestamp
			skipped++
			continue
		}

		if err := d.History.Record(ctx, rec); err != nil {
			failed++
			continue
		}
		done[rec.TaskID] = rec.Timestamp
		success++
	}

	d.mu.Lock()
	kept := d.pending[:0]
	for _, p := range d.pending {
		if ts, ok := done[p.Record.TaskID]; ok && ts.Equal(p.Record.Timestamp) {
			continue
		}
		if failed > 0 {
			p.Attempts++
		}
		kept = append(kept, p)
	}
	d.pending = kept
	if len(d.pending) == 0 {
		d.degraded = false
		observability.HistoryDegraded.Set(0)
	}
	observability.HistoryPendingRecords.Set(float64(len(d.pending)))
	d.mu.Unlock()

	log.Info().
		Int("succeeded", success).
		Int("skipped", skipped).
		Int("stale", stale).
		Int("failed", failed).
		Msg("[DEGRADED MODE] reconciliation complete")

	if failed > 0 {
		return &ReconciliationError{
			Total:   len(pending),
			Success: success,
			Skipped: skipped + stale,
			Failed:  failed,
		}
	}
	return nil
}

// Run reconciles on every tick until ctx is done.
func (d *DegradedHistory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Pending() == 0 {
				continue
			}
			if err := d.ReconcilePending(ctx); err != nil {
				log.Warn().Err(err).Msg("[DEGRADED MODE] history still unavailable")
			}
		}
	}
}
