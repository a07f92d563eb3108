package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/task"
)

type flakyHistory struct {
	store.History
	mu   sync.Mutex
	down bool
}

func (f *flakyHistory) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyHistory) Record(ctx context.Context, rec task.Record) error {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return errors.New("connection refused")
	}
	return f.History.Record(ctx, rec)
}

func record(id string, ts time.Time) task.Record {
	return task.Record{
		TaskID:    id,
		Request:   task.Request{TaskID: id, TaskType: "sensor_alert", Priority: 5, LatencyRequirement: 5, CostSensitivity: 5},
		Decision:  task.Decision{Class: task.Edge, Confidence: 0.9},
		Result:    task.Result{Status: task.StatusSuccess, ExecutionTime: 0.1, Cost: 0.01},
		Timestamp: ts,
	}
}

func TestDegradedHistoryBuffersAndReplays(t *testing.T) {
	ctx := context.Background()
	inner := &flakyHistory{History: store.NewMemoryStore()}
	d := NewDegradedHistory(inner, 10, time.Hour)

	inner.setDown(true)
	require.Error(t, d.Record(ctx, record("a", time.Now())))
	require.Error(t, d.Record(ctx, record("b", time.Now())))
	assert.True(t, d.IsDegraded())
	assert.Equal(t, 2, d.Pending())

	// Still down: nothing lost.
	var rerr *ReconciliationError
	require.ErrorAs(t, d.ReconcilePending(ctx), &rerr)
	assert.Equal(t, 2, rerr.Failed)
	assert.Equal(t, 2, d.Pending())

	inner.setDown(false)
	require.NoError(t, d.ReconcilePending(ctx))
	assert.False(t, d.IsDegraded())
	assert.Zero(t, d.Pending())

	for _, id := range []string{"a", "b"} {
		rec, err := d.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, rec, id)
	}
}

func TestReconcileDoesNotOverwriteNewerRecord(t *testing.T) {
	ctx := context.Background()
	inner := &flakyHistory{History: store.NewMemoryStore()}
	d := NewDegradedHistory(inner, 10, time.Hour)

	old := record("same", time.Now().Add(-time.Minute))
	inner.setDown(true)
	require.Error(t, d.Record(ctx, old))
	inner.setDown(false)

	newer := record("same", time.Now())
	newer.Result.Cost = 0.5
	require.NoError(t, d.Record(ctx, newer))

	require.NoError(t, d.ReconcilePending(ctx))
	got, err := d.Get(ctx, "same")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Result.Cost, 1e-9)
	assert.Zero(t, d.Pending())
}

func TestDegradedHistoryBounded(t *testing.T) {
	inner := &flakyHistory{History: store.NewMemoryStore(), down: true}
	d := NewDegradedHistory(inner, 2, time.Hour)

	for _, id := range []string{"a", "b", "c"} {
		d.Record(context.Background(), record(id, time.Now()))
	}
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, "b", d.pending[0].Record.TaskID)
}

func TestReconcileDropsStaleRecords(t *testing.T) {
	inner := &flakyHistory{History: store.NewMemoryStore(), down: true}
	d := NewDegradedHistory(inner, 10, time.Minute)
	base := time.Now()
	d.now = func() time.Time { return base }

	d.Record(context.Background(), record("old", base))
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	inner.setDown(false)

	require.NoError(t, d.ReconcilePending(context.Background()))
	assert.Zero(t, d.Pending())
	rec, err := d.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStatus(t *testing.T) {
	inner := &flakyHistory{History: store.NewMemoryStore(), down: true}
	d := NewDegradedHistory(inner, 10, time.Hour)
	assert.Equal(t, Status{}, d.Status())

	d.Record(context.Background(), record("a", time.Now()))
	s := d.Status()
	assert.True(t, s.Degraded)
	assert.NotNil(t, s.Since)
	assert.Equal(t, 1, s.Pending)
}
