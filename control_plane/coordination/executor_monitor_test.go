package coordination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itskum47/tierroute/control_plane/task"
)

type fakeChecker map[task.Class]error

func (f fakeChecker) Health(ctx context.Context, c task.Class) error {
	return f[c]
}

func TestExecutorMonitorCheckAll(t *testing.T) {
	m := NewExecutorMonitor(fakeChecker{task.Cloud: errors.New("connection refused")}, time.Hour)

	_, ok := m.Probe(task.Edge)
	assert.False(t, ok)

	m.CheckAll(context.Background())

	edge, ok := m.Probe(task.Edge)
	assert.True(t, ok)
	assert.True(t, edge.Reachable)

	cloud, _ := m.Probe(task.Cloud)
	assert.False(t, cloud.Reachable)
	assert.Equal(t, "connection refused", cloud.Error)
}

func TestExecutorMonitorStopsWithContext(t *testing.T) {
	m := NewExecutorMonitor(fakeChecker{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	assert.Eventually(t, func() bool {
		_, ok := m.Probe(task.Accelerator)
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()
}
