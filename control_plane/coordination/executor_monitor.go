package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/task"
)

// HealthChecker probes an executor class. *dispatch.Dispatcher implements it.
type HealthChecker interface {
	Health(ctx context.Context, c task.Class) error
}

// Probe is the last observed health of one class.
type Probe struct {
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// ExecutorMonitor periodically probes every class's executor. Its results are
// advisory and never influence routing.
type ExecutorMonitor struct {
	checker  HealthChecker
	interval time.Duration

	mu     sync.RWMutex
	probes [task.NumClasses]Probe
}

func NewExecutorMonitor(checker HealthChecker, interval time.Duration) *ExecutorMonitor {
	return &ExecutorMonitor{
		checker:  checker,
		interval: interval,
	}
}

func (m *ExecutorMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *ExecutorMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("starting executor health monitor")

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every class concurrently and waits for the results.
func (m *ExecutorMonitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range task.Classes {
		wg.Add(1)
		go func(c task.Class) {
			defer wg.Done()
			m.check(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (m *ExecutorMonitor) check(ctx context.Context, c task.Class) {
	err := m.checker.Health(ctx, c)
	p := Probe{Reachable: err == nil, CheckedAt: time.Now()}
	if err != nil {
		p.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.probes[c]
	m.probes[c] = p
	m.mu.Unlock()

	if p.Reachable {
		observability.ExecutorUp.WithLabelValues(c.String()).Set(1)
	} else {
		observability.ExecutorUp.WithLabelValues(c.String()).Set(0)
	}

	if prev.CheckedAt.IsZero() || prev.Reachable != p.Reachable {
		ev := log.Info()
		if !p.Reachable {
			ev = log.Warn().Str("error", p.Error)
		}
		ev.Str("class", c.String()).Bool("reachable", p.Reachable).Msg("executor health changed")
	}
}

// Probe returns the last result for c. ok is false before the first probe.
func (m *ExecutorMonitor) Probe(c task.Class) (p Probe, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p = m.probes[c]
	return p, !p.CheckedAt.IsZero()
}
