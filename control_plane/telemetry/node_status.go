package telemetry

import (
	"math"

	"github.com/itskum47/tierroute/control_plane/task"
)

// Health is the coarse state derived from a class's load.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// HealthFor maps a load percentage to a health state.
func HealthFor(load float64) Health {
	switch {
	case load < 60:
		return Healthy
	case load < 80:
		return Warning
	default:
		return Critical
	}
}

// NodeStatus is the per-class status report.
type NodeStatus struct {
	Class            task.Class `json:"class"`
	Load             float64    `json:"load"`
	Latency          float64    `json:"latency"` // ms
	CostPerTask      float64    `json:"cost_per_task"`
	Health           Health     `json:"health"`
	ActiveTasks      int64      `json:"active_tasks"`
	AvgExecutionTime float64    `json:"avg_execution_time"`
}

// NodeStatus reports every class from a single snapshot.
func (s *Store) NodeStatus() [task.NumClasses]NodeStatus {
	snap := s.Snapshot()

	var out [task.NumClasses]NodeStatus
	for _, c := range task.Classes {
		latency := s.cfg.NominalLatency[c] + s.jitter(s.cfg.LatencyJitter[c])
		out[c] = NodeStatus{
			Class:            c,
			Load:             round(snap.Load[c], 1),
			Latency:          round(math.Max(1, latency), 1),
			CostPerTask:      s.cfg.CostPerTask[c],
			Health:           HealthFor(snap.Load[c]),
			ActiveTasks:      snap.InFlight[c],
			AvgExecutionTime: round(s.AverageExecutionTime(c), 4),
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
