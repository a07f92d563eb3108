package main

import (
	"encoding/json"
	"time"

	"github.com/itskum47/tierroute/control_plane/admission"
	"github.com/itskum47/tierroute/control_plane/coordination"
	"github.com/itskum47/tierroute/control_plane/resilience"
	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/telemetry"
)

// NodeView is one class's status enriched with the executor probe result.
type NodeView struct {
	telemetry.NodeStatus
	Reachable *bool      `json:"reachable,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// NodeStatusReport is the node-status payload shared by the REST endpoint and
// the stream.
type NodeStatusReport struct {
	Nodes     map[task.Class]NodeView `json:"nodes"`
	Timestamp int64                   `json:"timestamp"`
}

// SystemMetrics is the telemetry snapshot plus admission state.
type SystemMetrics struct {
	Snapshot               task.Snapshot
	InFlightOrchestrations int
	CircuitState           string
	History                *resilience.Status
}

// MarshalJSON flattens the admission fields into the snapshot object.
func (m SystemMetrics) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(m.Snapshot)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out["in_flight_orchestrations"] = m.InFlightOrchestrations
	if m.CircuitState != "" {
		out["circuit_state"] = m.CircuitState
	}
	if m.History != nil {
		out["history"] = m.History
	}
	return json.Marshal(out)
}

// NodeService aggregates telemetry, executor probes and admission state for the
// read-only endpoints.
type NodeService struct {
	telemetry *telemetry.Store
	monitor   *coordination.ExecutorMonitor
	admission *admission.Controller
	history   *resilience.DegradedHistory
}

// NewNodeService accepts nil monitor, admission controller and history.
func NewNodeService(t *telemetry.Store, m *coordination.ExecutorMonitor, a *admission.Controller, h *resilience.DegradedHistory) *NodeService {
	return &NodeService{telemetry: t, monitor: m, admission: a, history: h}
}

func (s *NodeService) NodeStatus() NodeStatusReport {
	status := s.telemetry.NodeStatus()
	report := NodeStatusReport{
		Nodes:     make(map[task.Class]NodeView, task.NumClasses),
		Timestamp: time.Now().Unix(),
	}
	for _, c := range task.Classes {
		view := NodeView{NodeStatus: status[c]}
		if s.monitor != nil {
			if p, ok := s.monitor.Probe(c); ok {
				reachable, checked := p.Reachable, p.CheckedAt
				view.Reachable = &reachable
				view.CheckedAt = &checked
			}
		}
		report.Nodes[c] = view
	}
	return report
}

func (s *NodeService) SystemMetrics() SystemMetrics {
	m := SystemMetrics{Snapshot: s.telemetry.Snapshot()}
	if s.admission != nil {
		m.InFlightOrchestrations = s.admission.InFlight()
		m.CircuitState = s.admission.State().String()
	}
	if s.history != nil {
		st := s.history.Status()
		m.History = &st
	}
	return m
}
