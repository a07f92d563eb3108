package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is a task as submitted by a client.
type Request struct {
	TaskID              string          `json:"task_id"`
	TaskType            string          `json:"task_type"`
	Priority            int             `json:"priority"`            // 1..10
	LatencyRequirement  int             `json:"latency_requirement"` // 1..10, 10 most sensitive
	RequiresAccelerator bool            `json:"requires_accelerator"`
	CostSensitivity     int             `json:"cost_sensitivity"` // 1..10
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON applies the submission defaults (5 for every numeric field)
// and accepts the legacy camelCase field names still sent by older clients.
func (r *Request) UnmarshalJSON(b []byte) error {
	var wire struct {
		TaskID              string          `json:"task_id"`
		TaskType            string          `json:"task_type"`
		LegacyTaskType      string          `json:"taskType"`
		Priority            *int            `json:"priority"`
		LatencyRequirement  *int            `json:"latency_requirement"`
		LegacyLatency       *int            `json:"latency"`
		RequiresAccelerator *bool           `json:"requires_accelerator"`
		LegacyRequiresGPU   *bool           `json:"requiresGPU"`
		CostSensitivity     *int            `json:"cost_sensitivity"`
		Payload             json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	*r = Request{
		TaskID:             wire.TaskID,
		TaskType:           firstNonEmpty(wire.TaskType, wire.LegacyTaskType),
		Priority:           intOr(wire.Priority, 5),
		LatencyRequirement: intOr(wire.LatencyRequirement, intOr(wire.LegacyLatency, 5)),
		CostSensitivity:    intOr(wire.CostSensitivity, 5),
		Payload:            wire.Payload,
	}
	switch {
	case wire.RequiresAccelerator != nil:
		r.RequiresAccelerator = *wire.RequiresAccelerator
	case wire.LegacyRequiresGPU != nil:
		r.RequiresAccelerator = *wire.LegacyRequiresGPU
	}
	return nil
}

// Validate checks field ranges.
func (r *Request) Validate() error {
	if r.TaskType == "" {
		return fmt.Errorf("%w: task_type is required", ErrInvalidRequest)
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"priority", r.Priority},
		{"latency_requirement", r.LatencyRequirement},
		{"cost_sensitivity", r.CostSensitivity},
	} {
		if f.v < 1 || f.v > 10 {
			return fmt.Errorf("%w: %s must be in [1,10], got %d", ErrInvalidRequest, f.name, f.v)
		}
	}
	return nil
}

// Snapshot is a point-in-time read of system telemetry.
type Snapshot struct {
	Load             [NumClasses]float64 `json:"-"` // percent, [0,100]
	InFlight         [NumClasses]int64   `json:"-"`
	NetworkLatencyMs float64             `json:"network_latency"`
	Timestamp        time.Time           `json:"timestamp"`
}

// MarshalJSON renders the per-class arrays keyed by class label.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	load := make(map[string]float64, NumClasses)
	inFlight := make(map[string]int64, NumClasses)
	for _, c := range Classes {
		load[c.String()] = s.Load[c]
		inFlight[c.String()] = s.InFlight[c]
	}
	return json.Marshal(struct {
		Load             map[string]float64 `json:"load"`
		InFlight         map[string]int64   `json:"in_flight"`
		NetworkLatencyMs float64            `json:"network_latency"`
		Timestamp        time.Time          `json:"timestamp"`
	}{load, inFlight, s.NetworkLatencyMs, s.Timestamp})
}

// FeatureNames is the fixed feature order the classifier consumes.
var FeatureNames = [8]string{
	"priority",
	"latency_requirement",
	"requires_accelerator",
	"load_edge",
	"load_cloud",
	"load_gpu",
	"network_latency",
	"cost_sensitivity",
}

// Features is the classifier input derived from a Request and a Snapshot.
type Features struct {
	Priority            float64 `json:"priority"`
	LatencyRequirement  float64 `json:"latency_requirement"`
	RequiresAccelerator float64 `json:"requires_accelerator"`
	LoadEdge            float64 `json:"load_edge"`
	LoadCloud           float64 `json:"load_cloud"`
	LoadAccelerator     float64 `json:"load_gpu"`
	NetworkLatency      float64 `json:"network_latency"`
	CostSensitivity     float64 `json:"cost_sensitivity"`
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() [8]float64 {
	return [8]float64{
		f.Priority,
		f.LatencyRequirement,
		f.RequiresAccelerator,
		f.LoadEdge,
		f.LoadCloud,
		f.LoadAccelerator,
		f.NetworkLatency,
		f.CostSensitivity,
	}
}

// Load returns the load feature for class c.
func (f Features) Load(c Class) float64 {
	switch c {
	case Edge:
		return f.LoadEdge
	case Cloud:
		return f.LoadCloud
	case Accelerator:
		return f.LoadAccelerator
	}
	return 0
}

// Alternative is one ranked class with its predicted probability.
type Alternative struct {
	Class       Class   `json:"class"`
	Probability float64 `json:"probability"`
}

// Decision is the router's output for one task.
type Decision struct {
	Class        Class         `json:"chosen_class"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives"`
	Rationale    string        `json:"rationale"`
	Features     Features      `json:"features"`
}

// Status is the terminal outcome of a dispatch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies failed dispatches.
type ErrorKind string

const (
	ErrorNone      ErrorKind = ""
	ErrorTimeout   ErrorKind = "timeout"
	ErrorTransport ErrorKind = "transport"
	ErrorRemote    ErrorKind = "remote"
)

// Result is the outcome of exactly one dispatch attempt.
type Result struct {
	Status        Status                 `json:"status"`
	ErrorKind     ErrorKind              `json:"error_kind,omitempty"`
	ExecutionTime float64                `json:"execution_time"` // seconds
	Cost          float64                `json:"cost"`
	Message       string                 `json:"message,omitempty"`
	Node          string                 `json:"node,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Raw           json.RawMessage        `json:"raw,omitempty"` // executor body as received
}

// Succeeded reports whether the dispatch completed successfully.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Record is the persisted history entry for one task.
type Record struct {
	TaskID    string    `json:"task_id"`
	Request   Request   `json:"request"`
	Decision  Decision  `json:"decision"`
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is what the service returns for a submission.
type Response struct {
	TaskID           string          `json:"task_id"`
	ChosenClass      Class           `json:"chosen_class"`
	Confidence       float64         `json:"confidence"`
	Alternatives     []Alternative   `json:"alternatives"`
	Rationale        string          `json:"rationale"`
	ExecutionTime    float64         `json:"execution_time"`
	Cost             float64         `json:"cost"`
	Status           Status          `json:"status"`
	ErrorKind        ErrorKind       `json:"error_kind,omitempty"`
	ExecutorResponse json.RawMessage `json:"executor_response,omitempty"`
}

// NewResponse builds the client-facing response for a recorded task.
func NewResponse(rec Record) Response {
	return Response{
		TaskID:           rec.TaskID,
		ChosenClass:      rec.Decision.Class,
		Confidence:       rec.Decision.Confidence,
		Alternatives:     rec.Decision.Alternatives,
		Rationale:        rec.Decision.Rationale,
		ExecutionTime:    rec.Result.ExecutionTime,
		Cost:             rec.Result.Cost,
		Status:           rec.Result.Status,
		ErrorKind:        rec.Result.ErrorKind,
		ExecutorResponse: rec.Result.Raw,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
