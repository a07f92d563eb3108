package store

import (
	"encoding/json"
	"fmt"

	"github.com/itskum47/tierroute/control_plane/task"
)

// columns is the task_history column order shared by the SQL backends.
const columns = `task_id, task_type, priority, latency_requirement, requires_accelerator, cost_sensitivity,
	payload, chosen_class, confidence, alternatives, rationale, features,
	status, error_kind, execution_time, cost, message, node, metadata, executor_response, recorded_at`

// row is a flattened task.Record. JSON columns are raw bytes; the timestamp
// column is encoded by each backend.
type row struct {
	taskID              string
	taskType            string
	priority            int
	latencyRequirement  int
	requiresAccelerator bool
	costSensitivity     int
	payload             []byte
	chosenClass         string
	confidence          float64
	alternatives        []byte
	rationale           string
	features            []byte
	status              string
	errorKind           string
	executionTime       float64
	cost                float64
	message             string
	node                string
	metadata            []byte
	executorResponse    []byte
}

func toRow(rec task.Record) (row, error) {
	r := row{
		taskID:              rec.TaskID,
		taskType:            rec.Request.TaskType,
		priority:            rec.Request.Priority,
		latencyRequirement:  rec.Request.LatencyRequirement,
		requiresAccelerator: rec.Request.RequiresAccelerator,
		costSensitivity:     rec.Request.CostSensitivity,
		chosenClass:         rec.Decision.Class.String(),
		confidence:          rec.Decision.Confidence,
		rationale:           rec.Decision.Rationale,
		status:              string(rec.Result.Status),
		errorKind:           string(rec.Result.ErrorKind),
		executionTime:       rec.Result.ExecutionTime,
		cost:                rec.Result.Cost,
		message:             rec.Result.Message,
		node:                rec.Result.Node,
	}
	if len(rec.Request.Payload) > 0 {
		r.payload = rec.Request.Payload
	}
	if len(rec.Result.Raw) > 0 {
		r.executorResponse = rec.Result.Raw
	}

	var err error
	if r.alternatives, err = json.Marshal(rec.Decision.Alternatives); err != nil {
		return row{}, fmt.Errorf("encode alternatives: %w", err)
	}
	if r.features, err = json.Marshal(rec.Decision.Features); err != nil {
		return row{}, fmt.Errorf("encode features: %w", err)
	}
	if rec.Result.Metadata != nil {
		if r.metadata, err = json.Marshal(rec.Result.Metadata); err != nil {
			return row{}, fmt.Errorf("encode metadata: %w", err)
		}
	}
	return r, nil
}

// values returns the insert arguments in column order, without the timestamp.
func (r *row) values() []interface{} {
	return []interface{}{
		r.taskID, r.taskType, r.priority, r.latencyRequirement, r.requiresAccelerator, r.costSensitivity,
		r.payload, r.chosenClass, r.confidence, r.alternatives, r.rationale, r.features,
		r.status, r.errorKind, r.executionTime, r.cost, r.message, r.node, r.metadata, r.executorResponse,
	}
}

// dest returns scan targets in column order, without the timestamp.
func (r *row) dest() []interface{} {
	return []interface{}{
		&r.taskID, &r.taskType, &r.priority, &r.latencyRequirement, &r.requiresAccelerator, &r.costSensitivity,
		&r.payload, &r.chosenClass, &r.confidence, &r.alternatives, &r.rationale, &r.features,
		&r.status, &r.errorKind, &r.executionTime, &r.cost, &r.message, &r.node, &r.metadata, &r.executorResponse,
	}
}

func (r *row) record() (task.Record, error) {
	class, err := task.ParseClass(r.chosenClass)
	if err != nil {
		return task.Record{}, fmt.Errorf("task %s: %w", r.taskID, err)
	}

	rec := task.Record{
		TaskID: r.taskID,
		Request: task.Request{
			TaskID:              r.taskID,
			TaskType:            r.taskType,
			Priority:            r.priority,
			LatencyRequirement:  r.latencyRequirement,
			RequiresAccelerator: r.requiresAccelerator,
			CostSensitivity:     r.costSensitivity,
		},
		Decision: task.Decision{
			Class:      class,
			Confidence: r.confidence,
			Rationale:  r.rationale,
		},
		Result: task.Result{
			Status:        task.Status(r.status),
			ErrorKind:     task.ErrorKind(r.errorKind),
			ExecutionTime: r.executionTime,
			Cost:          r.cost,
			Message:       r.message,
			Node:          r.node,
		},
	}
	if len(r.payload) > 0 && string(r.payload) != "null" {
		rec.Request.Payload = append([]byte(nil), r.payload...)
	}
	if len(r.executorResponse) > 0 && string(r.executorResponse) != "null" {
		rec.Result.Raw = append([]byte(nil), r.executorResponse...)
	}
	if len(r.alternatives) > 0 {
		if err := json.Unmarshal(r.alternatives, &rec.Decision.Alternatives); err != nil {
			return task.Record{}, fmt.Errorf("task %s: decode alternatives: %w", r.taskID, err)
		}
	}
	if len(r.features) > 0 {
		if err := json.Unmarshal(r.features, &rec.Decision.Features); err != nil {
			return task.Record{}, fmt.Errorf("task %s: decode features: %w", r.taskID, err)
		}
	}
	if len(r.metadata) > 0 {
		if err := json.Unmarshal(r.metadata, &rec.Result.Metadata); err != nil {
			return task.Record{}, fmt.Errorf("task %s: decode metadata: %w", r.taskID, err)
		}
	}
	return rec, nil
}
