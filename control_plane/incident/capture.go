package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

// TaskReport is everything known about one task, for debugging.
type TaskReport struct {
	TaskID     string               `json:"task_id"`
	Record     *task.Record         `json:"record"`
	Events     []timeline.TaskEvent `json:"events"`
	CapturedAt time.Time            `json:"captured_at"`
	Analysis   string               `json:"analysis,omitempty"`
}

// HistoryReader defines the history dependency needed for capture.
type HistoryReader interface {
	Get(ctx context.Context, taskID string) (*task.Record, error)
}

// TimelineReader defines timeline dependencies.
type TimelineReader interface {
	GetEvents(taskID string) []timeline.TaskEvent
}

// CaptureTask gathers the stored record and lifecycle events for a task.
// It returns nil, nil when neither source knows the task.
func CaptureTask(ctx context.Context, h HistoryReader, tl TimelineReader, taskID string) (*TaskReport, error) {
	rec, err := h.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	events := tl.GetEvents(taskID)
	if rec == nil && len(events) == 0 {
		return nil, nil
	}

	return &TaskReport{
		TaskID:     taskID,
		Record:     rec,
		Events:     events,
		CapturedAt: time.Now(),
		Analysis:   analyze(rec, events),
	}, nil
}

func analyze(rec *task.Record, events []timeline.TaskEvent) string {
	for _, e := range events {
		if e.Stage == timeline.StageRecordFailed {
			return "history write failed after execution: " + e.Metadata["error"]
		}
	}
	if rec == nil {
		if n := len(events); n > 0 {
			return fmt.Sprintf("no history record; last stage %s", events[n-1].Stage)
		}
		return ""
	}
	if !rec.Result.Succeeded() {
		return fmt.Sprintf("dispatch to %s failed (%s): %s", rec.Decision.Class, rec.Result.ErrorKind, rec.Result.Message)
	}
	return fmt.Sprintf("completed on %s in %.3fs", rec.Decision.Class, rec.Result.ExecutionTime)
}
