package incident

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

type fakeHistory struct {
	rec *task.Record
	err error
}

func (f fakeHistory) Get(ctx context.Context, id string) (*task.Record, error) {
	return f.rec, f.err
}

func TestCaptureTaskUnknown(t *testing.T) {
	report, err := CaptureTask(context.Background(), fakeHistory{}, timeline.NewStore(0), "nope")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestCaptureTaskFailedDispatch(t *testing.T) {
	tl := timeline.NewStore(0)
	tl.Record(timeline.TaskEvent{TaskID: "t", Stage: timeline.StageCreated})
	tl.Record(timeline.TaskEvent{TaskID: "t", Stage: timeline.StageFailed})

	rec := &task.Record{
		TaskID:   "t",
		Decision: task.Decision{Class: task.Cloud},
		Result:   task.Result{Status: task.StatusError, ErrorKind: task.ErrorTimeout, Message: "no answer"},
	}
	report, err := CaptureTask(context.Background(), fakeHistory{rec: rec}, tl, "t")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Events, 2)
	assert.Equal(t, "dispatch to CLOUD failed (timeout): no answer", report.Analysis)
}

func TestCaptureTaskRecordFailed(t *testing.T) {
	tl := timeline.NewStore(0)
	tl.Record(timeline.TaskEvent{TaskID: "t", Stage: timeline.StageRecordFailed, Metadata: map[string]string{"error": "disk"}})

	report, err := CaptureTask(context.Background(), fakeHistory{}, tl, "t")
	require.NoError(t, err)
	assert.Nil(t, report.Record)
	assert.Contains(t, report.Analysis, "history write failed")
}

func TestCaptureTaskHistoryError(t *testing.T) {
	_, err := CaptureTask(context.Background(), fakeHistory{err: errors.New("down")}, timeline.NewStore(0), "t")
	assert.Error(t, err)
}
