package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/dispatch"
	"github.com/itskum47/tierroute/control_plane/task"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestExecutor(t *testing.T, c task.Class, failRate float64) *Executor {
	t.Helper()
	p, err := ProfileFor(c)
	require.NoError(t, err)
	e := NewExecutor(p, failRate, 1)
	e.sleep = noSleep
	return e
}

func TestExecuteAppliesTaskMultiplier(t *testing.T) {
	e := newTestExecutor(t, task.Accelerator, 0)

	resp, err := e.Execute(context.Background(), ExecuteRequest{TaskID: "t1", TaskType: "ml_training"})
	require.NoError(t, err)

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "GPU", resp.Node)
	assert.InDelta(t, 0.015, resp.Cost, 1e-9)
	assert.Contains(t, resp.Metadata, "gpu_utilization")

	resp, err = e.Execute(context.Background(), ExecuteRequest{TaskID: "t2", TaskType: "unknown_kind"})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, resp.Cost, 1e-9)
}

func TestExecuteFailRate(t *testing.T) {
	e := newTestExecutor(t, task.Edge, 1)
	_, err := e.Execute(context.Background(), ExecuteRequest{TaskID: "t1", TaskType: "sensor_alert"})
	assert.ErrorIs(t, err, ErrInjectedFailure)
}

func TestServerHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestExecutor(t, task.Cloud, 0)).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status       string   `json:"status"`
		Node         string   `json:"node"`
		Capabilities []string `json:"capabilities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "CLOUD", body.Node)
	assert.Contains(t, body.Capabilities, "batch-processing")
}

func TestServerRejectsIncompleteRequest(t *testing.T) {
	srv := httptest.NewServer(NewServer(newTestExecutor(t, task.Edge, 0)).routes())
	defer srv.Close()

	for _, body := range []string{
		`{"task_id":"x","payload":{}}`,
		`{"task_id":"x","task_type":"sensor_alert"}`,
		`{"task_id":"x","task_type":"sensor_alert","payload":null}`,
		`{"task_id":"x","task_type":"sensor_alert","payload":[1]}`,
	} {
		resp, err := http.Post(srv.URL+"/execute", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)
	}

	resp, err := http.Post(srv.URL+"/execute", "application/json",
		strings.NewReader(`{"task_id":"x","task_type":"sensor_alert","payload":{}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// The simulator must satisfy the control plane's executor contract.
func TestDispatcherAgainstSimulators(t *testing.T) {
	endpoints := map[task.Class]string{}
	for _, c := range task.Classes {
		failRate := 0.0
		if c == task.Cloud {
			failRate = 1
		}
		srv := httptest.NewServer(NewServer(newTestExecutor(t, c, failRate)).routes())
		defer srv.Close()
		endpoints[c] = srv.URL
	}

	d, err := dispatch.NewDispatcher(endpoints, 5*time.Second)
	require.NoError(t, err)

	ok := d.Dispatch(context.Background(), task.Edge, task.Request{TaskID: "a", TaskType: "fraud_detection"})
	assert.Equal(t, task.StatusSuccess, ok.Status)
	assert.InDelta(t, 0.008, ok.Cost, 1e-9)
	assert.Equal(t, "EDGE", ok.Node)

	failed := d.Dispatch(context.Background(), task.Cloud, task.Request{TaskID: "b", TaskType: "daily_report"})
	assert.Equal(t, task.StatusError, failed.Status)
	assert.Equal(t, task.ErrorRemote, failed.ErrorKind)
	assert.Zero(t, failed.Cost)

	for _, c := range task.Classes {
		assert.NoError(t, d.Health(context.Background(), c))
	}
}
