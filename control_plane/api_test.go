package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/auth"
	"github.com/itskum47/tierroute/control_plane/incident"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/task"
)

func submit(t *testing.T, srv *httptest.Server, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/submit-task", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAPI_SubmitTask(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	resp := submit(t, srv, `{"task_type":"image_classification","requires_accelerator":true}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out task.Response
	decode(t, resp, &out)
	assert.Equal(t, task.Accelerator, out.ChosenClass)
	assert.Equal(t, task.StatusSuccess, out.Status)
	assert.NotEmpty(t, out.TaskID)
	assert.Greater(t, out.Confidence, 0.0)
	assert.NotEmpty(t, out.ExecutorResponse)
}

func TestAPI_SubmitTaskLegacyFieldNames(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	resp := submit(t, srv, `{"taskType":"ml_training","requiresGPU":true}`, nil)
	var out task.Response
	decode(t, resp, &out)
	assert.Equal(t, task.Accelerator, out.ChosenClass)
}

func TestAPI_SubmitTaskValidation(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	for _, body := range []string{
		`not json`,
		`{"priority":5}`,
		`{"task_type":"x","priority":0}`,
		`{"task_type":"x","latency_requirement":11}`,
	} {
		resp := submit(t, srv, body, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	for _, c := range task.Classes {
		assert.Zero(t, h.executors[c].calls.Load())
	}
}

func TestAPI_IdempotentReplay(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	key := map[string]string{IdempotencyHeader: "submit-abc"}
	var first, second task.Response
	decode(t, submit(t, srv, `{"task_type":"fraud_detection","latency_requirement":9}`, key), &first)

	resp := submit(t, srv, `{"task_type":"fraud_detection","latency_requirement":9}`, key)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotent-Replay"))
	decode(t, resp, &second)

	assert.Equal(t, first.TaskID, second.TaskID)
	assert.EqualValues(t, 1, h.executors[task.Edge].calls.Load())

	stats, err := h.history.Statistics(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestAPI_TaskHistory(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		submit(t, srv, fmt.Sprintf(`{"task_id":"edge-%d","task_type":"sensor_alert","latency_requirement":9}`, i), nil).Body.Close()
	}
	submit(t, srv, `{"task_id":"gpu-0","task_type":"ml_training","requires_accelerator":true}`, nil).Body.Close()

	var all struct {
		Total int           `json:"total"`
		Tasks []task.Record `json:"tasks"`
	}
	resp, err := http.Get(srv.URL + "/api/task-history?limit=2")
	require.NoError(t, err)
	decode(t, resp, &all)
	assert.Equal(t, 2, all.Total)
	require.Len(t, all.Tasks, 2)
	assert.Equal(t, "gpu-0", all.Tasks[0].TaskID)

	resp, err = http.Get(srv.URL + "/api/task-history?class=EDGE")
	require.NoError(t, err)
	decode(t, resp, &all)
	assert.Equal(t, 3, all.Total)
	for _, rec := range all.Tasks {
		assert.Equal(t, task.Edge, rec.Decision.Class)
	}

	for _, q := range []string{"limit=0", "limit=abc", "class=TPU"} {
		resp, err = http.Get(srv.URL + "/api/task-history?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestAPI_Statistics(t *testing.T) {
	h := newHarness(t)
	h.executors[task.Edge].Set(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	submit(t, srv, `{"task_type":"sensor_alert","latency_requirement":9}`, nil).Body.Close()
	submit(t, srv, `{"task_type":"ml_training","requires_accelerator":true}`, nil).Body.Close()

	var stats store.Statistics
	resp, err := http.Get(srv.URL + "/api/statistics")
	require.NoError(t, err)
	decode(t, resp, &stats)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.Equal(t, 1, stats.ByClass[task.Edge].Count)
	assert.Zero(t, stats.ByClass[task.Edge].TotalCost)
	assert.InDelta(t, 0.03, stats.ByClass[task.Accelerator].TotalCost, 1e-9)
}

func TestAPI_NodeStatusAndSystemMetrics(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	var status struct {
		Nodes     map[string]map[string]any `json:"nodes"`
		Timestamp int64                     `json:"timestamp"`
	}
	resp, err := http.Get(srv.URL + "/api/node-status")
	require.NoError(t, err)
	decode(t, resp, &status)

	require.Len(t, status.Nodes, 3)
	for _, name := range []string{"EDGE", "CLOUD", "GPU"} {
		n := status.Nodes[name]
		require.NotNil(t, n, name)
		assert.Contains(t, []any{"healthy", "warning", "critical"}, n["health"])
		assert.Contains(t, n, "cost_per_task")
		assert.Contains(t, n, "active_tasks")
	}

	var metrics map[string]any
	resp, err = http.Get(srv.URL + "/api/system-metrics")
	require.NoError(t, err)
	decode(t, resp, &metrics)
	assert.Contains(t, metrics, "load")
	assert.Contains(t, metrics, "network_latency")
	assert.Contains(t, metrics, "in_flight_orchestrations")
}

func TestAPI_TaskAndIncident(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	submit(t, srv, `{"task_id":"inc-1","task_type":"sensor_alert","latency_requirement":9}`, nil).Body.Close()

	var rec task.Record
	resp, err := http.Get(srv.URL + "/api/tasks/inc-1")
	require.NoError(t, err)
	decode(t, resp, &rec)
	assert.Equal(t, "inc-1", rec.TaskID)

	var report incident.TaskReport
	resp, err = http.Get(srv.URL + "/api/tasks/inc-1/incident")
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "incident-inc-1.json")
	decode(t, resp, &report)
	assert.Equal(t, "inc-1", report.TaskID)
	assert.Len(t, report.Events, 5)

	for _, path := range []string{"/api/tasks/missing", "/api/tasks/missing/incident"} {
		resp, err = http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestAPI_RootAndHealth(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	var root map[string]any
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	decode(t, resp, &root)
	assert.Equal(t, "tierroute", root["service"])

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/statistics", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_BearerAuth(t *testing.T) {
	h := newHarness(t)
	authority, err := auth.NewAuthority("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	h.api.EnableAuth(authority)
	srv := httptest.NewServer(h.api.routes())
	defer srv.Close()

	body := `{"task_type":"sensor_alert","latency_requirement":9}`

	resp := submit(t, srv, body, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer, _ := authority.Issue("dashboard", auth.RoleViewer, time.Hour)
	resp = submit(t, srv, body, map[string]string{"Authorization": "Bearer " + viewer})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	submitter, _ := authority.Issue("batch-runner", auth.RoleSubmitter, time.Hour)
	resp = submit(t, srv, body, map[string]string{"Authorization": "Bearer " + submitter})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/statistics", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
