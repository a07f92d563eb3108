package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/admission"
	"github.com/itskum47/tierroute/control_plane/classifier"
	"github.com/itskum47/tierroute/control_plane/dispatch"
	"github.com/itskum47/tierroute/control_plane/idempotency"
	"github.com/itskum47/tierroute/control_plane/router"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/streaming"
	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/telemetry"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

// midRandom keeps telemetry jitter at zero and never decays.
type midRandom struct{}

func (midRandom) Float64() float64 { return 0.5 }

// fakeExecutor is an httptest executor whose /execute behavior can be swapped.
type fakeExecutor struct {
	*httptest.Server
	class   task.Class
	handler atomic.Value // http.HandlerFunc
	calls   atomic.Int64
}

func newFakeExecutor(t *testing.T, c task.Class) *fakeExecutor {
	t.Helper()
	f := &fakeExecutor{class: c}
	f.handler.Store(http.HandlerFunc(f.succeed))

	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.handler.Load().(http.HandlerFunc)(w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "node": c.String()})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeExecutor) succeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID   string `json:"task_id"`
		TaskType string `json:"task_type"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "success",
		"node":           f.class.String(),
		"task_id":        req.TaskID,
		"execution_time": 0.05,
		"cost":           0.01 * float64(f.class+1),
		"message":        "done",
		"metadata":       map[string]any{"node_type": f.class.String()},
	})
}

func (f *fakeExecutor) Set(h http.HandlerFunc) { f.handler.Store(h) }

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if p.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

type harness struct {
	executors [task.NumClasses]*fakeExecutor
	telemetry *telemetry.Store
	history   store.History
	timeline  *timeline.Store
	publisher *recordingPublisher
	orch      *Orchestrator
	admission *admission.Controller
	api       *API
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	timeout   time.Duration
	history   store.History
	admission *admission.Config
}

func withTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.timeout = d }
}

func withHistory(h store.History) harnessOption {
	return func(c *harnessConfig) { c.history = h }
}

func withAdmission(cfg admission.Config) harnessOption {
	return func(c *harnessConfig) { c.admission = &cfg }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{timeout: 5 * time.Second, history: store.NewMemoryStore()}
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{history: cfg.history, publisher: &recordingPublisher{}}
	endpoints := make(map[task.Class]string, task.NumClasses)
	for _, c := range task.Classes {
		h.executors[c] = newFakeExecutor(t, c)
		endpoints[c] = h.executors[c].URL
	}

	model, err := classifier.New(classifier.Options{Artifact: "../models/forest-v1.yaml"})
	require.NoError(t, err)
	d, err := dispatch.NewDispatcher(endpoints, cfg.timeout)
	require.NoError(t, err)

	h.telemetry = telemetry.NewStore(telemetry.DefaultConfig(), midRandom{})
	h.timeline = timeline.NewStore(1000)
	h.orch = NewOrchestrator(h.telemetry, router.New(model), d, h.history, h.timeline, h.publisher)

	if cfg.admission != nil {
		h.admission = admission.NewController(*cfg.admission)
	}
	nodes := NewNodeService(h.telemetry, nil, h.admission, nil)
	h.api = NewAPI(h.orch, h.history, nodes, h.timeline, idempotency.NewMemoryStore(idempotency.DefaultLockTTL), h.admission, NewNodeStatusHub(nodes, time.Second))
	return h
}

var _ streaming.Publisher = (*recordingPublisher)(nil)
