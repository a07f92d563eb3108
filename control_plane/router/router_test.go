package router

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/classifier"
	"github.com/itskum47/tierroute/control_plane/task"
)

// stubClassifier returns a fixed prediction and records its input.
type stubClassifier struct {
	pred classifier.Prediction
	err  error
	seen task.Features
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Predict(f task.Features) (classifier.Prediction, error) {
	s.seen = f
	return s.pred, s.err
}

func snapshot(edge, cloud, gpu, latency float64) task.Snapshot {
	return task.Snapshot{
		Load:             [task.NumClasses]float64{edge, cloud, gpu},
		NetworkLatencyMs: latency,
	}
}

func baseRequest() task.Request {
	return task.Request{TaskType: "job", Priority: 5, LatencyRequirement: 5, CostSensitivity: 5}
}

func TestBuildFeaturesOrder(t *testing.T) {
	req := task.Request{TaskType: "x", Priority: 3, LatencyRequirement: 9, RequiresAccelerator: true, CostSensitivity: 2}
	f := BuildFeatures(req, snapshot(10, 20, 30, 140))
	assert.Equal(t, [8]float64{3, 9, 1, 10, 20, 30, 140, 2}, f.Vector())
}

func TestDecideUsesClassifierChoice(t *testing.T) {
	stub := &stubClassifier{pred: classifier.Prediction{
		Class:         task.Cloud,
		Probabilities: [task.NumClasses]float64{0.3, 0.5, 0.2},
	}}
	r := New(stub)

	d, err := r.Decide(baseRequest(), snapshot(10, 90, 10, 100))
	require.NoError(t, err)

	assert.Equal(t, task.Cloud, d.Class)
	assert.Equal(t, 0.5, d.Confidence)
	require.Len(t, d.Alternatives, 3)
	assert.Equal(t, task.Cloud, d.Alternatives[0].Class)
	assert.Equal(t, task.Edge, d.Alternatives[1].Class)
	assert.Equal(t, 90.0, stub.seen.LoadCloud)
	assert.True(t, strings.HasPrefix(d.Rationale, "Routing 'job' to CLOUD node (confidence: 50.0%). "))
}

func TestDecideClassifierError(t *testing.T) {
	boom := errors.New("boom")
	r := New(&stubClassifier{err: boom})
	_, err := r.Decide(baseRequest(), snapshot(0, 0, 0, 0))
	assert.ErrorIs(t, err, boom)
}

func clausesOf(rationale string) []string {
	i := strings.Index(rationale, "). ")
	return strings.Split(rationale[i+3:], " | ")
}

func TestRationaleAcceleratorChosen(t *testing.T) {
	req := baseRequest()
	req.RequiresAccelerator = true
	f := BuildFeatures(req, snapshot(50, 50, 40, 150))

	got := clausesOf(Rationale(req, task.Accelerator, 0.825, f))
	assert.Equal(t, []string{"Task requires GPU acceleration", "GPU node has available capacity (60% free)"}, got)
}

func TestRationaleAcceleratorFallback(t *testing.T) {
	req := baseRequest()
	req.RequiresAccelerator = true
	f := BuildFeatures(req, snapshot(50, 40, 95, 150))

	got := clausesOf(Rationale(req, task.Cloud, 0.6, f))
	assert.Equal(t, "GPU node overloaded (95%), using fallback", got[0])
}

func TestRationaleLatency(t *testing.T) {
	req := baseRequest()
	req.LatencyRequirement = 9
	f := BuildFeatures(req, snapshot(30, 50, 40, 150))

	got := clausesOf(Rationale(req, task.Edge, 0.725, f))
	assert.Equal(t, "Ultra-low latency required (9/10)", got[0])

	f = BuildFeatures(req, snapshot(88, 50, 40, 150))
	got = clausesOf(Rationale(req, task.Cloud, 0.6, f))
	assert.Equal(t, "Edge node saturated (88%), next best option", got[0])
}

func TestRationaleAtMostThreeClauses(t *testing.T) {
	req := task.Request{TaskType: "batch", Priority: 9, LatencyRequirement: 9, RequiresAccelerator: true, CostSensitivity: 9}
	f := BuildFeatures(req, snapshot(20, 20, 20, 500))

	got := clausesOf(Rationale(req, task.Cloud, 0.4, f))
	assert.Len(t, got, 3)
	assert.Equal(t, "High priority task (P9)", got[2])
}

func TestRationaleCostAndNetwork(t *testing.T) {
	req := baseRequest()
	req.CostSensitivity = 8
	f := BuildFeatures(req, snapshot(50, 85, 40, 420))

	got := clausesOf(Rationale(req, task.Cloud, 0.7, f))
	assert.Equal(t, []string{"Cost-optimized routing for batch processing", "High network latency (420ms) factored in"}, got)
}

func TestRationaleDefaultClause(t *testing.T) {
	f := BuildFeatures(baseRequest(), snapshot(90, 90, 90, 100))
	got := clausesOf(Rationale(baseRequest(), task.Edge, 0.34, f))
	assert.Equal(t, []string{"Best fit based on current system state"}, got)
}

func TestRationaleNeverNamesAnotherClass(t *testing.T) {
	f := BuildFeatures(baseRequest(), snapshot(10, 10, 10, 100))
	r := Rationale(baseRequest(), task.Edge, 0.5, f)
	assert.Contains(t, r, "to EDGE node")
	assert.NotContains(t, r, "CLOUD node has")
}
