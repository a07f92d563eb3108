// Package router turns a task and a telemetry snapshot into a routing
// decision with a human-readable rationale.
package router

import (
	"fmt"
	"strings"

	"github.com/itskum47/tierroute/control_plane/classifier"
	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/task"
)

// maxClauses bounds the rationale explanation.
const maxClauses = 3

// Router is stateless beyond its classifier and safe for concurrent use.
type Router struct {
	classifier classifier.Classifier
}

func New(c classifier.Classifier) *Router {
	return &Router{classifier: c}
}

// BuildFeatures derives the classifier input from a request and a snapshot.
func BuildFeatures(req task.Request, snap task.Snapshot) task.Features {
	f := task.Features{
		Priority:           float64(req.Priority),
		LatencyRequirement: float64(req.LatencyRequirement),
		LoadEdge:           snap.Load[task.Edge],
		LoadCloud:          snap.Load[task.Cloud],
		LoadAccelerator:    snap.Load[task.Accelerator],
		NetworkLatency:     snap.NetworkLatencyMs,
		CostSensitivity:    float64(req.CostSensitivity),
	}
	if req.RequiresAccelerator {
		f.RequiresAccelerator = 1
	}
	return f
}

// Decide chooses a class. The classifier's choice is never overridden.
func (r *Router) Decide(req task.Request, snap task.Snapshot) (task.Decision, error) {
	features := BuildFeatures(req, snap)

	pred, err := r.classifier.Predict(features)
	if err != nil {
		return task.Decision{}, fmt.Errorf("classifier %s: %w", r.classifier.Name(), err)
	}

	confidence := pred.Confidence()
	observability.RoutingConfidence.Observe(confidence)

	return task.Decision{
		Class:        pred.Class,
		Confidence:   confidence,
		Alternatives: pred.Alternatives(),
		Rationale:    Rationale(req, pred.Class, confidence, features),
		Features:     features,
	}, nil
}

// Rationale explains a decision with at most three clauses derived from the
// request and the features. It only ever describes the chosen class.
func Rationale(req task.Request, chosen task.Class, confidence float64, f task.Features) string {
	var clauses []string

	if req.RequiresAccelerator {
		if chosen == task.Accelerator {
			clauses = append(clauses, "Task requires GPU acceleration")
		} else {
			clauses = append(clauses, fmt.Sprintf("GPU node overloaded (%.0f%%), using fallback", f.LoadAccelerator))
		}
	}

	if req.LatencyRequirement >= 8 {
		if chosen == task.Edge {
			clauses = append(clauses, fmt.Sprintf("Ultra-low latency required (%d/10)", req.LatencyRequirement))
		} else {
			clauses = append(clauses, fmt.Sprintf("Edge node saturated (%.0f%%), next best option", f.LoadEdge))
		}
	}

	if req.Priority >= 8 {
		clauses = append(clauses, fmt.Sprintf("High priority task (P%d)", req.Priority))
	}

	if req.CostSensitivity >= 7 && chosen == task.Cloud {
		clauses = append(clauses, "Cost-optimized routing for batch processing")
	}

	if load := f.Load(chosen); load < 70 {
		clauses = append(clauses, fmt.Sprintf("%s node has available capacity (%.0f%% free)", chosen, 100-load))
	}

	if f.NetworkLatency > 300 {
		clauses = append(clauses, fmt.Sprintf("High network latency (%.0fms) factored in", f.NetworkLatency))
	}

	if len(clauses) == 0 {
		clauses = append(clauses, "Best fit based on current system state")
	}
	if len(clauses) > maxClauses {
		clauses = clauses[:maxClauses]
	}

	return fmt.Sprintf("Routing '%s' to %s node (confidence: %.1f%%). %s",
		req.TaskType, chosen, confidence*100, strings.Join(clauses, " | "))
}
