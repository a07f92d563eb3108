package main

import (
	"fmt"
	"time"

	"github.com/itskum47/tierroute/control_plane/task"
)

// Profile describes how a simulated executor class behaves.
type Profile struct {
	Class        task.Class
	MinLatency   time.Duration
	MaxLatency   time.Duration
	BaseCost     float64
	Multipliers  map[string]float64 // per task_type, scales latency and cost
	Capabilities []string
	Metadata     map[string]any
	Description  map[string]string
}

func (p Profile) multiplier(taskType string) float64 {
	if m, ok := p.Multipliers[taskType]; ok {
		return m
	}
	return 1.0
}

var profiles = map[task.Class]Profile{
	task.Edge: {
		Class:      task.Edge,
		MinLatency: 50 * time.Millisecond,
		MaxLatency: 150 * time.Millisecond,
		BaseCost:   0.01,
		Multipliers: map[string]float64{
			"fraud_detection":      0.8,
			"sensor_alert":         0.6,
			"image_classification": 1.5,
			"ml_training":          2.0,
			"daily_report":         1.2,
		},
		Capabilities: []string{"low-latency", "real-time", "iot-optimized"},
		Metadata: map[string]any{
			"node_type": "edge",
			"latency":   "low",
			"compute":   "medium",
			"location":  "edge-datacenter-01",
		},
		Description: map[string]string{
			"latency": "low (50-150ms)",
			"compute": "medium",
			"cost":    "low ($0.01/task)",
		},
	},
	task.Cloud: {
		Class:      task.Cloud,
		MinLatency: 200 * time.Millisecond,
		MaxLatency: 500 * time.Millisecond,
		BaseCost:   0.025,
		Multipliers: map[string]float64{
			"fraud_detection":      1.0,
			"sensor_alert":         1.3,
			"image_classification": 0.9,
			"ml_training":          1.1,
			"daily_report":         0.7,
		},
		Capabilities: []string{"high-compute", "scalable", "batch-processing"},
		Metadata: map[string]any{
			"node_type":   "cloud",
			"latency":     "moderate",
			"compute":     "high",
			"location":    "cloud-region-us-east",
			"scalability": "high",
		},
		Description: map[string]string{
			"latency": "moderate (200-500ms)",
			"compute": "high",
			"cost":    "medium ($0.025/task)",
		},
	},
	task.Accelerator: {
		Class:      task.Accelerator,
		MinLatency: 300 * time.Millisecond,
		MaxLatency: 600 * time.Millisecond,
		BaseCost:   0.05,
		Multipliers: map[string]float64{
			"fraud_detection":      1.2,
			"sensor_alert":         1.5,
			"image_classification": 0.4,
			"ml_training":          0.3,
			"daily_report":         1.3,
		},
		Capabilities: []string{"gpu-accelerated", "ml-optimized", "deep-learning", "image-processing"},
		Metadata: map[string]any{
			"node_type":  "gpu",
			"latency":    "moderate-high",
			"compute":    "very-high",
			"gpu_model":  "NVIDIA A100",
			"cuda_cores": 6912,
			"location":   "gpu-cluster-01",
		},
		Description: map[string]string{
			"latency":        "moderate-high (300-600ms base)",
			"compute":        "very-high (GPU-accelerated)",
			"cost":           "high ($0.05/task)",
			"specialization": "ML/AI workloads",
		},
	},
}

// ProfileFor returns the built-in profile of a class.
func ProfileFor(c task.Class) (Profile, error) {
	p, ok := profiles[c]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %d", task.ErrUnknownClass, c)
	}
	return p, nil
}
