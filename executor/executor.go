package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExecuteRequest is the body of POST /execute. All three fields are required
// and payload must be a JSON object.
type ExecuteRequest struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

func (r ExecuteRequest) validate() error {
	if r.TaskID == "" || r.TaskType == "" {
		return errors.New("task_id and task_type are required")
	}
	if p := bytes.TrimSpace(r.Payload); len(p) == 0 || p[0] != '{' {
		return errors.New("payload must be an object")
	}
	return nil
}

// ExecuteResponse is the success body of POST /execute.
type ExecuteResponse struct {
	Status        string         `json:"status"`
	Node          string         `json:"node"`
	TaskID        string         `json:"task_id"`
	TaskType      string         `json:"task_type"`
	ExecutionTime float64        `json:"execution_time"`
	Cost          float64        `json:"cost"`
	Message       string         `json:"message"`
	Metadata      map[string]any `json:"metadata"`
}

// Executor simulates work according to a Profile.
type Executor struct {
	profile  Profile
	failRate float64

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(p Profile, failRate float64, seed int64) *Executor {
	return &Executor{
		profile:  p,
		failRate: failRate,
		rng:      rand.New(rand.NewSource(seed)),
		sleep:    sleepCtx,
	}
}

// ErrInjectedFailure is returned for executions selected by the fail rate.
var ErrInjectedFailure = errors.New("injected failure")

// Execute sleeps for the profile's latency scaled by the task type and
// reports the outcome.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	node := e.profile.Class.String()
	log.Info().Str("node", node).Str("task_id", req.TaskID).Str("task_type", req.TaskType).Msg("executing task")

	start := time.Now()
	mult := e.profile.multiplier(req.TaskType)

	e.mu.Lock()
	span := e.profile.MaxLatency - e.profile.MinLatency
	base := e.profile.MinLatency + time.Duration(e.rng.Float64()*float64(span))
	fail := e.failRate > 0 && e.rng.Float64() < e.failRate
	util := 20 + e.rng.Float64()*20
	if mult < 1.0 {
		util = 60 + e.rng.Float64()*35
	}
	e.mu.Unlock()

	if err := e.sleep(ctx, time.Duration(float64(base)*mult)); err != nil {
		return ExecuteResponse{}, err
	}
	if fail {
		log.Warn().Str("node", node).Str("task_id", req.TaskID).Msg("failing task by fail rate")
		return ExecuteResponse{}, ErrInjectedFailure
	}

	elapsed := time.Since(start).Seconds()
	meta := make(map[string]any, len(e.profile.Metadata)+1)
	for k, v := range e.profile.Metadata {
		meta[k] = v
	}
	if e.profile.Metadata["node_type"] == "gpu" {
		meta["gpu_utilization"] = round(util, 1)
	}

	log.Info().Str("node", node).Str("task_id", req.TaskID).Float64("execution_time", elapsed).Msg("task completed")

	return ExecuteResponse{
		Status:        "success",
		Node:          node,
		TaskID:        req.TaskID,
		TaskType:      req.TaskType,
		ExecutionTime: round(elapsed, 3),
		Cost:          round(e.profile.BaseCost*mult, 4),
		Message:       fmt.Sprintf("Task %s completed on %s node", req.TaskType, node),
		Metadata:      meta,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
