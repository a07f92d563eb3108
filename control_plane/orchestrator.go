package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/router"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/streaming"
	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/telemetry"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

// TaskDispatcher executes a routed task. *dispatch.Dispatcher implements it.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, c task.Class, req task.Request) task.Result
}

// recordTimeout bounds the history write, which runs detached from the caller.
const recordTimeout = 10 * time.Second

// Orchestrator drives one submission through
// Created -> Decided -> Dispatched -> Succeeded|Failed -> Recorded.
// Every submission runs on its caller's goroutine; there is no queue.
type Orchestrator struct {
	telemetry  *telemetry.Store
	router     *router.Router
	dispatcher TaskDispatcher
	history    store.History
	timeline   *timeline.Store
	publisher  streaming.Publisher

	newID func() string
}

func NewOrchestrator(t *telemetry.Store, r *router.Router, d TaskDispatcher, h store.History, tl *timeline.Store, p streaming.Publisher) *Orchestrator {
	return &Orchestrator{
		telemetry:  t,
		router:     r,
		dispatcher: d,
		history:    h,
		timeline:   tl,
		publisher:  p,
		newID:      uuid.NewString,
	}
}

// Submit routes, executes and records one task. Dispatch failures are part of
// the returned response, not errors. A history write failure returns the
// filled response together with an error wrapping store.ErrPersistence.
func (o *Orchestrator) Submit(ctx context.Context, req task.Request) (task.Response, error) {
	if err := req.Validate(); err != nil {
		return task.Response{}, err
	}
	if req.TaskID == "" {
		req.TaskID = o.newID()
	}
	logger := log.With().Str("task_id", req.TaskID).Str("task_type", req.TaskType).Logger()

	// Created
	o.timeline.Record(timeline.TaskEvent{TaskID: req.TaskID, Stage: timeline.StageCreated})

	snap := o.telemetry.Snapshot()
	decision, err := o.router.Decide(req, snap)
	if err != nil {
		logger.Error().Err(err).Msg("routing failed")
		o.timeline.Record(timeline.TaskEvent{
			TaskID: req.TaskID, Stage: timeline.StageFailed,
			Metadata: map[string]string{"error": err.Error()},
		})
		return task.Response{}, fmt.Errorf("route task %s: %w", req.TaskID, err)
	}

	// Decided
	o.timeline.Record(timeline.TaskEvent{
		TaskID: req.TaskID, Stage: timeline.StageDecided, Class: decision.Class.String(),
		Metadata: map[string]string{"confidence": fmt.Sprintf("%.4f", decision.Confidence)},
	})
	logger.Info().
		Str("component", "router").
		Str("class", decision.Class.String()).
		Float64("confidence", decision.Confidence).
		Str("rationale", decision.Rationale).
		Msg("routing decision")

	// Dispatched. The dispatch outlives a client hang-up; only its own
	// timeout bounds it.
	o.timeline.Record(timeline.TaskEvent{TaskID: req.TaskID, Stage: timeline.StageDispatched, Class: decision.Class.String()})
	result := o.dispatcher.Dispatch(context.WithoutCancel(ctx), decision.Class, req)

	o.telemetry.Feedback(decision.Class, result)
	o.observe(decision.Class, result)

	stage := timeline.StageSucceeded
	meta := map[string]string{"execution_time": fmt.Sprintf("%.4f", result.ExecutionTime)}
	if !result.Succeeded() {
		stage = timeline.StageFailed
		meta["error_kind"] = string(result.ErrorKind)
		meta["message"] = result.Message
	}
	o.timeline.Record(timeline.TaskEvent{TaskID: req.TaskID, Stage: stage, Class: decision.Class.String(), Metadata: meta})

	rec := task.Record{
		TaskID:    req.TaskID,
		Request:   req,
		Decision:  decision,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	resp := task.NewResponse(rec)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.history.Record(recordCtx, rec); err != nil {
		observability.HistoryWriteFailures.Inc()
		o.timeline.Record(timeline.TaskEvent{
			TaskID: req.TaskID, Stage: timeline.StageRecordFailed, Class: decision.Class.String(),
			Metadata: map[string]string{"error": err.Error()},
		})
		logger.Error().Err(err).
			Str("class", decision.Class.String()).
			Str("status", string(result.Status)).
			Float64("cost", result.Cost).
			Msg("history write failed; decision and execution already happened")
		return resp, fmt.Errorf("%w: task %s: %v", store.ErrPersistence, req.TaskID, err)
	}

	// Recorded
	o.timeline.Record(timeline.TaskEvent{TaskID: req.TaskID, Stage: timeline.StageRecorded, Class: decision.Class.String()})
	if err := o.publisher.Publish(ctx, streaming.TopicTaskCompleted, rec); err != nil {
		logger.Warn().Err(err).Msg("failed to publish task event")
	}

	logger.Info().
		Str("class", decision.Class.String()).
		Str("status", string(result.Status)).
		Str("error_kind", string(result.ErrorKind)).
		Float64("execution_time", result.ExecutionTime).
		Float64("cost", result.Cost).
		Msg("task recorded")

	return resp, nil
}

func (o *Orchestrator) observe(c task.Class, result task.Result) {
	observability.TasksTotal.WithLabelValues(c.String(), string(result.Status)).Inc()
	observability.TaskExecutionSeconds.WithLabelValues(c.String()).Observe(result.ExecutionTime)
	if result.Succeeded() {
		observability.TaskCost.WithLabelValues(c.String()).Add(result.Cost)
	}
}

// IsPersistenceFailure reports whether err came from the history write.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, store.ErrPersistence)
}
