// Package dispatch sends a routed task to an executor of its class and
// normalizes whatever happens into a task.Result.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/task"
)

// DefaultTimeout bounds a single dispatch.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Dispatcher is responsible for sending tasks to executors. The class to
// endpoint table is fixed at construction.
type Dispatcher struct {
	endpoints [task.NumClasses]string
	client    *http.Client
	timeout   time.Duration
}

// NewDispatcher creates a Dispatcher. Every class must have an endpoint.
func NewDispatcher(endpoints map[task.Class]string, timeout time.Duration) (*Dispatcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		// The per-call context carries the deadline.
		client:  &http.Client{},
		timeout: timeout,
	}
	for c, url := range endpoints {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %d", task.ErrUnknownClass, int(c))
		}
		d.endpoints[c] = strings.TrimRight(url, "/")
	}
	for _, c := range task.Classes {
		if d.endpoints[c] == "" {
			return nil, fmt.Errorf("%w: no executor endpoint for %s", task.ErrUnknownClass, c)
		}
	}
	return d, nil
}

// Timeout returns the per-dispatch deadline.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Endpoint resolves the executor base URL for a class. An unknown class is a
// programming error and panics.
func (d *Dispatcher) Endpoint(c task.Class) string {
	if !c.Valid() {
		panic(fmt.Errorf("%w: %d", task.ErrUnknownClass, int(c)))
	}
	return d.endpoints[c]
}

// executorResponse is the body an executor returns from POST /execute.
type executorResponse struct {
	Status        string                 `json:"status"`
	Node          string                 `json:"node"`
	ExecutionTime float64                `json:"execution_time"`
	Cost          float64                `json:"cost"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// executorRequest is the body of POST /execute. Payload is always present
// and defaults to an empty object.
type executorRequest struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

func newExecutorRequest(req task.Request) executorRequest {
	payload := req.Payload
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = json.RawMessage(`{}`)
	}
	return executorRequest{TaskID: req.TaskID, TaskType: req.TaskType, Payload: payload}
}

// Dispatch makes exactly one attempt. Failures come back as results with an
// error kind and zero cost, never as Go errors.
func (d *Dispatcher) Dispatch(ctx context.Context, c task.Class, req task.Request) task.Result {
	url := d.Endpoint(c) + "/execute"

	data, err := json.Marshal(newExecutorRequest(req))
	if err != nil {
		return d.failed(c, task.ErrorTransport, 0, fmt.Sprintf("failed to marshal task: %v", err), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return d.failed(c, task.ErrorTransport, 0, fmt.Sprintf("failed to create request: %v", err), nil)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return d.transportFailure(ctx, c, start, "failed to contact executor", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return d.transportFailure(ctx, c, start, "failed to read executor response", err)
	}
	elapsed := time.Since(start).Seconds()

	var raw json.RawMessage
	if json.Valid(body) {
		raw = body
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r := d.failed(c, task.ErrorRemote, elapsed, fmt.Sprintf("executor returned status %d", resp.StatusCode), raw)
		r.Metadata = map[string]interface{}{"http_status": resp.StatusCode}
		return r
	}

	var out executorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return d.failed(c, task.ErrorRemote, elapsed, fmt.Sprintf("undecodable executor response: %v", err), raw)
	}
	if out.Status != string(task.StatusSuccess) {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("executor reported status %q", out.Status)
		}
		r := d.failed(c, task.ErrorRemote, elapsed, msg, raw)
		r.Node = out.Node
		r.Metadata = out.Metadata
		return r
	}

	execTime := out.ExecutionTime
	if execTime <= 0 {
		execTime = elapsed
	}

	log.Debug().
		Str("class", c.String()).
		Str("task_id", req.TaskID).
		Float64("execution_time", execTime).
		Msg("task dispatched")

	return task.Result{
		Status:        task.StatusSuccess,
		ExecutionTime: execTime,
		Cost:          out.Cost,
		Message:       out.Message,
		Node:          out.Node,
		Metadata:      out.Metadata,
		Raw:           raw,
	}
}

func (d *Dispatcher) transportFailure(ctx context.Context, c task.Class, start time.Time, what string, err error) task.Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return d.failed(c, task.ErrorTimeout, d.timeout.Seconds(),
			fmt.Sprintf("executor did not respond within %s", d.timeout), nil)
	}
	return d.failed(c, task.ErrorTransport, time.Since(start).Seconds(), fmt.Sprintf("%s: %v", what, err), nil)
}

func (d *Dispatcher) failed(c task.Class, kind task.ErrorKind, elapsed float64, msg string, raw json.RawMessage) task.Result {
	observability.DispatchErrors.WithLabelValues(c.String(), string(kind)).Inc()
	log.Warn().
		Str("class", c.String()).
		Str("error_kind", string(kind)).
		Str("message", msg).
		Msg("dispatch failed")

	return task.Result{
		Status:        task.StatusError,
		ErrorKind:     kind,
		ExecutionTime: elapsed,
		Cost:          0,
		Message:       msg,
		Raw:           raw,
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Health probes GET /health on the executor for class c.
func (d *Dispatcher) Health(ctx context.Context, c task.Class) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint(c)+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("executor %s health returned status %d", c, resp.StatusCode)
	}
	return nil
}
