package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/admission"
	"github.com/itskum47/tierroute/control_plane/auth"
	"github.com/itskum47/tierroute/control_plane/idempotency"
	"github.com/itskum47/tierroute/control_plane/incident"
	"github.com/itskum47/tierroute/control_plane/middleware"
	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

// IdempotencyHeader names the key under which a submission's response is
// replayed.
const IdempotencyHeader = "X-Idempotency-Key"

// maxRequestBody caps the submission body.
const maxRequestBody = 1 << 20

type API struct {
	orchestrator *Orchestrator
	history      store.History
	nodes        *NodeService
	timeline     *timeline.Store
	idempotency  idempotency.Store
	admission    *admission.Controller
	hub          *NodeStatusHub
	auth         middleware.TokenValidator
	version      string
}

// NewAPI wires the HTTP surface. admission may be nil to disable it.
func NewAPI(o *Orchestrator, h store.History, nodes *NodeService, tl *timeline.Store, idem idempotency.Store, ac *admission.Controller, hub *NodeStatusHub) *API {
	return &API{
		orchestrator: o,
		history:      h,
		nodes:        nodes,
		timeline:     tl,
		idempotency:  idem,
		admission:    ac,
		hub:          hub,
		version:      "1.0.0",
	}
}

// EnableAuth requires a valid bearer token on every /api/ route.
func (a *API) EnableAuth(v middleware.TokenValidator) {
	a.auth = v
}

// routes builds the handler tree served by the control plane.
func (a *API) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/submit-task", middleware.RequireRole(a.withIdempotency(a.handleSubmitTask), auth.RoleSubmitter))
	api.HandleFunc("GET /api/task-history", a.handleTaskHistory)
	api.HandleFunc("GET /api/statistics", a.handleStatistics)
	api.HandleFunc("GET /api/node-status", a.handleNodeStatus)
	api.HandleFunc("GET /api/node-status/stream", a.handleNodeStatusStream)
	api.HandleFunc("GET /api/system-metrics", a.handleSystemMetrics)
	api.HandleFunc("GET /api/tasks/{id}", a.handleGetTask)
	api.HandleFunc("GET /api/tasks/{id}/incident", a.handleCaptureIncident)

	var protected http.Handler = api
	if a.auth != nil {
		protected = middleware.AuthMiddleware(a.auth)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("/api/", protected)

	return middleware.ClientMiddleware(mux)
}

// Wrapper for capturing response
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays a completed response for a repeated key and rejects
// a key whose first request is still running. 5xx responses are not stored so
// the caller may retry them.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || a.idempotency == nil {
			next(w, r)
			return
		}
		ctx := r.Context()

		resp, err := a.idempotency.Get(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("idempotency lookup failed")
			writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
			return
		}
		if resp != nil {
			replay(w, resp)
			return
		}

		locked, err := a.idempotency.Lock(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("idempotency lock failed")
			writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
			return
		}
		if !locked {
			// The first request may have finished between Get and Lock.
			if resp, err := a.idempotency.Get(ctx, key); err == nil && resp != nil {
				replay(w, resp)
				return
			}
			writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		// The request context may already be cancelled; the outcome still has
		// to be stored or unlocked.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if rec.statusCode >= http.StatusInternalServerError {
			if err := a.idempotency.Release(storeCtx, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("idempotency release failed")
			}
			return
		}
		err = a.idempotency.Complete(storeCtx, key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    map[string][]string{"Content-Type": rec.Header().Values("Content-Type")},
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("idempotency complete failed")
		}
	}
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	for k, v := range resp.Headers {
		for _, val := range v {
			w.Header().Add(k, val)
		}
	}
	w.Header().Set("X-Idempotent-Replay", "true")
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func (a *API) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req task.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	release := func(bool) {}
	if a.admission != nil {
		rel, retryAfter, err := a.admission.Admit(middleware.ClientFromContext(r))
		if err != nil {
			a.writeRejection(w, err, retryAfter)
			return
		}
		release = rel
	}

	resp, err := a.orchestrator.Submit(r.Context(), req)
	release(err == nil)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, task.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case IsPersistenceFailure(err):
		// The task ran; its outcome is returned even though it was not stored.
		writeJSON(w, http.StatusInternalServerError, struct {
			Error string `json:"error"`
			task.Response
		}{err.Error(), resp})
	default:
		log.Error().Err(err).Msg("task submission failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) writeRejection(w http.ResponseWriter, err error, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))

	if errors.Is(err, admission.ErrRateLimited) {
		observability.APIRateLimited.WithLabelValues("submit-task").Inc()
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

func (a *API) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultQueryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var class *task.Class
	if v := r.URL.Query().Get("class"); v != "" {
		c, err := task.ParseClass(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		class = &c
	}

	records, err := a.history.Query(r.Context(), limit, class)
	if err != nil {
		log.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if records == nil {
		records = []task.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(records),
		"tasks": records,
	})
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.history.Statistics(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("statistics query failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.nodes.NodeStatus())
}

func (a *API) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.nodes.SystemMetrics())
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := a.history.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleCaptureIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := incident.CaptureTask(r.Context(), a.history, a.timeline, id)
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("failed to capture incident")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=incident-%s.json", id))
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "tierroute",
		"version": a.version,
		"status":  "running",
		"endpoints": map[string]string{
			"submit_task":    "POST /api/submit-task",
			"task_history":   "GET /api/task-history",
			"statistics":     "GET /api/statistics",
			"node_status":    "GET /api/node-status",
			"node_stream":    "GET /api/node-status/stream",
			"system_metrics": "GET /api/system-metrics",
			"task":           "GET /api/tasks/{id}",
			"incident":       "GET /api/tasks/{id}/incident",
			"metrics":        "GET /metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
