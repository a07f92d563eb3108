package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts completed orchestrations by chosen class and outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierroute_tasks_total",
		Help: "Total number of tasks routed, by class and status",
	}, []string{"class", "status"})

	// TaskExecutionSeconds is the executor-reported (or elapsed) execution time.
	TaskExecutionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tierroute_task_execution_seconds",
		Help:    "Task execution time distribution",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"class"})

	// TaskCost tracks the cost reported for successful tasks.
	TaskCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierroute_task_cost",
		Help: "Accumulated task cost by class",
	}, []string{"class"})

	// DispatchErrors counts failed dispatches by class and error kind.
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierroute_dispatch_errors_total",
		Help: "Dispatch failures by class and kind (timeout, transport, remote)",
	}, []string{"class", "kind"})

	// RoutingConfidence is the distribution of argmax probabilities.
	RoutingConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tierroute_routing_confidence",
		Help:    "Classifier confidence of routing decisions",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// ClassLoad is the most recent synthesized load per class.
	ClassLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tierroute_class_load_percent",
		Help: "Current load estimate per execution class (0-100)",
	}, []string{"class"})

	// ClassInFlight is the in-flight counter per class.
	ClassInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tierroute_class_in_flight",
		Help: "In-flight task counter per execution class",
	}, []string{"class"})

	// NetworkLatency is the most recent network latency estimate.
	NetworkLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_network_latency_ms",
		Help: "Current network latency estimate in milliseconds",
	})

	// HistoryWriteFailures counts failed history upserts.
	HistoryWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tierroute_history_write_failures_total",
		Help: "History store write failures",
	})

	// HistoryPendingRecords is the number of records waiting to be written back.
	HistoryPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_history_pending_records",
		Help: "Task records buffered after a failed history write",
	})

	// HistoryDegraded is 1 while buffered records await write-back.
	HistoryDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_history_degraded",
		Help: "1 when the history store is in degraded mode",
	})

	// AdmissionRejections counts submissions refused before orchestration.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierroute_admission_rejections_total",
		Help: "Submissions rejected by admission control",
	}, []string{"reason"}) // circuit_open, rate_limited

	// CircuitState tracks the admission breaker (0=closed, 1=half_open, 2=open).
	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_circuit_state",
		Help: "Admission circuit breaker state (0=closed, 1=half_open, 2=open)",
	})

	// InFlightOrchestrations is the number of submissions currently being processed.
	InFlightOrchestrations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_orchestrations_in_flight",
		Help: "Submissions currently between admission and record",
	})

	// ExecutorUp reports the last health probe per class (1=reachable).
	ExecutorUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tierroute_executor_up",
		Help: "Executor health probe result per class",
	}, []string{"class"})

	// ClassifierFallbackActive is 1 when the lowest-load fallback replaced the model.
	ClassifierFallbackActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_classifier_fallback_active",
		Help: "Whether the lowest-load fallback classifier is serving (1) instead of the model",
	})

	// APIRateLimited tracks per-client rate limit rejections.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierroute_api_rate_limited_total",
		Help: "Requests rejected by API rate limiting",
	}, []string{"endpoint"})

	// WSClients is the number of connected node-status stream clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tierroute_ws_clients",
		Help: "Connected node status stream clients",
	})
)
