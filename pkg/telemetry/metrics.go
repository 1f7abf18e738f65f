package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/openfroyo/deployer/pkg/stores"
)

// Metrics provides Prometheus metrics for the deployer. A disabled Metrics
// accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Workflow metrics
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
	activeWorkflows    prometheus.Gauge

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// External tool metrics
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	// State metrics
	transitions     *prometheus.CounterVec
	lockContentions prometheus.Counter
	staleLocks      prometheus.Counter
	traceFiles      *prometheus.CounterVec
	stage           *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ stores.RepositoryObserver = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflows started",
			},
			[]string{"workflow"},
		),
		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflows completed, by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Duration of workflow execution in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "outcome"},
		),
		activeWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of running workflows",
			},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of workflow steps executed",
			},
			[]string{"workflow", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "step"},
		),

		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of external tool invocations",
			},
			[]string{"tool", "operation"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of external tool invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"tool", "operation"},
		),
		toolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_errors_total",
				Help:      "Total number of failed external tool invocations",
			},
			[]string{"tool", "operation"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Total number of persisted stage transitions",
			},
			[]string{"from", "to"},
		),
		lockContentions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_contentions_total",
				Help:      "Number of times an environment lock was held by another process",
			},
		),
		staleLocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_locks_removed_total",
				Help:      "Number of stale environment locks removed",
			},
		),
		traceFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_files_written_total",
				Help:      "Number of failure trace files written",
			},
			[]string{"workflow"},
		),
		stage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "environment_stage",
				Help:      "Current stage of a watched environment (1 for the current stage)",
			},
			[]string{"environment", "stage"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.workflowsStarted,
		m.workflowsCompleted,
		m.workflowDuration,
		m.activeWorkflows,
		m.stepsExecuted,
		m.stepDuration,
		m.toolCalls,
		m.toolDuration,
		m.toolErrors,
		m.transitions,
		m.lockContentions,
		m.staleLocks,
		m.traceFiles,
		m.stage,
		m.errorsByClass,
	)

	return m, nil
}

// Enabled reports whether metrics are recorded.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Workflow Metrics

// RecordWorkflowStarted increments the counter for started workflows.
func (m *Metrics) RecordWorkflowStarted(workflow string) {
	if m.registry == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
	m.activeWorkflows.Inc()
}

// RecordWorkflowCompleted records a finished workflow with its outcome and duration.
func (m *Metrics) RecordWorkflowCompleted(workflow, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(workflow, outcome).Inc()
	m.workflowDuration.WithLabelValues(workflow, outcome).Observe(duration.Seconds())
	m.activeWorkflows.Dec()
}

// RecordStep records one executed workflow step.
func (m *Metrics) RecordStep(workflow, step, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(workflow, step, status).Inc()
	m.stepDuration.WithLabelValues(workflow, step).Observe(duration.Seconds())
}

// RecordToolCall records an external tool invocation.
func (m *Metrics) RecordToolCall(tool, operation string, duration time.Duration, err error) {
	if m.registry == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, operation).Inc()
	m.toolDuration.WithLabelValues(tool, operation).Observe(duration.Seconds())
	if err != nil {
		m.toolErrors.WithLabelValues(tool, operation).Inc()
	}
}

// RecordTraceFile counts a written failure trace.
func (m *Metrics) RecordTraceFile(workflow string) {
	if m.registry == nil {
		return
	}
	m.traceFiles.WithLabelValues(workflow).Inc()
}

// RecordError counts err under its fault class, or "unclassified".
func (m *Metrics) RecordError(err error) {
	if m.registry == nil || err == nil {
		return
	}
	class, ok := faults.ClassOf(err)
	if !ok {
		class = "unclassified"
	}
	m.errorsByClass.WithLabelValues(string(class)).Inc()
}

// Repository observer

// LockContended implements stores.LockObserver.
func (m *Metrics) LockContended(string) {
	if m.registry == nil {
		return
	}
	m.lockContentions.Inc()
}

// StaleLockRemoved implements stores.LockObserver.
func (m *Metrics) StaleLockRemoved(string) {
	if m.registry == nil {
		return
	}
	m.staleLocks.Inc()
}

// EnvironmentSaved implements stores.RepositoryObserver.
func (m *Metrics) EnvironmentSaved(_ string, from, to environment.StageName) {
	if m.registry == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveStage records stage as the current stage of the named environment.
func (m *Metrics) ObserveStage(name string, stage environment.StageName) {
	if m.registry == nil {
		return
	}
	m.stage.DeletePartialMatch(prometheus.Labels{"environment": name})
	m.stage.WithLabelValues(name, string(stage)).Set(1)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
// The file is replaced atomically, so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
