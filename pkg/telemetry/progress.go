package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ProgressRecorder turns workflow progress callbacks into spans, step
// metrics, and events. It has the method set of a workflow progress
// listener; Finish must be called once the workflow returns so a step that
// never completed is recorded as failed.
type ProgressRecorder struct {
	tel         *Telemetry
	ctx         context.Context
	environment string
	workflow    string
	runID       string

	mu        sync.Mutex
	step      int
	stepName  string
	stepStart time.Time
	stepSpan  trace.Span
}

// NewProgressRecorder creates a recorder for one workflow run. ctx should
// carry the workflow span so step spans become its children.
func NewProgressRecorder(ctx context.Context, tel *Telemetry, environment, workflow, runID string) *ProgressRecorder {
	return &ProgressRecorder{
		tel:         tel,
		ctx:         ctx,
		environment: environment,
		workflow:    workflow,
		runID:       runID,
	}
}

// OnStepStarted records the start of a step.
func (r *ProgressRecorder) OnStepStarted(step, total int, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endStepLocked(nil)
	_, span := r.tel.Tracer.StartStepSpan(r.ctx, description, step, total)
	r.step = step
	r.stepName = description
	r.stepStart = time.Now()
	r.stepSpan = span

	r.publish(EventTypeStepStarted, EventLevelInfo, description, map[string]any{"step": step, "total": total})
}

// OnStepCompleted records the successful end of a step.
func (r *ProgressRecorder) OnStepCompleted(step int, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stepSpan != nil && r.step == step {
		r.endStepLocked(nil)
	}
	r.publish(EventTypeStepCompleted, EventLevelInfo, description, map[string]any{"step": step})
}

// OnDetail records an operator-facing detail of the current step.
func (r *ProgressRecorder) OnDetail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stepSpan != nil {
		r.stepSpan.AddEvent(msg)
	}
	r.publish(EventTypeStepDetail, EventLevelInfo, msg, nil)
}

// OnDebug records a diagnostic message of the current step.
func (r *ProgressRecorder) OnDebug(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.publish(EventTypeStepDetail, EventLevelDebug, msg, nil)
}

// Finish closes any open step, failing it with err.
func (r *ProgressRecorder) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stepSpan == nil {
		return
	}
	name, step := r.stepName, r.step
	r.endStepLocked(err)
	if err != nil {
		r.publish(EventTypeStepFailed, EventLevelError, err.Error(), map[string]any{"step": step, "description": name})
	}
}

func (r *ProgressRecorder) endStepLocked(err error) {
	if r.stepSpan == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
		RecordError(r.stepSpan, err)
	} else {
		RecordSuccess(r.stepSpan)
	}
	r.stepSpan.End()
	r.tel.Metrics.RecordStep(r.workflow, r.stepName, status, time.Since(r.stepStart))
	r.stepSpan = nil
}

func (r *ProgressRecorder) publish(eventType, level, msg string, data map[string]any) {
	err := r.tel.Events.Publish(Event{
		Type:        eventType,
		Environment: r.environment,
		Workflow:    r.workflow,
		RunID:       r.runID,
		Message:     msg,
		Level:       level,
		Data:        data,
	})
	if err != nil {
		r.tel.Logger.WithError(err).Debug("Dropped progress event")
	}
}
