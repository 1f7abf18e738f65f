package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	otrace "go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/stores"
	"github.com/openfroyo/deployer/pkg/telemetry"
	"github.com/openfroyo/deployer/pkg/trace"
)

// Step is one unit of a workflow.
type Step struct {
	// Name identifies the step in failure records, e.g. "opentofu_init".
	Name string

	// Description is shown to the operator.
	Description string

	// Kind classifies a failure of this step.
	Kind environment.ErrorKind

	Run func(ctx context.Context) error
}

// execution is one run of a workflow.
type execution struct {
	o        *Orchestrator
	workflow string
	env      environment.Context
	runID    string
	started  time.Time

	ctx      context.Context
	span     otrace.Span
	recorder *telemetry.ProgressRecorder
	listener ProgressListener
	logger   *telemetry.Logger
}

func (o *Orchestrator) start(ctx context.Context, workflow string, env environment.Context, listener ProgressListener) *execution {
	x := &execution{
		o:        o,
		workflow: workflow,
		env:      env,
		runID:    uuid.NewString(),
		started:  o.now(),
	}
	name := env.Name().String()
	x.logger = o.logger.WithEnvironment(name).WithWorkflow(workflow, x.runID)

	// The run row must exist before events referencing it are persisted.
	if o.deps.RunLog != nil {
		run := &stores.WorkflowRun{
			ID:          x.runID,
			Environment: name,
			Workflow:    workflow,
			Status:      stores.RunStatusRunning,
			StartedAt:   x.started,
		}
		if err := o.deps.RunLog.CreateRun(ctx, run); err != nil {
			x.logger.WithError(err).Warn("Failed to record workflow run")
		}
	}

	spanCtx, span := o.tel.Tracer.StartWorkflowSpan(ctx, name, workflow, x.runID)
	x.span = span
	x.ctx = o.tel.WithContext(spanCtx)
	x.recorder = telemetry.NewProgressRecorder(spanCtx, o.tel, name, workflow, x.runID)
	x.listener = Listeners(listener, x.recorder)

	o.tel.Metrics.RecordWorkflowStarted(workflow)
	x.publish(telemetry.EventTypeWorkflowStarted, telemetry.EventLevelInfo, workflow+" started", nil)
	x.logger.Info("Workflow started")
	return x
}

// runSteps runs steps in order and stops at the first failure.
func (x *execution) runSteps(steps []Step) *StepError {
	total := len(steps)
	for i, s := range steps {
		index := i + 1
		x.listener.OnStepStarted(index, total, s.Description)
		x.logger.WithField("step", s.Name).Debugf("Step %d/%d started", index, total)

		if err := s.Run(x.ctx); err != nil {
			return &StepError{
				Workflow: x.workflow,
				Step:     s.Name,
				Index:    index,
				Kind:     kindOf(s, err),
				Err:      err,
			}
		}
		x.listener.OnStepCompleted(index, s.Description)
	}
	return nil
}

func kindOf(s Step, err error) environment.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return environment.ErrorKindTimeout
	}
	if s.Kind == "" {
		return environment.ErrorKindUnknown
	}
	return s.Kind
}

// fail builds the failure record, writes the trace file, and closes the run.
func (x *execution) fail(stepErr *StepError) environment.FailureRecord {
	failedAt := x.o.now()
	record := environment.FailureRecord{
		Step:      stepErr.Step,
		StepIndex: stepErr.Index,
		Kind:      stepErr.Kind,
		Summary:   summarize(stepErr),
		TraceID:   uuid.New(),
		StartedAt: x.started,
		FailedAt:  failedAt,
		Duration:  failedAt.Sub(x.started),
	}

	writer := trace.NewWriter(x.env.Internal.TracesDir, x.o.tel.Logger.Zerolog())
	path, err := writer.Write(trace.Entry{
		Workflow:    x.workflow,
		Environment: x.env.Name(),
		Record:      record,
		Err:         stepErr,
	})
	if err != nil {
		x.logger.WithError(err).Error("Failed to write trace file")
	} else {
		record.TraceFile = path
		x.o.tel.Metrics.RecordTraceFile(x.workflow)
	}

	x.recorder.Finish(stepErr)
	telemetry.RecordError(x.span, stepErr)
	x.span.End()
	x.o.tel.Metrics.RecordWorkflowCompleted(x.workflow, "failed", record.Duration)
	x.o.tel.Metrics.RecordError(stepErr)
	x.publish(telemetry.EventTypeWorkflowFailed, telemetry.EventLevelError, record.Summary, map[string]any{
		"step":       record.Step,
		"step_index": record.StepIndex,
		"kind":       string(record.Kind),
		"trace_file": record.TraceFile,
	})
	x.finishRun(stores.RunStatusFailed, &record.Step, &record.Summary, optional(record.TraceFile))

	x.logger.WithError(stepErr.Err).
		WithFields(map[string]any{"step": record.Step, "trace_file": record.TraceFile}).
		Error("Workflow failed")
	return record
}

// succeed closes a successful run.
func (x *execution) succeed() {
	d := x.o.now().Sub(x.started)
	x.recorder.Finish(nil)
	telemetry.RecordSuccess(x.span)
	x.span.End()
	x.o.tel.Metrics.RecordWorkflowCompleted(x.workflow, "succeeded", d)
	x.publish(telemetry.EventTypeWorkflowCompleted, telemetry.EventLevelInfo, x.workflow+" completed", nil)
	x.finishRun(stores.RunStatusSucceeded, nil, nil, nil)
	x.logger.WithField("duration", d.String()).Info("Workflow completed")
}

func (x *execution) finishRun(status stores.RunStatus, step, msg, traceFile *string) {
	if x.o.deps.RunLog == nil {
		return
	}
	if err := x.o.deps.RunLog.FinishRun(context.WithoutCancel(x.ctx), x.runID, status, step, msg, traceFile); err != nil {
		x.logger.WithError(err).Warn("Failed to record workflow outcome")
	}
}

func (x *execution) publish(eventType, level, msg string, data map[string]any) {
	err := x.o.tel.Events.Publish(telemetry.Event{
		Type:        eventType,
		Environment: x.env.Name().String(),
		Workflow:    x.workflow,
		RunID:       x.runID,
		Message:     msg,
		Level:       level,
		Data:        data,
	})
	if err != nil {
		x.logger.WithError(err).Debug("Dropped workflow event")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
