package environment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorKind is a coarse classification of a failed step, used to choose
// remediation text and to label metrics.
type ErrorKind string

const (
	ErrorKindTemplateRendering ErrorKind = "template_rendering"
	ErrorKindInfrastructure    ErrorKind = "infrastructure"
	ErrorKindNetwork           ErrorKind = "network"
	ErrorKindConfiguration     ErrorKind = "configuration"
	ErrorKindRelease           ErrorKind = "release"
	ErrorKindRuntime           ErrorKind = "runtime"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// FailureRecord is the serializable summary of a failed workflow. It is
// created once per failure transition and never changed afterwards; the full
// diagnostic lives in the trace file it references.
type FailureRecord struct {
	Step      string        `json:"failed_step"`
	StepIndex int           `json:"failed_step_index"`
	Kind      ErrorKind     `json:"error_kind"`
	Summary   string        `json:"error_summary"`
	TraceID   uuid.UUID     `json:"trace_id"`
	TraceFile string        `json:"trace_file_path,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	FailedAt  time.Time     `json:"failed_at"`
	Duration  time.Duration `json:"execution_duration"`
}

// Validate checks the record is complete enough to diagnose the failure.
func (r FailureRecord) Validate() error {
	var errs []error
	if r.Step == "" {
		errs = append(errs, errors.New("failed step is required"))
	}
	if r.StepIndex < 1 {
		errs = append(errs, errors.New("failed step index must be positive"))
	}
	if r.Summary == "" {
		errs = append(errs, errors.New("error summary is required"))
	}
	if r.TraceID == uuid.Nil {
		errs = append(errs, errors.New("trace id is required"))
	}
	if r.FailedAt.IsZero() {
		errs = append(errs, errors.New("failure time is required"))
	}
	return errors.Join(errs...)
}
