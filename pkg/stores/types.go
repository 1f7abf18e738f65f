package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a workflow run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// IsFinal reports whether the run has completed.
func (s RunStatus) IsFinal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusAborted
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Transition records one persisted stage change.
type Transition struct {
	ID          int64     `json:"id"`
	Environment string    `json:"environment"`
	From        *string   `json:"from,omitempty"` // nil for the first save
	To          string    `json:"to"`
	PID         int       `json:"pid"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// WorkflowRun is one execution of a workflow against an environment.
type WorkflowRun struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	Workflow    string     `json:"workflow"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedStep  *string    `json:"failed_step,omitempty"`
	Error       *string    `json:"error,omitempty"`
	TraceFile   *string    `json:"trace_file,omitempty"`
}

// Event represents an append-only workflow event
type Event struct {
	ID          int64      `json:"id"`
	RunID       *string    `json:"run_id,omitempty"`
	Environment string     `json:"environment"`
	Workflow    string     `json:"workflow"`
	Type        string     `json:"type"` // e.g. "step.started", "step.completed"
	Level       EventLevel `json:"level"`
	Message     string     `json:"message"`
	Data        *string    `json:"data,omitempty"` // JSON blob
	Timestamp   time.Time  `json:"timestamp"`
}

// TransitionLog receives a record for every persisted environment.
type TransitionLog interface {
	AppendTransition(ctx context.Context, t *Transition) error
}

// Store defines the interface for the history database
type Store interface {
	TransitionLog

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Transitions
	ListTransitions(ctx context.Context, environment string, limit int) ([]*Transition, error)

	// Workflow runs
	CreateRun(ctx context.Context, run *WorkflowRun) error
	FinishRun(ctx context.Context, id string, status RunStatus, failedStep, errMsg, traceFile *string) error
	GetRun(ctx context.Context, id string) (*WorkflowRun, error)
	ListRuns(ctx context.Context, environment *string, limit, offset int) ([]*WorkflowRun, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// PurgeEnvironment removes every history row of an environment.
	PurgeEnvironment(ctx context.Context, environment string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
