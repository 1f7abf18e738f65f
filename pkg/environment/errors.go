package environment

import (
	"fmt"

	"github.com/openfroyo/deployer/pkg/faults"
)

// StageMismatchError is returned when an environment is unwrapped, or used,
// at a stage other than the one the caller required.
type StageMismatchError struct {
	Expected StageName
	Actual   StageName
}

// Error implements the error interface.
func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("environment is in stage %q, expected %q", e.Actual, e.Expected)
}

// FaultClass classifies the error for faults.ClassOf.
func (e *StageMismatchError) FaultClass() faults.Class {
	return faults.ClassCorruption
}

// Help returns troubleshooting text.
func (e *StageMismatchError) Help() string {
	return fmt.Sprintf(`The requested command needs the environment in stage %q but it is in stage %q.

1. Run 'deployer show <name>' to inspect the current stage.
2. Run the command that matches the current stage, in lifecycle order:
   create -> provision -> configure -> release -> run.
3. If the environment is in a failure stage, re-run the failed command to retry,
   or run 'deployer destroy <name>' to tear it down.`, e.Expected, e.Actual)
}

// InvalidStateError is returned when a decoded environment breaks the
// stage/payload invariant.
type InvalidStateError struct {
	Stage  StageName
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	msg := "invalid environment state"
	if e.Stage != "" {
		msg += fmt.Sprintf(" for stage %q", e.Stage)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *InvalidStateError) Unwrap() error {
	return e.Err
}

// FaultClass classifies the error for faults.ClassOf.
func (e *InvalidStateError) FaultClass() faults.Class {
	return faults.ClassCorruption
}

// Help returns troubleshooting text.
func (e *InvalidStateError) Help() string {
	return `The stored environment document is inconsistent and was not loaded.

1. Inspect the state file (data/<name>/environment.json) for manual edits.
2. Restore it from a backup if one exists.
3. Otherwise destroy the remote resources by hand and recreate the environment.`
}

// NameError is returned for names that break the naming rules.
type NameError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *NameError) Error() string {
	return fmt.Sprintf("invalid environment name %q: %s", e.Name, e.Reason)
}

// FaultClass classifies the error for faults.ClassOf.
func (e *NameError) FaultClass() faults.Class {
	return faults.ClassPermanent
}

// Help returns troubleshooting text.
func (e *NameError) Help() string {
	return `Environment names use lowercase letters, numbers, and dashes only.
They must not start with a number or a dash, end with a dash, or contain
consecutive dashes, and they are at most 63 characters long.

Examples: dev, staging, e2e-full, tracker-01`
}
