// Package faults provides the classified error type shared by the deployer
// packages. Every error that reaches an operator carries a short actionable
// message and an on-demand troubleshooting text.
package faults

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for recovery decisions.
type Class string

const (
	// ClassTransient indicates a failure that may succeed when the operation is repeated.
	// Examples: I/O errors, an unreachable instance.
	ClassTransient Class = "transient"

	// ClassConflict indicates another actor currently owns the resource.
	// Example: the environment lock is held by a live process.
	ClassConflict Class = "conflict"

	// ClassPermanent indicates an error that will not go away without operator action.
	// Examples: invalid configuration, a step that failed on the remote host.
	ClassPermanent Class = "permanent"

	// ClassCorruption indicates stored or in-memory state violates an invariant.
	// These are programming or data errors and are never retried.
	ClassCorruption Class = "corruption"
)

// Common error codes.
const (
	CodeStateMismatch = "STATE_MISMATCH"
	CodeInvalidState  = "INVALID_STATE"
	CodeLockHeld      = "LOCK_HELD"
	CodeStorage       = "STORAGE"
	CodeStepFailed    = "STEP_FAILED"
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeValidation    = "VALIDATION_ERROR"
)

// Helper is implemented by errors that carry detailed troubleshooting text.
type Helper interface {
	Help() string
}

// Traceable is implemented by errors that render themselves for trace files.
// It is narrower than serialization: an error may hold live
// handles and still describe itself as text.
type Traceable interface {
	TraceFormat() string
}

// Error is a classified error with operator-facing context.
type Error struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Code identifies the error for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the short, actionable, human-readable message.
	Message string `json:"message"`

	// Hint is the longer troubleshooting text returned by Help.
	Hint string `json:"hint,omitempty"`

	// Environment is the environment name involved, if any.
	Environment string `json:"environment,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Environment != "" && e.Operation != "" {
		prefix = fmt.Sprintf("%s (environment=%s, operation=%s)", prefix, e.Environment, e.Operation)
	} else if e.Environment != "" {
		prefix = fmt.Sprintf("%s (environment=%s)", prefix, e.Environment)
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Help returns the troubleshooting text, falling back to the cause's help.
func (e *Error) Help() string {
	if e.Hint != "" {
		return e.Hint
	}
	var h Helper
	if e.Err != nil && errors.As(e.Err, &h) {
		return h.Help()
	}
	return ""
}

// TraceFormat renders the error for a trace file.
func (e *Error) TraceFormat() string {
	s := fmt.Sprintf("%s [%s/%s]", e.Message, e.Class, e.Code)
	if e.Operation != "" {
		s += " during " + e.Operation
	}
	return s
}

// New creates a classified error.
func New(class Class, code, message string, err error) *Error {
	return &Error{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithHint attaches troubleshooting text.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithEnvironment adds environment context to an error.
func (e *Error) WithEnvironment(name string) *Error {
	e.Environment = name
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// ClassOf returns the class of the first classified error in the chain.
func ClassOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	type classifier interface{ FaultClass() Class }
	var c classifier
	if errors.As(err, &c) {
		return c.FaultClass(), true
	}
	return "", false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassConflict
}

// IsCorruption returns true if the error is classified as corruption.
func IsCorruption(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassCorruption
}

// IsRetryable reports whether repeating the operation may help.
func IsRetryable(err error) bool {
	c, ok := ClassOf(err)
	return ok && (c == ClassTransient || c == ClassConflict)
}

// HelpOf collects the troubleshooting texts found along the error chain,
// outermost first, without duplicates.
func HelpOf(err error) []string {
	var out []string
	seen := make(map[string]bool)
	Walk(err, func(_ int, e error) {
		h, ok := e.(Helper)
		if !ok {
			return
		}
		text := h.Help()
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		out = append(out, text)
	})
	return out
}

// Walk visits every error in the chain depth-first, following both
// Unwrap() error and Unwrap() []error. Level starts at 0 for err itself.
func Walk(err error, fn func(level int, e error)) {
	walk(err, 0, fn)
}

func walk(err error, level int, fn func(int, error)) {
	if err == nil {
		return
	}
	fn(level, err)
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			walk(inner, level+1, fn)
		}
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), level+1, fn)
	}
}
