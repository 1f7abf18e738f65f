package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/faults"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the operation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"
)

// Blocking reports whether a violation of this severity stops the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Operations a preflight check can run for.
const (
	OperationCreate    = "create"
	OperationValidate  = "validate"
	OperationProvision = "provision"
)

// Policy is one named Rego module. Its deny rules yield violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module source.
	Rego string `json:"rego"`

	// Severity applies to violations that do not set their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one problem a policy found.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Field is the config path the violation concerns, if any.
	Field string `json:"field,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation suggests a fix.
	Remediation string `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	s := fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	if v.Field != "" {
		s += " (" + v.Field + ")"
	}
	return s
}

// Context describes the circumstances of an evaluation. It is passed to
// policies as input.context.
type Context struct {
	// Operation is the command being checked (create, validate, provision).
	Operation string `json:"operation"`

	// Timestamp is when the evaluation happens.
	Timestamp time.Time `json:"timestamp"`

	// HetznerTokenSet reports whether HCLOUD_TOKEN is present.
	HetznerTokenSet bool `json:"hetzner_token_set"`

	// Files maps each referenced local path to whether it is readable.
	Files map[string]bool `json:"files,omitempty"`
}

// Input is the document policies see as input.
type Input struct {
	Config  *config.EnvironmentConfig `json:"config"`
	Context Context                   `json:"context"`
}

// Result is the outcome of evaluating all enabled policies.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Failures lists policies that could not be evaluated.
	Failures []string `json:"failures,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns a *DeniedError when the result is not allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &DeniedError{Violations: r.Violations}
}

// DeniedError reports the blocking violations of a preflight check.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	if len(e.Violations) == 1 {
		return "policy check failed: " + e.Violations[0].Message
	}
	return fmt.Sprintf("policy check failed with %d violations", len(e.Violations))
}

// FaultClass marks policy denials as permanent.
func (e *DeniedError) FaultClass() faults.Class {
	return faults.ClassPermanent
}

// Help lists each violation with its remediation.
func (e *DeniedError) Help() string {
	var b strings.Builder
	b.WriteString("The environment config violates these policies:\n")
	for _, v := range e.Violations {
		b.WriteString("  - " + v.String() + "\n")
		if v.Remediation != "" {
			b.WriteString("    " + v.Remediation + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
