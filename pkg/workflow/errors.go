package workflow

import (
	"fmt"
	"strings"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
)

// StepError is the failure of one workflow step. Err is whatever the
// collaborator returned and need not be serializable.
type StepError struct {
	Workflow string
	Step     string
	Index    int
	Kind     environment.ErrorKind
	Err      error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s step %d (%s) failed: %v", e.Workflow, e.Index, e.Step, e.Err)
}

// Unwrap returns the collaborator error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// FaultClass keeps the collaborator's class when it has one.
func (e *StepError) FaultClass() faults.Class {
	if class, ok := faults.ClassOf(e.Err); ok {
		return class
	}
	return faults.ClassPermanent
}

// TraceFormat renders the step for trace files.
func (e *StepError) TraceFormat() string {
	return fmt.Sprintf("%s step %d %q (%s)", e.Workflow, e.Index, e.Step, e.Kind)
}

// Help returns remediation text for the kind of step that failed.
func (e *StepError) Help() string {
	switch e.Kind {
	case environment.ErrorKindTemplateRendering:
		return `Template rendering failed.

1. Check that the templates directory exists and is readable.
2. Check the build directory is writable.
3. Re-run the command with --verbose to see which template failed.`
	case environment.ErrorKindInfrastructure:
		return `The infrastructure provider failed.

1. Check the provider is installed and reachable (for LXD: 'lxc list').
2. Check provider credentials in the environment (for Hetzner: HCLOUD_TOKEN).
3. Inspect the OpenTofu files in the build directory and run 'tofu plan' there.`
	case environment.ErrorKindNetwork:
		return `The instance could not be reached.

1. Check the instance is running and has the reported address.
2. Check the SSH key pair in the environment configuration.
3. Check firewalls between this machine and the instance allow the SSH port.`
	case environment.ErrorKindConfiguration:
		return `Configuring the instance failed.

1. Check the Ansible output above for the failing task.
2. Check the instance has outbound network access for package installation.
3. Re-run 'deployer configure <name>' to retry.`
	case environment.ErrorKindRelease:
		return `Releasing the application failed.

1. Check there is enough free disk space on the instance.
2. Check the release artifacts in the build directory.
3. Re-run 'deployer release <name>' to retry.`
	case environment.ErrorKindRuntime:
		return `Starting the services failed.

1. Log in to the instance and run 'docker compose ps' and 'docker compose logs'.
2. Check the configured ports are free on the instance.
3. Re-run 'deployer run <name>' to retry.`
	case environment.ErrorKindTimeout:
		return `The step timed out. The remote side may just be slow; re-running the command retries it.`
	default:
		return ""
	}
}

// FailedError is returned when a workflow failed. Environment holds the
// environment as persisted after the failure: the failure stage for
// provision, configure, release and run, the unchanged stage for destroy.
type FailedError struct {
	Environment environment.AnyEnvironment
	Record      environment.FailureRecord
	Err         *StepError
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	return fmt.Sprintf("%s failed for environment %s at step %s: %s (now in stage %s)",
		e.Err.Workflow, e.Environment.Name(), e.Record.Step, e.Record.Summary, e.Environment.Stage())
}

// Unwrap returns the step error.
func (e *FailedError) Unwrap() error {
	return e.Err
}

// FaultClass follows the step error.
func (e *FailedError) FaultClass() faults.Class {
	return e.Err.FaultClass()
}

// Help points at the trace file and the ways forward.
func (e *FailedError) Help() string {
	var b strings.Builder
	if e.Record.TraceFile != "" {
		fmt.Fprintf(&b, "Full diagnostics: %s\n\n", e.Record.TraceFile)
	}
	name := e.Environment.Name()
	if e.Environment.IsFailure() {
		fmt.Fprintf(&b, "Re-run 'deployer %s %s' to retry, or 'deployer destroy %s' to tear the environment down.",
			e.Err.Workflow, name, name)
	} else {
		fmt.Fprintf(&b, "The environment was left in stage %s. Fix the cause and re-run 'deployer %s %s'.",
			e.Environment.Stage(), e.Err.Workflow, name)
	}
	return b.String()
}

// summarize reduces a step error to the first line of its cause. A cause
// with no message is described by the step and its type, since a failure
// record needs a summary.
func summarize(stepErr *StepError) string {
	msg := stepErr.Err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s failed (%T)", stepErr.Step, stepErr.Err)
}

func notFound(name environment.Name) error {
	return faults.New(faults.ClassPermanent, faults.CodeNotFound, "environment "+name.String()+" does not exist", nil).
		WithEnvironment(name.String()).
		WithHint("Run 'deployer list' to see existing environments, or 'deployer create --config <file>' to create one.")
}

func missingCollaborator(workflow, name string) error {
	return faults.New(faults.ClassPermanent, faults.CodeValidation,
		fmt.Sprintf("%s workflow needs a %s", workflow, name), nil).
		WithOperation(workflow)
}
