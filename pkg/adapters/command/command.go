// Package command runs local tools such as tofu and ansible-playbook.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/faults"
)

// Spec describes one invocation.
type Spec struct {
	// Name is the executable, looked up in PATH.
	Name string

	// Args are passed as-is, without a shell.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is added to the process environment.
	Env map[string]string
}

func (s Spec) String() string {
	return strings.Join(append([]string{s.Name}, s.Args...), " ")
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// Exec runs commands as child processes.
type Exec struct {
	logger zerolog.Logger
}

// NewExec returns a Runner that logs each invocation at debug level.
func NewExec(logger zerolog.Logger) *Exec {
	return &Exec{logger: logger.With().Str("component", "command").Logger()}
}

// Run executes spec. A non-zero exit is returned as *ExitError together
// with the result; a missing executable as a permanent faults.Error.
func (e *Exec) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Name == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(spec.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug().Str("command", spec.String()).Str("dir", spec.Dir).Msg("Running command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	e.logger.Debug().
		Str("command", spec.Name).
		Dur("duration", result.Duration).
		Err(err).
		Msg("Command finished")

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s interrupted: %w", spec.Name, ctx.Err())
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Spec: spec, Result: *result}
	case errors.Is(err, exec.ErrNotFound):
		return nil, faults.New(faults.ClassPermanent, faults.CodeNotFound, spec.Name+" is not installed", err).
			WithHint("Install " + spec.Name + " and make sure it is on PATH.")
	default:
		return nil, fmt.Errorf("failed to execute %s: %w", spec.Name, err)
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Spec   Spec
	Result Result
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Spec.Name, e.Result.ExitCode)
	if line := lastLine(e.Result.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

// TraceFormat includes the full command line and both output streams.
func (e *ExitError) TraceFormat() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command: %s\n", e.Spec)
	if e.Spec.Dir != "" {
		fmt.Fprintf(&b, "dir: %s\n", e.Spec.Dir)
	}
	fmt.Fprintf(&b, "exit code: %d\n", e.Result.ExitCode)
	if s := strings.TrimSpace(e.Result.Stdout); s != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", s)
	}
	if s := strings.TrimSpace(e.Result.Stderr); s != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", s)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
