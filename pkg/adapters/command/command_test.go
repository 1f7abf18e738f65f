package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/faults"
)

func TestExecCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	result, err := NewExec(zerolog.Nop()).Run(context.Background(), Spec{
		Name: "/bin/sh",
		Args: []string{"-c", `pwd; echo "$DEPLOYER_TEST" >&2`},
		Dir:  dir,
		Env:  map[string]string{"DEPLOYER_TEST": "hello"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
	assert.Equal(t, "hello\n", result.Stderr)
	assert.Zero(t, result.ExitCode)
}

func TestExecNonZeroExit(t *testing.T) {
	result, err := NewExec(zerolog.Nop()).Run(context.Background(), Spec{
		Name: "/bin/sh",
		Args: []string{"-c", "echo planning; echo 'Error: Invalid provider' >&2; exit 3"},
	})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "/bin/sh exited with code 3: Error: Invalid provider", exitErr.Error())

	trace := exitErr.TraceFormat()
	assert.Contains(t, trace, "exit code: 3")
	assert.Contains(t, trace, "stdout:\nplanning")
	assert.Contains(t, trace, "stderr:\nError: Invalid provider")
}

func TestExecMissingBinary(t *testing.T) {
	_, err := NewExec(zerolog.Nop()).Run(context.Background(), Spec{Name: "deployer-no-such-tool"})
	require.Error(t, err)

	class, ok := faults.ClassOf(err)
	require.True(t, ok)
	assert.Equal(t, faults.ClassPermanent, class)
	assert.Contains(t, faults.HelpOf(err)[0], "Install deployer-no-such-tool")
}

func TestExecContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewExec(zerolog.Nop()).Run(ctx, Spec{Name: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "tofu plan -var-file=variables.tfvars",
		Spec{Name: "tofu", Args: []string{"plan", "-var-file=variables.tfvars"}}.String())
}
