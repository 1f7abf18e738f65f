package tofu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/adapters/command"
	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/environment/environmenttest"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/openfroyo/deployer/pkg/render"
)

const instanceOutput = `{
  "instance_info": {
    "sensitive": false,
    "type": ["object", {}],
    "value": {
      "image": "ubuntu:24.04",
      "ip_address": "10.140.190.68",
      "name": "torrust-tracker-vm-staging",
      "status": "Running"
    }
  }
}`

func testContext(t *testing.T) environment.Context {
	t.Helper()
	env := environmenttest.Created(t, "staging", t.TempDir()).Context()
	require.NoError(t, os.MkdirAll(render.TofuDir(env), 0o755))
	return env
}

func TestWorkflowCommands(t *testing.T) {
	env := testContext(t)
	fake := command.NewFake()
	client := New(fake, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, client.Init(ctx, env))
	require.NoError(t, client.Validate(ctx, env))
	require.NoError(t, client.Plan(ctx, env))
	require.NoError(t, client.Apply(ctx, env))
	require.NoError(t, client.Destroy(ctx, env))

	assert.Equal(t, []string{
		"tofu init -input=false",
		"tofu validate",
		"tofu plan -input=false -var-file=variables.tfvars",
		"tofu apply -input=false -auto-approve -var-file=variables.tfvars",
		"tofu destroy -input=false -auto-approve -var-file=variables.tfvars",
	}, fake.Lines())
	for _, call := range fake.Calls {
		assert.Equal(t, render.TofuDir(env), call.Dir)
		assert.Equal(t, "1", call.Env["TF_IN_AUTOMATION"])
	}
}

func TestHetznerToken(t *testing.T) {
	t.Setenv(TokenEnv, "abc123")
	env := testContext(t)
	env.UserInputs.Provider.Kind = environment.ProviderHetzner
	require.NoError(t, os.MkdirAll(render.TofuDir(env), 0o755))

	fake := command.NewFake()
	require.NoError(t, New(fake, zerolog.Nop()).Plan(context.Background(), env))
	assert.Equal(t, "abc123", fake.Calls[0].Env["TF_VAR_hcloud_token"])
}

func TestInstanceIP(t *testing.T) {
	env := testContext(t)
	fake := command.NewFake()
	fake.Results["output"] = &command.Result{Stdout: instanceOutput}

	ip, err := New(fake, zerolog.Nop()).InstanceIP(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "10.140.190.68", ip.String())
	assert.Equal(t, []string{"tofu output -json"}, fake.Lines())
}

func TestParseInstanceInfo(t *testing.T) {
	info, err := ParseInstanceInfo([]byte(instanceOutput))
	require.NoError(t, err)
	assert.Equal(t, InstanceInfo{
		Name:      "torrust-tracker-vm-staging",
		Image:     "ubuntu:24.04",
		Status:    "Running",
		IPAddress: "10.140.190.68",
	}, info)

	for name, input := range map[string]string{
		"not json":       "tofu: command not found",
		"missing output": `{"other": {"value": 1}}`,
		"wrong shape":    `{"instance_info": {"value": "10.0.0.1"}}`,
		"empty ip":       `{"instance_info": {"value": {"ip_address": ""}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInstanceInfo([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestInvalidIPAddress(t *testing.T) {
	env := testContext(t)
	fake := command.NewFake()
	fake.Results["output"] = &command.Result{Stdout: `{"instance_info": {"value": {"ip_address": "pending"}}}`}

	_, err := New(fake, zerolog.Nop()).InstanceIP(context.Background(), env)
	var tofuErr *Error
	require.ErrorAs(t, err, &tofuErr)
	assert.Equal(t, "output", tofuErr.Op)
}

func TestCommandFailureCarriesHelp(t *testing.T) {
	env := testContext(t)
	fake := command.NewFake()
	fake.Errors["apply"] = errors.New("exit status 1")

	err := New(fake, zerolog.Nop()).Apply(context.Background(), env)
	require.Error(t, err)
	assert.Equal(t, "tofu apply failed: exit status 1", err.Error())

	help := faults.HelpOf(err)
	require.Len(t, help, 1)
	assert.Contains(t, help[0], "OpenTofu apply failed")
}

func TestMissingProjectDirectory(t *testing.T) {
	env := environmenttest.Created(t, "staging", t.TempDir()).Context()
	fake := command.NewFake()

	err := New(fake, zerolog.Nop()).Destroy(context.Background(), env)
	require.Error(t, err)
	assert.Empty(t, fake.Calls)
	assert.True(t, errors.Is(err, faults.New(faults.ClassPermanent, faults.CodeNotFound, "", nil)))
	assert.Contains(t, faults.HelpOf(err)[0], filepath.Join("build", "staging"))
}
