package ansible

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/adapters/command"
	"github.com/openfroyo/deployer/pkg/environment/environmenttest"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/openfroyo/deployer/pkg/render"
)

func TestRunPlaybook(t *testing.T) {
	env := environmenttest.Created(t, "staging", t.TempDir()).Context()
	fake := command.NewFake()
	client := New(fake, zerolog.Nop())

	require.NoError(t, client.WaitForCloudInit(context.Background(), env))
	require.NoError(t, client.RunPlaybook(context.Background(), env, "install-docker.yml"))

	assert.Equal(t, []string{
		"ansible-playbook -v -i inventory.yml wait-cloud-init.yml",
		"ansible-playbook -v -i inventory.yml install-docker.yml",
	}, fake.Lines())

	call := fake.Calls[1]
	assert.Equal(t, render.AnsibleDir(env), call.Dir)
	assert.Equal(t, filepath.Join(render.AnsibleDir(env), "ansible.cfg"), call.Env["ANSIBLE_CONFIG"])
	assert.Equal(t, "False", call.Env["ANSIBLE_HOST_KEY_CHECKING"])
}

func TestPlaybookFailure(t *testing.T) {
	env := environmenttest.Created(t, "staging", t.TempDir()).Context()
	fake := command.NewFake()
	fake.Errors["-v"] = errors.New("exit status 2")

	err := New(fake, zerolog.Nop()).RunPlaybook(context.Background(), env, "configure-firewall.yml")

	var pe *PlaybookError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "playbook configure-firewall.yml failed: exit status 2", err.Error())
	help := faults.HelpOf(err)
	require.Len(t, help, 1)
	assert.Contains(t, help[0], "-vvv -i inventory.yml configure-firewall.yml")
}

func TestCloudInitHelp(t *testing.T) {
	err := &PlaybookError{Playbook: WaitCloudInitPlaybook, Err: errors.New("timeout")}
	assert.Contains(t, err.Help(), "cloud-init status --long")
}
