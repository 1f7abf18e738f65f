// Package ansible configures instances by running the playbooks the render
// package writes into the environment's build directory.
package ansible

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/adapters/command"
	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/render"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

// Binary is the playbook runner executable.
const Binary = "ansible-playbook"

// WaitCloudInitPlaybook blocks until cloud-init has finished on the host.
const WaitCloudInitPlaybook = "wait-cloud-init.yml"

// Client runs playbooks for an environment.
type Client struct {
	runner command.Runner
	logger zerolog.Logger
}

// New returns a Client running commands through runner.
func New(runner command.Runner, logger zerolog.Logger) *Client {
	return &Client{runner: runner, logger: logger.With().Str("component", "ansible").Logger()}
}

// WaitForCloudInit runs the cloud-init wait playbook.
func (c *Client) WaitForCloudInit(ctx context.Context, env environment.Context) error {
	return c.RunPlaybook(ctx, env, WaitCloudInitPlaybook)
}

// RunPlaybook runs one playbook from the Ansible build directory against
// the rendered inventory.
func (c *Client) RunPlaybook(ctx context.Context, env environment.Context, playbook string) error {
	dir := render.AnsibleDir(env)
	op := strings.TrimSuffix(playbook, filepath.Ext(playbook))

	err := telemetry.RecordToolInvocation(ctx, "ansible", op, func(ctx context.Context) error {
		_, err := c.runner.Run(ctx, command.Spec{
			Name: Binary,
			Args: []string{"-v", "-i", "inventory.yml", playbook},
			Dir:  dir,
			Env: map[string]string{
				"ANSIBLE_CONFIG":            filepath.Join(dir, "ansible.cfg"),
				"ANSIBLE_HOST_KEY_CHECKING": "False",
				"ANSIBLE_NOCOLOR":           "1",
			},
		})
		return err
	})
	if err != nil {
		return &PlaybookError{Playbook: playbook, Dir: dir, Err: err}
	}

	c.logger.Info().Str("environment", env.Name().String()).Str("playbook", playbook).Msg("Playbook finished")
	return nil
}

// PlaybookError wraps a failed playbook run.
type PlaybookError struct {
	Playbook string
	Dir      string
	Err      error
}

func (e *PlaybookError) Error() string {
	return fmt.Sprintf("playbook %s failed: %v", e.Playbook, e.Err)
}

func (e *PlaybookError) Unwrap() error { return e.Err }

// Help returns troubleshooting steps.
func (e *PlaybookError) Help() string {
	if e.Playbook == WaitCloudInitPlaybook {
		return "cloud-init did not finish cleanly. Log in to the instance and check 'cloud-init status --long' and /var/log/cloud-init-output.log."
	}
	return fmt.Sprintf(`Ansible playbook %s failed.

1. Re-run it by hand for full output: cd %s && %s -vvv -i inventory.yml %s
2. Check the instance has outbound network access for package installation.
3. Check the SSH user can use sudo without a password.`, e.Playbook, e.Dir, Binary, e.Playbook)
}
