package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/policy"
	"github.com/openfroyo/deployer/pkg/workflow"
)

// lifecycleWorkflow describes one of the commands that move an environment
// through its stages.
type lifecycleWorkflow struct {
	name      string
	short     string
	long      string
	next      string
	operation string // policy operation checked first, if any
	run       func(*workflow.Orchestrator, context.Context, environment.Name, workflow.ProgressListener) (environment.AnyEnvironment, error)
}

var lifecycleWorkflows = []lifecycleWorkflow{
	{
		name:  "provision",
		short: "Create the instance of a created environment",
		long: `Render the infrastructure templates, create the instance with OpenTofu
and wait until it accepts SSH logins and cloud-init has finished.

A provision_failed environment is retried.`,
		next:      "configure",
		operation: policy.OperationProvision,
		run:       (*workflow.Orchestrator).ProvisionByName,
	},
	{
		name:  "configure",
		short: "Install the system software on a provisioned instance",
		long: `Install Docker and Docker Compose, enable automatic security updates and
configure the firewall with Ansible.

A configure_failed environment is retried.`,
		next: "release",
		run:  (*workflow.Orchestrator).ConfigureByName,
	},
	{
		name:  "release",
		short: "Upload the tracker release to a configured instance",
		long: `Render the release files, upload them to the instance, initialise the
tracker database and pull the container images.

A release_failed environment is retried.`,
		next: "run",
		run:  (*workflow.Orchestrator).ReleaseByName,
	},
	{
		name:  "run",
		short: "Start the tracker services of a released environment",
		long: `Start the services with Docker Compose and wait until they are healthy.

A run_failed environment is retried.`,
		run: (*workflow.Orchestrator).RunByName,
	},
	{
		name:  "destroy",
		short: "Destroy an environment's infrastructure",
		long: `Destroy the instance, if one may exist, and remove the build directory.
Works from any stage. State and traces are kept until 'deployer purge'.`,
		next: "purge",
		run:  (*workflow.Orchestrator).DestroyByName,
	},
}

func newLifecycleCommand(opts *options, w lifecycleWorkflow) *cobra.Command {
	return &cobra.Command{
		Use:     w.name + " <name>",
		Short:   w.short,
		Long:    w.long,
		Example: fmt.Sprintf("  deployer %s staging", w.name),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := environment.ParseName(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if w.operation != "" {
				stored, err := a.orch.Load(ctx, name)
				if err != nil {
					return err
				}
				envCfg := config.FromUserInputs(stored.Context().UserInputs)
				if _, err := checkPolicies(ctx, a.logger, a.settings.PolicyPaths, w.operation, envCfg); err != nil {
					return err
				}
			}

			env, err := w.run(a.orch, ctx, name, NewConsoleListener(opts.stderr, opts.verbose))
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, env)
			}
			fmt.Fprintf(opts.stdout, "Environment %s is %s\n", env.Name(), env.Stage())
			if inst, ok := env.Instance(); ok {
				fmt.Fprintf(opts.stdout, "Instance IP: %s\n", inst.IP())
			}
			if w.next != "" {
				fmt.Fprintf(opts.stdout, "Next: deployer %s %s\n", w.next, env.Name())
			}
			return nil
		},
	}
}
