package workflow

import (
	"context"

	"github.com/openfroyo/deployer/pkg/environment"
)

// Step names of the configure workflow.
const (
	StepInstallDocker            = "install_docker"
	StepInstallDockerCompose     = "install_docker_compose"
	StepConfigureSecurityUpdates = "configure_security_updates"
	StepConfigureFirewall        = "configure_firewall"
)

// Playbooks run by the configure workflow, in order.
var configurePlaybooks = []struct {
	step, description, playbook string
}{
	{StepInstallDocker, "Installing Docker", "install-docker.yml"},
	{StepInstallDockerCompose, "Installing Docker Compose", "install-docker-compose.yml"},
	{StepConfigureSecurityUpdates, "Configuring automatic security updates", "configure-security-updates.yml"},
	{StepConfigureFirewall, "Configuring the firewall", "configure-firewall.yml"},
}

// Configure installs the container runtime and hardens the instance.
func (o *Orchestrator) Configure(ctx context.Context, env environment.Environment[environment.Provisioned], listener ProgressListener) (environment.Environment[environment.Configured], error) {
	const workflow = "configure"
	if o.deps.Configurator == nil {
		return environment.Environment[environment.Configured]{}, missingCollaborator(workflow, "configurator")
	}

	configuring := environment.BeginConfiguring(env)
	if err := o.enter(ctx, workflow, env.Erase(), configuring.Erase()); err != nil {
		return environment.Environment[environment.Configured]{}, err
	}

	c := configuring.Context()
	x := o.start(ctx, workflow, c, listener)

	steps := make([]Step, 0, len(configurePlaybooks))
	for _, p := range configurePlaybooks {
		playbook := p.playbook
		steps = append(steps, Step{
			Name:        p.step,
			Description: p.description,
			Kind:        environment.ErrorKindConfiguration,
			Run: func(ctx context.Context) error {
				x.listener.OnDebug("ansible-playbook " + playbook)
				return o.deps.Configurator.RunPlaybook(ctx, c, playbook)
			},
		})
	}

	if stepErr := x.runSteps(steps); stepErr != nil {
		record := x.fail(stepErr)
		failed := environment.MarkConfigureFailed(configuring, record)
		o.persist(ctx, failed.Erase())
		return environment.Environment[environment.Configured]{}, &FailedError{Environment: failed.Erase(), Record: record, Err: stepErr}
	}

	configured := environment.MarkConfigured(configuring)
	x.succeed()
	o.persist(ctx, configured.Erase())
	return configured, nil
}
