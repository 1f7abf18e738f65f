package workflow

import (
	"context"
	"fmt"

	"github.com/openfroyo/deployer/pkg/environment"
)

// Step names of the provision workflow.
const (
	StepRenderOpenTofuTemplates = "render_opentofu_templates"
	StepOpenTofuInit            = "opentofu_init"
	StepOpenTofuValidate        = "opentofu_validate"
	StepOpenTofuPlan            = "opentofu_plan"
	StepOpenTofuApply           = "opentofu_apply"
	StepGetInstanceInfo         = "get_instance_info"
	StepRenderAnsibleTemplates  = "render_ansible_templates"
	StepWaitSSHConnectivity     = "wait_ssh_connectivity"
	StepWaitCloudInit           = "wait_cloud_init"
)

// Provision creates the instance and waits until it can be configured.
func (o *Orchestrator) Provision(ctx context.Context, env environment.Environment[environment.Created], listener ProgressListener) (environment.Environment[environment.Provisioned], error) {
	const workflow = "provision"
	switch {
	case o.deps.Renderer == nil:
		return environment.Environment[environment.Provisioned]{}, missingCollaborator(workflow, "renderer")
	case o.deps.Provisioner == nil:
		return environment.Environment[environment.Provisioned]{}, missingCollaborator(workflow, "provisioner")
	case o.deps.Remote == nil:
		return environment.Environment[environment.Provisioned]{}, missingCollaborator(workflow, "remote")
	case o.deps.Configurator == nil:
		return environment.Environment[environment.Provisioned]{}, missingCollaborator(workflow, "configurator")
	}

	provisioning := environment.BeginProvisioning(env)
	if err := o.enter(ctx, workflow, env.Erase(), provisioning.Erase()); err != nil {
		return environment.Environment[environment.Provisioned]{}, err
	}

	c := provisioning.Context()
	x := o.start(ctx, workflow, c, listener)
	var inst environment.Instance

	stepErr := x.runSteps([]Step{
		{
			Name:        StepRenderOpenTofuTemplates,
			Description: "Rendering OpenTofu templates",
			Kind:        environment.ErrorKindTemplateRendering,
			Run:         func(ctx context.Context) error { return o.deps.Renderer.RenderInfrastructure(ctx, c) },
		},
		{
			Name:        StepOpenTofuInit,
			Description: "Initializing infrastructure",
			Kind:        environment.ErrorKindInfrastructure,
			Run:         func(ctx context.Context) error { return o.deps.Provisioner.Init(ctx, c) },
		},
		{
			Name:        StepOpenTofuValidate,
			Description: "Validating infrastructure configuration",
			Kind:        environment.ErrorKindInfrastructure,
			Run:         func(ctx context.Context) error { return o.deps.Provisioner.Validate(ctx, c) },
		},
		{
			Name:        StepOpenTofuPlan,
			Description: "Planning infrastructure changes",
			Kind:        environment.ErrorKindInfrastructure,
			Run:         func(ctx context.Context) error { return o.deps.Provisioner.Plan(ctx, c) },
		},
		{
			Name:        StepOpenTofuApply,
			Description: "Creating the instance",
			Kind:        environment.ErrorKindInfrastructure,
			Run:         func(ctx context.Context) error { return o.deps.Provisioner.Apply(ctx, c) },
		},
		{
			Name:        StepGetInstanceInfo,
			Description: "Retrieving instance information",
			Kind:        environment.ErrorKindInfrastructure,
			Run: func(ctx context.Context) error {
				ip, err := o.deps.Provisioner.InstanceIP(ctx, c)
				if err != nil {
					return err
				}
				inst, err = environment.NewInstance(ip, o.now())
				if err != nil {
					return fmt.Errorf("provider reported an unusable address: %w", err)
				}
				x.listener.OnDetail(fmt.Sprintf("Instance IP: %s", ip))
				return nil
			},
		},
		{
			Name:        StepRenderAnsibleTemplates,
			Description: "Rendering configuration templates",
			Kind:        environment.ErrorKindTemplateRendering,
			Run: func(ctx context.Context) error {
				return o.deps.Renderer.RenderConfiguration(ctx, c, inst.IP())
			},
		},
		{
			Name:        StepWaitSSHConnectivity,
			Description: "Waiting for SSH connectivity",
			Kind:        environment.ErrorKindNetwork,
			Run: func(ctx context.Context) error {
				return o.deps.Remote.WaitReachable(ctx, c, inst.IP())
			},
		},
		{
			Name:        StepWaitCloudInit,
			Description: "Waiting for cloud-init to finish",
			Kind:        environment.ErrorKindConfiguration,
			Run:         func(ctx context.Context) error { return o.deps.Configurator.WaitForCloudInit(ctx, c) },
		},
	})

	if stepErr != nil {
		record := x.fail(stepErr)
		failed := environment.MarkProvisionFailed(provisioning, record)
		o.persist(ctx, failed.Erase())
		return environment.Environment[environment.Provisioned]{}, &FailedError{Environment: failed.Erase(), Record: record, Err: stepErr}
	}

	provisioned := environment.MarkProvisioned(provisioning, inst)
	x.succeed()
	o.persist(ctx, provisioned.Erase())
	return provisioned, nil
}
