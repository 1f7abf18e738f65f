package workflow

import (
	"context"

	"github.com/openfroyo/deployer/pkg/environment"
)

// Step names of the run workflow.
const (
	StepStartServices  = "start_services"
	StepVerifyServices = "verify_services"
)

// Run starts the released services and checks they are healthy. There is no
// in-progress stage, so only the outcome is persisted.
func (o *Orchestrator) Run(ctx context.Context, env environment.Environment[environment.Released], listener ProgressListener) (environment.Environment[environment.Running], error) {
	const workflow = "run"
	if o.deps.Services == nil {
		return environment.Environment[environment.Running]{}, missingCollaborator(workflow, "services")
	}

	if err := o.enter(ctx, workflow, env.Erase(), environment.AnyEnvironment{}); err != nil {
		return environment.Environment[environment.Running]{}, err
	}

	c := env.Context()
	ip := env.State().Instance.IP()
	x := o.start(ctx, workflow, c, listener)

	stepErr := x.runSteps([]Step{
		{
			Name:        StepStartServices,
			Description: "Starting services",
			Kind:        environment.ErrorKindRuntime,
			Run:         func(ctx context.Context) error { return o.deps.Services.Up(ctx, c, ip) },
		},
		{
			Name:        StepVerifyServices,
			Description: "Verifying services are healthy",
			Kind:        environment.ErrorKindRuntime,
			Run:         func(ctx context.Context) error { return o.deps.Services.Healthy(ctx, c, ip) },
		},
	})

	if stepErr != nil {
		record := x.fail(stepErr)
		failed := environment.MarkRunFailed(env, record)
		o.persist(ctx, failed.Erase())
		return environment.Environment[environment.Running]{}, &FailedError{Environment: failed.Erase(), Record: record, Err: stepErr}
	}

	running := environment.StartRunning(env, o.now())
	x.succeed()
	o.persist(ctx, running.Erase())
	return running, nil
}
