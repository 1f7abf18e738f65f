package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
)

// Step names of the destroy workflow.
const (
	StepDestroyInfrastructure = "destroy_infrastructure"
	StepCleanBuildDirectory   = "clean_build_directory"
)

// Destroy tears down the instance, if one may exist, and removes the build
// directory. It is valid from every stage. When a step fails the stored
// stage is left as it was and a trace file is written.
func (o *Orchestrator) Destroy(ctx context.Context, env environment.AnyEnvironment, listener ProgressListener) (environment.Environment[environment.Destroyed], error) {
	const workflow = "destroy"
	if err := o.enter(ctx, workflow, env, environment.AnyEnvironment{}); err != nil {
		return environment.Environment[environment.Destroyed]{}, err
	}

	var steps []Step
	c := env.Context()
	if env.Stage().MayHaveInfrastructure() {
		if o.deps.Provisioner == nil {
			return environment.Environment[environment.Destroyed]{}, missingCollaborator(workflow, "provisioner")
		}
		steps = append(steps, Step{
			Name:        StepDestroyInfrastructure,
			Description: "Destroying infrastructure",
			Kind:        environment.ErrorKindInfrastructure,
			Run:         func(ctx context.Context) error { return o.deps.Provisioner.Destroy(ctx, c) },
		})
	}
	steps = append(steps, Step{
		Name:        StepCleanBuildDirectory,
		Description: "Cleaning build directory",
		Kind:        environment.ErrorKindUnknown,
		Run: func(context.Context) error {
			if err := os.RemoveAll(c.Internal.BuildDir); err != nil {
				return fmt.Errorf("failed to remove build directory %s: %w", c.Internal.BuildDir, err)
			}
			return nil
		},
	})

	x := o.start(ctx, workflow, c, listener)
	if !env.Stage().MayHaveInfrastructure() {
		x.listener.OnDetail(fmt.Sprintf("No infrastructure to destroy in stage %s", env.Stage()))
	}

	if stepErr := x.runSteps(steps); stepErr != nil {
		record := x.fail(stepErr)
		return environment.Environment[environment.Destroyed]{}, &FailedError{Environment: env, Record: record, Err: stepErr}
	}

	destroyed, err := environment.DestroyAny(env, o.now())
	if err != nil {
		return environment.Environment[environment.Destroyed]{}, err
	}
	x.succeed()
	o.persist(ctx, destroyed.Erase())
	return destroyed, nil
}

// Purge removes everything stored for a destroyed environment: its state,
// traces, build directory and history. With force it also purges an
// environment that was never destroyed, leaving any remote resources behind.
func (o *Orchestrator) Purge(ctx context.Context, name environment.Name, force bool) error {
	env, err := o.Load(ctx, name)
	if err != nil {
		return err
	}
	if env.Stage() != environment.StageDestroyed && !force {
		return faults.New(faults.ClassPermanent, faults.CodeInvalidState,
			fmt.Sprintf("environment %s is in stage %s, not destroyed", name, env.Stage()), nil).
			WithEnvironment(name.String()).
			WithOperation("purge").
			WithHint(fmt.Sprintf("Run 'deployer destroy %s' first, or pass --force to discard local data while remote resources may still exist.", name))
	}

	var errs []error
	if dir := env.Context().Internal.BuildDir; dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove build directory: %w", err))
		}
	}
	if err := o.deps.Repository.Purge(ctx, name); err != nil {
		errs = append(errs, err)
	}
	if p, ok := o.deps.RunLog.(historyPurger); ok {
		if err := p.PurgeEnvironment(ctx, name.String()); err != nil {
			errs = append(errs, fmt.Errorf("failed to purge history: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	o.logger.WithEnvironment(name.String()).WithField("forced", force).Info("Environment purged")
	return nil
}
