package workflow

import (
	"context"
	"errors"

	"github.com/openfroyo/deployer/pkg/environment"
)

// ProvisionByName provisions a Created environment, or retries a
// ProvisionFailed one.
func (o *Orchestrator) ProvisionByName(ctx context.Context, name environment.Name, listener ProgressListener) (environment.AnyEnvironment, error) {
	stored, err := o.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}

	var created environment.Environment[environment.Created]
	if stored.Stage() == environment.StageProvisionFailed {
		failed, err := environment.IntoTypedAs[environment.ProvisionFailed](stored)
		if err != nil {
			return environment.AnyEnvironment{}, err
		}
		o.retrying(stored, "provision")
		created = environment.RetryProvisioning(failed)
	} else if created, err = environment.IntoTypedAs[environment.Created](stored); err != nil {
		return environment.AnyEnvironment{}, err
	}

	provisioned, err := o.Provision(ctx, created, listener)
	return erasedResult(provisioned, err)
}

// ConfigureByName configures a Provisioned environment, or retries a
// ConfigureFailed one.
func (o *Orchestrator) ConfigureByName(ctx context.Context, name environment.Name, listener ProgressListener) (environment.AnyEnvironment, error) {
	stored, err := o.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}

	var provisioned environment.Environment[environment.Provisioned]
	if stored.Stage() == environment.StageConfigureFailed {
		failed, err := environment.IntoTypedAs[environment.ConfigureFailed](stored)
		if err != nil {
			return environment.AnyEnvironment{}, err
		}
		o.retrying(stored, "configure")
		provisioned = environment.RetryConfiguring(failed)
	} else if provisioned, err = environment.IntoTypedAs[environment.Provisioned](stored); err != nil {
		return environment.AnyEnvironment{}, err
	}

	configured, err := o.Configure(ctx, provisioned, listener)
	return erasedResult(configured, err)
}

// ReleaseByName releases a Configured environment, or retries a
// ReleaseFailed one.
func (o *Orchestrator) ReleaseByName(ctx context.Context, name environment.Name, listener ProgressListener) (environment.AnyEnvironment, error) {
	stored, err := o.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}

	var configured environment.Environment[environment.Configured]
	if stored.Stage() == environment.StageReleaseFailed {
		failed, err := environment.IntoTypedAs[environment.ReleaseFailed](stored)
		if err != nil {
			return environment.AnyEnvironment{}, err
		}
		o.retrying(stored, "release")
		configured = environment.RetryRelease(failed)
	} else if configured, err = environment.IntoTypedAs[environment.Configured](stored); err != nil {
		return environment.AnyEnvironment{}, err
	}

	released, err := o.Release(ctx, configured, listener)
	return erasedResult(released, err)
}

// RunByName runs a Released environment, or retries a RunFailed one.
func (o *Orchestrator) RunByName(ctx context.Context, name environment.Name, listener ProgressListener) (environment.AnyEnvironment, error) {
	stored, err := o.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}

	var released environment.Environment[environment.Released]
	if stored.Stage() == environment.StageRunFailed {
		failed, err := environment.IntoTypedAs[environment.RunFailed](stored)
		if err != nil {
			return environment.AnyEnvironment{}, err
		}
		o.retrying(stored, "run")
		released = environment.RetryRun(failed)
	} else if released, err = environment.IntoTypedAs[environment.Released](stored); err != nil {
		return environment.AnyEnvironment{}, err
	}

	running, err := o.Run(ctx, released, listener)
	return erasedResult(running, err)
}

// DestroyByName destroys a stored environment from whatever stage it is in.
func (o *Orchestrator) DestroyByName(ctx context.Context, name environment.Name, listener ProgressListener) (environment.AnyEnvironment, error) {
	stored, err := o.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}
	destroyed, err := o.Destroy(ctx, stored, listener)
	return erasedResult(destroyed, err)
}

// erasedResult converts a workflow result for callers that work with
// erased environments. A FailedError's environment is returned alongside it.
func erasedResult[S environment.State](env environment.Environment[S], err error) (environment.AnyEnvironment, error) {
	if err == nil {
		return env.Erase(), nil
	}
	var failed *FailedError
	if errors.As(err, &failed) {
		return failed.Environment, err
	}
	return environment.AnyEnvironment{}, err
}
