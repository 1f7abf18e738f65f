package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

// Dependencies are the collaborators of an Orchestrator. Only Repository is
// required; a workflow fails before touching state when a collaborator it
// needs is missing.
type Dependencies struct {
	Repository   Repository
	Renderer     Renderer
	Provisioner  Provisioner
	Configurator Configurator
	Remote       Remote
	Services     Services

	// RunLog records every workflow run. Optional.
	RunLog RunLog

	// Telemetry defaults to telemetry.NewNop().
	Telemetry *telemetry.Telemetry

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs lifecycle workflows.
type Orchestrator struct {
	deps   Dependencies
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Repository == nil {
		return nil, errors.New("workflow: repository is required")
	}
	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}
	clock := deps.Now
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		deps:   deps,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("workflow"),
		// UTC drops the monotonic reading, so stored times compare equal
		// after a reload.
		now: func() time.Time { return clock().UTC() },
	}, nil
}

// Create stores a new environment. It fails if one with the same name exists.
func (o *Orchestrator) Create(ctx context.Context, envCtx environment.Context) (environment.Environment[environment.Created], error) {
	name := envCtx.Name()
	exists, err := o.deps.Repository.Exists(name)
	if err != nil {
		return environment.Environment[environment.Created]{}, err
	}
	if exists {
		return environment.Environment[environment.Created]{}, faults.New(faults.ClassConflict, faults.CodeAlreadyExists,
			fmt.Sprintf("environment %s already exists", name), nil).
			WithEnvironment(name.String()).
			WithOperation("create").
			WithHint("Choose another name, or run 'deployer destroy' and 'deployer purge' on the existing environment first.")
	}

	env, err := environment.New(envCtx)
	if err != nil {
		return environment.Environment[environment.Created]{}, faults.New(faults.ClassPermanent, faults.CodeValidation,
			"invalid environment configuration", err).WithEnvironment(name.String())
	}
	if err := o.deps.Repository.Save(ctx, env.Erase()); err != nil {
		return environment.Environment[environment.Created]{}, err
	}

	o.logger.WithEnvironment(name.String()).Info("Environment created")
	return env, nil
}

// Load returns a stored environment or a NOT_FOUND error.
func (o *Orchestrator) Load(ctx context.Context, name environment.Name) (environment.AnyEnvironment, error) {
	env, found, err := o.deps.Repository.Load(ctx, name)
	if err != nil {
		return environment.AnyEnvironment{}, err
	}
	if !found {
		return environment.AnyEnvironment{}, notFound(name)
	}
	return env, nil
}

// enter validates a workflow's input and persists its in-progress stage, if
// the workflow has one. Unlike the saves that follow, a failure here aborts
// the workflow before any external step runs.
func (o *Orchestrator) enter(ctx context.Context, workflow string, input, inProgress environment.AnyEnvironment) error {
	if err := input.Validate(); err != nil {
		return err
	}
	if inProgress.IsZero() {
		return nil
	}
	if err := o.deps.Repository.Save(ctx, inProgress); err != nil {
		o.tel.Metrics.RecordError(err)
		o.logger.WithEnvironment(inProgress.Name().String()).
			WithField("workflow", workflow).
			WithError(err).
			Error("Failed to record workflow start; nothing was run")
		return err
	}
	return nil
}

// persist saves env. A failure is logged and counted but not returned: the
// in-memory transition stays authoritative and the next save catches up.
func (o *Orchestrator) persist(ctx context.Context, env environment.AnyEnvironment) {
	if err := o.deps.Repository.Save(ctx, env); err != nil {
		o.tel.Metrics.RecordError(err)
		o.logger.WithEnvironment(env.Name().String()).
			WithError(err).
			WithField("stage", env.Stage().String()).
			Error("Failed to persist environment state; continuing")
	}
}

// retrying logs that a failure-stage environment is being retried.
func (o *Orchestrator) retrying(failed environment.AnyEnvironment, workflow string) {
	logger := o.logger.WithEnvironment(failed.Name().String()).WithField("workflow", workflow)
	if record, ok := failed.Failure(); ok {
		logger = logger.WithField("failed_step", record.Step)
	}
	logger.Info("Retrying failed workflow")
}
