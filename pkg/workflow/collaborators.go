package workflow

import (
	"context"
	"net/netip"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/stores"
)

// Repository stores environments. *stores.EnvironmentRepository implements it.
type Repository interface {
	Save(ctx context.Context, env environment.AnyEnvironment) error
	Load(ctx context.Context, name environment.Name) (environment.AnyEnvironment, bool, error)
	Exists(name environment.Name) (bool, error)
	Purge(ctx context.Context, name environment.Name) error
}

var _ Repository = (*stores.EnvironmentRepository)(nil)

// Renderer produces the artifact files the other collaborators consume.
type Renderer interface {
	// RenderInfrastructure writes the provisioning files into the build directory.
	RenderInfrastructure(ctx context.Context, env environment.Context) error

	// RenderConfiguration writes the inventory and variables for ip.
	RenderConfiguration(ctx context.Context, env environment.Context, ip netip.Addr) error

	// RenderRelease writes the release artifacts and returns their local directory.
	RenderRelease(ctx context.Context, env environment.Context, ip netip.Addr) (string, error)
}

// Provisioner creates and destroys the instance.
type Provisioner interface {
	Init(ctx context.Context, env environment.Context) error
	Validate(ctx context.Context, env environment.Context) error
	Plan(ctx context.Context, env environment.Context) error
	Apply(ctx context.Context, env environment.Context) error

	// InstanceIP returns the reachable address of the created instance.
	InstanceIP(ctx context.Context, env environment.Context) (netip.Addr, error)

	Destroy(ctx context.Context, env environment.Context) error
}

// Configurator applies software configuration to the instance.
type Configurator interface {
	WaitForCloudInit(ctx context.Context, env environment.Context) error
	RunPlaybook(ctx context.Context, env environment.Context, playbook string) error
}

// Remote runs commands on and copies files to the instance.
type Remote interface {
	WaitReachable(ctx context.Context, env environment.Context, ip netip.Addr) error
	Run(ctx context.Context, env environment.Context, ip netip.Addr, command string) error
	Upload(ctx context.Context, env environment.Context, ip netip.Addr, localDir, remoteDir string) error
}

// Services manages the containerized application on the instance.
type Services interface {
	Pull(ctx context.Context, env environment.Context, ip netip.Addr) error
	Up(ctx context.Context, env environment.Context, ip netip.Addr) error
	Healthy(ctx context.Context, env environment.Context, ip netip.Addr) error
}

// RunLog records workflow runs. *stores.SQLiteStore implements it.
type RunLog interface {
	CreateRun(ctx context.Context, run *stores.WorkflowRun) error
	FinishRun(ctx context.Context, id string, status stores.RunStatus, failedStep, errMsg, traceFile *string) error
}

var _ RunLog = (*stores.SQLiteStore)(nil)

// historyPurger is the optional part of a RunLog used by Purge.
type historyPurger interface {
	PurgeEnvironment(ctx context.Context, environment string) error
}
