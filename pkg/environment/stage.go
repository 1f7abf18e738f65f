package environment

import "fmt"

// StageName identifies a lifecycle stage in persisted documents, logs and
// metrics.
type StageName string

const (
	// StageCreated indicates the environment exists only as local state.
	StageCreated StageName = "created"

	// StageProvisioning indicates infrastructure creation is in progress.
	StageProvisioning StageName = "provisioning"

	// StageProvisioned indicates the instance exists and is reachable.
	StageProvisioned StageName = "provisioned"

	// StageConfiguring indicates software configuration is in progress.
	StageConfiguring StageName = "configuring"

	// StageConfigured indicates the instance has its system software installed.
	StageConfigured StageName = "configured"

	// StageReleasing indicates the application release is being deployed.
	StageReleasing StageName = "releasing"

	// StageReleased indicates the application is deployed but not started.
	StageReleased StageName = "released"

	// StageRunning indicates the application services are up.
	StageRunning StageName = "running"

	// StageDestroyed indicates the infrastructure was torn down.
	StageDestroyed StageName = "destroyed"

	// StageProvisionFailed indicates the provision workflow failed.
	StageProvisionFailed StageName = "provision_failed"

	// StageConfigureFailed indicates the configure workflow failed.
	StageConfigureFailed StageName = "configure_failed"

	// StageReleaseFailed indicates the release workflow failed.
	StageReleaseFailed StageName = "release_failed"

	// StageRunFailed indicates the run workflow failed.
	StageRunFailed StageName = "run_failed"
)

// allStages lists every stage, success stages in forward order first.
var allStages = [...]StageName{
	StageCreated,
	StageProvisioning,
	StageProvisioned,
	StageConfiguring,
	StageConfigured,
	StageReleasing,
	StageReleased,
	StageRunning,
	StageDestroyed,
	StageProvisionFailed,
	StageConfigureFailed,
	StageReleaseFailed,
	StageRunFailed,
}

// Stages returns every lifecycle stage.
func Stages() []StageName {
	out := make([]StageName, len(allStages))
	copy(out, allStages[:])
	return out
}

// String implements fmt.Stringer.
func (s StageName) String() string {
	return string(s)
}

// Validate checks if the stage name is one of the known stages.
func (s StageName) Validate() error {
	for _, known := range allStages {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid stage: %q", string(s))
}

// IsFailure returns true for the four failure stages.
func (s StageName) IsFailure() bool {
	switch s {
	case StageProvisionFailed, StageConfigureFailed, StageReleaseFailed, StageRunFailed:
		return true
	default:
		return false
	}
}

// IsSuccess returns true for known stages that are not failure stages.
func (s StageName) IsSuccess() bool {
	return s.Validate() == nil && !s.IsFailure()
}

// IsTerminal returns true if no workflow moves the environment forward from
// this stage. Failure stages only leave through an explicit retry.
func (s StageName) IsTerminal() bool {
	return s == StageRunning || s == StageDestroyed || s.IsFailure()
}

// IsInProgress returns true for the stages a workflow holds while its steps run.
func (s StageName) IsInProgress() bool {
	switch s {
	case StageProvisioning, StageConfiguring, StageReleasing:
		return true
	default:
		return false
	}
}

// MayHaveInfrastructure reports whether remote resources may exist at this
// stage, which decides whether destroy has anything to tear down.
func (s StageName) MayHaveInfrastructure() bool {
	switch s {
	case StageCreated, StageDestroyed:
		return false
	default:
		return s.Validate() == nil
	}
}
