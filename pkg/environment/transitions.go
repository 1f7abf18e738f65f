package environment

import "time"

// The functions below are the only way to change an environment's stage.
// Each accepts exactly the stage it leaves from, so an invalid transition is
// a compile error rather than a runtime check.

// BeginProvisioning marks the start of the provision workflow.
func BeginProvisioning(e Environment[Created]) Environment[Provisioning] {
	return Environment[Provisioning]{context: e.context}
}

// MarkProvisioned records the provisioned instance.
func MarkProvisioned(e Environment[Provisioning], inst Instance) Environment[Provisioned] {
	return Environment[Provisioned]{context: e.context, state: Provisioned{Instance: inst}}
}

// MarkProvisionFailed records a failed provision workflow.
func MarkProvisionFailed(e Environment[Provisioning], failure FailureRecord) Environment[ProvisionFailed] {
	return Environment[ProvisionFailed]{context: e.context, state: ProvisionFailed{Failure: failure}}
}

// BeginConfiguring marks the start of the configure workflow.
func BeginConfiguring(e Environment[Provisioned]) Environment[Configuring] {
	return Environment[Configuring]{context: e.context, state: Configuring(e.state)}
}

// MarkConfigured records a successful configure workflow.
func MarkConfigured(e Environment[Configuring]) Environment[Configured] {
	return Environment[Configured]{context: e.context, state: Configured(e.state)}
}

// MarkConfigureFailed records a failed configure workflow.
func MarkConfigureFailed(e Environment[Configuring], failure FailureRecord) Environment[ConfigureFailed] {
	return Environment[ConfigureFailed]{
		context: e.context,
		state:   ConfigureFailed{Instance: e.state.Instance, Failure: failure},
	}
}

// BeginRelease marks the start of the release workflow.
func BeginRelease(e Environment[Configured]) Environment[Releasing] {
	return Environment[Releasing]{context: e.context, state: Releasing(e.state)}
}

// MarkReleased records a successful release workflow.
func MarkReleased(e Environment[Releasing]) Environment[Released] {
	return Environment[Released]{context: e.context, state: Released(e.state)}
}

// MarkReleaseFailed records a failed release workflow.
func MarkReleaseFailed(e Environment[Releasing], failure FailureRecord) Environment[ReleaseFailed] {
	return Environment[ReleaseFailed]{
		context: e.context,
		state:   ReleaseFailed{Instance: e.state.Instance, Failure: failure},
	}
}

// StartRunning records that the services were started and verified.
func StartRunning(e Environment[Released], startedAt time.Time) Environment[Running] {
	return Environment[Running]{
		context: e.context,
		state:   Running{Instance: e.state.Instance, StartedAt: startedAt.UTC()},
	}
}

// MarkRunFailed records a failed run workflow. The run workflow has no
// in-progress stage, so it fails straight from Released.
func MarkRunFailed(e Environment[Released], failure FailureRecord) Environment[RunFailed] {
	return Environment[RunFailed]{
		context: e.context,
		state:   RunFailed{Instance: e.state.Instance, Failure: failure},
	}
}

// Destroy is valid from every stage.
func Destroy[S State](e Environment[S], destroyedAt time.Time) Environment[Destroyed] {
	return Environment[Destroyed]{context: e.context, state: Destroyed{DestroyedAt: destroyedAt.UTC()}}
}

// RetryProvisioning returns a new Created environment for a failed
// provision. The failed value is left untouched.
func RetryProvisioning(e Environment[ProvisionFailed]) Environment[Created] {
	return Environment[Created]{context: e.context}
}

// RetryConfiguring returns a new Provisioned environment for a failed configure.
func RetryConfiguring(e Environment[ConfigureFailed]) Environment[Provisioned] {
	return Environment[Provisioned]{context: e.context, state: Provisioned{Instance: e.state.Instance}}
}

// RetryRelease returns a new Configured environment for a failed release.
func RetryRelease(e Environment[ReleaseFailed]) Environment[Configured] {
	return Environment[Configured]{context: e.context, state: Configured{Instance: e.state.Instance}}
}

// RetryRun returns a new Released environment for a failed run.
func RetryRun(e Environment[RunFailed]) Environment[Released] {
	return Environment[Released]{context: e.context, state: Released{Instance: e.state.Instance}}
}

// DestroyAny destroys an environment whose stage is known only at runtime.
func DestroyAny(a AnyEnvironment, destroyedAt time.Time) (Environment[Destroyed], error) {
	if a.IsZero() {
		return Environment[Destroyed]{}, &InvalidStateError{Reason: "no environment"}
	}
	return Environment[Destroyed]{context: a.Context(), state: Destroyed{DestroyedAt: destroyedAt.UTC()}}, nil
}
