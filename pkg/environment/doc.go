// Package environment models a deployment environment's lifecycle.
//
// An environment moves through a closed set of stages:
//
//	created -> provisioning -> provisioned -> configuring -> configured
//	        -> releasing -> released -> running
//
// with a failure stage for each workflow (provision_failed, configure_failed,
// release_failed, run_failed) and destroyed reachable from any stage.
//
// Environment[S] fixes the stage in the type. Transition functions such as
// BeginProvisioning or MarkProvisioned accept only the stage they leave from,
// so calling a workflow on an environment at the wrong stage does not compile.
// AnyEnvironment erases the stage for storage and inspection; IntoTypedAs
// recovers the typed form and reports a StageMismatchError when the stored
// stage differs from the requested one.
package environment
