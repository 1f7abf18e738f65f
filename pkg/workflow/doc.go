// Package workflow sequences the steps that move an environment through its
// lifecycle: provision, configure, release, run and destroy.
//
// Each workflow takes a typed environment, persists its in-progress stage,
// runs a fixed list of steps against the collaborators in Dependencies, and
// persists the outcome. A failed step never unwinds: the environment moves to
// the matching failure stage with a FailureRecord, a trace file is written
// next to the state file, and the failure-stage environment is returned
// inside a *FailedError.
//
// The *ByName entry points load an environment from the repository, accept
// either the workflow's source stage or its failure stage (which is retried),
// and return the result in erased form for the CLI.
package workflow
