package workflow

import (
	"context"
	"path"

	"github.com/openfroyo/deployer/pkg/environment"
)

// Step names of the release workflow.
const (
	StepRenderReleaseTemplates   = "render_release_templates"
	StepCreateStorageDirectories = "create_storage_directories"
	StepUploadReleaseArtifacts   = "upload_release_artifacts"
	StepInitTrackerDatabase      = "init_tracker_database"
	StepPullImages               = "pull_images"
)

// Remote layout of a released application.
const (
	RemoteAppDir     = "/opt/torrust"
	remoteStorageDir = RemoteAppDir + "/storage"
	remoteDBDir      = remoteStorageDir + "/tracker/lib/database"
)

// Release deploys the application files and images to the instance.
func (o *Orchestrator) Release(ctx context.Context, env environment.Environment[environment.Configured], listener ProgressListener) (environment.Environment[environment.Released], error) {
	const workflow = "release"
	switch {
	case o.deps.Renderer == nil:
		return environment.Environment[environment.Released]{}, missingCollaborator(workflow, "renderer")
	case o.deps.Remote == nil:
		return environment.Environment[environment.Released]{}, missingCollaborator(workflow, "remote")
	case o.deps.Services == nil:
		return environment.Environment[environment.Released]{}, missingCollaborator(workflow, "services")
	}

	releasing := environment.BeginRelease(env)
	if err := o.enter(ctx, workflow, env.Erase(), releasing.Erase()); err != nil {
		return environment.Environment[environment.Released]{}, err
	}

	c := releasing.Context()
	ip := releasing.State().Instance.IP()
	x := o.start(ctx, workflow, c, listener)
	var artifacts string

	stepErr := x.runSteps([]Step{
		{
			Name:        StepRenderReleaseTemplates,
			Description: "Rendering release templates",
			Kind:        environment.ErrorKindTemplateRendering,
			Run: func(ctx context.Context) error {
				dir, err := o.deps.Renderer.RenderRelease(ctx, c, ip)
				artifacts = dir
				return err
			},
		},
		{
			Name:        StepCreateStorageDirectories,
			Description: "Creating storage directories",
			Kind:        environment.ErrorKindRelease,
			Run: func(ctx context.Context) error {
				return o.deps.Remote.Run(ctx, c, ip, "sudo mkdir -p "+
					path.Join(remoteStorageDir, "tracker/lib")+" "+
					path.Join(remoteStorageDir, "tracker/log")+" "+
					path.Join(remoteStorageDir, "tracker/etc")+
					" && sudo chown -R "+c.UserInputs.SSH.Username+" "+RemoteAppDir)
			},
		},
		{
			Name:        StepUploadReleaseArtifacts,
			Description: "Uploading release artifacts",
			Kind:        environment.ErrorKindRelease,
			Run: func(ctx context.Context) error {
				x.listener.OnDetail("Uploading " + artifacts + " to " + RemoteAppDir)
				return o.deps.Remote.Upload(ctx, c, ip, artifacts, RemoteAppDir)
			},
		},
		{
			Name:        StepInitTrackerDatabase,
			Description: "Initializing the tracker database",
			Kind:        environment.ErrorKindRelease,
			Run: func(ctx context.Context) error {
				if c.UserInputs.Tracker.Database != "sqlite3" {
					x.listener.OnDetail("Database " + c.UserInputs.Tracker.Database + " is initialized by its own container")
					return nil
				}
				return o.deps.Remote.Run(ctx, c, ip, "mkdir -p "+remoteDBDir+" && touch "+path.Join(remoteDBDir, "tracker.db"))
			},
		},
		{
			Name:        StepPullImages,
			Description: "Pulling container images",
			Kind:        environment.ErrorKindRelease,
			Run:         func(ctx context.Context) error { return o.deps.Services.Pull(ctx, c, ip) },
		},
	})

	if stepErr != nil {
		record := x.fail(stepErr)
		failed := environment.MarkReleaseFailed(releasing, record)
		o.persist(ctx, failed.Erase())
		return environment.Environment[environment.Released]{}, &FailedError{Environment: failed.Erase(), Record: record, Err: stepErr}
	}

	released := environment.MarkReleased(releasing)
	x.succeed()
	o.persist(ctx, released.Erase())
	return released, nil
}
