package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/deployer/pkg/environment"
)

// DefaultWatchDebounce coalesces bursts of file events into one reload.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher reports stage changes of one stored environment.
type Watcher struct {
	repo     *EnvironmentRepository
	debounce time.Duration
}

// NewWatcher returns a watcher reading through repo.
func NewWatcher(repo *EnvironmentRepository) *Watcher {
	return &Watcher{repo: repo, debounce: DefaultWatchDebounce}
}

// Watch calls fn with the current environment, then again every time a save
// changes its stage. It blocks until ctx is done or fn returns an error.
// The environment directory must already exist.
func (w *Watcher) Watch(ctx context.Context, name environment.Name, fn func(environment.AnyEnvironment) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dir := w.repo.EnvironmentDir(name)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		last    environment.StageName
		pending <-chan time.Time
	)
	emit := func() error {
		env, found, err := w.repo.Load(ctx, name)
		var held *LockHeldError
		if errors.As(err, &held) {
			pending = time.After(w.debounce)
			return nil
		}
		if err != nil {
			w.repo.logger.Warn().Err(err).Str("environment", name.String()).Msg("Failed to reload watched environment")
			return nil
		}
		if !found || env.Stage() == last {
			return nil
		}
		last = env.Stage()
		return fn(env)
	}

	if err := emit(); err != nil {
		return err
	}

	statePath := w.repo.StatePath(name)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != statePath {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			if err := emit(); err != nil {
				return err
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.repo.logger.Warn().Err(err).Str("environment", name.String()).Msg("File watcher error")
		}
	}
}
