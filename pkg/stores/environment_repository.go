package stores

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/environment"
)

const (
	// StateFileName is the per-environment state document.
	StateFileName = "environment.json"

	lockSuffix = ".lock"
	stateMode  = 0o600
	dirMode    = 0o755
)

// RepositoryObserver is told about repository activity, typically to count it.
type RepositoryObserver interface {
	LockObserver
	EnvironmentSaved(name string, from, to environment.StageName)
}

// RepositoryOption configures an EnvironmentRepository.
type RepositoryOption func(*EnvironmentRepository)

// WithLockTimeout sets how long Save and Load wait for a live lock holder.
func WithLockTimeout(d time.Duration) RepositoryOption {
	return func(r *EnvironmentRepository) { r.lockTimeout = d }
}

// WithLockRetryInterval sets the lock polling interval.
func WithLockRetryInterval(d time.Duration) RepositoryOption {
	return func(r *EnvironmentRepository) { r.retryInterval = d }
}

// WithTransitionLog records a transition for every Save.
func WithTransitionLog(log TransitionLog) RepositoryOption {
	return func(r *EnvironmentRepository) { r.transitions = log }
}

// WithLogger sets the repository logger.
func WithLogger(logger zerolog.Logger) RepositoryOption {
	return func(r *EnvironmentRepository) {
		r.logger = logger.With().Str("component", "environment-repository").Logger()
	}
}

// WithObserver registers an observer.
func WithObserver(o RepositoryObserver) RepositoryOption {
	return func(r *EnvironmentRepository) { r.observer = o }
}

// EnvironmentRepository stores one JSON document per environment under
// <base>/<name>/environment.json. Every read and write happens under the
// environment's lock file, and writes replace the document atomically.
type EnvironmentRepository struct {
	base          string
	lockTimeout   time.Duration
	retryInterval time.Duration
	transitions   TransitionLog
	observer      RepositoryObserver
	logger        zerolog.Logger
}

// NewEnvironmentRepository returns a repository rooted at base.
func NewEnvironmentRepository(base string, opts ...RepositoryOption) *EnvironmentRepository {
	r := &EnvironmentRepository{
		base:          base,
		retryInterval: DefaultLockRetryInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Base returns the repository root directory.
func (r *EnvironmentRepository) Base() string {
	return r.base
}

// EnvironmentDir returns the directory holding an environment's data.
func (r *EnvironmentRepository) EnvironmentDir(name environment.Name) string {
	return filepath.Join(r.base, name.String())
}

// StatePath returns the state file path of an environment.
func (r *EnvironmentRepository) StatePath(name environment.Name) string {
	return filepath.Join(r.EnvironmentDir(name), StateFileName)
}

func (r *EnvironmentRepository) lockPath(name environment.Name) string {
	return r.StatePath(name) + lockSuffix
}

func (r *EnvironmentRepository) acquire(name environment.Name) (*FileLock, error) {
	return AcquireLock(r.lockPath(name), LockOptions{
		Timeout:       r.lockTimeout,
		RetryInterval: r.retryInterval,
		Logger:        r.logger,
		Observer:      r.observer,
	})
}

// Save validates env and atomically replaces its stored document.
// A transition record is appended afterwards; failing to append it is
// logged and does not fail the save.
func (r *EnvironmentRepository) Save(ctx context.Context, env environment.AnyEnvironment) (err error) {
	if err := env.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return storageErr("encode", r.StatePath(env.Name()), err)
	}
	data = append(data, '\n')

	name := env.Name()
	dir := r.EnvironmentDir(name)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return storageErr("create directory", dir, err)
	}

	lock, err := r.acquire(name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	path := r.StatePath(name)
	from, hadPrevious := peekStage(path)
	if err := writeFileAtomic(path, data, stateMode); err != nil {
		return err
	}

	r.logger.Debug().
		Str("environment", name.String()).
		Str("from", string(from)).
		Str("to", string(env.Stage())).
		Msg("Environment state persisted")
	if r.observer != nil {
		r.observer.EnvironmentSaved(name.String(), from, env.Stage())
	}

	r.recordTransition(ctx, name, from, hadPrevious, env.Stage(), lock.Info().PID)
	return nil
}

func (r *EnvironmentRepository) recordTransition(ctx context.Context, name environment.Name, from environment.StageName, hadPrevious bool, to environment.StageName, pid int) {
	if r.transitions == nil {
		return
	}
	t := &Transition{
		Environment: name.String(),
		To:          string(to),
		PID:         pid,
		RecordedAt:  time.Now().UTC(),
	}
	if hadPrevious {
		f := string(from)
		t.From = &f
	}
	if err := r.transitions.AppendTransition(ctx, t); err != nil {
		r.logger.Warn().
			Err(err).
			Str("environment", name.String()).
			Str("to", string(to)).
			Msg("Failed to record transition; state was saved")
	}
}

// Load reads an environment. found is false when nothing is stored under name.
func (r *EnvironmentRepository) Load(_ context.Context, name environment.Name) (env environment.AnyEnvironment, found bool, err error) {
	if err := name.Validate(); err != nil {
		return environment.AnyEnvironment{}, false, err
	}
	if _, err := os.Stat(r.EnvironmentDir(name)); errors.Is(err, fs.ErrNotExist) {
		return environment.AnyEnvironment{}, false, nil
	}

	lock, err := r.acquire(name)
	if err != nil {
		return environment.AnyEnvironment{}, false, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	path := r.StatePath(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return environment.AnyEnvironment{}, false, nil
	}
	if err != nil {
		return environment.AnyEnvironment{}, false, storageErr("read", path, err)
	}

	if err := json.Unmarshal(data, &env); err != nil {
		return environment.AnyEnvironment{}, false, err
	}
	if env.Name() != name {
		return environment.AnyEnvironment{}, false, &environment.InvalidStateError{
			Stage:  env.Stage(),
			Reason: "stored under " + name.String() + " but named " + env.Name().String(),
		}
	}
	return env, true, nil
}

// Exists reports whether a state file is stored under name. It does not lock.
func (r *EnvironmentRepository) Exists(name environment.Name) (bool, error) {
	path := r.StatePath(name)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("stat", path, err)
	}
}

// Delete removes the state file and, if nothing else remains, the
// environment directory. Deleting an absent environment succeeds.
func (r *EnvironmentRepository) Delete(_ context.Context, name environment.Name) (err error) {
	dir := r.EnvironmentDir(name)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	lock, err := r.acquire(name)
	if err != nil {
		return err
	}

	path := r.StatePath(name)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		_ = lock.Release()
		return storageErr("delete", path, rmErr)
	}
	if err := lock.Release(); err != nil {
		return err
	}

	// Fails harmlessly when traces or other data remain.
	if rmErr := os.Remove(dir); rmErr == nil {
		r.logger.Debug().Str("environment", name.String()).Msg("Removed empty environment directory")
	}
	return nil
}

// Purge removes the environment's whole data directory, traces included.
func (r *EnvironmentRepository) Purge(ctx context.Context, name environment.Name) error {
	if err := r.Delete(ctx, name); err != nil {
		return err
	}
	dir := r.EnvironmentDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return storageErr("purge", dir, err)
	}
	return nil
}

// List returns the names of all stored environments in lexical order.
func (r *EnvironmentRepository) List() ([]environment.Name, error) {
	entries, err := os.ReadDir(r.base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("list", r.base, err)
	}

	var names []environment.Name
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := environment.ParseName(e.Name())
		if err != nil {
			continue
		}
		if ok, _ := r.Exists(name); ok {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

// peekStage reads the stage of an existing document without validating it.
func peekStage(path string) (environment.StageName, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var doc struct {
		Stage environment.StageName `json:"stage"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	return doc.Stage, true
}
