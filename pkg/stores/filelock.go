package stores

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	// DefaultLockRetryInterval is how often a blocked acquisition re-checks the lock.
	DefaultLockRetryInterval = 100 * time.Millisecond

	// lockWriteGrace is how long an unreadable lock file is assumed to be
	// mid-creation by its owner before it is treated as stale.
	lockWriteGrace = 2 * time.Second

	// breakSuffix names the guard file held while a stale lock is removed.
	breakSuffix = ".break"

	guardRetryInterval = time.Millisecond
)

// LockInfo is the content of a lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockOptions configures lock acquisition.
type LockOptions struct {
	// Timeout is how long to wait for a live holder. Zero fails immediately.
	Timeout time.Duration

	// RetryInterval is the polling interval while waiting.
	RetryInterval time.Duration

	// Logger receives stale-lock and contention messages.
	Logger zerolog.Logger

	// Observer, if set, is told about contention and stale locks.
	Observer LockObserver
}

// LockObserver is notified of lock events, typically to count them.
type LockObserver interface {
	LockContended(path string)
	StaleLockRemoved(path string)
}

// FileLock is an advisory, cross-process lock backed by a file that records
// the owner's PID. A lock whose owner no longer runs is stale and is removed
// by the next acquirer.
type FileLock struct {
	path     string
	info     LockInfo
	released bool
	mu       sync.Mutex
}

// pidAlive reports whether a process exists. Replaced in tests.
var pidAlive = processAlive

// AcquireLock takes the lock at path on behalf of the current process.
func AcquireLock(path string, opts LockOptions) (*FileLock, error) {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultLockRetryInterval
	}
	deadline := time.Now().Add(opts.Timeout)
	info := LockInfo{PID: os.Getpid()}
	contended := false

	for {
		info.AcquiredAt = time.Now().UTC()
		created, err := tryCreateLock(path, info)
		if err != nil {
			return nil, err
		}
		if created {
			opts.Logger.Debug().Str("lock", path).Int("pid", info.PID).Msg("Lock acquired")
			return &FileLock{path: path, info: info}, nil
		}

		holder, readErr := readLockInfo(path)
		switch {
		case errors.Is(readErr, fs.ErrNotExist):
			// Released between our create attempt and the read.
			continue

		case readErr != nil && !lockOlderThan(path, lockWriteGrace):
			holder = LockInfo{}

		case readErr != nil || !pidAlive(holder.PID):
			if err := breakStaleLock(path, opts); err != nil {
				return nil, err
			}
			continue
		}

		if !contended {
			contended = true
			if opts.Observer != nil {
				opts.Observer.LockContended(path)
			}
		}
		if !time.Now().Before(deadline) {
			return nil, &LockHeldError{Path: path, PID: holder.PID, AcquiredAt: holder.AcquiredAt}
		}
		opts.Logger.Debug().Str("lock", path).Int("holder_pid", holder.PID).Msg("Waiting for lock")
		time.Sleep(opts.RetryInterval)
	}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Info returns what was written to the lock file.
func (l *FileLock) Info() LockInfo {
	return l.info
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("release lock", l.path, err)
	}
	return nil
}

func tryCreateLock(path string, info LockInfo) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("create lock", path, err)
	}

	data, _ := json.Marshal(info)
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return false, storageErr("write lock", path, err)
	}
	return true, nil
}

func readLockInfo(path string) (LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LockInfo{}, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, err
	}
	if info.PID <= 0 {
		return LockInfo{}, errors.New("lock file has no valid pid")
	}
	return info, nil
}

func lockOlderThan(path string, age time.Duration) bool {
	st, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(st.ModTime()) > age
}

// breakStaleLock removes the lock at path if, re-read while holding the
// sibling guard file, it still names a dead holder or is still unreadable
// past the grace period. Only one process breaks a lock at a time, so a
// lock re-created by a live acquirer in the meantime is never removed.
func breakStaleLock(path string, opts LockOptions) error {
	guard := path + breakSuffix
	f, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		if lockOlderThan(guard, lockWriteGrace) {
			// Left behind by a process that died while breaking the lock.
			_ = os.Remove(guard)
		} else {
			time.Sleep(guardRetryInterval)
		}
		return nil
	}
	if err != nil {
		return storageErr("create lock guard", guard, err)
	}
	_ = f.Close()
	defer os.Remove(guard)

	holder, err := readLockInfo(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		if !lockOlderThan(path, lockWriteGrace) {
			return nil
		}
		opts.Logger.Warn().Err(err).Str("lock", path).Msg("Removing unreadable lock file")
	case pidAlive(holder.PID):
		return nil
	default:
		opts.Logger.Warn().
			Str("lock", path).
			Int("stale_pid", holder.PID).
			Msg("Removing stale lock left by a process that is no longer running")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("remove stale lock", path, err)
	}
	if opts.Observer != nil {
		opts.Observer.StaleLockRemoved(path)
	}
	return nil
}

// processAlive checks pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
