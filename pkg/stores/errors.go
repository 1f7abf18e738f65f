package stores

import (
	"fmt"
	"time"

	"github.com/openfroyo/deployer/pkg/faults"
)

// LockHeldError is returned when a live process holds the environment lock.
type LockHeldError struct {
	Path       string
	PID        int
	AcquiredAt time.Time
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("lock %s is being acquired by another process", e.Path)
	}
	return fmt.Sprintf("lock %s is held by process %d", e.Path, e.PID)
}

// FaultClass classifies the error for faults.ClassOf.
func (e *LockHeldError) FaultClass() faults.Class {
	return faults.ClassConflict
}

// Help returns troubleshooting text.
func (e *LockHeldError) Help() string {
	since := "an unknown time"
	if !e.AcquiredAt.IsZero() {
		since = e.AcquiredAt.Format(time.RFC3339)
	}
	return fmt.Sprintf(`Another deployer process (PID %d) has been working on this environment since %s.

1. Wait for that command to finish, then run yours again.
2. Check the process with 'ps -p %d'.
3. If the process is gone the lock is cleared automatically on the next attempt.
   Do not delete %s while the process is alive.`, e.PID, since, e.PID, e.Path)
}

// StorageError wraps an I/O failure on the state store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// FaultClass classifies the error for faults.ClassOf.
func (e *StorageError) FaultClass() faults.Class {
	return faults.ClassTransient
}

// Help returns troubleshooting text.
func (e *StorageError) Help() string {
	return fmt.Sprintf(`The deployer could not %s %s.

1. Check free disk space and permissions on the data directory.
2. Make sure no other tool is modifying the file.
3. Re-run the command; the state file is only ever replaced atomically.`, e.Op, e.Path)
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}
