package stores

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/faults"
)

type countingObserver struct {
	contended atomic.Int32
	stale     atomic.Int32
}

func (o *countingObserver) LockContended(string)    { o.contended.Add(1) }
func (o *countingObserver) StaleLockRemoved(string) { o.stale.Add(1) }

// deadPID returns the PID of a child that has already exited and been reaped.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func writeLockFile(t *testing.T, path string, info LockInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")

	lock, err := AcquireLock(path, LockOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var info LockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.False(t, info.AcquiredAt.IsZero())

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, path)
	assert.NoError(t, lock.Release())
}

func TestAcquireHeldLockFailsImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")
	obs := &countingObserver{}

	held, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = AcquireLock(path, LockOptions{Observer: obs})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var lockErr *LockHeldError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, os.Getpid(), lockErr.PID)
	assert.Equal(t, held.Info().AcquiredAt, lockErr.AcquiredAt)
	assert.True(t, faults.IsConflict(err))
	assert.Contains(t, lockErr.Help(), "ps -p")
	assert.Equal(t, int32(1), obs.contended.Load())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")

	held, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = held.Release()
	}()

	lock, err := AcquireLock(path, LockOptions{Timeout: 5 * time.Second, RetryInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")

	held, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = AcquireLock(path, LockOptions{Timeout: 200 * time.Millisecond, RetryInterval: 20 * time.Millisecond})
	var lockErr *LockHeldError
	require.ErrorAs(t, err, &lockErr)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestStaleLockIsRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")
	pid := deadPID(t)
	writeLockFile(t, path, LockInfo{PID: pid, AcquiredAt: time.Now().Add(-time.Hour)})
	obs := &countingObserver{}

	lock, err := AcquireLock(path, LockOptions{Observer: obs})
	require.NoError(t, err)
	defer lock.Release()

	assert.Equal(t, os.Getpid(), lock.Info().PID)
	assert.Equal(t, int32(1), obs.stale.Load())
}

func TestConcurrentStaleLockBreakersAdmitOneHolder(t *testing.T) {
	pid := deadPID(t)
	// Slow liveness checks widen the window between deciding a lock is
	// stale and removing it.
	pidAlive = func(p int) bool {
		time.Sleep(time.Millisecond)
		return processAlive(p)
	}
	t.Cleanup(func() { pidAlive = processAlive })

	for i := 0; i < 20; i++ {
		path := filepath.Join(t.TempDir(), "environment.json.lock")
		writeLockFile(t, path, LockInfo{PID: pid, AcquiredAt: time.Now().Add(-time.Hour)})

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			locks []*FileLock
			held  atomic.Int32
		)
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lock, err := AcquireLock(path, LockOptions{})
				if err != nil {
					var lockErr *LockHeldError
					assert.ErrorAs(t, err, &lockErr)
					return
				}
				held.Add(1)
				mu.Lock()
				locks = append(locks, lock)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), held.Load(), "iteration %d", i)
		info, err := readLockInfo(path)
		require.NoError(t, err)
		assert.Equal(t, locks[0].Info(), info)
		assert.NoFileExists(t, path+breakSuffix)
		require.NoError(t, locks[0].Release())
	}
}

func TestStaleGuardFileIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")
	writeLockFile(t, path, LockInfo{PID: deadPID(t), AcquiredAt: time.Now().Add(-time.Hour)})
	require.NoError(t, os.WriteFile(path+breakSuffix, nil, 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path+breakSuffix, old, old))

	lock, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.Info().PID)
	require.NoError(t, lock.Release())
}

func TestUnreadableLockRespectsGrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json.lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := AcquireLock(path, LockOptions{})
	var lockErr *LockHeldError
	require.ErrorAs(t, err, &lockErr)
	assert.Zero(t, lockErr.PID)

	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	lock, err := AcquireLock(path, LockOptions{})
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(deadPID(t)))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
}
