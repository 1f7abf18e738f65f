package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/environment/environmenttest"
)

func TestWatcherReportsStageChanges(t *testing.T) {
	repo, root := newTestRepository(t, WithLockTimeout(5*time.Second), WithLockRetryInterval(10*time.Millisecond))
	created := environmenttest.Created(t, "demo", root)
	require.NoError(t, repo.Save(context.Background(), created.Erase()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(repo)
	w.debounce = 20 * time.Millisecond

	stages := make(chan environment.StageName, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, "demo", func(env environment.AnyEnvironment) error {
			stages <- env.Stage()
			return nil
		})
	}()

	expect := func(want environment.StageName) {
		t.Helper()
		select {
		case got := <-stages:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for stage %s", want)
		}
	}

	expect(environment.StageCreated)

	require.NoError(t, repo.Save(context.Background(), environment.BeginProvisioning(created).Erase()))
	expect(environment.StageProvisioning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
