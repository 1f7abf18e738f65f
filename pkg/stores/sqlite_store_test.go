package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/deployer/pkg/faults"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"transitions", "workflow_runs", "events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestOpenSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "deployer.db")

	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.AppendTransition(ctx, &Transition{Environment: "demo", To: "created"}); err != nil {
		t.Fatalf("failed to append transition: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	transitions, err := reopened.ListTransitions(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition after reopen, got %d", len(transitions))
	}
}

// TestTransitions tests appending and listing transitions
func TestTransitions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		from *string
		to   string
	}{
		{nil, "created"},
		{strPtr("created"), "provisioning"},
		{strPtr("provisioning"), "provisioned"},
	}
	for i, s := range steps {
		tr := &Transition{
			Environment: "demo",
			From:        s.from,
			To:          s.to,
			PID:         4242,
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendTransition(ctx, tr); err != nil {
			t.Fatalf("failed to append transition: %v", err)
		}
		if tr.ID == 0 {
			t.Error("expected transition ID to be assigned")
		}
	}
	if err := store.AppendTransition(ctx, &Transition{Environment: "other", To: "created"}); err != nil {
		t.Fatalf("failed to append transition: %v", err)
	}

	all, err := store.ListTransitions(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(all))
	}
	if all[0].To != "provisioned" {
		t.Errorf("expected newest transition first, got %s", all[0].To)
	}
	if all[2].From != nil {
		t.Errorf("expected first transition to have no source stage, got %v", *all[2].From)
	}
	if !all[0].RecordedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("unexpected recorded_at %v", all[0].RecordedAt)
	}

	limited, err := store.ListTransitions(ctx, "demo", 2)
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 transitions, got %d", len(limited))
	}
}

// TestWorkflowRuns tests workflow run operations
func TestWorkflowRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := &WorkflowRun{
		ID:          "run-1",
		Environment: "demo",
		Workflow:    "provision",
		Status:      RunStatusRunning,
		StartedAt:   now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusRunning || got.CompletedAt != nil {
		t.Errorf("unexpected fresh run: %+v", got)
	}

	if err := store.FinishRun(ctx, "run-1", RunStatusRunning, nil, nil, nil); err == nil {
		t.Error("expected error finishing with a non-final status")
	}

	step, msg, trace := "opentofu_validate", "timeout", "data/demo/traces/x-provision.log"
	if err := store.FinishRun(ctx, "run-1", RunStatusFailed, &step, &msg, &trace); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got.FailedStep == nil || *got.FailedStep != step {
		t.Errorf("expected failed step %s, got %v", step, got.FailedStep)
	}
	if got.TraceFile == nil || *got.TraceFile != trace {
		t.Errorf("expected trace file %s, got %v", trace, got.TraceFile)
	}

	if err := store.CreateRun(ctx, &WorkflowRun{
		ID: "run-2", Environment: "other", Workflow: "configure", Status: RunStatusRunning, StartedAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	all, err := store.ListRuns(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 2 || all[0].ID != "run-2" {
		t.Errorf("expected 2 runs newest first, got %d", len(all))
	}

	demo := "demo"
	filtered, err := store.ListRuns(ctx, &demo, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "run-1" {
		t.Errorf("expected only run-1 for demo, got %d runs", len(filtered))
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	var ferr *faults.Error
	if !errors.As(err, &ferr) || ferr.Code != faults.CodeNotFound {
		t.Errorf("expected NOT_FOUND error, got %v", err)
	}

	if err := store.FinishRun(ctx, "missing", RunStatusSucceeded, nil, nil, nil); err == nil {
		t.Error("expected error finishing a missing run")
	}
}

// TestEventOperations tests event log operations
func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := "run-1"
	if err := store.CreateRun(ctx, &WorkflowRun{
		ID: runID, Environment: "demo", Workflow: "provision", Status: RunStatusRunning, StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	events := []*Event{
		{RunID: &runID, Environment: "demo", Workflow: "provision", Type: "step.started", Level: EventLevelInfo, Message: "Rendering infrastructure templates"},
		{RunID: &runID, Environment: "demo", Workflow: "provision", Type: "step.detail", Level: EventLevelDebug, Message: "tofu init"},
		{RunID: &runID, Environment: "demo", Workflow: "provision", Type: "step.failed", Level: EventLevelError, Message: "timeout", Data: strPtr(`{"step":3}`)},
	}
	for _, e := range events {
		e.Timestamp = time.Now().UTC()
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be assigned")
		}
	}

	got, err := store.GetEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != "step.started" {
		t.Errorf("expected insertion order, got %s first", got[0].Type)
	}

	level := EventLevelError
	errorsOnly, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Data == nil {
		t.Errorf("expected one error event with data, got %d", len(errorsOnly))
	}
}

func TestPurgeEnvironment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, env := range []string{"demo", "other"} {
		runID := env + "-run"
		if err := store.AppendTransition(ctx, &Transition{Environment: env, To: "created"}); err != nil {
			t.Fatalf("failed to append transition: %v", err)
		}
		if err := store.CreateRun(ctx, &WorkflowRun{ID: runID, Environment: env, Workflow: "destroy", Status: RunStatusRunning, StartedAt: now}); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if err := store.AppendEvent(ctx, &Event{RunID: &runID, Environment: env, Workflow: "destroy", Type: "step.started", Level: EventLevelInfo, Message: "x", Timestamp: now}); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	if err := store.PurgeEnvironment(ctx, "demo"); err != nil {
		t.Fatalf("failed to purge: %v", err)
	}

	if tr, _ := store.ListTransitions(ctx, "demo", 0); len(tr) != 0 {
		t.Errorf("expected no transitions for demo, got %d", len(tr))
	}
	if tr, _ := store.ListTransitions(ctx, "other", 0); len(tr) != 1 {
		t.Errorf("expected other's history to survive, got %d transitions", len(tr))
	}
	if runs, _ := store.ListRuns(ctx, nil, 10, 0); len(runs) != 1 {
		t.Errorf("expected 1 remaining run, got %d", len(runs))
	}
	if evs, _ := store.GetEvents(ctx, nil, nil, 10, 0); len(evs) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(evs))
	}
}
