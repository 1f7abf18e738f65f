package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	return m
}

func TestWorkflowMetrics(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordWorkflowStarted("provision")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWorkflows))

	m.RecordWorkflowCompleted("provision", "failed", 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeWorkflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowsCompleted.WithLabelValues("provision", "failed")))

	m.RecordStep("provision", "opentofu_init", "succeeded", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsExecuted.WithLabelValues("provision", "opentofu_init", "succeeded")))
}

func TestRepositoryObserverMetrics(t *testing.T) {
	m := newTestMetrics(t)

	m.LockContended("x.lock")
	m.StaleLockRemoved("x.lock")
	m.StaleLockRemoved("x.lock")
	m.EnvironmentSaved("demo", "", environment.StageCreated)
	m.EnvironmentSaved("demo", environment.StageCreated, environment.StageProvisioning)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockContentions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.staleLocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("none", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("created", "provisioning")))
}

func TestObserveStageKeepsOneSeriesPerEnvironment(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveStage("demo", environment.StageProvisioning)
	m.ObserveStage("demo", environment.StageProvisioned)
	m.ObserveStage("other", environment.StageCreated)

	assert.Equal(t, 2, testutil.CollectAndCount(m.stage))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stage.WithLabelValues("demo", "provisioned")))
}

func TestRecordErrorUsesFaultClass(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError(faults.New(faults.ClassConflict, faults.CodeLockHeld, "held", nil))
	m.RecordError(errors.New("plain"))
	m.RecordError(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByClass.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsByClass.WithLabelValues("unclassified")))
}

func TestWriteTextfile(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTraceFile("provision")

	path := filepath.Join(t.TempDir(), "deployer.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `deployer_trace_files_written_total{workflow="provision"} 1`)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, m.Enabled())
	m.RecordWorkflowStarted("provision")
	m.LockContended("x")
	m.EnvironmentSaved("demo", "", environment.StageCreated)
	m.ObserveStage("demo", environment.StageCreated)
	path := filepath.Join(t.TempDir(), "x.prom")
	assert.NoError(t, m.WriteTextfile(path))
	assert.NoFileExists(t, path)
}
