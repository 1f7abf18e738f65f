package environment

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func testContext(t *testing.T, name string) Context {
	t.Helper()
	ctx, err := NewContext(UserInputs{
		Name:     MustParseName(name),
		Provider: ProviderSettings{Kind: ProviderLXD, ProfileName: "torrust-profile-" + name},
		SSH: SSHCredentials{
			PrivateKeyPath: "fixtures/testing_rsa",
			PublicKeyPath:  "fixtures/testing_rsa.pub",
			Username:       "torrust",
		},
		Tracker: TrackerSettings{UDPPorts: []int{6969}, HTTPPorts: []int{7070}, APIPort: 1212},
	}, "data", "build", testNow)
	require.NoError(t, err)
	return ctx
}

func testInstance(t *testing.T, ip string) Instance {
	t.Helper()
	inst, err := NewInstance(netip.MustParseAddr(ip), testNow.Add(time.Minute))
	require.NoError(t, err)
	return inst
}

func testFailure(step string, index int) FailureRecord {
	return FailureRecord{
		Step:      step,
		StepIndex: index,
		Kind:      ErrorKindInfrastructure,
		Summary:   "timeout",
		TraceID:   uuid.MustParse("8f14e45f-ceea-467f-a0e6-9b1c7c5d0f3e"),
		TraceFile: "data/demo/traces/20250314-092653.000000000-provision.log",
		StartedAt: testNow,
		FailedAt:  testNow.Add(30 * time.Second),
		Duration:  30 * time.Second,
	}
}

func testCreated(t *testing.T, name string) Environment[Created] {
	t.Helper()
	env, err := New(testContext(t, name))
	require.NoError(t, err)
	return env
}

// everyStage builds one environment per stage by walking real transitions.
func everyStage(t *testing.T) map[StageName]AnyEnvironment {
	t.Helper()
	created := testCreated(t, "demo")
	inst := testInstance(t, "10.0.0.5")

	provisioning := BeginProvisioning(created)
	provisioned := MarkProvisioned(provisioning, inst)
	configuring := BeginConfiguring(provisioned)
	configured := MarkConfigured(configuring)
	releasing := BeginRelease(configured)
	released := MarkReleased(releasing)

	return map[StageName]AnyEnvironment{
		StageCreated:         FromTyped(created),
		StageProvisioning:    FromTyped(provisioning),
		StageProvisioned:     FromTyped(provisioned),
		StageConfiguring:     FromTyped(configuring),
		StageConfigured:      FromTyped(configured),
		StageReleasing:       FromTyped(releasing),
		StageReleased:        FromTyped(released),
		StageRunning:         FromTyped(StartRunning(released, testNow.Add(time.Hour))),
		StageDestroyed:       FromTyped(Destroy(released, testNow.Add(2*time.Hour))),
		StageProvisionFailed: FromTyped(MarkProvisionFailed(provisioning, testFailure("opentofu_validate", 3))),
		StageConfigureFailed: FromTyped(MarkConfigureFailed(configuring, testFailure("install_docker", 1))),
		StageReleaseFailed:   FromTyped(MarkReleaseFailed(releasing, testFailure("upload_release_artifacts", 3))),
		StageRunFailed:       FromTyped(MarkRunFailed(released, testFailure("verify_services", 2))),
	}
}
