package environment

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantsCoverEveryStage(t *testing.T) {
	for _, stage := range allStages {
		v, ok := lookupVariant(stage)
		require.True(t, ok, "no variant for %s", stage)
		assert.Equal(t, stage, v.stage)
	}
	require.Len(t, everyStage(t), len(allStages))
}

func TestRoundTripEveryStage(t *testing.T) {
	for stage, original := range everyStage(t) {
		t.Run(string(stage), func(t *testing.T) {
			require.Equal(t, stage, original.Stage())
			require.NoError(t, original.Validate())

			data, err := json.Marshal(original)
			require.NoError(t, err)

			var decoded AnyEnvironment
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, original, decoded)
			assert.Equal(t, stage, decoded.Stage())
		})
	}
}

func TestRoundTripIntoTyped(t *testing.T) {
	stages := everyStage(t)

	check := func(t *testing.T, a AnyEnvironment, unwrap func(AnyEnvironment) (any, error)) {
		t.Helper()
		want, err := unwrap(a)
		require.NoError(t, err)

		data, err := json.Marshal(a)
		require.NoError(t, err)
		var decoded AnyEnvironment
		require.NoError(t, json.Unmarshal(data, &decoded))

		got, err := unwrap(decoded)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	check(t, stages[StageCreated], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Created](a) })
	check(t, stages[StageProvisioning], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Provisioning](a) })
	check(t, stages[StageProvisioned], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Provisioned](a) })
	check(t, stages[StageConfiguring], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Configuring](a) })
	check(t, stages[StageConfigured], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Configured](a) })
	check(t, stages[StageReleasing], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Releasing](a) })
	check(t, stages[StageReleased], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Released](a) })
	check(t, stages[StageRunning], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Running](a) })
	check(t, stages[StageDestroyed], func(a AnyEnvironment) (any, error) { return IntoTypedAs[Destroyed](a) })
	check(t, stages[StageProvisionFailed], func(a AnyEnvironment) (any, error) { return IntoTypedAs[ProvisionFailed](a) })
	check(t, stages[StageConfigureFailed], func(a AnyEnvironment) (any, error) { return IntoTypedAs[ConfigureFailed](a) })
	check(t, stages[StageReleaseFailed], func(a AnyEnvironment) (any, error) { return IntoTypedAs[ReleaseFailed](a) })
	check(t, stages[StageRunFailed], func(a AnyEnvironment) (any, error) { return IntoTypedAs[RunFailed](a) })
}

func TestIntoTypedAsStageMismatch(t *testing.T) {
	a := everyStage(t)[StageProvisioned]

	_, err := IntoTypedAs[Created](a)
	require.Error(t, err)

	var mismatch *StageMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, StageCreated, mismatch.Expected)
	assert.Equal(t, StageProvisioned, mismatch.Actual)
	assert.True(t, faults.IsCorruption(err))
	assert.NotEmpty(t, mismatch.Help())
}

func TestIntrospection(t *testing.T) {
	stages := everyStage(t)

	tests := []struct {
		stage    StageName
		success  bool
		failure  bool
		terminal bool
		instance bool
	}{
		{StageCreated, true, false, false, false},
		{StageProvisioning, true, false, false, false},
		{StageProvisioned, true, false, false, true},
		{StageConfigured, true, false, false, true},
		{StageRunning, true, false, true, true},
		{StageDestroyed, true, false, true, false},
		{StageProvisionFailed, false, true, true, false},
		{StageConfigureFailed, false, true, true, true},
		{StageRunFailed, false, true, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			a := stages[tt.stage]
			assert.Equal(t, tt.success, a.IsSuccess())
			assert.Equal(t, tt.failure, a.IsFailure())
			assert.Equal(t, tt.terminal, a.IsTerminal())
			assert.Equal(t, Name("demo"), a.Name())

			_, hasInstance := a.Instance()
			assert.Equal(t, tt.instance, hasInstance)

			record, hasFailure := a.Failure()
			assert.Equal(t, tt.failure, hasFailure)
			if hasFailure {
				assert.NotEmpty(t, record.Step)
			}
		})
	}
}

func TestFailureRecordOnlyOnFailureStages(t *testing.T) {
	for stage, a := range everyStage(t) {
		_, ok := a.Failure()
		assert.Equal(t, stage.IsFailure(), ok, stage)
	}
}

func TestZeroAnyEnvironment(t *testing.T) {
	var a AnyEnvironment
	assert.True(t, a.IsZero())
	assert.Equal(t, StageName(""), a.Stage())
	assert.False(t, a.IsSuccess())
	assert.Error(t, a.Validate())

	_, err := json.Marshal(a)
	assert.Error(t, err)
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	valid, err := json.Marshal(everyStage(t)[StageProvisioned])
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"stage":`},
		{"unknown stage", `{"stage":"teleporting","environment":{}}`},
		{"missing payload", `{"stage":"created"}`},
		{"null payload", `{"stage":"created","environment":null}`},
		{"provisioned without address", strings.Replace(string(valid), `"ip":"10.0.0.5"`, `"ip":""`, 1)},
		{"provisioned with unspecified address", strings.Replace(string(valid), `"ip":"10.0.0.5"`, `"ip":"0.0.0.0"`, 1)},
		{"invalid name", strings.Replace(string(valid), `"name":"demo"`, `"name":"Demo"`, 1)},
		{"failure stage without record", `{"stage":"provision_failed","environment":{"context":` + contextJSON(t) + `,"state":{}}}`},
		{"created with empty context", `{"stage":"created","environment":{"context":{},"state":{}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a AnyEnvironment
			err := json.Unmarshal([]byte(tt.doc), &a)
			require.Error(t, err)
			assert.True(t, a.IsZero())
		})
	}
}

func TestDecodeToleratesAddedFields(t *testing.T) {
	data, err := json.Marshal(everyStage(t)[StageProvisioned])
	require.NoError(t, err)

	extended := strings.Replace(string(data), `"ip":"10.0.0.5"`, `"ip":"10.0.0.5","region":"eu-central"`, 1)
	extended = strings.Replace(extended, `{"stage"`, `{"schema_version":2,"stage"`, 1)

	var decoded AnyEnvironment
	require.NoError(t, json.Unmarshal([]byte(extended), &decoded))
	assert.Equal(t, everyStage(t)[StageProvisioned], decoded)
}

func TestDecodeIgnoresFailureOnSuccessStage(t *testing.T) {
	data, err := json.Marshal(everyStage(t)[StageProvisioned])
	require.NoError(t, err)
	require.Contains(t, string(data), `"state":{`)

	stray := strings.Replace(string(data), `"state":{`, `"state":{"failure":{"failed_step":"opentofu_apply","error_summary":"boom"},`, 1)

	var decoded AnyEnvironment
	require.NoError(t, json.Unmarshal([]byte(stray), &decoded))
	_, ok := decoded.Failure()
	assert.False(t, ok)
	assert.Equal(t, everyStage(t)[StageProvisioned], decoded)
}

func TestProvisionedDocumentShape(t *testing.T) {
	data, err := json.Marshal(everyStage(t)[StageProvisioned])
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, `"provisioned"`, string(doc["stage"]))
	assert.Contains(t, string(doc["environment"]), `"instance":{"ip":"10.0.0.5"`)
}

func contextJSON(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(testContext(t, "demo"))
	require.NoError(t, err)
	return string(data)
}
