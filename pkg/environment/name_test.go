package environment

import (
	"encoding/json"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		input  string
		reason string
	}{
		{"dev", ""},
		{"e2e-full", ""},
		{"tracker-01", ""},
		{"", "empty"},
		{"1dev", "starts with a number"},
		{"-dev", "starts with dash"},
		{"dev-", "ends with dash"},
		{"dev--1", "consecutive dashes"},
		{"Dev", "uppercase"},
		{"dev_1", "invalid characters"},
		{"dév", "invalid characters"},
		{strings.Repeat("a", 64), "longer than 63"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, err := ParseName(tt.input)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.input, name.String())
				return
			}
			require.Error(t, err)
			var nameErr *NameError
			require.ErrorAs(t, err, &nameErr)
			assert.Contains(t, nameErr.Reason, tt.reason)
			assert.Contains(t, nameErr.Help(), "lowercase letters, numbers, and dashes")
		})
	}
}

func TestNameUnmarshalValidates(t *testing.T) {
	var n Name
	require.NoError(t, json.Unmarshal([]byte(`"staging"`), &n))
	assert.Equal(t, Name("staging"), n)
	assert.Error(t, json.Unmarshal([]byte(`"Staging"`), &n))
}

func TestStageClassification(t *testing.T) {
	for _, s := range Stages() {
		require.NoError(t, s.Validate())
		assert.NotEqual(t, s.IsSuccess(), s.IsFailure(), s)
	}
	assert.Error(t, StageName("teleporting").Validate())
	assert.False(t, StageName("teleporting").IsSuccess())

	assert.True(t, StageProvisioning.IsInProgress())
	assert.False(t, StageProvisioned.IsInProgress())
	assert.False(t, StageCreated.MayHaveInfrastructure())
	assert.True(t, StageProvisionFailed.MayHaveInfrastructure())
	assert.False(t, StageDestroyed.MayHaveInfrastructure())
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
