package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
)

const stagingYAML = `
environment:
  name: staging
ssh_credentials:
  private_key_path: fixtures/testing_rsa
  public_key_path: fixtures/testing_rsa.pub
  port: 2222
provider:
  kind: lxd
  profile_name: torrust-profile-staging
tracker:
  udp_ports: [6969, 6970]
  http_ports: [7070]
  api_port: 1212
  database: mysql
prometheus:
  scrape_interval: 30
grafana:
  admin_password: secret
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderFormats(t *testing.T) {
	sources := map[string]string{
		"env.yaml": stagingYAML,
		"env.json": `{
  "environment": {"name": "staging"},
  "ssh_credentials": {"private_key_path": "fixtures/testing_rsa", "public_key_path": "fixtures/testing_rsa.pub", "port": 2222},
  "provider": {"kind": "lxd", "profile_name": "torrust-profile-staging"},
  "tracker": {"udp_ports": [6969, 6970], "http_ports": [7070], "api_port": 1212, "database": "mysql"},
  "prometheus": {"scrape_interval": 30},
  "grafana": {"admin_password": "secret"}
}`,
		"env.cue": `
environment: name: "staging"
ssh_credentials: {
	private_key_path: "fixtures/testing_rsa"
	public_key_path:  "fixtures/testing_rsa.pub"
	port:             2222
}
provider: {kind: "lxd", profile_name: "torrust-profile-\(environment.name)"}
tracker: {
	udp_ports: [6969, 6970]
	http_ports: [7070]
	database: "mysql"
}
prometheus: scrape_interval: 30
grafana: admin_password: "secret"
`,
		"env.star": `
name = "staging"
config = {
    "environment": {"name": name},
    "ssh_credentials": {
        "private_key_path": "fixtures/testing_rsa",
        "public_key_path": "fixtures/testing_rsa.pub",
        "port": 2222,
    },
    "provider": {"kind": "lxd", "profile_name": "torrust-profile-" + name},
    "tracker": {"udp_ports": ports(6969, 2), "http_ports": [7070], "database": "mysql"},
    "prometheus": {"scrape_interval": 30},
    "grafana": {"admin_password": "secret"},
}
`,
	}

	for file, content := range sources {
		t.Run(file, func(t *testing.T) {
			cfg, err := NewLoader().LoadFile(context.Background(), writeConfig(t, file, content))
			require.NoError(t, err)

			assert.Equal(t, "staging", cfg.Environment.Name)
			assert.Equal(t, "torrust", cfg.SSHCredentials.Username, "schema default")
			assert.Equal(t, 2222, cfg.SSHCredentials.Port)
			assert.Equal(t, "torrust-profile-staging", cfg.Provider.ProfileName)
			assert.Equal(t, []int{6969, 6970}, cfg.Tracker.UDPPorts)
			assert.Equal(t, 1212, cfg.Tracker.APIPort)
			assert.Equal(t, DatabaseMySQL, cfg.Tracker.Database)
			require.NotNil(t, cfg.Prometheus)
			assert.Equal(t, 30, cfg.Prometheus.ScrapeInterval)
			require.NotNil(t, cfg.Grafana)
			assert.Equal(t, "admin", cfg.Grafana.AdminUser)
		})
	}
}

func TestLoaderRejects(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantPath string
	}{
		{
			name: "name with consecutive dashes",
			file: "env.yaml",
			content: `
environment: {name: "my--env"}
ssh_credentials: {private_key_path: k, public_key_path: k.pub}
provider: {kind: lxd, profile_name: p}
tracker: {}
`,
			wantPath: "environment.name",
		},
		{
			name: "name ending with dash",
			file: "env.json",
			content: `{"environment": {"name": "env-"},
 "ssh_credentials": {"private_key_path": "k", "public_key_path": "k.pub"},
 "provider": {"kind": "lxd", "profile_name": "p"}, "tracker": {}}`,
			wantPath: "environment.name",
		},
		{
			name: "missing provider",
			file: "env.yaml",
			content: `
environment: {name: staging}
ssh_credentials: {private_key_path: k, public_key_path: k.pub}
tracker: {}
`,
			wantPath: "provider",
		},
		{
			name: "unknown field",
			file: "env.yaml",
			content: `
environment: {name: staging, colour: blue}
ssh_credentials: {private_key_path: k, public_key_path: k.pub}
provider: {kind: lxd, profile_name: p}
tracker: {}
`,
			wantPath: "environment.colour",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(context.Background(), writeConfig(t, tt.file, tt.content))
			require.Error(t, err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %T: %v", err, err)
			found := false
			for _, ve := range verrs.Errors {
				if strings.HasPrefix(ve.Path, tt.wantPath) {
					found = true
				}
			}
			assert.True(t, found, "no error under %s in %v", tt.wantPath, verrs.Errors)

			class, ok := faults.ClassOf(err)
			assert.True(t, ok)
			assert.Equal(t, faults.ClassPermanent, class)
			assert.NotEmpty(t, faults.HelpOf(err))
		})
	}
}

func TestLoaderCUEErrorPositions(t *testing.T) {
	path := writeConfig(t, "env.cue", `
environment: name: "staging"
ssh_credentials: {private_key_path: "k", public_key_path: "k.pub"}
provider: {kind: "lxd", profile_name: "p"}
tracker: api_port: 99999
`)
	_, err := NewLoader().LoadFile(context.Background(), path)

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.NotEmpty(t, verrs.Errors)
	assert.Equal(t, path, verrs.Errors[0].File)
	assert.Equal(t, "tracker.api_port", verrs.Errors[0].Path)
	assert.Contains(t, faults.HelpOf(err)[0], "tracker.api_port")
}

func TestLoaderStarlark(t *testing.T) {
	t.Run("vars", func(t *testing.T) {
		loader := NewLoader(WithStarlarkVars(map[string]any{"name": "e2e"}))
		cfg, err := loader.Load(context.Background(), "env.star", []byte(`
config = {
    "environment": {"name": name},
    "ssh_credentials": {"private_key_path": "k", "public_key_path": "k.pub"},
    "provider": {"kind": "hetzner", "server_type": "cx22", "location": "nbg1"},
    "tracker": {},
}
`))
		require.NoError(t, err)
		assert.Equal(t, "e2e", cfg.Environment.Name)
		assert.Equal(t, "ubuntu-24.04", cfg.Provider.Image)
	})

	t.Run("missing config global", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), "env.star", []byte(`settings = {}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "top-level config dict")
	})

	t.Run("config is not a dict", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), "env.star", []byte(`config = [1, 2]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a mapping")
	})

	t.Run("timeout", func(t *testing.T) {
		loader := NewLoader(WithStarlarkTimeout(50 * time.Millisecond))
		_, err := loader.Load(context.Background(), "env.star", []byte(`
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

config = {"n": spin()}
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestLoaderUnsupportedFormat(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "env.toml", []byte(`name = "x"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoaderValidate(t *testing.T) {
	loader := NewLoader()
	cfg := &EnvironmentConfig{
		Environment:    EnvironmentSection{Name: "staging"},
		SSHCredentials: SSHCredentialsSection{PrivateKeyPath: "k", PublicKeyPath: "k.pub", Username: "torrust"},
		Provider:       ProviderSection{Kind: "hetzner", ServerType: "cx22"},
		Tracker:        TrackerSection{APIPort: 1212},
	}
	err := loader.Validate(cfg)
	require.Error(t, err, "hetzner requires a location")

	cfg.Provider.Location = "nbg1"
	require.NoError(t, loader.Validate(cfg))
}

func TestToUserInputs(t *testing.T) {
	cfg, err := NewLoader().Load(context.Background(), "env.yaml", []byte(stagingYAML))
	require.NoError(t, err)

	inputs, err := cfg.ToUserInputs()
	require.NoError(t, err)

	assert.Equal(t, environment.MustParseName("staging"), inputs.Name)
	assert.Equal(t, environment.ProviderLXD, inputs.Provider.Kind)
	assert.Equal(t, 2222, inputs.SSHPort)
	assert.Equal(t, "torrust", inputs.SSH.Username)
	assert.Equal(t, "mysql", inputs.Tracker.Database)
	require.NotNil(t, inputs.Prometheus)
	assert.Equal(t, 30*time.Second, inputs.Prometheus.ScrapeInterval)
	require.NotNil(t, inputs.Grafana)
	assert.Equal(t, "secret", inputs.Grafana.AdminPassword)

	cfg.Tracker.Database = ""
	inputs, err = cfg.ToUserInputs()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", inputs.Tracker.Database)

	_, err = environment.NewContext(inputs, t.TempDir(), t.TempDir(), time.Now())
	require.NoError(t, err)
}

func TestFromUserInputsRoundTrip(t *testing.T) {
	cfg, err := NewLoader().Load(context.Background(), "env.yaml", []byte(stagingYAML))
	require.NoError(t, err)

	inputs, err := cfg.ToUserInputs()
	require.NoError(t, err)

	back := FromUserInputs(inputs)
	assert.Equal(t, cfg.Environment, back.Environment)
	assert.Equal(t, cfg.SSHCredentials, back.SSHCredentials)
	assert.Equal(t, cfg.Tracker, back.Tracker)
	assert.Equal(t, cfg.Prometheus, back.Prometheus)
	assert.Equal(t, cfg.Grafana, back.Grafana)
	assert.Empty(t, back.Provider.APIToken)
	require.NoError(t, NewLoader().Validate(back))
}
