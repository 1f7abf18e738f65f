package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/faults"
)

type workspace struct {
	dir     string
	dataDir string
	keys    string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	t.Setenv("LOG_LEVEL", "")
	dir := t.TempDir()
	keys := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keys, []byte("private"), 0o600))
	require.NoError(t, os.WriteFile(keys+".pub", []byte("public"), 0o644))
	return &workspace{dir: dir, dataDir: filepath.Join(dir, "data"), keys: keys}
}

func (w *workspace) writeConfig(t *testing.T, name, provider string) string {
	t.Helper()
	content := `environment:
  name: ` + name + `
ssh_credentials:
  private_key_path: ` + w.keys + `
  public_key_path: ` + w.keys + `.pub
provider:
` + provider + `
tracker:
  api_port: 1212
`
	path := filepath.Join(w.dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const lxdProvider = `  kind: lxd
  profile_name: torrust-profile-test`

const hetznerProvider = `  kind: hetzner
  server_type: cx22
  location: nbg1`

// run executes the CLI against the workspace's directories.
func (w *workspace) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	all := append([]string{
		"--data-dir", w.dataDir,
		"--build-dir", filepath.Join(w.dir, "build"),
		"--lock-timeout", "0s",
	}, args...)
	code = run(context.Background(), all, &out, &errOut, "test", "abc123", "today")
	return out.String(), errOut.String(), code
}

func TestCreateShowListDestroyPurge(t *testing.T) {
	w := newWorkspace(t)
	cfg := w.writeConfig(t, "e2e-lxd", lxdProvider)

	out, errOut, code := w.run(t, "create", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Environment e2e-lxd created")
	assert.FileExists(t, filepath.Join(w.dataDir, "e2e-lxd", "environment.json"))

	_, errOut, code = w.run(t, "create", "--config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	out, errOut, code = w.run(t, "show", "e2e-lxd")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "lxd (profile torrust-profile-test)")
	assert.Contains(t, out, "torrust-tracker-vm-e2e-lxd")

	out, errOut, code = w.run(t, "show", "e2e-lxd", "--json")
	require.Equal(t, 0, code, errOut)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "created", doc["stage"])

	out, errOut, code = w.run(t, "list", "--json")
	require.Equal(t, 0, code, errOut)
	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, listEntry{Name: "e2e-lxd", Stage: "created", Provider: "lxd"}, entries[0])

	_, errOut, code = w.run(t, "purge", "e2e-lxd")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not destroyed")

	out, errOut, code = w.run(t, "destroy", "e2e-lxd")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Environment e2e-lxd is destroyed")
	assert.Contains(t, errOut, "Cleaning build directory")

	out, errOut, code = w.run(t, "history", "e2e-lxd", "--json")
	require.Equal(t, 0, code, errOut)
	var report historyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Transitions, 2)
	assert.Equal(t, "destroyed", report.Transitions[0].To)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, "destroy", report.Runs[0].Workflow)

	out, errOut, code = w.run(t, "purge", "e2e-lxd")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "purged")
	assert.NoDirExists(t, filepath.Join(w.dataDir, "e2e-lxd"))

	out, _, code = w.run(t, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No environments")
}

func TestProvisionDeniedWithoutHetznerToken(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("HCLOUD_TOKEN", "")
	require.NoError(t, os.Unsetenv("HCLOUD_TOKEN"))
	cfg := w.writeConfig(t, "e2e-hetzner", hetznerProvider)

	_, errOut, code := w.run(t, "create", "--config", cfg)
	require.Equal(t, 0, code, errOut)

	_, errOut, code = w.run(t, "provision", "e2e-hetzner", "--verbose")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "HCLOUD_TOKEN")

	out, _, code := w.run(t, "show", "e2e-hetzner")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "created", "a denied provision must not change the stage")
}

func TestValidate(t *testing.T) {
	w := newWorkspace(t)
	cfg := w.writeConfig(t, "staging", lxdProvider)

	out, errOut, code := w.run(t, "validate", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Configuration for environment staging is valid")
	assert.NoDirExists(t, w.dataDir, "validate must not touch the data directory")

	policies := filepath.Join(w.dir, "policies")
	require.NoError(t, os.MkdirAll(policies, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(policies, "no-staging.rego"), []byte(`package site.staging

import rego.v1

deny contains "staging is reserved" if {
	input.config.environment.name == "staging"
}`), 0o644))

	_, errOut, code = w.run(t, "validate", "--config", cfg, "--policy", policies)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "staging is reserved")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	w := newWorkspace(t)
	path := filepath.Join(w.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment:\n  name: Bad_Name\n"), 0o644))

	_, errOut, code := w.run(t, "validate", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")
}

func TestUnknownEnvironment(t *testing.T) {
	w := newWorkspace(t)

	_, errOut, code := w.run(t, "show", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "missing")

	_, errOut, code = w.run(t, "show", "Not-Valid")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")
}

func TestConsoleListener(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleListener(&buf, false)

	l.OnStepStarted(1, 2, "Rendering templates")
	l.OnDetail("wrote 3 files")
	l.OnDebug("hidden")
	l.OnStepCompleted(1, "Rendering templates")

	assert.Equal(t, "[1/2] Rendering templates...\n      wrote 3 files\n[1/2] Rendering templates: done\n", buf.String())

	buf.Reset()
	NewConsoleListener(&buf, true).OnDebug("shown")
	assert.Equal(t, "      debug: shown\n", buf.String())
}

func TestPrintError(t *testing.T) {
	err := faults.New(faults.ClassConflict, faults.CodeLockHeld, "environment is locked", nil).
		WithHint("Wait for the other process to finish.")

	var buf bytes.Buffer
	printError(&buf, err, false)
	assert.Contains(t, buf.String(), "Error: ")
	assert.Contains(t, buf.String(), "--verbose")
	assert.NotContains(t, buf.String(), "Wait for the other process")

	buf.Reset()
	printError(&buf, err, true)
	assert.Contains(t, buf.String(), "Wait for the other process to finish.")

	buf.Reset()
	printError(&buf, errors.New("plain"), false)
	assert.Equal(t, "Error: plain\n", buf.String())
	assert.False(t, strings.Contains(buf.String(), "--verbose"))
}
