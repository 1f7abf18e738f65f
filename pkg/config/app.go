package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployer/pkg/telemetry"
)

// AppConfigFile is read from the working directory when no path is given.
const AppConfigFile = "deployer.yaml"

// EnvPrefix prefixes the environment variables overriding AppConfig.
const EnvPrefix = "DEPLOYER_"

// AppConfig holds the deployer's own settings.
type AppConfig struct {
	// DataDir holds environment state and traces.
	DataDir string `yaml:"data_dir" validate:"required"`

	// BuildDir receives rendered artifacts.
	BuildDir string `yaml:"build_dir" validate:"required"`

	// TemplatesDir overrides the embedded templates when set.
	TemplatesDir string `yaml:"templates_dir,omitempty" validate:"omitempty,dir"`

	// LockTimeout is how long to wait for another process's lock. Zero
	// fails immediately.
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"min=0"`

	// SQLitePath is the history database. Empty means <data_dir>/deployer.db.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// PolicyPaths lists extra .rego or .json policy files and directories.
	PolicyPaths []string `yaml:"policy_paths,omitempty"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// DefaultAppConfig returns the settings used without a config file.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		DataDir:   "./data",
		BuildDir:  "./build",
		Telemetry: telemetry.DefaultConfig(),
	}
}

// HistoryPath returns the SQLite database path.
func (c *AppConfig) HistoryPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "deployer.db")
}

// LoadAppConfig reads path over the defaults, applies DEPLOYER_* variables
// and validates the result. A missing file at the default path is not an
// error; a missing explicit path is.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	explicit := path != ""
	if !explicit {
		path = AppConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from DEPLOYER_* variables looked up with
// lookup.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATA_DIR":       &c.DataDir,
		"BUILD_DIR":      &c.BuildDir,
		"TEMPLATES_DIR":  &c.TemplatesDir,
		"SQLITE_PATH":    &c.SQLitePath,
		"LOG_LEVEL":      &c.Telemetry.Logging.Level,
		"LOG_FORMAT":     &c.Telemetry.Logging.Format,
		"TRACE_EXPORTER": &c.Telemetry.Tracing.Exporter,
		"TRACE_ENDPOINT": &c.Telemetry.Tracing.Endpoint,
		"METRICS_FILE":   &c.Telemetry.Metrics.TextfilePath,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "TRACE_EXPORTER"); ok {
		c.Telemetry.Tracing.Enabled = v != "" && v != "none"
	}
	if v, ok := lookup(EnvPrefix + "POLICY_PATHS"); ok {
		c.PolicyPaths = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPrefix + "LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOCK_TIMEOUT: %w", EnvPrefix, err)
		}
		c.LockTimeout = d
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		c.Telemetry.Metrics.Enabled = b
	}
	return nil
}

// Validate checks field rules and the telemetry settings.
func (c *AppConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid deployer settings: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}
