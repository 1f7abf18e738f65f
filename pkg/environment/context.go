package environment

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// DefaultSSHPort is used when the creation config does not set a port.
const DefaultSSHPort = 22

// ProviderKind names the infrastructure provider.
type ProviderKind string

const (
	// ProviderLXD provisions a local LXD virtual machine.
	ProviderLXD ProviderKind = "lxd"

	// ProviderHetzner provisions a Hetzner Cloud server.
	ProviderHetzner ProviderKind = "hetzner"
)

// Context is the stage-independent data of an environment. It is fixed at
// creation and carried unchanged through every transition.
type Context struct {
	UserInputs UserInputs     `json:"user_inputs"`
	Internal   InternalConfig `json:"internal_config"`
	CreatedAt  time.Time      `json:"created_at"`
}

// UserInputs holds what the operator supplied at creation time.
type UserInputs struct {
	Name         Name                `json:"name"`
	InstanceName string              `json:"instance_name"`
	Provider     ProviderSettings    `json:"provider"`
	SSH          SSHCredentials      `json:"ssh_credentials"`
	SSHPort      int                 `json:"ssh_port"`
	Tracker      TrackerSettings     `json:"tracker"`
	Prometheus   *PrometheusSettings `json:"prometheus,omitempty"`
	Grafana      *GrafanaSettings    `json:"grafana,omitempty"`
}

// ProviderSettings selects and parameterizes the infrastructure provider.
// Provider secrets such as API tokens are read from the process environment
// at provisioning time and never stored.
type ProviderSettings struct {
	Kind        ProviderKind `json:"kind"`
	ProfileName string       `json:"profile_name,omitempty"`
	ServerType  string       `json:"server_type,omitempty"`
	Location    string       `json:"location,omitempty"`
	Image       string       `json:"image,omitempty"`
}

// SSHCredentials are the credentials used to log in to the instance.
type SSHCredentials struct {
	PrivateKeyPath string `json:"private_key_path"`
	PublicKeyPath  string `json:"public_key_path"`
	Username       string `json:"username"`
}

// TrackerSettings configures the tracker application.
type TrackerSettings struct {
	UDPPorts  []int  `json:"udp_ports"`
	HTTPPorts []int  `json:"http_ports"`
	APIPort   int    `json:"api_port"`
	Database  string `json:"database"`
}

// PrometheusSettings enables the metrics service.
type PrometheusSettings struct {
	ScrapeInterval time.Duration `json:"scrape_interval"`
}

// GrafanaSettings enables the dashboard service.
type GrafanaSettings struct {
	AdminUser     string `json:"admin_user"`
	AdminPassword string `json:"admin_password"`
}

// InternalConfig holds paths derived from the environment name.
type InternalConfig struct {
	DataDir   string `json:"data_dir"`
	BuildDir  string `json:"build_dir"`
	TracesDir string `json:"traces_dir"`
}

// DefaultInstanceName derives the instance name from the environment name.
func DefaultInstanceName(name Name) string {
	return "torrust-tracker-vm-" + string(name)
}

// NewContext fills defaults and derived paths and validates the result.
func NewContext(inputs UserInputs, dataRoot, buildRoot string, createdAt time.Time) (Context, error) {
	if inputs.InstanceName == "" {
		inputs.InstanceName = DefaultInstanceName(inputs.Name)
	}
	if inputs.SSHPort == 0 {
		inputs.SSHPort = DefaultSSHPort
	}
	if inputs.Tracker.Database == "" {
		inputs.Tracker.Database = "sqlite3"
	}
	inputs.Tracker.UDPPorts = slices.Clone(inputs.Tracker.UDPPorts)
	inputs.Tracker.HTTPPorts = slices.Clone(inputs.Tracker.HTTPPorts)

	dataDir := filepath.Join(dataRoot, string(inputs.Name))
	c := Context{
		UserInputs: inputs,
		Internal: InternalConfig{
			DataDir:   dataDir,
			BuildDir:  filepath.Join(buildRoot, string(inputs.Name)),
			TracesDir: filepath.Join(dataDir, "traces"),
		},
		CreatedAt: createdAt.UTC(),
	}
	if err := c.Validate(); err != nil {
		return Context{}, err
	}
	return c, nil
}

// Name returns the environment name.
func (c Context) Name() Name {
	return c.UserInputs.Name
}

// Validate checks the context invariants.
func (c Context) Validate() error {
	var errs []error
	if err := c.UserInputs.Name.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.UserInputs.InstanceName == "" {
		errs = append(errs, errors.New("instance name is required"))
	}
	switch c.UserInputs.Provider.Kind {
	case ProviderLXD, ProviderHetzner:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.UserInputs.Provider.Kind))
	}
	if c.UserInputs.SSH.Username == "" {
		errs = append(errs, errors.New("ssh username is required"))
	}
	if c.UserInputs.SSH.PrivateKeyPath == "" {
		errs = append(errs, errors.New("ssh private key path is required"))
	}
	if c.UserInputs.SSHPort <= 0 || c.UserInputs.SSHPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ssh port: %d", c.UserInputs.SSHPort))
	}
	if c.Internal.DataDir == "" || c.Internal.BuildDir == "" || c.Internal.TracesDir == "" {
		errs = append(errs, errors.New("internal directories are required"))
	}
	if c.CreatedAt.IsZero() {
		errs = append(errs, errors.New("creation time is required"))
	}
	return errors.Join(errs...)
}
