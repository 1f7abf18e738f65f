package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
)

// Database names accepted in creation configs.
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// EnvironmentConfig is the document an operator writes to create an
// environment.
type EnvironmentConfig struct {
	// Environment names the environment and, optionally, its instance.
	Environment EnvironmentSection `json:"environment" validate:"required"`

	// SSHCredentials are used to log in to the instance.
	SSHCredentials SSHCredentialsSection `json:"ssh_credentials" validate:"required"`

	// Provider selects where the instance runs.
	Provider ProviderSection `json:"provider" validate:"required"`

	// Tracker configures the deployed application.
	Tracker TrackerSection `json:"tracker" validate:"required"`

	// Prometheus enables the metrics service when present.
	Prometheus *PrometheusSection `json:"prometheus,omitempty"`

	// Grafana enables the dashboard service when present.
	Grafana *GrafanaSection `json:"grafana,omitempty"`
}

// EnvironmentSection identifies the environment.
type EnvironmentSection struct {
	// Name is the environment name, also used as its storage key.
	Name string `json:"name" validate:"required,envname"`

	// InstanceName overrides the default instance name.
	InstanceName string `json:"instance_name,omitempty" validate:"omitempty,hostname_rfc1123,max=63"`
}

// SSHCredentialsSection holds the login settings.
type SSHCredentialsSection struct {
	PrivateKeyPath string `json:"private_key_path" validate:"required"`
	PublicKeyPath  string `json:"public_key_path" validate:"required"`
	Username       string `json:"username" validate:"required"`
	Port           int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// ProviderSection selects and parameterizes the infrastructure provider.
type ProviderSection struct {
	// Kind is lxd or hetzner.
	Kind string `json:"kind" validate:"required,oneof=lxd hetzner"`

	// ProfileName is the LXD profile created for the instance.
	ProfileName string `json:"profile_name,omitempty" validate:"required_if=Kind lxd"`

	// ServerType is the Hetzner server type (e.g., "cx22").
	ServerType string `json:"server_type,omitempty" validate:"required_if=Kind hetzner"`

	// Location is the Hetzner location (e.g., "nbg1").
	Location string `json:"location,omitempty" validate:"required_if=Kind hetzner"`

	// Image is the operating system image.
	Image string `json:"image,omitempty"`

	// APIToken is accepted for compatibility but never stored. The token is
	// read from HCLOUD_TOKEN at provisioning time.
	APIToken string `json:"api_token,omitempty"`
}

// TrackerSection configures the tracker application.
type TrackerSection struct {
	UDPPorts  []int  `json:"udp_ports,omitempty" validate:"dive,min=1,max=65535"`
	HTTPPorts []int  `json:"http_ports,omitempty" validate:"dive,min=1,max=65535"`
	APIPort   int    `json:"api_port" validate:"required,min=1,max=65535"`
	Database  string `json:"database,omitempty" validate:"omitempty,oneof=sqlite mysql"`
}

// PrometheusSection configures the metrics service.
type PrometheusSection struct {
	// ScrapeInterval is in seconds.
	ScrapeInterval int `json:"scrape_interval" validate:"required,min=1"`
}

// GrafanaSection configures the dashboard service.
type GrafanaSection struct {
	AdminUser     string `json:"admin_user" validate:"required"`
	AdminPassword string `json:"admin_password" validate:"required"`
}

// ToUserInputs converts the document into the inputs an environment is
// created from.
func (c *EnvironmentConfig) ToUserInputs() (environment.UserInputs, error) {
	name, err := environment.ParseName(c.Environment.Name)
	if err != nil {
		return environment.UserInputs{}, err
	}

	inputs := environment.UserInputs{
		Name:         name,
		InstanceName: c.Environment.InstanceName,
		Provider: environment.ProviderSettings{
			Kind:        environment.ProviderKind(c.Provider.Kind),
			ProfileName: c.Provider.ProfileName,
			ServerType:  c.Provider.ServerType,
			Location:    c.Provider.Location,
			Image:       c.Provider.Image,
		},
		SSH: environment.SSHCredentials{
			PrivateKeyPath: c.SSHCredentials.PrivateKeyPath,
			PublicKeyPath:  c.SSHCredentials.PublicKeyPath,
			Username:       c.SSHCredentials.Username,
		},
		SSHPort: c.SSHCredentials.Port,
		Tracker: environment.TrackerSettings{
			UDPPorts:  c.Tracker.UDPPorts,
			HTTPPorts: c.Tracker.HTTPPorts,
			APIPort:   c.Tracker.APIPort,
		},
	}

	switch c.Tracker.Database {
	case "", DatabaseSQLite:
		inputs.Tracker.Database = "sqlite3"
	case DatabaseMySQL:
		inputs.Tracker.Database = "mysql"
	default:
		return environment.UserInputs{}, fmt.Errorf("unsupported database %q", c.Tracker.Database)
	}

	if c.Prometheus != nil {
		inputs.Prometheus = &environment.PrometheusSettings{
			ScrapeInterval: time.Duration(c.Prometheus.ScrapeInterval) * time.Second,
		}
	}
	if c.Grafana != nil {
		inputs.Grafana = &environment.GrafanaSettings{
			AdminUser:     c.Grafana.AdminUser,
			AdminPassword: c.Grafana.AdminPassword,
		}
	}
	return inputs, nil
}

// FromUserInputs rebuilds the document a stored environment was created
// from, so policies can be evaluated again before later workflows.
func FromUserInputs(in environment.UserInputs) *EnvironmentConfig {
	c := &EnvironmentConfig{
		Environment: EnvironmentSection{
			Name:         in.Name.String(),
			InstanceName: in.InstanceName,
		},
		SSHCredentials: SSHCredentialsSection{
			PrivateKeyPath: in.SSH.PrivateKeyPath,
			PublicKeyPath:  in.SSH.PublicKeyPath,
			Username:       in.SSH.Username,
			Port:           in.SSHPort,
		},
		Provider: ProviderSection{
			Kind:        string(in.Provider.Kind),
			ProfileName: in.Provider.ProfileName,
			ServerType:  in.Provider.ServerType,
			Location:    in.Provider.Location,
			Image:       in.Provider.Image,
		},
		Tracker: TrackerSection{
			UDPPorts:  in.Tracker.UDPPorts,
			HTTPPorts: in.Tracker.HTTPPorts,
			APIPort:   in.Tracker.APIPort,
			Database:  DatabaseSQLite,
		},
	}
	if in.Tracker.Database == DatabaseMySQL {
		c.Tracker.Database = DatabaseMySQL
	}
	if in.Prometheus != nil {
		c.Prometheus = &PrometheusSection{ScrapeInterval: int(in.Prometheus.ScrapeInterval / time.Second)}
	}
	if in.Grafana != nil {
		c.Grafana = &GrafanaSection{AdminUser: in.Grafana.AdminUser, AdminPassword: in.Grafana.AdminPassword}
	}
	return c
}

// ValidationError is one problem found in a config document.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted field path (e.g., "provider.kind").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a config document is rejected.
type ValidationErrors struct {
	Source string
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid config %s: %s", e.Source, e.Errors[0])
	}
	return fmt.Sprintf("invalid config %s: %d problems", e.Source, len(e.Errors))
}

// FaultClass marks config problems as permanent.
func (e *ValidationErrors) FaultClass() faults.Class {
	return faults.ClassPermanent
}

// Help lists every problem, one per line.
func (e *ValidationErrors) Help() string {
	lines := make([]string, 0, len(e.Errors)+1)
	lines = append(lines, "Fix the following problems in "+e.Source+":")
	for _, ve := range e.Errors {
		lines = append(lines, "  - "+ve.String())
	}
	return strings.Join(lines, "\n")
}
