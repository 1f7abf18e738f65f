package render

import (
	"context"
	"fmt"
	"net/netip"
	"path/filepath"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

// InventoryHost is the host name used in the Ansible inventory.
const InventoryHost = "torrust-tracker-vm"

type inventory struct {
	All inventoryGroup `yaml:"all"`
}

type inventoryGroup struct {
	Hosts map[string]inventoryHost `yaml:"hosts"`
}

type inventoryHost struct {
	Host              string `yaml:"ansible_host"`
	Port              int    `yaml:"ansible_port"`
	User              string `yaml:"ansible_user"`
	PrivateKeyFile    string `yaml:"ansible_ssh_private_key_file"`
	PythonInterpreter string `yaml:"ansible_python_interpreter"`
}

type playbookVariables struct {
	SSHPort          int   `yaml:"ssh_port"`
	TrackerUDPPorts  []int `yaml:"tracker_udp_ports"`
	TrackerHTTPPorts []int `yaml:"tracker_http_ports"`
	TrackerAPIPort   int   `yaml:"tracker_api_port"`
}

// RenderConfiguration writes the playbooks, an inventory pointing at ip and
// the playbook variables into AnsibleDir.
func (r *Renderer) RenderConfiguration(ctx context.Context, env environment.Context, ip netip.Addr) error {
	return telemetry.RecordToolInvocation(ctx, "render", "configuration", func(ctx context.Context) error {
		return withContext(ctx, func() error { return r.renderConfiguration(env, ip) })
	})
}

func (r *Renderer) renderConfiguration(env environment.Context, ip netip.Addr) error {
	if !ip.IsValid() {
		return fmt.Errorf("instance IP is required to render the inventory")
	}
	keyFile, err := filepath.Abs(env.UserInputs.SSH.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("resolve private key path: %w", err)
	}

	dst := AnsibleDir(env)
	if err := r.copyStatic("ansible", dst); err != nil {
		return err
	}

	inv := inventory{All: inventoryGroup{Hosts: map[string]inventoryHost{
		InventoryHost: {
			Host:              ip.String(),
			Port:              env.UserInputs.SSHPort,
			User:              env.UserInputs.SSH.Username,
			PrivateKeyFile:    keyFile,
			PythonInterpreter: "/usr/bin/python3",
		},
	}}}
	if err := writeYAML(filepath.Join(dst, "inventory.yml"), "", inv, fileMode); err != nil {
		return err
	}

	tracker := env.UserInputs.Tracker
	vars := playbookVariables{
		SSHPort:          env.UserInputs.SSHPort,
		TrackerUDPPorts:  nonNil(tracker.UDPPorts),
		TrackerHTTPPorts: nonNil(tracker.HTTPPorts),
		TrackerAPIPort:   tracker.APIPort,
	}
	if err := writeYAML(filepath.Join(dst, "variables.yml"), "---", vars, fileMode); err != nil {
		return err
	}

	r.logger.Debug().Str("environment", env.Name().String()).Str("dir", dst).Msg("Rendered configuration templates")
	return nil
}

// nonNil keeps empty port lists as [] rather than null.
func nonNil(ports []int) []int {
	if ports == nil {
		return []int{}
	}
	return ports
}
