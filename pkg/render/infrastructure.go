package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

const defaultLXDImage = "ubuntu:24.04"

type cloudConfig struct {
	Users         []cloudUser `yaml:"users"`
	PackageUpdate bool        `yaml:"package_update"`
	Packages      []string    `yaml:"packages,omitempty"`
	WriteFiles    []cloudFile `yaml:"write_files,omitempty"`
	RunCmd        []string    `yaml:"runcmd,omitempty"`
}

type cloudUser struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Shell             string   `yaml:"shell"`
	Sudo              string   `yaml:"sudo"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

type cloudFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"`
	Content     string `yaml:"content"`
}

type lxdVariables struct {
	InstanceName string
	ProfileName  string
	Image        string
}

type hetznerVariables struct {
	InstanceName string
	ServerType   string
	Location     string
	Image        string
	SSHPublicKey string
}

// RenderInfrastructure writes the OpenTofu project and cloud-init user data
// into TofuDir.
func (r *Renderer) RenderInfrastructure(ctx context.Context, env environment.Context) error {
	return telemetry.RecordToolInvocation(ctx, "render", "infrastructure", func(ctx context.Context) error {
		return withContext(ctx, func() error { return r.renderInfrastructure(env) })
	})
}

func (r *Renderer) renderInfrastructure(env environment.Context) error {
	pubKey, err := readPublicKey(env)
	if err != nil {
		return err
	}

	provider := env.UserInputs.Provider
	src := "tofu/" + string(provider.Kind)
	dst := TofuDir(env)

	if err := r.copyStatic(src, dst); err != nil {
		return err
	}

	var vars any
	switch provider.Kind {
	case environment.ProviderLXD:
		image := provider.Image
		if image == "" {
			image = defaultLXDImage
		}
		vars = lxdVariables{
			InstanceName: env.UserInputs.InstanceName,
			ProfileName:  provider.ProfileName,
			Image:        image,
		}
	case environment.ProviderHetzner:
		vars = hetznerVariables{
			InstanceName: env.UserInputs.InstanceName,
			ServerType:   provider.ServerType,
			Location:     provider.Location,
			Image:        provider.Image,
			SSHPublicKey: pubKey,
		}
	default:
		return fmt.Errorf("unsupported provider %q", provider.Kind)
	}
	if err := r.execute(src+"/variables.tfvars.tmpl", filepath.Join(dst, "variables.tfvars"), vars, fileMode); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(dst, "cloud-init.yml"), "#cloud-config", cloudInit(env, pubKey), fileMode); err != nil {
		return err
	}

	r.logger.Debug().Str("environment", env.Name().String()).Str("dir", dst).Msg("Rendered infrastructure templates")
	return nil
}

func cloudInit(env environment.Context, pubKey string) cloudConfig {
	cfg := cloudConfig{
		Users: []cloudUser{{
			Name:              env.UserInputs.SSH.Username,
			Groups:            "sudo",
			Shell:             "/bin/bash",
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			SSHAuthorizedKeys: []string{pubKey},
		}},
		PackageUpdate: true,
		Packages:      []string{"python3", "curl"},
	}
	if port := env.UserInputs.SSHPort; port != environment.DefaultSSHPort {
		cfg.WriteFiles = append(cfg.WriteFiles, cloudFile{
			Path:        "/etc/ssh/sshd_config.d/10-port.conf",
			Permissions: "0644",
			Content:     "Port " + strconv.Itoa(port) + "\n",
		})
		cfg.RunCmd = append(cfg.RunCmd, "systemctl restart ssh")
	}
	return cfg
}
