// Package tofu provisions and destroys instances by driving the OpenTofu CLI
// in the project directory written by the render package.
package tofu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/adapters/command"
	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/openfroyo/deployer/pkg/render"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

const (
	// Binary is the OpenTofu executable name.
	Binary = "tofu"

	varFile = "-var-file=variables.tfvars"
)

// TokenEnv is read from the process environment and handed to OpenTofu for
// providers that need an API token.
const TokenEnv = "HCLOUD_TOKEN"

// InstanceInfo is the instance_info output of the OpenTofu projects.
type InstanceInfo struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	Status    string `json:"status"`
	IPAddress string `json:"ip_address"`
}

// Client runs OpenTofu for an environment.
type Client struct {
	runner command.Runner
	logger zerolog.Logger
}

// New returns a Client running commands through runner.
func New(runner command.Runner, logger zerolog.Logger) *Client {
	return &Client{runner: runner, logger: logger.With().Str("component", "tofu").Logger()}
}

func (c *Client) run(ctx context.Context, env environment.Context, op string, args ...string) (*command.Result, error) {
	dir := render.TofuDir(env)
	var result *command.Result
	err := telemetry.RecordToolInvocation(ctx, Binary, op, func(ctx context.Context) error {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return faults.New(faults.ClassPermanent, faults.CodeNotFound, "OpenTofu project directory is missing", err).
				WithHint("The build directory " + dir + " was removed. Provisioning renders it again; " +
					"for destroy, remove the instance with your provider's tools and purge the environment with --force.")
		}

		spec := command.Spec{Name: Binary, Args: append([]string{op}, args...), Dir: dir, Env: c.env(env)}
		var err error
		result, err = c.runner.Run(ctx, spec)
		return err
	})
	if err != nil {
		return result, &Error{Op: op, Dir: dir, Err: err}
	}
	c.logger.Info().Str("environment", env.Name().String()).Str("operation", op).Msg("OpenTofu command succeeded")
	return result, nil
}

func (c *Client) env(env environment.Context) map[string]string {
	vars := map[string]string{"TF_IN_AUTOMATION": "1"}
	if env.UserInputs.Provider.Kind == environment.ProviderHetzner {
		if token := os.Getenv(TokenEnv); token != "" {
			vars["TF_VAR_hcloud_token"] = token
		}
	}
	return vars
}

// Init runs tofu init.
func (c *Client) Init(ctx context.Context, env environment.Context) error {
	_, err := c.run(ctx, env, "init", "-input=false")
	return err
}

// Validate runs tofu validate.
func (c *Client) Validate(ctx context.Context, env environment.Context) error {
	_, err := c.run(ctx, env, "validate")
	return err
}

// Plan runs tofu plan with the rendered variables.
func (c *Client) Plan(ctx context.Context, env environment.Context) error {
	_, err := c.run(ctx, env, "plan", "-input=false", varFile)
	return err
}

// Apply runs tofu apply without prompting.
func (c *Client) Apply(ctx context.Context, env environment.Context) error {
	_, err := c.run(ctx, env, "apply", "-input=false", "-auto-approve", varFile)
	return err
}

// Destroy runs tofu destroy without prompting.
func (c *Client) Destroy(ctx context.Context, env environment.Context) error {
	_, err := c.run(ctx, env, "destroy", "-input=false", "-auto-approve", varFile)
	return err
}

// Instance reads the instance_info output.
func (c *Client) Instance(ctx context.Context, env environment.Context) (InstanceInfo, error) {
	result, err := c.run(ctx, env, "output", "-json")
	if err != nil {
		return InstanceInfo{}, err
	}
	info, err := ParseInstanceInfo([]byte(result.Stdout))
	if err != nil {
		return InstanceInfo{}, &Error{Op: "output", Dir: render.TofuDir(env), Err: err}
	}
	return info, nil
}

// InstanceIP returns the address of the provisioned instance.
func (c *Client) InstanceIP(ctx context.Context, env environment.Context) (netip.Addr, error) {
	info, err := c.Instance(ctx, env)
	if err != nil {
		return netip.Addr{}, err
	}
	ip, err := netip.ParseAddr(info.IPAddress)
	if err != nil {
		return netip.Addr{}, &Error{Op: "output", Dir: render.TofuDir(env), Err: fmt.Errorf("ip_address is not a valid IP address: %w", err)}
	}
	return ip, nil
}

// ParseInstanceInfo decodes the output of tofu output -json.
func ParseInstanceInfo(data []byte) (InstanceInfo, error) {
	var outputs map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &outputs); err != nil {
		return InstanceInfo{}, fmt.Errorf("failed to parse OpenTofu output as JSON: %w", err)
	}
	out, ok := outputs["instance_info"]
	if !ok || len(out.Value) == 0 {
		return InstanceInfo{}, errors.New("instance_info section not found in OpenTofu outputs")
	}
	var info InstanceInfo
	if err := json.Unmarshal(out.Value, &info); err != nil {
		return InstanceInfo{}, fmt.Errorf("instance_info has an unexpected shape: %w", err)
	}
	if info.IPAddress == "" {
		return InstanceInfo{}, errors.New("instance_info.ip_address is empty; the instance may not have an address yet")
	}
	return info, nil
}

// Error wraps a failed OpenTofu operation.
type Error struct {
	Op  string
	Dir string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tofu %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Help returns troubleshooting steps for the failed operation.
func (e *Error) Help() string {
	switch e.Op {
	case "init":
		return "OpenTofu init failed. Check network access to the provider registry and run 'tofu init' in " + e.Dir + " to see the full output."
	case "validate", "plan":
		return "The rendered OpenTofu project in " + e.Dir + " is invalid or the provider rejected it. " +
			"Check the provider settings in the environment config; for Hetzner, export " + TokenEnv + "."
	case "apply":
		return `OpenTofu apply failed.

1. Check the provider is reachable (for LXD: 'lxc list'; for Hetzner: the API token in ` + TokenEnv + `).
2. Check quotas and that the instance name is not already taken.
3. Run 'tofu plan -var-file=variables.tfvars' in ` + e.Dir + ` to inspect the change set.
4. Destroy the environment before retrying if a partial instance exists.`
	case "destroy":
		return "OpenTofu destroy failed. Inspect the state in " + e.Dir + " and remove leftovers with the provider's own tools, then run destroy again."
	case "output":
		return "OpenTofu did not report the instance address. Run 'tofu output -json' in " + e.Dir + "."
	default:
		return ""
	}
}
