package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/policy"
)

func newCreateCommand(opts *options) *cobra.Command {
	var (
		configPath string
		vars       map[string]string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment from a configuration file",
		Long: `Create an environment from a YAML, JSON, CUE or Starlark configuration file.

The configuration is checked against the schema and the policies before
anything is stored. The new environment starts in the created stage; run
'deployer provision <name>' next.`,
		Example: `  # Create from YAML
  deployer create --config envs/staging.yaml

  # Create from Starlark, passing variables
  deployer create --config envs/tracker.star --var name=e2e-1 --var ports=3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			envCfg, _, err := loadEnvironmentConfig(ctx, a.logger, a.settings.PolicyPaths, configPath, vars, policy.OperationCreate)
			if err != nil {
				return err
			}
			inputs, err := envCfg.ToUserInputs()
			if err != nil {
				return err
			}
			envCtx, err := environment.NewContext(inputs, a.settings.DataDir, a.settings.BuildDir, time.Now())
			if err != nil {
				return err
			}

			env, err := a.orch.Create(ctx, envCtx)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, env.Erase())
			}
			fmt.Fprintf(opts.stdout, "Environment %s created\n", env.Name())
			fmt.Fprintf(opts.stdout, "Next: deployer provision %s\n", env.Name())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "environment configuration file")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variable passed to Starlark configs (key=value)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// loadEnvironmentConfig loads and validates path, then runs the policies
// for operation.
func loadEnvironmentConfig(ctx context.Context, logger zerolog.Logger, policyPaths []string, path string, vars map[string]string, operation string) (*config.EnvironmentConfig, *policy.Result, error) {
	starVars := make(map[string]any, len(vars))
	for k, v := range vars {
		starVars[k] = v
	}
	loader := config.NewLoader(
		config.WithStarlarkVars(starVars),
		config.WithLoaderLogger(logger),
	)

	envCfg, err := loader.LoadFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	result, err := checkPolicies(ctx, logger, policyPaths, operation, envCfg)
	if err != nil {
		return nil, result, err
	}
	return envCfg, result, nil
}
