package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/policy"
)

func newValidateCommand(opts *options) *cobra.Command {
	var (
		configPath string
		vars       map[string]string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an environment configuration file",
		Long: `Validate an environment configuration file without creating anything.

This command checks:
  - Schema conformance (CUE)
  - Field rules and the environment name
  - Policy compliance (OPA/rego), including --policy files`,
		Example: `  # Validate a config
  deployer validate --config envs/staging.yaml

  # Validate with site policies
  deployer validate --config envs/staging.yaml --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, opts)
			if err != nil {
				return err
			}
			logger := newLogger(settings, opts).Zerolog()

			envCfg, result, err := loadEnvironmentConfig(cmd.Context(), logger, settings.PolicyPaths, configPath, vars, policy.OperationValidate)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, result)
			}
			fmt.Fprintf(opts.stdout, "Configuration for environment %s is valid (%d policies evaluated)\n",
				envCfg.Environment.Name, len(result.EvaluatedPolicies))
			for _, w := range result.Warnings {
				fmt.Fprintf(opts.stdout, "  %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "environment configuration file")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variable passed to Starlark configs (key=value)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
