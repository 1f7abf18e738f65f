package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/environment"
)

func newPurgeCommand(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <name>",
		Short: "Remove everything stored for a destroyed environment",
		Long: `Remove the state, traces, build directory and history of an environment.

The environment must be destroyed first. --force purges it anyway; any
instance it created is then left running and must be removed by hand.`,
		Example: `  deployer purge staging
  deployer purge staging --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := environment.ParseName(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.Purge(cmd.Context(), name, force); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Environment %s purged\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "purge an environment that was not destroyed")
	return cmd
}
