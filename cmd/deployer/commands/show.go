package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/environment"
)

func newShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show an environment's stage and details",
		Long: `Show an environment's stage, instance and paths. For a failure stage the
failed step, error kind and trace file are shown too.

With --json the stored document is printed.`,
		Example: `  deployer show staging
  deployer show staging --json`,
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

			env, err := a.orch.Load(cmd.Context(), name)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(opts.stdout, env)
			}
			return writeEnvironment(opts.stdout, env)
		},
	}
}

func writeEnvironment(w io.Writer, env environment.AnyEnvironment) error {
	c := env.Context()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Environment:\t%s\n", env.Name())
	fmt.Fprintf(tw, "Stage:\t%s\n", env.Stage())
	fmt.Fprintf(tw, "Provider:\t%s\n", describeProvider(c.UserInputs.Provider))
	fmt.Fprintf(tw, "Instance:\t%s\n", c.UserInputs.InstanceName)
	if inst, ok := env.Instance(); ok {
		fmt.Fprintf(tw, "IP address:\t%s\n", inst.IP())
		fmt.Fprintf(tw, "SSH:\tssh -i %s -p %d %s@%s\n",
			c.UserInputs.SSH.PrivateKeyPath, c.UserInputs.SSHPort, c.UserInputs.SSH.Username, inst.IP())
	}
	fmt.Fprintf(tw, "Created:\t%s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Data dir:\t%s\n", c.Internal.DataDir)
	fmt.Fprintf(tw, "Build dir:\t%s\n", c.Internal.BuildDir)

	if f, ok := env.Failure(); ok {
		fmt.Fprintf(tw, "Failed step:\t%s\n", f.Step)
		fmt.Fprintf(tw, "Error kind:\t%s\n", f.Kind)
		fmt.Fprintf(tw, "Error:\t%s\n", f.Summary)
		fmt.Fprintf(tw, "Failed at:\t%s (after %s)\n", f.FailedAt.Format(time.RFC3339), f.Duration.Round(time.Millisecond))
		if f.TraceFile != "" {
			fmt.Fprintf(tw, "Trace file:\t%s\n", f.TraceFile)
		}
	}
	return tw.Flush()
}

func describeProvider(p environment.ProviderSettings) string {
	switch p.Kind {
	case environment.ProviderLXD:
		return fmt.Sprintf("%s (profile %s)", p.Kind, p.ProfileName)
	case environment.ProviderHetzner:
		return fmt.Sprintf("%s (%s in %s)", p.Kind, p.ServerType, p.Location)
	default:
		return string(p.Kind)
	}
}
