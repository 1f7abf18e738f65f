package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listEntry is one row of 'deployer list'.
type listEntry struct {
	Name       string `json:"name"`
	Stage      string `json:"stage,omitempty"`
	Provider   string `json:"provider,omitempty"`
	InstanceIP string `json:"instance_ip,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.repo.List()
			if err != nil {
				return err
			}

			entries := make([]listEntry, 0, len(names))
			for _, name := range names {
				entry := listEntry{Name: name.String()}
				env, err := a.orch.Load(cmd.Context(), name)
				if err != nil {
					// One unreadable environment must not hide the others.
					entry.Error = err.Error()
					entries = append(entries, entry)
					continue
				}
				entry.Stage = env.Stage().String()
				entry.Provider = string(env.Context().UserInputs.Provider.Kind)
				if inst, ok := env.Instance(); ok {
					entry.InstanceIP = inst.IP().String()
				}
				entries = append(entries, entry)
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(opts.stdout, "No environments")
				return nil
			}

			tw := tabwriter.NewWriter(opts.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTAGE\tPROVIDER\tIP")
			for _, e := range entries {
				stage := e.Stage
				if e.Error != "" {
					stage = "error: " + e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, stage, e.Provider, e.InstanceIP)
			}
			return tw.Flush()
		},
	}
}
