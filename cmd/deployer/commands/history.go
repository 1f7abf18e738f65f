package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/stores"
)

// historyReport is the --json output of 'deployer history'.
type historyReport struct {
	Environment string                `json:"environment"`
	Transitions []*stores.Transition  `json:"transitions"`
	Runs        []*stores.WorkflowRun `json:"runs"`
}

func newHistoryCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show an environment's stage transitions and workflow runs",
		Long: `Show the recorded stage transitions and workflow runs of an environment,
newest first. The history survives destroy and is removed by purge.`,
		Example: `  deployer history staging
  deployer history staging --limit 5 --json`,
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
			ctx := cmd.Context()

			key := name.String()
			transitions, err := a.history.ListTransitions(ctx, key, limit)
			if err != nil {
				return err
			}
			runs, err := a.history.ListRuns(ctx, &key, limit, 0)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(opts.stdout, historyReport{Environment: key, Transitions: transitions, Runs: runs})
			}

			tw := tabwriter.NewWriter(opts.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TRANSITIONS")
			fmt.Fprintln(tw, "TIME\tFROM\tTO\tPID")
			for _, t := range transitions {
				from := "-"
				if t.From != nil {
					from = *t.From
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.RecordedAt.Format(time.RFC3339), from, t.To, t.PID)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "RUNS")
			fmt.Fprintln(tw, "STARTED\tWORKFLOW\tSTATUS\tDURATION\tFAILED STEP")
			for _, r := range runs {
				duration, step := "-", "-"
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				if r.FailedStep != nil {
					step = *r.FailedStep
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.StartedAt.Format(time.RFC3339), r.Workflow, r.Status, duration, step)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries of each kind (0 for all)")
	return cmd
}
