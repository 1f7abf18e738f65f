package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/stores"
)

// stageEvent is one line of 'deployer watch --json'.
type stageEvent struct {
	Time        time.Time `json:"time"`
	Environment string    `json:"environment"`
	Stage       string    `json:"stage"`
	InstanceIP  string    `json:"instance_ip,omitempty"`
	FailedStep  string    `json:"failed_step,omitempty"`
	TraceFile   string    `json:"trace_file,omitempty"`
}

func newWatchCommand(opts *options) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Print an environment's stage every time it changes",
		Long: `Print an environment's current stage, then a line for every stage change
made by other deployer processes, until interrupted.

With --metrics-addr the current stage is also exported as the
deployer_environment_stage gauge on http://<addr>/metrics.`,
		Example: `  deployer watch staging
  deployer watch staging --metrics-addr 127.0.0.1:9464`,
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

			// Fails with NOT_FOUND before watching a directory that does not exist.
			if _, err := a.orch.Load(cmd.Context(), name); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			if metricsAddr != "" {
				g.Go(func() error {
					a.logger.Info().Str("address", metricsAddr).Msg("Serving metrics")
					return a.tel.Metrics.Serve(ctx, metricsAddr)
				})
			}
			g.Go(func() error {
				return stores.NewWatcher(a.repo).Watch(ctx, name, func(env environment.AnyEnvironment) error {
					a.tel.Metrics.ObserveStage(env.Name().String(), env.Stage())
					return printStage(opts, env)
				})
			})

			err = g.Wait()
			if err == nil || cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func printStage(opts *options, env environment.AnyEnvironment) error {
	ev := stageEvent{
		Time:        time.Now().UTC(),
		Environment: env.Name().String(),
		Stage:       env.Stage().String(),
	}
	if inst, ok := env.Instance(); ok {
		ev.InstanceIP = inst.IP().String()
	}
	if f, ok := env.Failure(); ok {
		ev.FailedStep = f.Step
		ev.TraceFile = f.TraceFile
	}

	if opts.jsonOutput {
		// One object per line so the output can be piped.
		return json.NewEncoder(opts.stdout).Encode(ev)
	}
	line := fmt.Sprintf("%s  %s  %s", ev.Time.Format(time.RFC3339), ev.Environment, ev.Stage)
	if ev.FailedStep != "" {
		line += "  failed at " + ev.FailedStep
	}
	_, err := fmt.Fprintln(opts.stdout, line)
	return err
}
