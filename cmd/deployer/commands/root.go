package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// DefaultLockTimeout is how long the CLI waits for another deployer process
// holding an environment's lock.
const DefaultLockTimeout = 10 * time.Second

// options holds the global flags.
type options struct {
	appConfig     string
	dataDir       string
	buildDir      string
	templatesDir  string
	lockTimeout   time.Duration
	verbose       bool
	jsonOutput    bool
	traceExporter string
	metricsFile   string
	policyPaths   []string

	version string
	stdout  io.Writer
	stderr  io.Writer
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr, version, commit, buildDate)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, version, commit, buildDate string) int {
	opts := &options{version: version, stdout: stdout, stderr: stderr}
	rootCmd := newRootCommand(opts, commit, buildDate)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(stderr, err, opts.verbose || isTerminal(stdout))
		return 1
	}
	return 0
}

func newRootCommand(opts *options, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployer",
		Short: "Deployer - tracker environment lifecycle manager",
		Long: `Deployer provisions, configures, releases and runs tracker environments
on LXD or Hetzner, recording every stage of the lifecycle on disk.

Lifecycle:
  create → provision → configure → release → run
  destroy from any stage, purge once destroyed

A failed workflow leaves the environment in a failure stage with a trace
file describing what went wrong; running the same command again retries it.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", opts.version, commit, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.appConfig, "app-config", "", "deployer settings file (default ./deployer.yaml if present)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding environment state and traces")
	flags.StringVar(&opts.buildDir, "build-dir", "", "directory receiving rendered artifacts")
	flags.StringVar(&opts.templatesDir, "templates-dir", "", "override the embedded templates")
	flags.DurationVar(&opts.lockTimeout, "lock-timeout", DefaultLockTimeout, "how long to wait for another process's lock (0 fails immediately)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logs and troubleshooting help")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.traceExporter, "trace-exporter", "", "OpenTelemetry exporter: stdout, otlp or none")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	flags.StringSliceVar(&opts.policyPaths, "policy", nil, "extra .rego or .json policy files or directories")

	rootCmd.AddCommand(newCreateCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	for _, w := range lifecycleWorkflows {
		rootCmd.AddCommand(newLifecycleCommand(opts, w))
	}
	rootCmd.AddCommand(newPurgeCommand(opts))
	rootCmd.AddCommand(newShowCommand(opts))
	rootCmd.AddCommand(newListCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}
