package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deployer/pkg/adapters/ansible"
	"github.com/openfroyo/deployer/pkg/adapters/command"
	"github.com/openfroyo/deployer/pkg/adapters/compose"
	"github.com/openfroyo/deployer/pkg/adapters/tofu"
	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/policy"
	"github.com/openfroyo/deployer/pkg/render"
	"github.com/openfroyo/deployer/pkg/stores"
	"github.com/openfroyo/deployer/pkg/telemetry"
	"github.com/openfroyo/deployer/pkg/transports/ssh"
	"github.com/openfroyo/deployer/pkg/workflow"
)

// loadSettings reads the settings file and environment, then applies the
// flags the user set.
func loadSettings(cmd *cobra.Command, opts *options) (*config.AppConfig, error) {
	cfg, err := config.LoadAppConfig(opts.appConfig)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = opts.dataDir
	}
	if flags.Changed("build-dir") {
		cfg.BuildDir = opts.buildDir
	}
	if flags.Changed("templates-dir") {
		cfg.TemplatesDir = opts.templatesDir
	}
	// The library default of zero fails immediately; the CLI waits.
	if flags.Changed("lock-timeout") || cfg.LockTimeout == 0 {
		cfg.LockTimeout = opts.lockTimeout
	}
	if flags.Changed("trace-exporter") {
		cfg.Telemetry.Tracing.Exporter = opts.traceExporter
		cfg.Telemetry.Tracing.Enabled = opts.traceExporter != "" && opts.traceExporter != "none"
	}
	if flags.Changed("metrics-file") {
		cfg.Telemetry.Metrics.TextfilePath = opts.metricsFile
	}
	cfg.PolicyPaths = append(cfg.PolicyPaths, opts.policyPaths...)

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Telemetry.Logging.Level = level
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	cfg.Telemetry.ServiceVersion = opts.version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))
	return cfg, nil
}

// newLogger builds the command logger. Console output goes to the command's
// stderr so it never mixes with results on stdout.
func newLogger(cfg *config.AppConfig, opts *options) *telemetry.Logger {
	logging := cfg.Telemetry.Logging
	if logging.Output == "" || logging.Output == "stderr" {
		return telemetry.NewLoggerTo(opts.stderr, logging, logging.NoColor || !isTerminal(opts.stderr))
	}
	logger, err := telemetry.NewLogger(logging)
	if err != nil {
		return telemetry.NewLoggerTo(opts.stderr, logging, true)
	}
	return logger
}

// app is everything a lifecycle command needs, built from the settings.
type app struct {
	settings *config.AppConfig
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	history  *stores.SQLiteStore
	repo     *stores.EnvironmentRepository
	orch     *workflow.Orchestrator
	opts     *options
}

func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	ctx := cmd.Context()
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tel.Logger = newLogger(settings, opts)
	logger := tel.Logger.Zerolog()

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	history, err := stores.OpenSQLiteStore(ctx, settings.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	tel.Events.Subscribe(telemetry.PersistTo(history, logger), nil)

	repo := stores.NewEnvironmentRepository(settings.DataDir,
		stores.WithLockTimeout(settings.LockTimeout),
		stores.WithTransitionLog(history),
		stores.WithLogger(logger),
		stores.WithObserver(tel.Metrics),
	)

	runner := command.NewExec(logger)
	remote := ssh.NewRemote(logger)

	orch, err := workflow.New(workflow.Dependencies{
		Repository: repo,
		Renderer: render.New(logger,
			render.WithTemplatesDir(settings.TemplatesDir),
			render.WithSecrets(render.EnvSecrets(logger)),
		),
		Provisioner:  tofu.New(runner, logger),
		Configurator: ansible.New(runner, logger),
		Remote:       remote,
		Services:     compose.New(remote, workflow.RemoteAppDir, logger),
		RunLog:       history,
		Telemetry:    tel,
	})
	if err != nil {
		_ = history.Close()
		return nil, err
	}

	return &app{
		settings: settings,
		tel:      tel,
		logger:   logger,
		history:  history,
		repo:     repo,
		orch:     orch,
		opts:     opts,
	}, nil
}

// Close flushes telemetry, which also writes the metrics textfile, and
// closes the history database.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close history database")
	}
}

// checkPolicies runs the built-in and configured policies for operation.
func checkPolicies(ctx context.Context, logger zerolog.Logger, paths []string, operation string, cfg *config.EnvironmentConfig) (*policy.Result, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return engine.Check(ctx, operation, cfg)
}
