// Package telemetry provides observability for deployer commands.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and workflow events behind one Telemetry value that is carried
// in the context:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Tracing
//
// Every workflow run gets a root span (StartWorkflowSpan) and each step a
// child span. The trace exporter is "none", "stdout" (pretty-printed to
// stderr) or "otlp" (gRPC to Endpoint).
//
// # Metrics
//
// A CLI process is short-lived, so metrics are not scraped from it. When
// MetricsConfig.TextfilePath is set, Shutdown writes the registry in the
// Prometheus text format for the node exporter textfile collector. The
// long-running 'deployer watch' command serves the same registry over HTTP
// with Serve.
//
// Metrics also implements stores.RepositoryObserver, so lock contention,
// stale-lock removal and stage transitions are counted where they happen.
//
// # Events
//
// EventPublisher delivers workflow events in order to subscribers. PersistTo
// subscribes the SQLite history store, which backs 'deployer history'.
// ProgressRecorder is the bridge from workflow progress callbacks to spans,
// step metrics and events.
package telemetry
