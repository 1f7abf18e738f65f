package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/deployer/pkg/faults"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// OpenSQLiteStore creates, initializes and migrates a store in one call.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// AppendTransition records a persisted stage change.
func (s *SQLiteStore) AppendTransition(ctx context.Context, t *Transition) error {
	query := `
		INSERT INTO transitions (environment, from_stage, to_stage, pid, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query, t.Environment, t.From, t.To, t.PID, t.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transition ID: %w", err)
	}
	t.ID = id
	return nil
}

// ListTransitions returns the newest transitions of an environment first.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) ListTransitions(ctx context.Context, environment string, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, environment, from_stage, to_stage, pid, recorded_at
		FROM transitions
		WHERE environment = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []*Transition{}
	for rows.Next() {
		t := &Transition{}
		if err := rows.Scan(&t.ID, &t.Environment, &t.From, &t.To, &t.PID, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

// CreateRun creates a new workflow run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (id, environment, workflow, status, started_at, completed_at, failed_step, error, trace_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Environment,
		run.Workflow,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.FailedStep,
		run.Error,
		run.TraceFile,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a workflow run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, failedStep, errMsg, traceFile *string) error {
	if !status.IsFinal() {
		return fmt.Errorf("run status %q is not final", status)
	}
	query := `
		UPDATE workflow_runs
		SET status = ?, completed_at = ?, failed_step = ?, error = ?, trace_file = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), failedStep, errMsg, traceFile, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return runNotFound(id)
	}

	return nil
}

// GetRun retrieves a workflow run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*WorkflowRun, error) {
	query := `
		SELECT id, environment, workflow, status, started_at, completed_at, failed_step, error, trace_file
		FROM workflow_runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists workflow runs, newest first, optionally for one environment.
func (s *SQLiteStore) ListRuns(ctx context.Context, environment *string, limit, offset int) ([]*WorkflowRun, error) {
	query := `
		SELECT id, environment, workflow, status, started_at, completed_at, failed_step, error, trace_file
		FROM workflow_runs
		WHERE (? IS NULL OR environment = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, environment, environment, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, environment, workflow, type, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Environment,
		event.Workflow,
		event.Type,
		event.Level,
		event.Message,
		event.Data,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters, in insertion order.
// A limit of zero or less returns all matching events.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, environment, workflow, type, level, message, data, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Environment,
			&event.Workflow,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// PurgeEnvironment deletes all history of an environment in one transaction.
func (s *SQLiteStore) PurgeEnvironment(ctx context.Context, environment string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, query := range []string{
		`DELETE FROM events WHERE environment = ?`,
		`DELETE FROM workflow_runs WHERE environment = ?`,
		`DELETE FROM transitions WHERE environment = ?`,
	} {
		if _, err := tx.ExecContext(ctx, query, environment); err != nil {
			return fmt.Errorf("failed to purge history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*WorkflowRun, error) {
	run := &WorkflowRun{}
	err := row.Scan(
		&run.ID,
		&run.Environment,
		&run.Workflow,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.FailedStep,
		&run.Error,
		&run.TraceFile,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func runNotFound(id string) error {
	return faults.New(faults.ClassPermanent, faults.CodeNotFound, "workflow run not found: "+id, nil)
}
