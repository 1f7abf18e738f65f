// Package trace writes per-failure trace files. Each failure gets its own
// file, named by failure time and workflow so a directory listing is
// chronological; files are created exclusively and never rewritten.
package trace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/faults"
	"github.com/rs/zerolog"
)

// timestampLayout sorts lexically in time order.
const timestampLayout = "20060102-150405.000000000"

// maxCollisions bounds the suffix search for same-instant failures.
const maxCollisions = 100

// Entry is everything a trace file describes.
type Entry struct {
	Workflow    string
	Environment environment.Name
	Record      environment.FailureRecord
	Err         error
}

// Writer creates trace files in a directory.
type Writer struct {
	dir    string
	logger zerolog.Logger
}

// NewWriter returns a writer for dir. The directory is created on first write.
func NewWriter(dir string, logger zerolog.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logger.With().Str("component", "trace-writer").Logger(),
	}
}

// Dir returns the trace directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write renders entry into a new file and returns its path.
func (w *Writer) Write(entry Entry) (string, error) {
	if entry.Workflow == "" {
		return "", errors.New("trace entry has no workflow name")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create trace directory: %w", err)
	}

	at := entry.Record.FailedAt
	if at.IsZero() {
		at = time.Now()
	}
	stamp := at.UTC().Format(timestampLayout)
	workflow := sanitize(entry.Workflow)
	content := Render(entry)

	for i := 0; i < maxCollisions; i++ {
		// A same-instant failure gets a counter inside the timestamp, so
		// "…000.01-provision.log" sorts after "…000-provision.log".
		name := stamp + "-" + workflow + ".log"
		if i > 0 {
			name = fmt.Sprintf("%s.%02d-%s.log", stamp, i, workflow)
		}
		path := filepath.Join(w.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create trace file: %w", err)
		}

		if _, err := f.WriteString(content); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("failed to write trace file: %w", err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("failed to sync trace file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close trace file: %w", err)
		}

		w.logger.Debug().
			Str("path", path).
			Str("workflow", entry.Workflow).
			Msg("Trace file written")
		return path, nil
	}

	return "", fmt.Errorf("failed to create trace file: %d files named %s*-%s.log already exist", maxCollisions, stamp, workflow)
}

// List returns the trace files in the directory, oldest first.
func (w *Writer) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		out = append(out, filepath.Join(w.dir, e.Name()))
	}
	return out, nil
}

// Render formats a trace entry.
func Render(entry Entry) string {
	var b strings.Builder
	r := entry.Record

	fmt.Fprintf(&b, "=== %s Failure Trace ===\n\n", title(entry.Workflow))
	fmt.Fprintf(&b, "Trace ID: %s\n", r.TraceID)
	fmt.Fprintf(&b, "Environment: %s\n", entry.Environment)
	fmt.Fprintf(&b, "Failed Step: %s (step %d)\n", r.Step, r.StepIndex)
	fmt.Fprintf(&b, "Error Kind: %s\n", r.Kind)
	fmt.Fprintf(&b, "Started At: %s\n", formatTime(r.StartedAt))
	fmt.Fprintf(&b, "Failed At: %s\n", formatTime(r.FailedAt))
	fmt.Fprintf(&b, "Duration: %s\n", r.Duration)
	fmt.Fprintf(&b, "Summary: %s\n", r.Summary)

	b.WriteString("\n=== ERROR CHAIN ===\n\n")
	if entry.Err == nil {
		b.WriteString("(no error recorded)\n")
	}
	faults.Walk(entry.Err, func(level int, e error) {
		fmt.Fprintf(&b, "[Level %d] %T: %s\n", level, e, describe(e))
	})

	if help := faults.HelpOf(entry.Err); len(help) > 0 {
		b.WriteString("\n=== SUGGESTED ACTIONS ===\n\n")
		for i, text := range help {
			if i > 0 {
				b.WriteString("\n---\n\n")
			}
			b.WriteString(strings.TrimSpace(text))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n=== END OF TRACE ===\n")
	return b.String()
}

// describe prefers the trace rendering of e and falls back to its message.
func describe(e error) string {
	if t, ok := e.(faults.Traceable); ok {
		if s := t.TraceFormat(); s != "" {
			return s
		}
	}
	return e.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
