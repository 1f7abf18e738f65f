package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/openfroyo/deployer/pkg/workflow"
)

// ConsoleListener prints workflow progress for a person watching the
// terminal.
type ConsoleListener struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	total   int
}

var _ workflow.ProgressListener = (*ConsoleListener)(nil)

// NewConsoleListener returns a listener writing to w. Debug messages are
// printed only when verbose is set.
func NewConsoleListener(w io.Writer, verbose bool) *ConsoleListener {
	return &ConsoleListener{w: w, verbose: verbose}
}

func (l *ConsoleListener) OnStepStarted(step, total int, description string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = total
	fmt.Fprintf(l.w, "[%d/%d] %s...\n", step, total, description)
}

func (l *ConsoleListener) OnStepCompleted(step int, description string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%d/%d] %s: done\n", step, l.total, description)
}

func (l *ConsoleListener) OnDetail(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "      %s\n", msg)
}

func (l *ConsoleListener) OnDebug(msg string) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "      debug: %s\n", msg)
}
