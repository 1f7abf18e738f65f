package command

import (
	"context"
	"strings"
	"sync"
)

// Fake records specs and answers them from canned results. It is exported
// for the adapter packages' tests.
type Fake struct {
	mu      sync.Mutex
	Calls   []Spec
	Results map[string]*Result
	Errors  map[string]error
}

// NewFake returns an empty Fake that succeeds with no output.
func NewFake() *Fake {
	return &Fake{Results: map[string]*Result{}, Errors: map[string]error{}}
}

// Run records spec. Canned results and errors are keyed by the first
// argument, e.g. "apply" or "output".
func (f *Fake) Run(_ context.Context, spec Spec) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, spec)

	key := ""
	if len(spec.Args) > 0 {
		key = spec.Args[0]
	}
	if err, ok := f.Errors[key]; ok {
		return &Result{ExitCode: 1}, err
	}
	if r, ok := f.Results[key]; ok {
		return r, nil
	}
	return &Result{}, nil
}

// Lines returns every recorded invocation as a command line.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = strings.TrimSpace(c.String())
	}
	return out
}
