package run

import (
	"context"
	"sync"
)

// Fake is a Runner that records commands instead of spawning processes.
// Pipeline packages use it to assert exact command sequences and to
// simulate tool failures at specific steps.
type Fake struct {
	mu sync.Mutex

	// Calls records every command passed to Run, in order.
	Calls []Command

	// InteractiveCalls records every command passed to Interactive.
	InteractiveCalls []Command

	// Handler decides the result for Run. Nil means exit 0, no output.
	Handler func(cmd Command) (*Result, error)

	// InteractiveHandler decides the exit code for Interactive.
	// Nil means exit 0.
	InteractiveHandler func(cmd Command) (int, error)
}

var _ Runner = (*Fake)(nil)

func (f *Fake) Run(ctx context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if handler != nil {
		return handler(cmd)
	}
	return &Result{ExitCode: 0}, nil
}

func (f *Fake) Interactive(ctx context.Context, cmd Command) (int, error) {
	f.mu.Lock()
	f.InteractiveCalls = append(f.InteractiveCalls, cmd)
	handler := f.InteractiveHandler
	f.mu.Unlock()

	if handler != nil {
		return handler(cmd)
	}
	return 0, nil
}

// CommandLines returns the recorded Run commands as display strings,
// which makes sequence assertions in tests readable.
func (f *Fake) CommandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = c.String()
	}
	return lines
}
