package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/tksoh/puro/internal/execx"
)

// FakeRunner is an execx.Runner scripted per command name. Tests register
// handlers and later inspect the recorded calls.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]func(execx.Cmd) (string, error)
	paths    map[string]string
	Calls    []execx.Cmd
}

// NewFakeRunner creates an empty fake runner. Commands without a handler
// fail, so tests notice unexpected executions.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		handlers: make(map[string]func(execx.Cmd) (string, error)),
		paths:    make(map[string]string),
	}
}

// Handle registers a handler for commands with the given name.
func (f *FakeRunner) Handle(name string, fn func(execx.Cmd) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = fn
}

// Path makes LookPath succeed for name.
func (f *FakeRunner) Path(name, resolved string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = resolved
}

// CallsTo returns the recorded invocations of the named command.
func (f *FakeRunner) CallsTo(name string) []execx.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execx.Cmd
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRunner) Run(_ context.Context, c execx.Cmd) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, c)
	fn := f.handlers[c.Name]
	f.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("no handler for command %q", c.Name)
	}
	return fn(c)
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("executable %q not found on fake path", name)
}
