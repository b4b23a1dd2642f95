package ui

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives coarse-grained progress from long operations (downloads,
// extraction, source sync). Components report through a Sink instead of
// writing to the terminal directly.
type Sink interface {
	// Step announces the start of a named stage.
	Step(label string)
	// Logf reports an informational message within the current stage.
	Logf(format string, args ...any)
}

// Console is a Sink printing numbered stages to a writer.
type Console struct {
	out   io.Writer
	mu    sync.Mutex
	steps int
}

// NewConsole creates a console progress sink.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Step(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
	_, _ = fmt.Fprintf(c.out, "[%d] %s\n", c.steps, label)
}

func (c *Console) Logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "    "+format+"\n", args...)
}

// Discard is a Sink that drops all events.
var Discard Sink = discard{}

type discard struct{}

func (discard) Step(string)         {}
func (discard) Logf(string, ...any) {}
