package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// DefaultTimeout bounds a single external command when the Cmd does not set
// its own. Downloads are not subject to it; only subprocess calls are.
const DefaultTimeout = 10 * time.Minute

// NoTimeout exempts a command from the default timeout. The caller's context
// still cancels it.
const NoTimeout time.Duration = -1

// Cmd describes one external command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the parent environment.
	Env     []string
	Timeout time.Duration
}

// String renders the command line in shell syntax for diagnostics.
func (c Cmd) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// ToolError reports a subprocess that exited non-zero. The captured output is
// preserved so callers can surface the raw tool output.
type ToolError struct {
	Cmd      Cmd
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd.String(), e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

// Runner executes external commands. Implementations must be safe for
// sequential reuse; the tree passes a single Runner through every component.
type Runner interface {
	// Run executes the command and returns its combined output. A non-zero
	// exit is reported as a *ToolError.
	Run(ctx context.Context, c Cmd) (string, error)
	// LookPath reports the absolute path of an executable on the search path.
	LookPath(name string) (string, error)
}

// Local runs commands on the host.
type Local struct{}

func (Local) Run(ctx context.Context, c Cmd) (string, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.String(), fmt.Errorf("%s: %w", c.String(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), &ToolError{Cmd: c, ExitCode: exitErr.ExitCode(), Output: out.String()}
	}
	return out.String(), fmt.Errorf("%s: %w", c.String(), err)
}

func (Local) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
