// SPDX-License-Identifier: MPL-2.0

package extcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/toolsmith/toolsmith/pkg/types"
)

const (
	// DefaultTimeout bounds a single external invocation.
	DefaultTimeout = 30 * time.Second

	// maxMessageBytes caps how much stderr is folded into error summaries.
	maxMessageBytes = 512
)

var (
	// ErrNotInstalled is returned in Result.Err when the program is not on PATH.
	ErrNotInstalled = errors.New("program not installed")
	// ErrTimeout is returned in Result.Err when the invocation exceeded its timeout.
	ErrTimeout = errors.New("program timed out")
)

type (
	// Command describes one external invocation.
	Command struct {
		Name  string
		Args  []string
		Stdin []byte
		// Env entries ("KEY=value") are appended to the current environment.
		Env []string
	}

	// Result is the structured outcome of a Command.
	Result struct {
		ExitCode types.ExitCode
		Stdout   []byte
		Stderr   []byte
		// Err is set when the program could not be started, timed out, or
		// the context was canceled. A plain non-zero exit leaves Err nil.
		Err error
	}

	// Runner executes external commands.
	Runner interface {
		Run(ctx context.Context, cmd Command) Result
	}

	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LookPathFunc resolves a program name to a path.
	LookPathFunc func(file string) (string, error)

	// ExecRunner is the production Runner backed by os/exec.
	ExecRunner struct {
		execCommand ExecCommandFunc
		lookPath    LookPathFunc
		timeout     time.Duration
		logger      *log.Logger
	}

	// Option configures an ExecRunner.
	Option func(*ExecRunner)
)

// WithTimeout sets the per-invocation timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *ExecRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithExecCommand overrides exec.CommandContext.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(r *ExecRunner) {
		r.execCommand = fn
	}
}

// WithLookPath overrides exec.LookPath.
func WithLookPath(fn LookPathFunc) Option {
	return func(r *ExecRunner) {
		r.lookPath = fn
	}
}

// WithLogger sets the logger used for debug tracing of invocations.
func WithLogger(l *log.Logger) Option {
	return func(r *ExecRunner) {
		r.logger = l
	}
}

// NewExecRunner creates an ExecRunner with a DefaultTimeout.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// Run executes cmd and never panics or blocks past the configured timeout.
// Arguments are logged but stdout is not, since it may carry secrets.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) Result {
	path, err := r.lookPath(cmd.Name)
	if err != nil {
		r.logger.Debug("external program unavailable", "program", cmd.Name)
		return Result{ExitCode: types.ExitNotInstalled, Err: fmt.Errorf("%s: %w", cmd.Name, ErrNotInstalled)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c := r.execCommand(runCtx, path, cmd.Args...)
	if len(cmd.Env) > 0 {
		base := c.Env
		if base == nil {
			base = os.Environ()
		}
		c.Env = append(base, cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	// Don't let an orphaned grandchild holding the pipes pin Wait past the deadline.
	c.WaitDelay = time.Second

	r.logger.Debug("running external program", "program", cmd.Name, "args", cmd.Args)
	runErr := c.Run()

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = types.ExitOK
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: %w after %s", cmd.Name, ErrTimeout, r.timeout)
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = ctx.Err()
	case errors.As(runErr, &exitErr):
		res.ExitCode = types.ExitCode(exitErr.ExitCode())
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("starting %s: %w", cmd.Name, runErr)
	}
	r.logger.Debug("external program finished", "program", cmd.Name, "exit", int(res.ExitCode))
	return res
}

// Succeeded reports exit status 0 with no execution error.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.ExitCode == types.ExitOK
}

// TrimmedStdout returns stdout with surrounding whitespace removed.
func (r Result) TrimmedStdout() string {
	return strings.TrimSpace(string(r.Stdout))
}

// Summary describes a failed result in one line, for attempt logs.
func (r Result) Summary() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	msg := strings.TrimSpace(string(r.Stderr))
	if len(msg) > maxMessageBytes {
		msg = msg[:maxMessageBytes] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", r.ExitCode, firstLine(msg))
}

// String renders the command line for diagnostics.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
