// SPDX-License-Identifier: MPL-2.0

// Package extcmdtest provides a scripted extcmd.Runner for tests.
package extcmdtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/toolsmith/toolsmith/internal/extcmd"
	"github.com/toolsmith/toolsmith/pkg/types"
)

type (
	// Recorder is a fake extcmd.Runner. Responses are matched in the order
	// they were registered; unmatched commands behave like a missing program.
	Recorder struct {
		mu    sync.Mutex
		rules []rule
		calls []extcmd.Command
	}

	rule struct {
		match  func(extcmd.Command) bool
		result func(extcmd.Command) extcmd.Result
	}
)

// NewRecorder creates a Recorder with no scripted responses.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On scripts the result for an exact command line ("gh auth token --hostname github.com").
func (r *Recorder) On(cmdline string, res extcmd.Result) *Recorder {
	return r.OnFunc(func(c extcmd.Command) bool { return c.String() == cmdline }, func(extcmd.Command) extcmd.Result { return res })
}

// OnPrefix scripts the result for every command line starting with prefix.
func (r *Recorder) OnPrefix(prefix string, res extcmd.Result) *Recorder {
	return r.OnFunc(func(c extcmd.Command) bool { return strings.HasPrefix(c.String(), prefix) }, func(extcmd.Command) extcmd.Result { return res })
}

// OnFunc registers a custom matcher and result builder.
func (r *Recorder) OnFunc(match func(extcmd.Command) bool, result func(extcmd.Command) extcmd.Result) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{match: match, result: result})
	return r
}

// Run implements extcmd.Runner.
func (r *Recorder) Run(_ context.Context, cmd extcmd.Command) extcmd.Result {
	r.mu.Lock()
	r.calls = append(r.calls, extcmd.Command{
		Name:  cmd.Name,
		Args:  slices.Clone(cmd.Args),
		Stdin: slices.Clone(cmd.Stdin),
		Env:   slices.Clone(cmd.Env),
	})
	rules := slices.Clone(r.rules)
	r.mu.Unlock()

	for _, rl := range rules {
		if rl.match(cmd) {
			return rl.result(cmd)
		}
	}
	return Missing(cmd.Name)
}

// Calls returns every recorded command in invocation order.
func (r *Recorder) Calls() []extcmd.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CommandLines returns the recorded commands rendered as command lines.
func (r *Recorder) CommandLines() []string {
	calls := r.Calls()
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Programs returns the program name of each recorded call, in order.
func (r *Recorder) Programs() []string {
	calls := r.Calls()
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	return names
}

// Ok is a successful result with the given stdout.
func Ok(stdout string) extcmd.Result {
	return extcmd.Result{ExitCode: types.ExitOK, Stdout: []byte(stdout)}
}

// OkBytes is a successful result with binary stdout.
func OkBytes(stdout []byte) extcmd.Result {
	return extcmd.Result{ExitCode: types.ExitOK, Stdout: stdout}
}

// Fail is a non-zero exit with the given stderr.
func Fail(code int, stderr string) extcmd.Result {
	return extcmd.Result{ExitCode: types.ExitCode(code), Stderr: []byte(stderr)}
}

// Missing is the result ExecRunner produces when a program is not on PATH.
func Missing(name string) extcmd.Result {
	return extcmd.Result{ExitCode: types.ExitNotInstalled, Err: fmt.Errorf("%s: %w", name, extcmd.ErrNotInstalled)}
}
