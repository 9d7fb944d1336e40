// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

const configPath = "/home/dev/.config/toolsmith/config.cue"

func configLoadError(cause error) error {
	return NewErrorContext().
		WithOperation("load configuration").
		WithResource(configPath).
		WithIssue(ConfigLoadFailedId).
		WithHint("Check that the file contains valid CUE syntax").
		WithHint("Run 'toolsmith config init --force' to start over").
		Wrap(cause).
		BuildError()
}

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "look up recipe"},
			want: "failed to look up recipe",
		},
		{
			name: "with resource",
			err:  &ActionableError{Operation: "look up recipe", Resource: "kdiff"},
			want: "failed to look up recipe: kdiff",
		},
		{
			name: "with resource and cause",
			err: &ActionableError{
				Operation: "load configuration",
				Resource:  configPath,
				Cause:     errors.New("fetch.order.0: conflicting values"),
			},
			want: "failed to load configuration: " + configPath + ": fetch.order.0: conflicting values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorContext_BuildError(t *testing.T) {
	t.Parallel()

	err := configLoadError(fs.ErrNotExist)
	ae, ok := AsActionable(err)
	if !ok {
		t.Fatalf("BuildError() = %T, want *ActionableError", err)
	}
	if ae.Operation != "load configuration" || ae.Resource != configPath || ae.Issue != ConfigLoadFailedId {
		t.Errorf("fields = %+v", ae)
	}
	if len(ae.Hints) != 2 {
		t.Errorf("Hints = %v, want 2", ae.Hints)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("cause not reachable through errors.Is")
	}
}

func TestErrorContext_BuildErrorWithoutOperation(t *testing.T) {
	t.Parallel()

	if err := NewErrorContext().WithResource("kdiff").BuildError(); err != nil {
		t.Errorf("BuildError() = %v, want nil without an operation", err)
	}
}

func TestErrorContext_ReuseDoesNotAlterBuiltErrors(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().WithOperation("look up recipe").WithHint("Run 'toolsmith recipes'")
	first := ctx.WithResource("kdiff").BuildError()
	second := ctx.WithResource("r53").WithHint("Check the recipes list in config.cue").BuildError()

	a, _ := AsActionable(first)
	b, _ := AsActionable(second)
	if a.Resource != "kdiff" || len(a.Hints) != 1 {
		t.Errorf("first error changed after reuse: %+v", a)
	}
	if b.Resource != "r53" || len(b.Hints) != 2 {
		t.Errorf("second error = %+v", b)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("reading %s: %w", configPath, fs.ErrPermission)
	err := configLoadError(inner)
	ae, _ := AsActionable(err)

	plain := ae.Format(false)
	if !strings.HasPrefix(plain, "failed to load configuration: "+configPath) {
		t.Errorf("Format(false) = %q", plain)
	}
	if !strings.Contains(plain, "\n\n  • Check that the file contains valid CUE syntax\n  • Run 'toolsmith config init --force'") {
		t.Errorf("hints missing or misformatted:\n%s", plain)
	}
	if strings.Contains(plain, "Error chain") {
		t.Error("non-verbose output includes the error chain")
	}

	verbose := ae.Format(true)
	for _, want := range []string{"Error chain:", "1. reading " + configPath, "2. permission denied"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}
}

func TestAsActionable(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("toolsmith install kdiff: %w", configLoadError(errors.New("boom")))
	if ae, ok := AsActionable(wrapped); !ok || ae.Issue != ConfigLoadFailedId {
		t.Errorf("AsActionable(wrapped) = %v, %v", ae, ok)
	}
	if _, ok := AsActionable(errors.New("plain")); ok {
		t.Error("AsActionable(plain) = true")
	}
}
