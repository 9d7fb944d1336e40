// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a failure outside the install pipeline (loading
	// configuration, looking up a recipe) that the user can fix. Issue links
	// it to the catalog entry the CLI prints below the message.
	//
	//	return issue.NewErrorContext().
	//		WithOperation("load configuration").
	//		WithResource(path).
	//		WithIssue(issue.ConfigLoadFailedId).
	//		WithHint("Run 'toolsmith config init' to write the defaults").
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase: "load configuration", "look up recipe".
		Operation string
		// Resource is the file, reference or recipe name involved. Optional.
		Resource string
		// Issue is the catalog entry describing the failure. Zero means none.
		Issue Id
		// Hints are shown as a bullet list under the message.
		Hints []string
		Cause error
	}

	// ErrorContext accumulates the fields of an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext starts an ActionableError.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	var sb strings.Builder
	sb.WriteString("failed to ")
	sb.WriteString(e.Operation)
	if e.Resource != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Resource)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error { return e.Cause }

// Format is Error followed by the hints. verbose adds every error in the
// cause chain, one per line, so wrapped CUE and filesystem errors are visible.
func (e *ActionableError) Format(verbose bool) string {
	var sb strings.Builder
	sb.WriteString(e.Error())

	if len(e.Hints) > 0 {
		sb.WriteString("\n")
		for _, h := range e.Hints {
			sb.WriteString("\n  • ")
			sb.WriteString(h)
		}
	}

	if verbose && e.Cause != nil {
		sb.WriteString("\n\nError chain:")
		for i, err := 1, e.Cause; err != nil; i, err = i+1, errors.Unwrap(err) {
			fmt.Fprintf(&sb, "\n  %d. %s", i, err.Error())
		}
	}
	return sb.String()
}

// AsActionable reports whether err wraps an ActionableError.
func AsActionable(err error) (*ActionableError, bool) {
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.err.Issue = id
	return c
}

// WithHint appends one hint; call it once per line.
func (c *ErrorContext) WithHint(hint string) *ErrorContext {
	c.err.Hints = append(c.err.Hints, hint)
	return c
}

func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// BuildError returns the accumulated error, or nil when no operation was
// set. The builder can keep being used; later calls do not alter errors
// already returned.
func (c *ErrorContext) BuildError() error {
	if c.err.Operation == "" {
		return nil
	}
	ae := c.err
	ae.Hints = append([]string(nil), c.err.Hints...)
	return &ae
}
