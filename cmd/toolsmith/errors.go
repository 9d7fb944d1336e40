// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/toolsmith/toolsmith/internal/config"
	"github.com/toolsmith/toolsmith/internal/issue"
	"github.com/toolsmith/toolsmith/internal/pipeline"
	"github.com/toolsmith/toolsmith/pkg/types"
)

// renderIssue is the issue renderer; tests swap it to skip glamour.
var renderIssue = func(id issue.Id) (string, error) {
	return issue.Get(id).Render("dark")
}

// classifyError maps a command failure to an issue catalog entry and an exit code.
func classifyError(err error) (issue.Id, types.ExitCode) {
	if f, ok := pipeline.AsFailure(err); ok {
		switch f.Kind {
		case pipeline.KindCredentialNotFound:
			return issue.CredentialNotFoundId, types.ExitUserError
		case pipeline.KindAcquisitionFailed:
			return issue.AcquisitionFailedId, types.ExitPipelineError
		case pipeline.KindExtractionFailed:
			return issue.ExtractionFailedId, types.ExitPipelineError
		case pipeline.KindBundlingFailed:
			return issue.BundlingFailedId, types.ExitPipelineError
		case pipeline.KindInstallFailed:
			if errors.Is(err, os.ErrPermission) {
				return issue.PermissionDeniedId, types.ExitInstallError
			}
			return issue.InstallFailedId, types.ExitInstallError
		}
	}

	switch {
	case errors.Is(err, config.ErrRecipeNotFound):
		return issue.RecipeNotFoundId, types.ExitUserError
	case errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidRepositoryRef),
		errors.Is(err, types.ErrInvalidBinaryName):
		return issue.InvalidReferenceId, types.ExitUserError
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId, types.ExitUserError
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId, types.ExitUserError
	}

	if ae, ok := issue.AsActionable(err); ok && ae.Issue != 0 {
		return ae.Issue, types.ExitUserError
	}
	return 0, types.ExitUserError
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
func formatErrorForDisplay(err error, verbose bool) string {
	if ae, ok := issue.AsActionable(err); ok {
		return ae.Format(verbose)
	}
	return err.Error()
}

// reportError writes the styled error, the remediation steps and the issue
// help text to w, and returns the ExitError the command should return.
func reportError(w io.Writer, err error, verbose bool) *ExitError {
	id, code := classifyError(err)

	fmt.Fprintf(w, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))

	if f, ok := pipeline.AsFailure(err); ok {
		if hints := f.Remediation(); len(hints) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, WarningStyle.Render("To fix this:"))
			for _, h := range hints {
				fmt.Fprintf(w, "  • %s\n", h)
			}
		}
	}

	if id != 0 {
		if rendered, rerr := renderIssue(id); rerr == nil {
			fmt.Fprint(w, rendered)
		}
	}

	return &ExitError{Code: code, Err: err}
}
