// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"

	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/fetch"
)

const (
	// KindCredentialNotFound means every credential source came up empty.
	KindCredentialNotFound Kind = "CredentialNotFound"
	// KindAcquisitionFailed means every fetch strategy failed.
	KindAcquisitionFailed Kind = "AcquisitionFailed"
	// KindExtractionFailed means the archive could not be unpacked.
	KindExtractionFailed Kind = "ExtractionFailed"
	// KindBundlingFailed means the entry script or fragments were unusable.
	KindBundlingFailed Kind = "BundlingFailed"
	// KindInstallFailed means the artifact could not be placed.
	KindInstallFailed Kind = "InstallFailed"
)

// Stages in execution order.
const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageBundle  Stage = "bundle"
	StageInstall Stage = "install"
)

type (
	// Kind is the machine-readable failure class.
	Kind string

	// Stage names a pipeline step.
	Stage string

	// Failure is the terminal error of a run.
	Failure struct {
		Kind  Kind
		Stage Stage
		Err   error

		hints []string
	}
)

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// String returns the string representation of the Stage.
func (s Stage) String() string { return string(s) }

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Unwrap exposes the stage error so errors.Is reaches stage sentinels.
func (f *Failure) Unwrap() error { return f.Err }

// Remediation returns human-readable next steps.
func (f *Failure) Remediation() []string {
	hints := append([]string(nil), f.hints...)

	var nf *credential.NotFoundError
	var ae *fetch.AcquisitionError
	switch {
	case errors.As(f.Err, &nf):
		hints = append(hints, nf.Remediation...)
	case errors.As(f.Err, &ae):
		hints = append(hints, ae.Remediation()...)
	}
	return hints
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
