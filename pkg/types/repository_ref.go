// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidRepositoryRef is the sentinel error wrapped by InvalidRepositoryRefError.
	ErrInvalidRepositoryRef = errors.New("invalid repository reference")
	// ErrInvalidBinaryName is the sentinel error wrapped by InvalidBinaryNameError.
	ErrInvalidBinaryName = errors.New("invalid binary name")

	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	// Tags reach external tools as arguments; a leading dash would be read as a flag.
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9_.+][A-Za-z0-9_.+/-]*$`)
	binaryPattern  = regexp.MustCompile(`^[A-Za-z0-9_+][A-Za-z0-9_.+-]*$`)
)

type (
	// RepositoryRef identifies one tagged snapshot of a source repository.
	RepositoryRef struct {
		Owner   string
		Name    string
		Version string
	}

	// InvalidRepositoryRefError is returned when a RepositoryRef field fails validation.
	InvalidRepositoryRefError struct {
		Value  string
		Reason string
	}

	// BinaryName is the file name an artifact is installed under.
	// It must be a single path element.
	BinaryName string

	// InvalidBinaryNameError is returned when a BinaryName is empty or contains
	// path separators.
	InvalidBinaryNameError struct {
		Value BinaryName
	}
)

// ParseRepositoryRef parses "owner/name@version".
func ParseRepositoryRef(s string) (RepositoryRef, error) {
	slug, version, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return RepositoryRef{}, &InvalidRepositoryRefError{Value: s, Reason: "missing @version"}
	}
	owner, name, ok := strings.Cut(slug, "/")
	if !ok {
		return RepositoryRef{}, &InvalidRepositoryRefError{Value: s, Reason: "expected owner/name"}
	}
	ref := RepositoryRef{Owner: owner, Name: name, Version: version}
	if err := ref.Validate(); err != nil {
		return RepositoryRef{}, err
	}
	return ref, nil
}

// Validate returns an error if any field is empty or malformed.
func (r RepositoryRef) Validate() error {
	switch {
	case !ownerPattern.MatchString(r.Owner):
		return &InvalidRepositoryRefError{Value: r.String(), Reason: fmt.Sprintf("invalid owner %q", r.Owner)}
	case !namePattern.MatchString(r.Name) || r.Name == "." || r.Name == "..":
		return &InvalidRepositoryRefError{Value: r.String(), Reason: fmt.Sprintf("invalid name %q", r.Name)}
	case !versionPattern.MatchString(r.Version) || strings.Contains(r.Version, ".."):
		return &InvalidRepositoryRefError{Value: r.String(), Reason: fmt.Sprintf("invalid version %q", r.Version)}
	}
	return nil
}

// Slug returns "owner/name".
func (r RepositoryRef) Slug() string { return r.Owner + "/" + r.Name }

// String returns "owner/name@version".
func (r RepositoryRef) String() string { return r.Slug() + "@" + r.Version }

// Error implements the error interface.
func (e *InvalidRepositoryRefError) Error() string {
	return fmt.Sprintf("invalid repository reference %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRepositoryRef so callers can use errors.Is for programmatic detection.
func (e *InvalidRepositoryRefError) Unwrap() error { return ErrInvalidRepositoryRef }

// Validate returns an error unless the name is a single, non-hidden path element.
func (n BinaryName) Validate() error {
	if !binaryPattern.MatchString(string(n)) || n == "." || n == ".." {
		return &InvalidBinaryNameError{Value: n}
	}
	return nil
}

// String returns the string representation of the BinaryName.
func (n BinaryName) String() string { return string(n) }

// Error implements the error interface.
func (e *InvalidBinaryNameError) Error() string {
	return fmt.Sprintf("invalid binary name %q (must be a single file name without path separators)", e.Value)
}

// Unwrap returns ErrInvalidBinaryName so callers can use errors.Is for programmatic detection.
func (e *InvalidBinaryNameError) Unwrap() error { return ErrInvalidBinaryName }
