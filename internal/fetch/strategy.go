// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// StrategyAgentCLI downloads through `gh api`, which manages its own session.
	StrategyAgentCLI StrategyKind = "agent-cli"
	// StrategyHTTP downloads the tarball endpoint directly with a token header.
	StrategyHTTP StrategyKind = "http"
	// StrategyGitSSH shallow-clones over SSH and repackages the working copy.
	StrategyGitSSH StrategyKind = "git-ssh"
	// StrategyGitHTTPS shallow-clones over token-authenticated HTTPS.
	StrategyGitHTTPS StrategyKind = "git-https"
)

// ErrInvalidStrategy is the sentinel error wrapped by InvalidStrategyError.
var ErrInvalidStrategy = errors.New("invalid fetch strategy")

type (
	// StrategyKind tags one acquisition transport.
	StrategyKind string

	// InvalidStrategyError is returned when a StrategyKind is not a known strategy.
	InvalidStrategyError struct {
		Value StrategyKind
	}
)

// AllStrategies returns every strategy in the default order.
func AllStrategies() []StrategyKind {
	return []StrategyKind{StrategyAgentCLI, StrategyHTTP, StrategyGitSSH, StrategyGitHTTPS}
}

// Validate returns an error if the kind is not a known strategy.
func (k StrategyKind) Validate() error {
	if !slices.Contains(AllStrategies(), k) {
		return &InvalidStrategyError{Value: k}
	}
	return nil
}

// String returns the string representation of the StrategyKind.
func (k StrategyKind) String() string { return string(k) }

// NeedsCredential reports whether the strategy can only run with a resolved
// token when the repository is private.
func (k StrategyKind) NeedsCredential() bool {
	return k == StrategyHTTP || k == StrategyGitHTTPS
}

// Error implements the error interface.
func (e *InvalidStrategyError) Error() string {
	names := make([]string, 0, len(AllStrategies()))
	for _, k := range AllStrategies() {
		names = append(names, string(k))
	}
	return fmt.Sprintf("invalid fetch strategy %q (expected one of: %s)", e.Value, strings.Join(names, ", "))
}

// Unwrap returns ErrInvalidStrategy so callers can use errors.Is for programmatic detection.
func (e *InvalidStrategyError) Unwrap() error { return ErrInvalidStrategy }
