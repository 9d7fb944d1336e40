// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// SourceExplicitEnv reads the token from an environment variable.
	SourceExplicitEnv SourceKind = "explicit-env"
	// SourceAgentCLI asks an authenticated gh session for its token.
	SourceAgentCLI SourceKind = "agent-cli"
	// SourceAgentConfigFile reads the token from the gh hosts file.
	SourceAgentConfigFile SourceKind = "agent-config-file"
	// SourceVCSConfig reads a token key from the global git config.
	SourceVCSConfig SourceKind = "version-control-config"
	// SourceCredentialStore queries git's credential helpers.
	SourceCredentialStore SourceKind = "credential-store"
	// SourcePlatformKeychain looks up an internet password in the macOS keychain.
	SourcePlatformKeychain SourceKind = "platform-keychain"

	// redactedPrefixLen is how many leading characters of a secret may be shown.
	redactedPrefixLen = 4
)

// ErrInvalidSourceKind is the sentinel error wrapped by InvalidSourceKindError.
var ErrInvalidSourceKind = errors.New("invalid credential source")

type (
	// SourceKind tags where a Credential came from.
	SourceKind string

	// InvalidSourceKindError is returned when a SourceKind is not one of the known sources.
	InvalidSourceKindError struct {
		Value SourceKind
	}

	// Credential is an immutable token plus its provenance.
	Credential struct {
		secret string
		source SourceKind
	}
)

// AllSources returns every source in the default resolution order.
func AllSources() []SourceKind {
	return []SourceKind{
		SourceExplicitEnv,
		SourceAgentCLI,
		SourceAgentConfigFile,
		SourceVCSConfig,
		SourceCredentialStore,
		SourcePlatformKeychain,
	}
}

// Validate returns an error if the kind is not a known source.
func (k SourceKind) Validate() error {
	if !slices.Contains(AllSources(), k) {
		return &InvalidSourceKindError{Value: k}
	}
	return nil
}

// String returns the string representation of the SourceKind.
func (k SourceKind) String() string { return string(k) }

// Error implements the error interface.
func (e *InvalidSourceKindError) Error() string {
	names := make([]string, 0, len(AllSources()))
	for _, k := range AllSources() {
		names = append(names, string(k))
	}
	return fmt.Sprintf("invalid credential source %q (expected one of: %s)", e.Value, strings.Join(names, ", "))
}

// Unwrap returns ErrInvalidSourceKind so callers can use errors.Is for programmatic detection.
func (e *InvalidSourceKindError) Unwrap() error { return ErrInvalidSourceKind }

// New wraps a token. Surrounding whitespace is trimmed.
func New(secret string, source SourceKind) Credential {
	return Credential{secret: strings.TrimSpace(secret), source: source}
}

// Secret returns the full token. Only transports should call this.
func (c Credential) Secret() string { return c.secret }

// Source returns where the token was found.
func (c Credential) Source() SourceKind { return c.source }

// IsZero reports whether the credential carries no token.
func (c Credential) IsZero() bool { return c.secret == "" }

// Redacted returns the first few characters of the token followed by a mask.
func (c Credential) Redacted() string {
	if len(c.secret) <= redactedPrefixLen {
		return "****"
	}
	return c.secret[:redactedPrefixLen] + "****"
}

// String renders the provenance and redacted token.
func (c Credential) String() string {
	return fmt.Sprintf("%s(%s)", c.source, c.Redacted())
}

// GoString keeps %#v from printing the secret.
func (c Credential) GoString() string {
	return fmt.Sprintf("credential.Credential{source: %q, secret: %q}", c.source, c.Redacted())
}
