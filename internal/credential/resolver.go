// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/toolsmith/toolsmith/internal/extcmd"
)

const (
	// DefaultHost is the forge host tokens are resolved for.
	DefaultHost = "github.com"
	// DefaultEnvVar is the primary token variable.
	DefaultEnvVar = "GITHUB_TOKEN"
	// DefaultLegacyEnvVar is the legacy alias kept for existing Homebrew setups.
	DefaultLegacyEnvVar = "HOMEBREW_GITHUB_API_TOKEN"
	// DefaultVCSConfigKey is the git config key holding a token.
	DefaultVCSConfigKey = "github.token"
)

// ErrNotFound is returned when every configured source came up empty.
var ErrNotFound = errors.New("no credential found")

type (
	// Options is the explicit resolver configuration. The zero value of any
	// field falls back to its default in NewResolver.
	Options struct {
		// Order lists the sources to try. Defaults to AllSources().
		Order []SourceKind
		// EnvVars are read in order (primary name, then legacy aliases).
		EnvVars []string
		// Host is the forge host (github.com).
		Host string
		// AgentCLI is the gh executable.
		AgentCLI string
		// AgentConfigPath is the gh hosts file. Empty uses ~/.config/gh/hosts.yml.
		AgentConfigPath string
		// AgentConfigField is the nested key path of the token in AgentConfigPath.
		// Empty uses [Host, "oauth_token"].
		AgentConfigField []string
		// VCSCLI is the git executable.
		VCSCLI string
		// VCSConfigKey is the git config key holding a token.
		VCSConfigKey string
		// CredentialProtocol is the protocol sent to git credential fill.
		CredentialProtocol string
		// KeychainCLI is the macOS security executable.
		KeychainCLI string
	}

	// Attempt records why one source did not produce a credential.
	Attempt struct {
		Source SourceKind
		Reason string
	}

	// NotFoundError reports an exhausted source chain.
	NotFoundError struct {
		Attempts    []Attempt
		Remediation []string
	}

	// Resolver walks credential sources in order.
	Resolver struct {
		opts     Options
		runner   extcmd.Runner
		getenv   func(string) string
		readFile func(string) ([]byte, error)
		homeDir  func() (string, error)
		goos     string
		logger   *log.Logger
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)
)

// WithRunner sets the external command runner.
func WithRunner(r extcmd.Runner) ResolverOption {
	return func(res *Resolver) {
		res.runner = r
	}
}

// WithGetenv overrides os.Getenv.
func WithGetenv(fn func(string) string) ResolverOption {
	return func(res *Resolver) {
		res.getenv = fn
	}
}

// WithReadFile overrides os.ReadFile.
func WithReadFile(fn func(string) ([]byte, error)) ResolverOption {
	return func(res *Resolver) {
		res.readFile = fn
	}
}

// WithHomeDir overrides os.UserHomeDir.
func WithHomeDir(fn func() (string, error)) ResolverOption {
	return func(res *Resolver) {
		res.homeDir = fn
	}
}

// WithGOOS overrides runtime.GOOS for the platform-conditional keychain source.
func WithGOOS(goos string) ResolverOption {
	return func(res *Resolver) {
		res.goos = goos
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ResolverOption {
	return func(res *Resolver) {
		res.logger = l
	}
}

// DefaultOptions returns the options NewResolver falls back to.
func DefaultOptions() Options {
	return Options{
		Order:              AllSources(),
		EnvVars:            []string{DefaultEnvVar, DefaultLegacyEnvVar},
		Host:               DefaultHost,
		AgentCLI:           "gh",
		VCSCLI:             "git",
		VCSConfigKey:       DefaultVCSConfigKey,
		CredentialProtocol: "https",
		KeychainCLI:        "security",
	}
}

// Validate checks that Order only names known sources, each at most once.
func (o Options) Validate() error {
	seen := make(map[SourceKind]bool, len(o.Order))
	for _, k := range o.Order {
		if err := k.Validate(); err != nil {
			return err
		}
		if seen[k] {
			return fmt.Errorf("credential source %q listed more than once", k)
		}
		seen[k] = true
	}
	return nil
}

// NewResolver creates a Resolver. It returns an error if opts.Order is invalid.
func NewResolver(opts Options, ropts ...ResolverOption) (*Resolver, error) {
	opts = withDefaults(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		opts:     opts,
		getenv:   os.Getenv,
		readFile: os.ReadFile,
		homeDir:  os.UserHomeDir,
		goos:     runtime.GOOS,
	}
	for _, o := range ropts {
		o(r)
	}
	if r.runner == nil {
		r.runner = extcmd.NewExecRunner()
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r, nil
}

// Options returns the effective configuration.
func (r *Resolver) Options() Options { return r.opts }

// Resolve returns the first non-empty credential. Source failures are never
// fatal; only context cancellation or exhaustion end the walk early.
func (r *Resolver) Resolve(ctx context.Context) (Credential, error) {
	attempts := make([]Attempt, 0, len(r.opts.Order))
	for _, kind := range r.opts.Order {
		if err := ctx.Err(); err != nil {
			return Credential{}, fmt.Errorf("resolving credential: %w", err)
		}

		secret, reason := r.lookup(ctx, kind)
		if secret = strings.TrimSpace(secret); secret != "" {
			cred := New(secret, kind)
			r.logger.Debug("credential resolved", "source", kind, "token", cred.Redacted())
			return cred, nil
		}

		r.logger.Debug("credential source unavailable", "source", kind, "reason", reason)
		attempts = append(attempts, Attempt{Source: kind, Reason: reason})
	}

	return Credential{}, &NotFoundError{Attempts: attempts, Remediation: r.remediation()}
}

// lookup dispatches to the source implementation for kind.
func (r *Resolver) lookup(ctx context.Context, kind SourceKind) (secret, reason string) {
	switch kind {
	case SourceExplicitEnv:
		return r.fromEnv()
	case SourceAgentCLI:
		return r.fromAgentCLI(ctx)
	case SourceAgentConfigFile:
		return r.fromAgentConfig()
	case SourceVCSConfig:
		return r.fromVCSConfig(ctx)
	case SourceCredentialStore:
		return r.fromCredentialStore(ctx)
	case SourcePlatformKeychain:
		return r.fromKeychain(ctx)
	}
	return "", "unknown source"
}

// remediation lists every way the user can supply a token, in source order.
func (r *Resolver) remediation() []string {
	hints := make([]string, 0, len(r.opts.Order))
	for _, kind := range r.opts.Order {
		switch kind {
		case SourceExplicitEnv:
			hints = append(hints, fmt.Sprintf("Export a token: export %s=<token>", r.opts.EnvVars[0]))
		case SourceAgentCLI:
			hints = append(hints, fmt.Sprintf("Log in with the GitHub CLI: %s auth login --hostname %s", r.opts.AgentCLI, r.opts.Host))
		case SourceAgentConfigFile:
			hints = append(hints, fmt.Sprintf("Add %s to %s", strings.Join(r.agentConfigField(), "."), r.agentConfigPath()))
		case SourceVCSConfig:
			hints = append(hints, fmt.Sprintf("Store a token in git config: %s config --global %s <token>", r.opts.VCSCLI, r.opts.VCSConfigKey))
		case SourceCredentialStore:
			hints = append(hints, fmt.Sprintf("Save a password for %s://%s in a git credential helper", r.opts.CredentialProtocol, r.opts.Host))
		case SourcePlatformKeychain:
			if r.goos == "darwin" {
				hints = append(hints, fmt.Sprintf("Add an internet password for %s to the macOS keychain", r.opts.Host))
			}
		}
	}
	return hints
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Source, a.Reason))
	}
	return fmt.Sprintf("%s (tried %s)", ErrNotFound.Error(), strings.Join(parts, "; "))
}

// Unwrap returns ErrNotFound so callers can use errors.Is for programmatic detection.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.Order == nil {
		o.Order = d.Order
	}
	if len(o.EnvVars) == 0 {
		o.EnvVars = d.EnvVars
	}
	if o.Host == "" {
		o.Host = d.Host
	}
	if o.AgentCLI == "" {
		o.AgentCLI = d.AgentCLI
	}
	if o.VCSCLI == "" {
		o.VCSCLI = d.VCSCLI
	}
	if o.VCSConfigKey == "" {
		o.VCSConfigKey = d.VCSConfigKey
	}
	if o.CredentialProtocol == "" {
		o.CredentialProtocol = d.CredentialProtocol
	}
	if o.KeychainCLI == "" {
		o.KeychainCLI = d.KeychainCLI
	}
	return o
}
