// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/extcmd"
	"github.com/toolsmith/toolsmith/pkg/types"
)

const (
	// ArchiveFileName is the name of the downloaded tarball inside the destination directory.
	ArchiveFileName = "source.tar.gz"
	// DefaultCloneTimeout bounds one git strategy, all tag candidates included.
	DefaultCloneTimeout = 5 * time.Minute
)

// ErrAcquisitionFailed is the sentinel error wrapped by AcquisitionError.
var ErrAcquisitionFailed = errors.New("acquisition failed")

type (
	// Options is the explicit fetcher configuration.
	Options struct {
		// Order lists the strategies to try. Defaults to AllStrategies().
		Order []StrategyKind
		// Host is the git host for clone URLs (github.com).
		Host string
		// AgentCLI is the gh executable.
		AgentCLI string
		// Public lets credentialed strategies run anonymously.
		Public bool
		// CloneTimeout bounds each git strategy. Defaults to DefaultCloneTimeout.
		CloneTimeout time.Duration
	}

	// Archive is an acquired tarball on disk.
	Archive struct {
		Path     string
		Size     int64
		Strategy StrategyKind
	}

	// Attempt records one strategy's failure.
	Attempt struct {
		Strategy StrategyKind
		Reason   string
		// ExitCode is set for strategies that run an external program.
		ExitCode types.ExitCode
	}

	// AcquisitionError reports an exhausted strategy chain.
	AcquisitionError struct {
		Ref      types.RepositoryRef
		Attempts []Attempt
	}

	// Fetcher walks acquisition strategies in order.
	Fetcher struct {
		opts    Options
		runner  extcmd.Runner
		client  *Client
		cloner  Cloner
		sshAuth SSHAuthFunc
		logger  *log.Logger
	}

	// Option configures a Fetcher.
	Option func(*Fetcher)

	// strategyFunc writes the tarball to path, or explains why it could not.
	strategyFunc func(ctx context.Context, cred *credential.Credential, ref types.RepositoryRef, path string) *Attempt
)

// WithRunner sets the external command runner.
func WithRunner(r extcmd.Runner) Option {
	return func(f *Fetcher) {
		f.runner = r
	}
}

// WithClient sets the HTTP tarball client.
func WithClient(c *Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithCloner sets the git clone implementation.
func WithCloner(c Cloner) Option {
	return func(f *Fetcher) {
		f.cloner = c
	}
}

// WithSSHAuth overrides SSH key discovery.
func WithSSHAuth(fn SSHAuthFunc) Option {
	return func(f *Fetcher) {
		f.sshAuth = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// Validate checks that Order only names known strategies, each at most once.
func (o Options) Validate() error {
	seen := make(map[StrategyKind]bool, len(o.Order))
	for _, k := range o.Order {
		if err := k.Validate(); err != nil {
			return err
		}
		if seen[k] {
			return fmt.Errorf("fetch strategy %q listed more than once", k)
		}
		seen[k] = true
	}
	return nil
}

// NewFetcher creates a Fetcher. It returns an error if opts.Order is invalid.
func NewFetcher(opts Options, fopts ...Option) (*Fetcher, error) {
	if opts.Order == nil {
		opts.Order = AllStrategies()
	}
	if opts.Host == "" {
		opts.Host = credential.DefaultHost
	}
	if opts.AgentCLI == "" {
		opts.AgentCLI = "gh"
	}
	if opts.CloneTimeout <= 0 {
		opts.CloneTimeout = DefaultCloneTimeout
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	f := &Fetcher{opts: opts, sshAuth: DefaultSSHAuth, cloner: GoGitCloner{}}
	for _, o := range fopts {
		o(f)
	}
	if f.runner == nil {
		f.runner = extcmd.NewExecRunner()
	}
	if f.client == nil {
		f.client = NewClient()
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard)
	}
	return f, nil
}

// Fetch acquires the tarball for ref into destDir. cred may be nil.
// Each strategy runs at most once; a zero-byte result counts as a failure.
func (f *Fetcher) Fetch(ctx context.Context, cred *credential.Credential, ref types.RepositoryRef, destDir string) (Archive, error) {
	if err := ref.Validate(); err != nil {
		return Archive{}, err
	}
	if cred != nil && cred.IsZero() {
		cred = nil
	}

	path := filepath.Join(destDir, ArchiveFileName)
	attempts := make([]Attempt, 0, len(f.opts.Order))

	for _, kind := range f.opts.Order {
		if err := ctx.Err(); err != nil {
			return Archive{}, fmt.Errorf("fetching %s: %w", ref, err)
		}

		if kind.NeedsCredential() && cred == nil && !f.opts.Public {
			f.logger.Debug("fetch strategy skipped", "strategy", kind, "reason", "no credential")
			attempts = append(attempts, Attempt{Strategy: kind, Reason: "skipped: no credential"})
			continue
		}

		f.logger.Debug("trying fetch strategy", "strategy", kind, "ref", ref)
		failed := f.strategy(kind)(ctx, cred, ref, path)
		if failed == nil {
			failed = verifyArchive(path)
		}
		if failed == nil {
			info, _ := os.Stat(path) //nolint:errcheck // verifyArchive already stat'ed it
			f.logger.Info("archive acquired", "strategy", kind, "bytes", info.Size())
			return Archive{Path: path, Size: info.Size(), Strategy: kind}, nil
		}

		failed.Strategy = kind
		// A failed strategy must not leave a partial file for the next one.
		_ = os.Remove(path)
		f.logger.Debug("fetch strategy failed", "strategy", kind, "reason", failed.Reason)
		attempts = append(attempts, *failed)
	}

	return Archive{}, &AcquisitionError{Ref: ref, Attempts: attempts}
}

func (f *Fetcher) strategy(kind StrategyKind) strategyFunc {
	switch kind {
	case StrategyAgentCLI:
		return f.viaAgentCLI
	case StrategyHTTP:
		return f.viaHTTP
	case StrategyGitSSH:
		return f.viaGitSSH
	case StrategyGitHTTPS:
		return f.viaGitHTTPS
	}
	return func(context.Context, *credential.Credential, types.RepositoryRef, string) *Attempt {
		return &Attempt{Reason: "unknown strategy"}
	}
}

// verifyArchive enforces the non-empty invariant.
func verifyArchive(path string) *Attempt {
	info, err := os.Stat(path)
	if err != nil {
		return &Attempt{Reason: "no archive written"}
	}
	if info.Size() == 0 {
		return &Attempt{Reason: "empty archive (0 bytes)"}
	}
	return nil
}

// Obtained reports whether the archive satisfies the non-empty invariant.
func (a Archive) Obtained() bool { return a.Size > 0 }

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Reason))
	}
	return fmt.Sprintf("could not acquire %s (tried %s)", e.Ref, strings.Join(parts, "; "))
}

// Unwrap returns ErrAcquisitionFailed so callers can use errors.Is for programmatic detection.
func (e *AcquisitionError) Unwrap() error { return ErrAcquisitionFailed }

// Remediation suggests fixes based on how each strategy failed.
func (e *AcquisitionError) Remediation() []string {
	hints := []string{fmt.Sprintf("Check that tag %q exists in %s", e.Ref.Version, e.Ref.Slug())}
	for _, a := range e.Attempts {
		switch {
		case a.Strategy == StrategyAgentCLI && a.ExitCode == types.ExitNotInstalled:
			hints = append(hints, "Install the GitHub CLI (gh) and run `gh auth login`")
		case a.Strategy == StrategyGitSSH && strings.Contains(a.Reason, ErrNoSSHKey.Error()):
			hints = append(hints, "Add an SSH key registered with GitHub to ~/.ssh or load it into ssh-agent")
		case strings.HasPrefix(a.Reason, "skipped: no credential"):
			hints = append(hints, fmt.Sprintf("Provide a token so the %s strategy can run", a.Strategy))
		case strings.Contains(a.Reason, "status 404"):
			hints = append(hints, "A 404 from a private repository usually means the token lacks the repo scope")
		}
	}
	return hints
}
