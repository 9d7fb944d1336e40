// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/toolsmith/toolsmith/internal/archive"
	"github.com/toolsmith/toolsmith/internal/bundle"
	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/fetch"
	"github.com/toolsmith/toolsmith/internal/install"
	"github.com/toolsmith/toolsmith/pkg/types"
)

const (
	// ModeBundle merges library fragments into the entry script.
	ModeBundle Mode = "bundle"
	// ModePlain installs the entry script unchanged.
	ModePlain Mode = "plain"
)

// ErrInvalidRequest is returned for requests that fail validation before any stage runs.
var ErrInvalidRequest = errors.New("invalid install request")

type (
	// Mode selects how the artifact is built.
	Mode string

	// Request describes one install.
	Request struct {
		Ref types.RepositoryRef
		// Subsystem is the tool directory inside the repository (utils/kdiff).
		Subsystem string
		// Destination is the installed file name. Empty uses the subsystem base name.
		Destination types.BinaryName
		Mode        Mode
		// Public allows continuing without a credential.
		Public bool
	}

	// Result describes a successful install.
	Result struct {
		Installed        install.Installed
		CredentialSource credential.SourceKind
		Strategy         fetch.StrategyKind
		Fragments        []string
	}

	// CredentialResolver finds a token.
	CredentialResolver interface {
		Resolve(ctx context.Context) (credential.Credential, error)
	}

	// ArchiveFetcher downloads a tarball into destDir.
	ArchiveFetcher interface {
		Fetch(ctx context.Context, cred *credential.Credential, ref types.RepositoryRef, destDir string) (fetch.Archive, error)
	}

	// ArchiveExtractor unpacks a tarball.
	ArchiveExtractor func(ctx context.Context, archivePath, destDir string) (archive.WorkingTree, error)

	// ArtifactBuilder turns a working tree into an artifact.
	ArtifactBuilder interface {
		Bundle(tree archive.WorkingTree, subsystemPath string) (bundle.Artifact, error)
		Single(tree archive.WorkingTree, subsystemPath string) (bundle.Artifact, error)
	}

	// ArtifactInstaller places the artifact.
	ArtifactInstaller interface {
		Install(ctx context.Context, artifact []byte, name types.BinaryName) (install.Installed, error)
	}

	// Pipeline wires the stages together.
	Pipeline struct {
		resolver  CredentialResolver
		fetcher   ArchiveFetcher
		extract   ArchiveExtractor
		builder   ArtifactBuilder
		installer ArtifactInstaller
		workDir   string
		logger    *log.Logger
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)
)

// WithExtractor overrides archive.Extract.
func WithExtractor(fn ArchiveExtractor) Option {
	return func(p *Pipeline) {
		p.extract = fn
	}
}

// WithWorkDir sets the parent directory of per-run workspaces. Empty uses os.TempDir.
func WithWorkDir(dir string) Option {
	return func(p *Pipeline) {
		p.workDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a Pipeline.
func New(resolver CredentialResolver, fetcher ArchiveFetcher, builder ArtifactBuilder, installer ArtifactInstaller, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:  resolver,
		fetcher:   fetcher,
		extract:   archive.Extract,
		builder:   builder,
		installer: installer,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	return p
}

// Validate fills defaults and checks the request.
func (r *Request) Validate() error {
	if err := r.Ref.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.Subsystem == "" {
		return fmt.Errorf("%w: subsystem path is required", ErrInvalidRequest)
	}
	if r.Mode == "" {
		r.Mode = ModeBundle
	}
	if r.Mode != ModeBundle && r.Mode != ModePlain {
		return fmt.Errorf("%w: unknown mode %q (expected %s or %s)", ErrInvalidRequest, r.Mode, ModeBundle, ModePlain)
	}
	if r.Destination == "" {
		r.Destination = types.BinaryName(path.Base(filepath.ToSlash(r.Subsystem)))
	}
	if err := r.Destination.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Run executes one install. Errors are either ErrInvalidRequest, a context
// error, or a *Failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (_ Result, err error) {
	if err = req.Validate(); err != nil {
		return Result{}, err
	}
	logger := p.logger.With("ref", req.Ref.String())
	var res Result

	// resolve
	if err = checkpoint(ctx, StageResolve); err != nil {
		return Result{}, err
	}
	var credPtr *credential.Credential
	cred, err := p.resolver.Resolve(ctx)
	switch {
	case err == nil:
		credPtr = &cred
		res.CredentialSource = cred.Source()
		logger.Info("credential resolved", "source", cred.Source(), "token", cred.Redacted())
	case isContextErr(err):
		return Result{}, err
	case errors.Is(err, credential.ErrNotFound) && req.Public:
		logger.Info("no credential found, continuing anonymously for public repository")
	default:
		return Result{}, &Failure{Kind: KindCredentialNotFound, Stage: StageResolve, Err: err}
	}

	workspace, err := os.MkdirTemp(p.workDir, "toolsmith-*")
	if err != nil {
		return Result{}, &Failure{Kind: KindAcquisitionFailed, Stage: StageFetch, Err: fmt.Errorf("creating workspace: %w", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			logger.Warn("workspace cleanup failed", "path", workspace, "error", rmErr)
		}
	}()
	downloadDir := filepath.Join(workspace, "download")
	treeDir := filepath.Join(workspace, "tree")
	if err = os.Mkdir(downloadDir, 0o700); err != nil {
		return Result{}, &Failure{Kind: KindAcquisitionFailed, Stage: StageFetch, Err: err}
	}

	// fetch
	if err = checkpoint(ctx, StageFetch); err != nil {
		return Result{}, err
	}
	arc, err := p.fetcher.Fetch(ctx, credPtr, req.Ref, downloadDir)
	if err != nil {
		return Result{}, classify(err, KindAcquisitionFailed, StageFetch)
	}
	if !arc.Obtained() {
		return Result{}, &Failure{Kind: KindAcquisitionFailed, Stage: StageFetch, Err: fmt.Errorf("%w: empty archive", fetch.ErrAcquisitionFailed)}
	}
	res.Strategy = arc.Strategy
	logger.Info("archive fetched", "strategy", arc.Strategy, "bytes", arc.Size)

	// extract
	if err = checkpoint(ctx, StageExtract); err != nil {
		return Result{}, err
	}
	tree, err := p.extract(ctx, arc.Path, treeDir)
	if err != nil {
		return Result{}, classify(err, KindExtractionFailed, StageExtract)
	}
	// The tarball is no longer needed once unpacked.
	_ = os.Remove(arc.Path)
	logger.Debug("archive extracted", "entries", len(tree.Entries))

	// bundle
	if err = checkpoint(ctx, StageBundle); err != nil {
		return Result{}, err
	}
	var art bundle.Artifact
	if req.Mode == ModePlain {
		art, err = p.builder.Single(tree, req.Subsystem)
	} else {
		art, err = p.builder.Bundle(tree, req.Subsystem)
	}
	if err != nil {
		f := classify(err, KindBundlingFailed, StageBundle)
		if fl, ok := f.(*Failure); ok {
			fl.hints = []string{fmt.Sprintf("Check that %s exists in %s at %s", req.Subsystem, req.Ref.Slug(), req.Ref.Version)}
		}
		return Result{}, f
	}
	res.Fragments = art.Fragments
	logger.Debug("artifact built", "mode", req.Mode, "fragments", art.Fragments, "digest", art.Digest)

	// install
	if err = checkpoint(ctx, StageInstall); err != nil {
		return Result{}, err
	}
	inst, err := p.installer.Install(ctx, art.Content, req.Destination)
	if err != nil {
		f := classify(err, KindInstallFailed, StageInstall)
		if fl, ok := f.(*Failure); ok {
			fl.hints = []string{"Check that the bin directory is writable, or choose another with --bin-dir"}
		}
		return Result{}, f
	}
	res.Installed = inst
	logger.Info("installed", "path", inst.Path, "digest", inst.Digest)
	return res, nil
}

func checkpoint(ctx context.Context, next Stage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("canceled before %s: %w", next, err)
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// classify wraps a stage error, passing context errors through untouched.
func classify(err error, kind Kind, stage Stage) error {
	if isContextErr(err) {
		return err
	}
	return &Failure{Kind: kind, Stage: stage, Err: err}
}
