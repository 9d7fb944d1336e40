// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/toolsmith/toolsmith/internal/bundle"
	"github.com/toolsmith/toolsmith/internal/config"
	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/extcmd"
	"github.com/toolsmith/toolsmith/internal/fetch"
	"github.com/toolsmith/toolsmith/internal/install"
	"github.com/toolsmith/toolsmith/internal/pipeline"
	"github.com/toolsmith/toolsmith/pkg/types"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App wires CLI services and shared dependencies. All command handlers
	// receive an App reference and build their stage components through it.
	App struct {
		Config     ConfigProvider
		Runner     extcmd.Runner
		HTTPClient *http.Client
		stdout     io.Writer
		stderr     io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config     ConfigProvider
		Runner     extcmd.Runner
		HTTPClient *http.Client
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// rootFlags are the persistent flags shared by every command.
	rootFlags struct {
		verbose    bool
		configPath string
	}

	// session is the per-invocation state: loaded config plus logger.
	session struct {
		app     *App
		cfg     *config.Config
		logger  *log.Logger
		verbose bool
	}
)

// NewApp creates an App, filling nil dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:     deps.Config,
		Runner:     deps.Runner,
		HTTPClient: deps.HTTPClient,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// newSession loads configuration and builds the logger for one command run.
func (a *App) newSession(ctx context.Context, flags *rootFlags) (*session, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: types.FilesystemPath(flags.configPath)})
	if err != nil {
		return nil, err
	}

	verbose := flags.verbose || cfg.UI.Verbose
	logger := log.NewWithOptions(a.stderr, log.Options{Prefix: config.AppName})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.SourcePath != "" {
		logger.Debug("configuration loaded", "path", cfg.SourcePath)
	}

	return &session{app: a, cfg: cfg, logger: logger, verbose: verbose}, nil
}

func (s *session) runner() extcmd.Runner {
	if s.app.Runner != nil {
		return s.app.Runner
	}
	return extcmd.NewExecRunner(
		extcmd.WithTimeout(s.cfg.Fetch.ExecTimeout),
		extcmd.WithLogger(s.logger),
	)
}

func (s *session) resolver() (*credential.Resolver, error) {
	opts, err := s.cfg.CredentialOptions()
	if err != nil {
		return nil, err
	}
	return credential.NewResolver(opts,
		credential.WithRunner(s.runner()),
		credential.WithLogger(s.logger),
	)
}

func (s *session) fetcher(public bool) (*fetch.Fetcher, error) {
	opts, err := s.cfg.FetchOptions(public)
	if err != nil {
		return nil, err
	}
	httpClient := s.app.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: s.cfg.Fetch.HTTPTimeout}
	}
	client := fetch.NewClient(
		fetch.WithBaseURL(s.cfg.Fetch.APIBaseURL),
		fetch.WithHTTPClient(httpClient),
		fetch.WithUserAgent(config.AppName+"/"+Version),
	)
	return fetch.NewFetcher(opts,
		fetch.WithRunner(s.runner()),
		fetch.WithClient(client),
		fetch.WithLogger(s.logger),
	)
}

func (s *session) bundler(entry string) (*bundle.Bundler, error) {
	return bundle.NewBundler(s.cfg.BundleOptions(entry), bundle.WithLogger(s.logger))
}

// installer targets binDir, falling back to install.bin_dir and then ~/.local/bin.
func (s *session) installer(binDir string) (*install.Installer, error) {
	if binDir == "" {
		binDir = s.cfg.Install.BinDir
	}
	dir := types.FilesystemPath(binDir)
	if dir == "" {
		var err error
		if dir, err = install.DefaultBinDir(); err != nil {
			return nil, err
		}
	}
	perm, err := s.cfg.Install.FileMode.Perm()
	if err != nil {
		return nil, err
	}
	return install.NewInstaller(dir,
		install.WithMode(os.FileMode(perm)),
		install.WithLogger(s.logger),
	)
}

// pipeline assembles the four stages for one install request.
func (s *session) pipeline(public bool, entry, binDir string) (*pipeline.Pipeline, error) {
	resolver, err := s.resolver()
	if err != nil {
		return nil, err
	}
	fetcher, err := s.fetcher(public)
	if err != nil {
		return nil, err
	}
	builder, err := s.bundler(entry)
	if err != nil {
		return nil, err
	}
	installer, err := s.installer(binDir)
	if err != nil {
		return nil, err
	}
	return pipeline.New(resolver, fetcher, builder, installer, pipeline.WithLogger(s.logger)), nil
}
