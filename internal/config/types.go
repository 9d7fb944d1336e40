// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/toolsmith/toolsmith/internal/bundle"
	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/fetch"
	"github.com/toolsmith/toolsmith/pkg/types"
)

const (
	// RecipeModeBundle splices lib fragments into the entry script.
	RecipeModeBundle RecipeMode = "bundle"
	// RecipeModePlain installs the entry script as-is.
	RecipeModePlain RecipeMode = "plain"

	// DefaultFileMode is the permission string written for installed tools.
	DefaultFileMode = "0755"
	// DefaultExecTimeout bounds each external command.
	DefaultExecTimeout = 30 * time.Second
	// DefaultHTTPTimeout bounds a whole tarball download.
	DefaultHTTPTimeout = 2 * time.Minute
	// DefaultCloneTimeout bounds one git clone attempt.
	DefaultCloneTimeout = fetch.DefaultCloneTimeout
)

var (
	// ErrInvalidRecipeMode is returned when a RecipeMode value is not recognized.
	ErrInvalidRecipeMode = errors.New("invalid recipe mode")
	// ErrInvalidFileMode is returned when a file mode string is not octal permission bits.
	ErrInvalidFileMode = errors.New("invalid file mode")
	// ErrInvalidRecipe is the sentinel error wrapped by InvalidRecipeError.
	ErrInvalidRecipe = errors.New("invalid recipe")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrRecipeNotFound is returned by Config.Recipe for unknown names.
	ErrRecipeNotFound = errors.New("recipe not found")

	recipeNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

type (
	// RecipeMode selects how a recipe's subsystem becomes an installed tool.
	RecipeMode string

	// InvalidRecipeModeError is returned when a RecipeMode value is not recognized.
	// It wraps ErrInvalidRecipeMode for errors.Is() compatibility.
	InvalidRecipeModeError struct {
		Value RecipeMode
	}

	// FileMode is an octal permission string such as "0755".
	FileMode string

	// InvalidFileModeError is returned when a FileMode cannot be parsed.
	InvalidFileModeError struct {
		Value FileMode
	}

	// InvalidRecipeError collects field-level validation errors of one recipe.
	// It wraps ErrInvalidRecipe for errors.Is() compatibility.
	InvalidRecipeError struct {
		Name        string
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Credentials configures the credential resolver.
		Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`
		// Fetch configures archive acquisition.
		Fetch FetchConfig `json:"fetch" mapstructure:"fetch"`
		// Bundle configures fragment bundling.
		Bundle BundleConfig `json:"bundle" mapstructure:"bundle"`
		// Install configures the installer.
		Install InstallConfig `json:"install" mapstructure:"install"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
		// Recipes are named install requests.
		Recipes []Recipe `json:"recipes" mapstructure:"recipes"`

		// SourcePath is the file the configuration was read from; empty means defaults only.
		SourcePath string `json:"-" mapstructure:"-"`
	}

	// CredentialsConfig mirrors credential.Options.
	CredentialsConfig struct {
		Order           []string `json:"order" mapstructure:"order"`
		EnvVars         []string `json:"env_vars" mapstructure:"env_vars"`
		Host            string   `json:"host" mapstructure:"host"`
		AgentCLI        string   `json:"agent_cli" mapstructure:"agent_cli"`
		AgentConfigPath string   `json:"agent_config_path" mapstructure:"agent_config_path"`
		VCSCLI          string   `json:"vcs_cli" mapstructure:"vcs_cli"`
	}

	// FetchConfig configures the strategy chain and its timeouts.
	FetchConfig struct {
		Order        []string      `json:"order" mapstructure:"order"`
		APIBaseURL   string        `json:"api_base_url" mapstructure:"api_base_url"`
		ExecTimeout  time.Duration `json:"exec_timeout" mapstructure:"exec_timeout"`
		HTTPTimeout  time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
		CloneTimeout time.Duration `json:"clone_timeout" mapstructure:"clone_timeout"`
	}

	// BundleConfig configures the bundler layout.
	BundleConfig struct {
		Header       string `json:"header" mapstructure:"header"`
		LibDir       string `json:"lib_dir" mapstructure:"lib_dir"`
		Glob         string `json:"glob" mapstructure:"glob"`
		VerifySyntax bool   `json:"verify_syntax" mapstructure:"verify_syntax"`
	}

	// InstallConfig configures where and how tools are installed.
	InstallConfig struct {
		// BinDir is the install directory. Empty means ~/.local/bin.
		BinDir   string   `json:"bin_dir" mapstructure:"bin_dir"`
		FileMode FileMode `json:"file_mode" mapstructure:"file_mode"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose enables debug logging
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// Recipe names one tool inside a repository.
	Recipe struct {
		Name string `json:"name" mapstructure:"name"`
		// Repo is "owner/name".
		Repo string `json:"repo" mapstructure:"repo"`
		Tag  string `json:"tag" mapstructure:"tag"`
		// Path is the subsystem directory inside the repository.
		Path string `json:"path" mapstructure:"path"`
		// Entry overrides "<base(path)>.sh".
		Entry string `json:"entry,omitempty" mapstructure:"entry"`
		// As overrides the installed file name.
		As     string     `json:"as,omitempty" mapstructure:"as"`
		Mode   RecipeMode `json:"mode,omitempty" mapstructure:"mode"`
		Public bool       `json:"public,omitempty" mapstructure:"public"`
	}
)

// String returns the string representation of the RecipeMode.
func (m RecipeMode) String() string { return string(m) }

// Validate accepts the empty mode, which means bundle.
func (m RecipeMode) Validate() error {
	switch m {
	case "", RecipeModeBundle, RecipeModePlain:
		return nil
	default:
		return &InvalidRecipeModeError{Value: m}
	}
}

// Error implements the error interface for InvalidRecipeModeError.
func (e *InvalidRecipeModeError) Error() string {
	return fmt.Sprintf("invalid recipe mode %q (valid: bundle, plain)", e.Value)
}

// Unwrap returns ErrInvalidRecipeMode for errors.Is() compatibility.
func (e *InvalidRecipeModeError) Unwrap() error { return ErrInvalidRecipeMode }

// Perm parses the octal permission bits. The empty string yields DefaultFileMode.
func (m FileMode) Perm() (uint32, error) {
	s := string(m)
	if s == "" {
		s = DefaultFileMode
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v == 0 || v > 0o777 {
		return 0, &InvalidFileModeError{Value: m}
	}
	return uint32(v), nil
}

// Error implements the error interface for InvalidFileModeError.
func (e *InvalidFileModeError) Error() string {
	return fmt.Sprintf("invalid file mode %q: want octal permission bits like 0755", e.Value)
}

// Unwrap returns ErrInvalidFileMode for errors.Is() compatibility.
func (e *InvalidFileModeError) Unwrap() error { return ErrInvalidFileMode }

// Ref returns the repository reference of the recipe.
func (r Recipe) Ref() (types.RepositoryRef, error) {
	return types.ParseRepositoryRef(r.Repo + "@" + r.Tag)
}

// Destination is the installed file name: As, or the base of Path.
func (r Recipe) Destination() types.BinaryName {
	if r.As != "" {
		return types.BinaryName(r.As)
	}
	return types.BinaryName(path.Base(r.Path))
}

// Validate checks every field of the recipe.
func (r Recipe) Validate() error {
	var errs []error
	if !recipeNamePattern.MatchString(r.Name) {
		errs = append(errs, fmt.Errorf("name %q must match %s", r.Name, recipeNamePattern))
	}
	if _, err := r.Ref(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.Path) == "" {
		errs = append(errs, errors.New("path must be non-empty"))
	}
	if err := r.Destination().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := r.Mode.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidRecipeError{Name: r.Name, FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidRecipeError.
func (e *InvalidRecipeError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid recipe %q: %v", e.Name, e.FieldErrors[0])
	}
	return fmt.Sprintf("invalid recipe %q: %d field errors", e.Name, len(e.FieldErrors))
}

// Unwrap returns ErrInvalidRecipe for errors.Is() compatibility.
func (e *InvalidRecipeError) Unwrap() error { return ErrInvalidRecipe }

// Validate checks the constraints the CUE schema cannot express: order
// entries are unique and known, recipe names are unique, and recipes are
// well-formed.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.CredentialOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FetchOptions(false); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Install.FileMode.Perm(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]int, len(c.Recipes))
	for i, r := range c.Recipes {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("recipes[%d]: %w", i, err))
		}
		if first, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("recipes[%d]: duplicate name %q (same as recipes[%d])", i, r.Name, first))
			continue
		}
		seen[r.Name] = i
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid config: %v", e.FieldErrors[0])
	}
	return fmt.Sprintf("invalid config: %d field errors", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Recipe looks up a configured recipe by name.
func (c Config) Recipe(name string) (Recipe, error) {
	for _, r := range c.Recipes {
		if r.Name == name {
			return r, nil
		}
	}
	return Recipe{}, fmt.Errorf("%w: %q", ErrRecipeNotFound, name)
}

// CredentialOptions converts the credentials section into resolver options.
func (c Config) CredentialOptions() (credential.Options, error) {
	opts := credential.DefaultOptions()
	if len(c.Credentials.Order) > 0 {
		opts.Order = make([]credential.SourceKind, 0, len(c.Credentials.Order))
		for _, s := range c.Credentials.Order {
			opts.Order = append(opts.Order, credential.SourceKind(s))
		}
	}
	if len(c.Credentials.EnvVars) > 0 {
		opts.EnvVars = c.Credentials.EnvVars
	}
	if c.Credentials.Host != "" {
		opts.Host = c.Credentials.Host
	}
	if c.Credentials.AgentCLI != "" {
		opts.AgentCLI = c.Credentials.AgentCLI
	}
	if c.Credentials.VCSCLI != "" {
		opts.VCSCLI = c.Credentials.VCSCLI
	}
	opts.AgentConfigPath = c.Credentials.AgentConfigPath
	if err := opts.Validate(); err != nil {
		return credential.Options{}, err
	}
	return opts, nil
}

// FetchOptions converts the fetch section into fetcher options.
func (c Config) FetchOptions(public bool) (fetch.Options, error) {
	opts := fetch.Options{
		Host:         c.Credentials.Host,
		AgentCLI:     c.Credentials.AgentCLI,
		Public:       public,
		CloneTimeout: c.Fetch.CloneTimeout,
	}
	for _, s := range c.Fetch.Order {
		kind := fetch.StrategyKind(s)
		if err := kind.Validate(); err != nil {
			return fetch.Options{}, err
		}
		if slices.Contains(opts.Order, kind) {
			return fetch.Options{}, fmt.Errorf("fetch.order: duplicate strategy %q", kind)
		}
		opts.Order = append(opts.Order, kind)
	}
	return opts, nil
}

// BundleOptions converts the bundle section into bundler options for one entry.
func (c Config) BundleOptions(entry string) bundle.Options {
	return bundle.Options{
		Header:          c.Bundle.Header,
		LibDir:          c.Bundle.LibDir,
		Glob:            c.Bundle.Glob,
		Entry:           entry,
		SkipSyntaxCheck: !c.Bundle.VerifySyntax,
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	copts := credential.DefaultOptions()
	order := make([]string, 0, len(copts.Order))
	for _, s := range copts.Order {
		order = append(order, string(s))
	}
	strategies := make([]string, 0, len(fetch.AllStrategies()))
	for _, s := range fetch.AllStrategies() {
		strategies = append(strategies, string(s))
	}
	return &Config{
		Credentials: CredentialsConfig{
			Order:    order,
			EnvVars:  copts.EnvVars,
			Host:     copts.Host,
			AgentCLI: copts.AgentCLI,
			VCSCLI:   copts.VCSCLI,
		},
		Fetch: FetchConfig{
			Order:        strategies,
			APIBaseURL:   fetch.DefaultAPIBaseURL,
			ExecTimeout:  DefaultExecTimeout,
			HTTPTimeout:  DefaultHTTPTimeout,
			CloneTimeout: DefaultCloneTimeout,
		},
		Bundle: BundleConfig{
			Header:       bundle.DefaultHeader,
			LibDir:       bundle.DefaultLibDir,
			Glob:         bundle.DefaultGlob,
			VerifySyntax: true,
		},
		Install: InstallConfig{
			FileMode: DefaultFileMode,
		},
		UI: UIConfig{
			Verbose: false,
		},
		Recipes: []Recipe{},
	}
}
