// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/toolsmith/toolsmith/internal/issue"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "toolsmith"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (TOOLSMITH_INSTALL_BIN_DIR).
	EnvPrefix = "TOOLSMITH"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the toolsmith configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, and everything else uses
// $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	if runtime.GOOS == "windows" {
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DefaultConfigPath is the config file inside ConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// newViper returns a Viper instance carrying the defaults and env binding.
func newViper() *viper.Viper {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("credentials.order", defaults.Credentials.Order)
	v.SetDefault("credentials.env_vars", defaults.Credentials.EnvVars)
	v.SetDefault("credentials.host", defaults.Credentials.Host)
	v.SetDefault("credentials.agent_cli", defaults.Credentials.AgentCLI)
	v.SetDefault("credentials.agent_config_path", defaults.Credentials.AgentConfigPath)
	v.SetDefault("credentials.vcs_cli", defaults.Credentials.VCSCLI)
	v.SetDefault("fetch.order", defaults.Fetch.Order)
	v.SetDefault("fetch.api_base_url", defaults.Fetch.APIBaseURL)
	v.SetDefault("fetch.exec_timeout", defaults.Fetch.ExecTimeout)
	v.SetDefault("fetch.http_timeout", defaults.Fetch.HTTPTimeout)
	v.SetDefault("fetch.clone_timeout", defaults.Fetch.CloneTimeout)
	v.SetDefault("bundle.header", defaults.Bundle.Header)
	v.SetDefault("bundle.lib_dir", defaults.Bundle.LibDir)
	v.SetDefault("bundle.glob", defaults.Bundle.Glob)
	v.SetDefault("bundle.verify_syntax", defaults.Bundle.VerifySyntax)
	v.SetDefault("install.bin_dir", defaults.Install.BinDir)
	v.SetDefault("install.file_mode", string(defaults.Install.FileMode))
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("recipes", []map[string]any{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()
	resolvedPath := ""

	// If a custom config file path is set via --config, use it exclusively.
	if opts.ConfigFilePath != "" {
		path := opts.ConfigFilePath.String()
		if !fileExists(path) {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				WithHint("Verify the file path is correct").
				WithHint("Use 'toolsmith config init' to write a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", path)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, cueLoadError(path, err)
		}
		resolvedPath = path
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath.String())
		if err != nil {
			return nil, err
		}

		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, cueLoadError(cuePath, err)
			}
			resolvedPath = cuePath
		}
		// No config file: defaults and env only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SourcePath = resolvedPath

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithHint("Each recipe name must be unique").
			WithHint("Order lists may name each source or strategy once").
			Wrap(err).
			BuildError()
	}

	return &cfg, nil
}

func cueLoadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithIssue(issue.ConfigLoadFailedId).
		WithHint("Check that the file contains valid CUE syntax").
		WithHint("Verify the configuration values match the expected schema").
		WithHint("See 'toolsmith config show' for the effective configuration").
		Wrap(err).
		BuildError()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteDefault writes the default configuration to path. An existing file
// is left alone unless force is set; the returned bool reports whether
// anything was written.
func WriteDefault(path string, force bool) (bool, error) {
	if !force && fileExists(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// toolsmith configuration file\n\n")

	sb.WriteString("credentials: {\n")
	fmt.Fprintf(&sb, "\torder: %s\n", cueList(cfg.Credentials.Order))
	fmt.Fprintf(&sb, "\tenv_vars: %s\n", cueList(cfg.Credentials.EnvVars))
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.Credentials.Host)
	fmt.Fprintf(&sb, "\tagent_cli: %q\n", cfg.Credentials.AgentCLI)
	if cfg.Credentials.AgentConfigPath != "" {
		fmt.Fprintf(&sb, "\tagent_config_path: %q\n", cfg.Credentials.AgentConfigPath)
	}
	fmt.Fprintf(&sb, "\tvcs_cli: %q\n", cfg.Credentials.VCSCLI)
	sb.WriteString("}\n")

	sb.WriteString("\nfetch: {\n")
	fmt.Fprintf(&sb, "\torder: %s\n", cueList(cfg.Fetch.Order))
	fmt.Fprintf(&sb, "\tapi_base_url: %q\n", cfg.Fetch.APIBaseURL)
	fmt.Fprintf(&sb, "\texec_timeout: %q\n", cfg.Fetch.ExecTimeout.String())
	fmt.Fprintf(&sb, "\thttp_timeout: %q\n", cfg.Fetch.HTTPTimeout.String())
	fmt.Fprintf(&sb, "\tclone_timeout: %q\n", cfg.Fetch.CloneTimeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\nbundle: {\n")
	fmt.Fprintf(&sb, "\theader: %q\n", cfg.Bundle.Header)
	fmt.Fprintf(&sb, "\tlib_dir: %q\n", cfg.Bundle.LibDir)
	fmt.Fprintf(&sb, "\tglob: %q\n", cfg.Bundle.Glob)
	fmt.Fprintf(&sb, "\tverify_syntax: %v\n", cfg.Bundle.VerifySyntax)
	sb.WriteString("}\n")

	sb.WriteString("\ninstall: {\n")
	if cfg.Install.BinDir != "" {
		fmt.Fprintf(&sb, "\tbin_dir: %q\n", cfg.Install.BinDir)
	}
	fmt.Fprintf(&sb, "\tfile_mode: %q\n", cfg.Install.FileMode)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	if len(cfg.Recipes) > 0 {
		sb.WriteString("\nrecipes: [\n")
		for _, r := range cfg.Recipes {
			fmt.Fprintf(&sb, "\t{name: %q, repo: %q, tag: %q, path: %q", r.Name, r.Repo, r.Tag, r.Path)
			if r.Entry != "" {
				fmt.Fprintf(&sb, ", entry: %q", r.Entry)
			}
			if r.As != "" {
				fmt.Fprintf(&sb, ", as: %q", r.As)
			}
			if r.Mode != "" {
				fmt.Fprintf(&sb, ", mode: %q", r.Mode)
			}
			if r.Public {
				sb.WriteString(", public: true")
			}
			sb.WriteString("},\n")
		}
		sb.WriteString("]\n")
	}

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, fmt.Sprintf("%q", it))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
