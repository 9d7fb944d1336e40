// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "toolsmith",
		Short: "Install shell tools straight from a GitHub repository",
		Long: TitleStyle.Render("toolsmith") + SubtitleStyle.Render(" - install shell tools straight from a GitHub repository") + `

toolsmith finds a GitHub credential, downloads a tagged source archive
(gh CLI, HTTPS, git over SSH or HTTPS, in that order), splices the tool's
lib/*.sh fragments into its entry script and installs the result
atomically into your bin directory.

` + SubtitleStyle.Render("Examples:") + `
  toolsmith install acme/tools@v1.4.0 --path utils/kdiff
  toolsmith install kdiff                 Install a configured recipe
  toolsmith bundle ./utils/kdiff          Bundle a local checkout to stdout
  toolsmith credential                    Show which credential would be used
  toolsmith config show                   Show current configuration`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/toolsmith/config.cue)")

	rootCmd.AddCommand(
		newInstallCommand(app, flags),
		newBundleCommand(app, flags),
		newCredentialCommand(app, flags),
		newRecipesCommand(app, flags),
		newConfigCommand(app, flags),
	)

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI with production dependencies. It is called by main.main().
func Execute() {
	rootCmd := NewRootCommand(NewApp(Dependencies{}))

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
