// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/toolsmith/toolsmith/internal/config"
)

// newConfigCommand creates the `toolsmith config` command tree.
func newConfigCommand(app *App, root *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage toolsmith configuration",
		Long: `Manage toolsmith configuration.

Configuration is stored in $XDG_CONFIG_HOME/toolsmith/config.cue
(~/.config/toolsmith/config.cue by default, %APPDATA%\toolsmith\config.cue
on Windows). Any key can be overridden with a TOOLSMITH_ environment
variable, e.g. TOOLSMITH_INSTALL_BIN_DIR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			sess, err := app.newSession(cmd.Context(), root)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}
			showConfig(cmd.OutOrStdout(), cmd.ErrOrStderr(), sess.cfg)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			path := root.configPath
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return reportError(cmd.ErrOrStderr(), err, root.verbose)
				}
			}
			wrote, err := config.WriteDefault(path, force)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}
			if !wrote {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s already exists (use --force to overwrite)\n",
					WarningStyle.Render("!"), CmdStyle.Render(path))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

// showConfig prints the source on stderr and the CUE document on stdout,
// so the output can be redirected into a config file.
func showConfig(stdout, stderr io.Writer, cfg *config.Config) {
	source := SubtitleStyle.Render("(using defaults)")
	if cfg.SourcePath != "" {
		source = cfg.SourcePath
	}
	fmt.Fprintf(stderr, "%s: %s\n", CmdStyle.Render("Config file"), source)
	fmt.Fprint(stdout, config.GenerateCUE(cfg))
}
