// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/toolsmith/toolsmith/internal/config"
)

func newRecipesCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recipes",
		Short: "List configured recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			sess, err := app.newSession(cmd.Context(), root)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}
			listRecipes(cmd.OutOrStdout(), sess.cfg)
			return nil
		},
	}
}

func listRecipes(w io.Writer, cfg *config.Config) {
	if len(cfg.Recipes) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No recipes configured. Add a recipes list to the config file."))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		Headers("NAME", "REPOSITORY", "PATH", "INSTALLS AS", "MODE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})

	for _, r := range cfg.Recipes {
		mode := r.Mode
		if mode == "" {
			mode = config.RecipeModeBundle
		}
		label := mode.String()
		if r.Public {
			label += ", public"
		}
		t.Row(r.Name, r.Repo+"@"+r.Tag, r.Path, r.Destination().String(), label)
	}
	fmt.Fprintln(w, t.Render())
}
