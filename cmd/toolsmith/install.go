// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toolsmith/toolsmith/internal/config"
	"github.com/toolsmith/toolsmith/internal/issue"
	"github.com/toolsmith/toolsmith/internal/pipeline"
	"github.com/toolsmith/toolsmith/pkg/types"
)

type (
	// installFlags are the per-invocation overrides of a recipe.
	installFlags struct {
		path   string
		entry  string
		as     string
		mode   string
		public bool
		binDir string
	}

	// installParams bundles what runInstall needs, so the core logic can be
	// tested without a cobra command.
	installParams struct {
		stdout io.Writer
		sess   *session
		target string
		flags  installFlags
		// changed reports whether a flag was set explicitly.
		changed func(name string) bool
	}
)

func newInstallCommand(app *App, root *rootFlags) *cobra.Command {
	var f installFlags

	cmd := &cobra.Command{
		Use:   "install <owner/name@tag | recipe>",
		Short: "Download, bundle and install a tool",
		Long: `Download a tagged repository archive, build the tool script and install it.

The target is either a repository reference (owner/name@tag), which needs
--path, or the name of a recipe from the configuration file.`,
		Example: `  # Bundle utils/kdiff from acme/tools v1.4.0 into ~/.local/bin/kdiff
  toolsmith install acme/tools@v1.4.0 --path utils/kdiff

  # Install a single script as-is under another name
  toolsmith install acme/tools@v1.4.0 --path utils/a-s --mode plain --as a-s

  # Install a configured recipe
  toolsmith install r53`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			sess, err := app.newSession(cmd.Context(), root)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}

			p := installParams{
				stdout:  cmd.OutOrStdout(),
				sess:    sess,
				target:  args[0],
				flags:   f,
				changed: cmd.Flags().Changed,
			}
			if _, err := runInstall(cmd.Context(), p); err != nil {
				return reportError(cmd.ErrOrStderr(), err, sess.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.path, "path", "", "subsystem directory inside the repository (utils/kdiff)")
	cmd.Flags().StringVar(&f.entry, "entry", "", "entry script relative to --path (default <base of path>.sh)")
	cmd.Flags().StringVar(&f.as, "as", "", "installed file name (default base of --path)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "bundle or plain (default bundle)")
	cmd.Flags().BoolVar(&f.public, "public", false, "allow installing without a credential")
	cmd.Flags().StringVar(&f.binDir, "bin-dir", "", "install directory (default install.bin_dir or ~/.local/bin)")

	return cmd
}

// runInstall resolves the target into a recipe, runs the pipeline and
// prints a single success line.
func runInstall(ctx context.Context, p installParams) (pipeline.Result, error) {
	recipe, err := resolveRecipe(p.sess.cfg, p.target, p.flags, p.changed)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := recipe.Validate(); err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %w", pipeline.ErrInvalidRequest, err)
	}
	ref, err := recipe.Ref()
	if err != nil {
		return pipeline.Result{}, err
	}

	pl, err := p.sess.pipeline(recipe.Public, recipe.Entry, p.flags.binDir)
	if err != nil {
		return pipeline.Result{}, err
	}

	mode := pipeline.ModeBundle
	if recipe.Mode == config.RecipeModePlain {
		mode = pipeline.ModePlain
	}

	res, err := pl.Run(ctx, pipeline.Request{
		Ref:         ref,
		Subsystem:   recipe.Path,
		Destination: recipe.Destination(),
		Mode:        mode,
		Public:      recipe.Public,
	})
	if err != nil {
		return pipeline.Result{}, err
	}

	fmt.Fprintf(p.stdout, "%s installed %s %s\n",
		SuccessStyle.Render("✓"),
		CmdStyle.Render(res.Installed.Path),
		SubtitleStyle.Render(installSummary(ref, res)))
	return res, nil
}

func installSummary(ref types.RepositoryRef, res pipeline.Result) string {
	parts := []string{ref.String(), "via " + res.Strategy.String()}
	if len(res.Fragments) > 0 {
		parts = append(parts, fmt.Sprintf("%d fragments", len(res.Fragments)))
	}
	if res.CredentialSource != "" {
		parts = append(parts, "credential from "+res.CredentialSource.String())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// resolveRecipe turns an owner/name@tag reference or a recipe name into a
// recipe, applying explicitly set flags on top.
func resolveRecipe(cfg *config.Config, target string, f installFlags, changed func(string) bool) (config.Recipe, error) {
	var recipe config.Recipe
	if strings.Contains(target, "@") || strings.Contains(target, "/") {
		ref, err := types.ParseRepositoryRef(target)
		if err != nil {
			return config.Recipe{}, err
		}
		if f.path == "" {
			return config.Recipe{}, fmt.Errorf("%w: --path is required with a repository reference", pipeline.ErrInvalidRequest)
		}
		recipe = config.Recipe{Name: ref.Name, Repo: ref.Slug(), Tag: ref.Version}
	} else {
		var err error
		if recipe, err = cfg.Recipe(target); err != nil {
			return config.Recipe{}, issue.NewErrorContext().
				WithOperation("look up recipe").
				WithResource(target).
				WithIssue(issue.RecipeNotFoundId).
				WithHint("Run 'toolsmith recipes' to list the configured recipes").
				WithHint("Or pass a repository reference: toolsmith install owner/name@tag --path DIR").
				Wrap(err).
				BuildError()
		}
	}

	if changed("path") {
		recipe.Path = f.path
	}
	if changed("entry") {
		recipe.Entry = f.entry
	}
	if changed("as") {
		recipe.As = f.as
	}
	if changed("mode") {
		recipe.Mode = config.RecipeMode(f.mode)
	}
	if changed("public") {
		recipe.Public = f.public
	}
	return recipe, nil
}
