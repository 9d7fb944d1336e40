// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/toolsmith/toolsmith/internal/bundle"
	"github.com/toolsmith/toolsmith/internal/pipeline"
	"github.com/toolsmith/toolsmith/pkg/types"
)

type bundleParams struct {
	stdout io.Writer
	sess   *session
	dir    string
	entry  string
	output string
	plain  bool
}

func newBundleCommand(app *App, root *rootFlags) *cobra.Command {
	var (
		entry  string
		output string
		plain  bool
	)

	cmd := &cobra.Command{
		Use:   "bundle <dir>",
		Short: "Bundle a local subsystem directory",
		Long: `Bundle a local subsystem directory without downloading anything.

The directory holds the entry script (<dir name>.sh by default) and a lib/
directory of fragments. The result goes to stdout unless -o is given, in
which case it is written atomically with the configured file mode.`,
		Example: `  toolsmith bundle ./utils/kdiff > kdiff
  toolsmith bundle ./utils/kdiff -o ~/.local/bin/kdiff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			sess, err := app.newSession(cmd.Context(), root)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}
			p := bundleParams{
				stdout: cmd.OutOrStdout(),
				sess:   sess,
				dir:    args[0],
				entry:  entry,
				output: output,
				plain:  plain,
			}
			if err := runBundle(cmd.Context(), p); err != nil {
				return reportError(cmd.ErrOrStderr(), err, sess.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "", "entry script relative to <dir> (default <dir name>.sh)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the artifact to this file instead of stdout")
	cmd.Flags().BoolVar(&plain, "plain", false, "emit the entry script unchanged")

	return cmd
}

func runBundle(ctx context.Context, p bundleParams) error {
	abs, err := filepath.Abs(p.dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return &pipeline.Failure{Kind: pipeline.KindBundlingFailed, Stage: pipeline.StageBundle, Err: err}
	}
	if !info.IsDir() {
		return &pipeline.Failure{Kind: pipeline.KindBundlingFailed, Stage: pipeline.StageBundle, Err: fmt.Errorf("%s is not a directory", p.dir)}
	}

	b, err := p.sess.bundler(p.entry)
	if err != nil {
		return err
	}

	fsys := os.DirFS(filepath.Dir(abs))
	sub := filepath.Base(abs)
	var art bundle.Artifact
	if p.plain {
		art, err = b.SingleFS(fsys, sub)
	} else {
		art, err = b.BundleFS(fsys, sub)
	}
	if err != nil {
		return &pipeline.Failure{Kind: pipeline.KindBundlingFailed, Stage: pipeline.StageBundle, Err: err}
	}
	if p.output == "" {
		_, err := p.stdout.Write(art.Content)
		return err
	}

	outAbs, err := filepath.Abs(p.output)
	if err != nil {
		return err
	}
	inst, err := p.sess.installer(filepath.Dir(outAbs))
	if err != nil {
		return err
	}
	installed, err := inst.Install(ctx, art.Content, types.BinaryName(filepath.Base(outAbs)))
	if err != nil {
		return &pipeline.Failure{Kind: pipeline.KindInstallFailed, Stage: pipeline.StageInstall, Err: err}
	}
	fmt.Fprintf(p.stdout, "%s wrote %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(installed.Path))
	return nil
}
