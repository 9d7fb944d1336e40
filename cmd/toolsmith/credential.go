// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/toolsmith/toolsmith/internal/pipeline"
)

func newCredentialCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "credential",
		Short: "Show which credential source would be used",
		Long: `Run the credential lookup chain and report the first source that
yields a token. Only the first four characters of the token are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			sess, err := app.newSession(cmd.Context(), root)
			if err != nil {
				return reportError(cmd.ErrOrStderr(), err, root.verbose)
			}
			if err := runCredential(cmd.Context(), cmd.OutOrStdout(), sess); err != nil {
				return reportError(cmd.ErrOrStderr(), err, sess.verbose)
			}
			return nil
		},
	}
}

func runCredential(ctx context.Context, w io.Writer, sess *session) error {
	resolver, err := sess.resolver()
	if err != nil {
		return err
	}
	cred, err := resolver.Resolve(ctx)
	if err != nil {
		return &pipeline.Failure{Kind: pipeline.KindCredentialNotFound, Stage: pipeline.StageResolve, Err: err}
	}
	fmt.Fprintf(w, "%s %s %s\n",
		SuccessStyle.Render("✓"),
		CmdStyle.Render(cred.Source().String()),
		SubtitleStyle.Render(cred.Redacted()))
	return nil
}
