// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/toolsmith/toolsmith/internal/archive"
	"github.com/toolsmith/toolsmith/internal/credential"
	"github.com/toolsmith/toolsmith/internal/extcmd"
	"github.com/toolsmith/toolsmith/pkg/types"
)

const archivePerm = 0o600

func (f *Fetcher) viaAgentCLI(ctx context.Context, _ *credential.Credential, ref types.RepositoryRef, path string) *Attempt {
	args := []string{"api"}
	if f.opts.Host != credential.DefaultHost {
		args = append(args, "--hostname", f.opts.Host)
	}
	args = append(args, fmt.Sprintf("repos/%s/%s/tarball/%s", ref.Owner, ref.Name, ref.Version))

	res := f.runner.Run(ctx, extcmd.Command{Name: f.opts.AgentCLI, Args: args})
	if !res.Succeeded() {
		return &Attempt{Reason: res.Summary(), ExitCode: res.ExitCode}
	}
	if len(res.Stdout) == 0 {
		return &Attempt{Reason: "empty archive (0 bytes)"}
	}
	if err := os.WriteFile(path, res.Stdout, archivePerm); err != nil {
		return &Attempt{Reason: fmt.Sprintf("writing archive: %v", err)}
	}
	return nil
}

func (f *Fetcher) viaHTTP(ctx context.Context, cred *credential.Credential, ref types.RepositoryRef, path string) *Attempt {
	token := ""
	if cred != nil {
		token = cred.Secret()
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archivePerm)
	if err != nil {
		return &Attempt{Reason: fmt.Sprintf("creating archive: %v", err)}
	}
	_, dlErr := f.client.DownloadTarball(ctx, ref.Owner, ref.Name, ref.Version, token, out)
	closeErr := out.Close()
	if dlErr != nil {
		return &Attempt{Reason: dlErr.Error()}
	}
	if closeErr != nil {
		return &Attempt{Reason: fmt.Sprintf("writing archive: %v", closeErr)}
	}
	return nil
}

func (f *Fetcher) viaGitSSH(ctx context.Context, _ *credential.Credential, ref types.RepositoryRef, path string) *Attempt {
	auth, err := f.sshAuth()
	if err != nil {
		return &Attempt{Reason: err.Error()}
	}
	return f.cloneAndPack(ctx, SSHURL(f.opts.Host, ref.Owner, ref.Name), ref, path, auth)
}

func (f *Fetcher) viaGitHTTPS(ctx context.Context, cred *credential.Credential, ref types.RepositoryRef, path string) *Attempt {
	var auth transport.AuthMethod
	if cred != nil {
		auth = TokenAuth(cred.Secret())
	}
	return f.cloneAndPack(ctx, HTTPSURL(f.opts.Host, ref.Owner, ref.Name), ref, path, auth)
}

// cloneAndPack clones next to path and repackages the working copy under a
// "<name>-<tag>/" wrapper, matching the layout of the tarball endpoint.
func (f *Fetcher) cloneAndPack(ctx context.Context, repoURL string, ref types.RepositoryRef, path string, auth transport.AuthMethod) *Attempt {
	cloneDir, err := os.MkdirTemp(filepath.Dir(path), "clone-*")
	if err != nil {
		return &Attempt{Reason: fmt.Sprintf("creating clone directory: %v", err)}
	}
	defer func() { _ = os.RemoveAll(cloneDir) }()

	cloneCtx, cancel := context.WithTimeout(ctx, f.opts.CloneTimeout)
	defer cancel()

	dest := filepath.Join(cloneDir, "repo")
	tag, err := cloneAnyTag(cloneCtx, f.cloner, repoURL, ref.Version, dest, auth)
	if err != nil {
		if ctx.Err() == nil && errors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
			return &Attempt{Reason: fmt.Sprintf("clone timed out after %s", f.opts.CloneTimeout)}
		}
		return &Attempt{Reason: err.Error()}
	}
	f.logger.Debug("cloned", "url", repoURL, "tag", tag)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archivePerm)
	if err != nil {
		return &Attempt{Reason: fmt.Sprintf("creating archive: %v", err)}
	}
	prefix := ref.Name + "-" + sanitizeTag(tag)
	packErr := archive.Pack(ctx, dest, prefix, out)
	if closeErr := out.Close(); packErr == nil {
		packErr = closeErr
	}
	if packErr != nil {
		return &Attempt{Reason: fmt.Sprintf("repackaging clone: %v", packErr)}
	}
	return nil
}

// sanitizeTag keeps slashed tags from adding a second path component to the wrapper.
func sanitizeTag(tag string) string {
	b := []byte(tag)
	for i, c := range b {
		if c == '/' {
			b[i] = '-'
		}
	}
	return string(b)
}
