// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/mod/semver"
)

// ErrNoSSHKey is returned when neither an agent nor a readable key is available.
var ErrNoSSHKey = errors.New("no SSH key found")

type (
	// Cloner performs a depth-1 clone of a single tag into dest.
	Cloner interface {
		CloneTag(ctx context.Context, repoURL, tag, dest string, auth transport.AuthMethod) error
	}

	// GoGitCloner clones with go-git, without shelling out to git.
	GoGitCloner struct{}

	// SSHAuthFunc produces the SSH auth method for git-ssh clones.
	SSHAuthFunc func() (transport.AuthMethod, error)
)

// CloneTag implements Cloner.
func (GoGitCloner) CloneTag(ctx context.Context, repoURL, tag, dest string, auth transport.AuthMethod) error {
	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:           repoURL,
		Auth:          auth,
		ReferenceName: plumbing.NewTagReferenceName(tag),
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
	})
	return err
}

// SSHURL returns the scp-style clone URL for owner/name on host.
func SSHURL(host, owner, name string) string {
	return fmt.Sprintf("git@%s:%s/%s.git", host, owner, name)
}

// HTTPSURL returns the HTTPS clone URL for owner/name on host.
func HTTPSURL(host, owner, name string) string {
	return fmt.Sprintf("https://%s/%s/%s.git", host, owner, name)
}

// TokenAuth is the basic-auth form GitHub accepts for installation and personal tokens.
func TokenAuth(token string) transport.AuthMethod {
	return &http.BasicAuth{Username: "x-access-token", Password: token}
}

// DefaultSSHAuth prefers a running ssh-agent and falls back to the usual
// private key files under ~/.ssh.
func DefaultSSHAuth() (transport.AuthMethod, error) {
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		if auth, err := ssh.NewSSHAgentAuth("git"); err == nil {
			return auth, nil
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSSHKey, err)
	}
	keyPaths := []string{
		filepath.Join(homeDir, ".ssh", "id_ed25519"),
		filepath.Join(homeDir, ".ssh", "id_ecdsa"),
		filepath.Join(homeDir, ".ssh", "id_rsa"),
	}
	for _, keyPath := range keyPaths {
		if _, statErr := os.Stat(keyPath); statErr != nil {
			continue
		}
		if auth, keyErr := ssh.NewPublicKeysFromFile("git", keyPath, ""); keyErr == nil {
			return auth, nil
		}
	}
	return nil, ErrNoSSHKey
}

// TagCandidates lists the tag spellings to try: the tag as given, then the
// other v-prefix form when the tag is a semantic version.
func TagCandidates(tag string) []string {
	candidates := []string{tag}
	if noV, found := strings.CutPrefix(tag, "v"); found && semver.IsValid(tag) {
		candidates = append(candidates, noV)
	} else if !found && semver.IsValid("v"+tag) {
		candidates = append(candidates, "v"+tag)
	}
	return candidates
}

// cloneAnyTag tries each tag candidate in turn, clearing dest between attempts.
func cloneAnyTag(ctx context.Context, c Cloner, repoURL, tag, dest string, auth transport.AuthMethod) (string, error) {
	var lastErr error
	for _, candidate := range TagCandidates(tag) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := c.CloneTag(ctx, repoURL, candidate, dest, auth)
		if err == nil {
			return candidate, nil
		}
		lastErr = err
		// Best-effort cleanup of the failed attempt.
		_ = os.RemoveAll(dest)
	}
	return "", fmt.Errorf("cloning %s at %s: %w", repoURL, tag, lastErr)
}
