// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"

	"github.com/toolsmith/toolsmith/internal/extcmd"
)

func (r *Resolver) fromEnv() (secret, reason string) {
	for _, name := range r.opts.EnvVars {
		if v := strings.TrimSpace(r.getenv(name)); v != "" {
			return v, ""
		}
	}
	return "", "no token in " + strings.Join(r.opts.EnvVars, ", ")
}

// fromAgentCLI only asks gh for a token once it reports an authenticated session.
func (r *Resolver) fromAgentCLI(ctx context.Context) (secret, reason string) {
	status := r.runner.Run(ctx, extcmd.Command{
		Name: r.opts.AgentCLI,
		Args: []string{"auth", "status", "--hostname", r.opts.Host},
	})
	if !status.Succeeded() {
		return "", "not authenticated: " + status.Summary()
	}

	token := r.runner.Run(ctx, extcmd.Command{
		Name: r.opts.AgentCLI,
		Args: []string{"auth", "token", "--hostname", r.opts.Host},
	})
	if !token.Succeeded() {
		return "", "token export failed: " + token.Summary()
	}
	if out := token.TrimmedStdout(); out != "" {
		return out, ""
	}
	return "", "empty token"
}

func (r *Resolver) fromAgentConfig() (secret, reason string) {
	path := r.agentConfigPath()
	if path == "" {
		return "", "home directory unavailable"
	}
	data, err := r.readFile(path)
	if err != nil {
		return "", "cannot read " + path
	}
	token, err := lookupField(data, filepath.Ext(path), r.agentConfigField())
	if err != nil {
		return "", "malformed " + path
	}
	if token == "" {
		return "", "no token field in " + path
	}
	return token, ""
}

func (r *Resolver) fromVCSConfig(ctx context.Context) (secret, reason string) {
	res := r.runner.Run(ctx, extcmd.Command{
		Name: r.opts.VCSCLI,
		Args: []string{"config", "--global", "--get", r.opts.VCSConfigKey},
	})
	if !res.Succeeded() {
		return "", r.opts.VCSConfigKey + " not set"
	}
	if out := res.TrimmedStdout(); out != "" {
		return out, ""
	}
	return "", r.opts.VCSConfigKey + " is empty"
}

// fromCredentialStore speaks the git credential protocol; prompting is disabled.
func (r *Resolver) fromCredentialStore(ctx context.Context) (secret, reason string) {
	query := "protocol=" + r.opts.CredentialProtocol + "\nhost=" + r.opts.Host + "\n\n"
	res := r.runner.Run(ctx, extcmd.Command{
		Name:  r.opts.VCSCLI,
		Args:  []string{"credential", "fill"},
		Stdin: []byte(query),
		Env:   []string{"GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=", "SSH_ASKPASS="},
	})
	if !res.Succeeded() {
		return "", "credential helper failed: " + res.Summary()
	}

	sc := bufio.NewScanner(strings.NewReader(string(res.Stdout)))
	for sc.Scan() {
		if pw, ok := strings.CutPrefix(sc.Text(), "password="); ok {
			if pw = strings.TrimSpace(pw); pw != "" {
				return pw, ""
			}
		}
	}
	return "", "no stored password for " + r.opts.Host
}

func (r *Resolver) fromKeychain(ctx context.Context) (secret, reason string) {
	if r.goos != "darwin" {
		return "", "unsupported on " + r.goos
	}
	res := r.runner.Run(ctx, extcmd.Command{
		Name: r.opts.KeychainCLI,
		Args: []string{"find-internet-password", "-s", r.opts.Host, "-w"},
	})
	if !res.Succeeded() {
		return "", "no keychain entry: " + res.Summary()
	}
	if out := res.TrimmedStdout(); out != "" {
		return out, ""
	}
	return "", "empty keychain entry"
}

func (r *Resolver) agentConfigPath() string {
	if r.opts.AgentConfigPath != "" {
		return r.opts.AgentConfigPath
	}
	home, err := r.homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "gh", "hosts.yml")
}

func (r *Resolver) agentConfigField() []string {
	if len(r.opts.AgentConfigField) > 0 {
		return r.opts.AgentConfigField
	}
	return []string{r.opts.Host, "oauth_token"}
}
