// SPDX-License-Identifier: MPL-2.0

// Package credential discovers an authentication token for a private source
// repository.
//
// A Resolver walks a fixed, declared list of sources (environment variables,
// the gh CLI, the gh hosts file, git config, git's credential store and the
// macOS keychain) and returns the first non-empty token. A source that is
// missing, unhealthy or malformed is skipped; only exhausting every source
// is an error (ErrNotFound).
//
// Tokens are wrapped in Credential, whose String and GoString methods print
// a short prefix only, so a Credential can be passed to loggers and fmt
// verbs without leaking the secret.
package credential
