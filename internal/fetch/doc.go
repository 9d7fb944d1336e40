// SPDX-License-Identifier: MPL-2.0

// Package fetch acquires a repository tarball for one tag by walking a fixed,
// ordered table of transport strategies. The first strategy that leaves a
// non-empty archive on disk wins; every other outcome, including a zero-byte
// download, advances to the next strategy. There are no retries.
package fetch
