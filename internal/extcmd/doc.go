// SPDX-License-Identifier: MPL-2.0

// Package extcmd runs external programs (gh, git, security) behind a narrow
// Runner interface that returns a structured Result instead of an *exec.Cmd.
//
// Every invocation is bounded by a timeout, a missing binary is reported as
// exit status 127 rather than a Go error from the caller's point of view,
// and stdout/stderr are captured in memory. Tests substitute
// extcmdtest.Recorder for deterministic, scripted results.
package extcmd
