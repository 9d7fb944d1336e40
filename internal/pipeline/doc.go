// SPDX-License-Identifier: MPL-2.0

// Package pipeline runs one install: resolve a credential, fetch the tarball,
// extract it, bundle the tool and install it. Stages run strictly in order,
// each failure is classified into a Kind, and every temporary file lives in
// a per-run workspace that is removed on all paths.
package pipeline
