// SPDX-License-Identifier: MPL-2.0

// Package archive unpacks repository tarballs into a private working tree and
// packs directories back into byte-stable tarballs.
//
// Extract strips the single top-level wrapper directory that forge tarball
// endpoints add (owner-name-sha/), refuses entries that would escape the
// destination, and reports a tree with zero entries as a failure.
package archive
