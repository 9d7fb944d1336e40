// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the toolsmith CLI: cobra commands wrapped by fang,
// styled with lipgloss, logging through charmbracelet/log.
//
// The App type is the composition root. Each command loads configuration
// through App.Config, then builds the credential resolver, fetcher, bundler
// and installer from it.
package cmd
