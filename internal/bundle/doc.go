// SPDX-License-Identifier: MPL-2.0

// Package bundle assembles a tool's library fragments and its entry script
// into one self-contained shell script.
//
// The artifact format is:
//
//	#!/bin/bash
//
//	# === a.sh ===
//	<a.sh content>
//
//	# === b.sh ===
//	<b.sh content>
//
//	# === Main Script ===
//	<entry script without its first line and without library source lines>
//
// Fragments appear in byte-wise ascending name order, line endings are
// normalized to LF, and the main section is always present. The same inputs
// therefore always produce the same bytes and the same digest.
package bundle
