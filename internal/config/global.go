// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces the result of ConfigDir when non-empty.
var configDirOverride string

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride makes ConfigDir return dir, so tests do not depend
// on the user's home or XDG_CONFIG_HOME.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
