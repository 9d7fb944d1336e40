// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/toolsmith/config.cue (~/.config
// when unset, %APPDATA% on Windows) and validated against the embedded
// config_schema.cue. Every key can be overridden from the environment with
// the TOOLSMITH_ prefix, dots replaced by underscores.
package config
