// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/upkeep/config.cue (or the XDG equivalent on Linux,
// ~/Library/Application Support/upkeep/config.cue on macOS, %APPDATA%\upkeep\config.cue
// on Windows), falling back to ./config.cue. Files are validated against the embedded
// #Config schema (config_schema.cue) before being merged over the defaults, and
// UPKEEP_* environment variables override both.
//
// Instance ids under `instances` are case-folded by Viper.
package config
