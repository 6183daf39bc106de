// SPDX-License-Identifier: MPL-2.0

// Package selfupdate resolves and retrieves release artifacts from GitHub
// Releases for self-updating installations.
//
// The package is organized by concern:
//   - version.go, asset.go: tag parsing, version comparison and asset matching
//   - github.go: HTTP client for the GitHub Releases API (latest, list, get-by-tag)
//   - hosts.go, resolver.go: credential host allow-list and two-phase download URL resolution
//   - cache.go, lock.go, snapshot.go: release cache, update lock and persisted snapshot
//   - pipeline.go, hooks.go: CheckForUpdates, ValidateReadiness and the host lifecycle hooks
//   - executor.go, installer.go: the locked update run and the zip directory swap
package selfupdate
