// SPDX-License-Identifier: MPL-2.0

// Package store provides the key-value storage the update pipeline runs on:
// a persistent option store (snapshot, credential envelope, outcome markers)
// and a short-TTL ephemeral store (release cache, update lock).
//
// Two implementations satisfy both interfaces:
//   - Memory: process-local, used by tests and one-shot invocations
//   - Badger: BadgerDB-backed and persistent; one process at a time opens a data directory
//
// Values carry their expiry in a small header evaluated against an injected
// clock, so TTL behavior is identical across implementations and testable.
//
// Scoped prefixes every key so several installations can share one database.
package store
