// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by package tests: a controllable
// clock for TTL logic and Must* wrappers that fail the test on error.
package testutil
