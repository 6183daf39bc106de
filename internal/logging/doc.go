// SPDX-License-Identifier: MPL-2.0

// Package logging wraps charmbracelet/log with categorized entries and
// credential redaction. Every field map passed to a Logger is scanned for keys
// containing "token", "password", "secret", "authorization" or "credential"
// and those values are replaced before anything is written.
package logging
