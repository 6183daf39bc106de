// SPDX-License-Identifier: MPL-2.0

// Package credential stores the hosting-provider access token encrypted at rest.
//
// The key is SHA-256 over host-provided secret material. Each encryption uses
// a fresh random IV with AES-256-CBC, and the stored envelope is
//
//	base64(base64(ciphertext) + "::" + base64(iv))
//
// Both halves are base64-armored before joining, so the "::" delimiter cannot
// occur inside either of them.
//
// Saving a value that already decrypts under the current key stores it
// unchanged instead of wrapping it twice. This is a heuristic: any input that
// happens to decrypt is treated as ciphertext.
package credential
