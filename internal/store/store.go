// SPDX-License-Identifier: MPL-2.0

package store

import (
	"encoding/binary"
	"errors"
	"time"
)

// envelopeHeaderLen is the size of the expiry prefix stored before every value.
const envelopeHeaderLen = 8

var (
	// ErrEmptyKey is returned when an operation is attempted with an empty key.
	ErrEmptyKey = errors.New("store: empty key")
	// ErrLocked is returned when another process holds the data directory.
	ErrLocked = errors.New("store: data directory is in use by another process")
)

type (
	// OptionStore is a persistent key-value store scoped to one installation.
	// Set replaces the whole value atomically.
	OptionStore interface {
		// Get returns the stored value and true, or nil and false when absent.
		Get(key string) ([]byte, bool, error)
		Set(key string, value []byte) error
		Delete(key string) error
	}

	// EphemeralStore holds short-lived values that disappear after their TTL.
	EphemeralStore interface {
		// Get returns the value and true when present and not expired.
		Get(key string) ([]byte, bool, error)
		SetWithTTL(key string, value []byte, ttl time.Duration) error
		// SetIfAbsent writes value only when no live entry exists for key and
		// reports whether it did.
		SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error)
		// CompareAndSwap replaces the live entry for key with value only when
		// it currently holds old, and reports whether it did.
		CompareAndSwap(key string, old, value []byte, ttl time.Duration) (bool, error)
		Delete(key string) error
	}
)

// encodeEnvelope prefixes value with its expiry in Unix nanoseconds.
// A zero expiry marks a value that never expires.
func encodeEnvelope(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, envelopeHeaderLen+len(value))
	var nanos int64
	if !expiresAt.IsZero() {
		nanos = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[:envelopeHeaderLen], uint64(nanos))
	copy(buf[envelopeHeaderLen:], value)
	return buf
}

// decodeEnvelope splits a stored envelope and reports whether it is still live at now.
func decodeEnvelope(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < envelopeHeaderLen {
		return nil, false
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:envelopeHeaderLen]))
	if nanos != 0 && !now.Before(time.Unix(0, nanos)) {
		return nil, false
	}
	value := make([]byte, len(raw)-envelopeHeaderLen)
	copy(value, raw[envelopeHeaderLen:])
	return value, true
}
