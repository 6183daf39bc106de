// SPDX-License-Identifier: MPL-2.0

package store

import "time"

type (
	// KV is a store that serves both the option and the ephemeral role.
	KV interface {
		OptionStore
		EphemeralStore
	}

	// Scoped prefixes every key of an underlying KV with "<scope>/".
	Scoped struct {
		inner  KV
		prefix string
	}
)

var (
	_ KV = (*Memory)(nil)
	_ KV = (*Badger)(nil)
	_ KV = (*Scoped)(nil)
)

// NewScoped returns a view of inner whose keys live under scope. An empty
// scope returns a view that passes keys through unchanged.
func NewScoped(inner KV, scope string) *Scoped {
	prefix := ""
	if scope != "" {
		prefix = scope + "/"
	}
	return &Scoped{inner: inner, prefix: prefix}
}

// Get returns the value stored under the scoped key.
func (s *Scoped) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	return s.inner.Get(s.prefix + key)
}

// Set stores value under the scoped key.
func (s *Scoped) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.inner.Set(s.prefix+key, value)
}

// SetWithTTL stores value under the scoped key until ttl elapses.
func (s *Scoped) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.inner.SetWithTTL(s.prefix+key, value, ttl)
}

// SetIfAbsent writes value under the scoped key when no live entry exists.
func (s *Scoped) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.inner.SetIfAbsent(s.prefix+key, value, ttl)
}

// CompareAndSwap replaces the scoped entry when it currently holds old.
func (s *Scoped) CompareAndSwap(key string, old, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.inner.CompareAndSwap(s.prefix+key, old, value, ttl)
}

// Delete removes the scoped key.
func (s *Scoped) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.inner.Delete(s.prefix + key)
}
