// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"sync"
	"time"

	"github.com/invowk/upkeep/internal/clock"
)

// Memory is a process-local OptionStore and EphemeralStore.
// Expiry is evaluated against the injected clock.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string][]byte
}

var (
	_ OptionStore    = (*Memory)(nil)
	_ EphemeralStore = (*Memory)(nil)
)

// NewMemory creates an empty Memory store. A nil clock uses the system time.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		clock:   clock.OrReal(c),
		entries: make(map[string][]byte),
	}
}

// Get returns a live value for key.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	value, live := decodeEnvelope(raw, m.clock.Now())
	if !live {
		delete(m.entries, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value without expiry.
func (m *Memory) Set(key string, value []byte) error {
	return m.put(key, value, time.Time{})
}

// SetWithTTL stores value until ttl elapses.
func (m *Memory) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	return m.put(key, value, m.clock.Now().Add(ttl))
}

// SetIfAbsent stores value only when key has no live entry.
func (m *Memory) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if raw, ok := m.entries[key]; ok {
		if _, live := decodeEnvelope(raw, now); live {
			return false, nil
		}
	}
	m.entries[key] = encodeEnvelope(value, now.Add(ttl))
	return true, nil
}

// CompareAndSwap stores value only when the live entry for key equals old.
func (m *Memory) CompareAndSwap(key string, old, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	raw, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	current, live := decodeEnvelope(raw, now)
	if !live || !bytes.Equal(current, old) {
		return false, nil
	}
	m.entries[key] = encodeEnvelope(value, now.Add(ttl))
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Close is a no-op so Memory can stand in for Badger.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) put(key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = encodeEnvelope(value, expiresAt)
	return nil
}
