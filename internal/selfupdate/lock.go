// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invowk/upkeep/internal/clock"
	"github.com/invowk/upkeep/internal/store"
)

// LockTTL is how long an update lock marker lives without being released.
const LockTTL = 60 * time.Second

type (
	// UpdateLock is a single-writer guard backed by a TTL marker in shared storage.
	UpdateLock struct {
		store store.EphemeralStore
		clock clock.Clock
	}

	lockMarker struct {
		Owner      string    `json:"owner"`
		AcquiredAt time.Time `json:"acquired_at"`
	}
)

// NewUpdateLock creates an UpdateLock over ephemeral.
func NewUpdateLock(ephemeral store.EphemeralStore, c clock.Clock) *UpdateLock {
	return &UpdateLock{store: ephemeral, clock: clock.OrReal(c)}
}

// LockKey returns the lock key for a repository.
func LockKey(repo Repository) string {
	return "update_lock:" + repo.String()
}

// TryAcquire writes a marker for key unless a live one exists.
func (l *UpdateLock) TryAcquire(key string) (bool, error) {
	marker, err := json.Marshal(lockMarker{Owner: uuid.NewString(), AcquiredAt: l.clock.Now()})
	if err != nil {
		return false, fmt.Errorf("encoding lock marker: %w", err)
	}

	ok, err := l.store.SetIfAbsent(key, marker, LockTTL)
	if err != nil {
		return false, fmt.Errorf("acquiring update lock: %w", err)
	}
	if ok {
		return true, nil
	}

	// A store without working expiry may still hold a stale marker. It is
	// replaced only if no other acquirer has replaced it first.
	current, ok, err := l.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading update lock: %w", err)
	}
	if !ok || !l.isStale(current) {
		return false, nil
	}
	ok, err = l.store.CompareAndSwap(key, current, marker, LockTTL)
	if err != nil {
		return false, fmt.Errorf("replacing stale update lock: %w", err)
	}
	return ok, nil
}

// Release deletes the marker for key unconditionally.
func (l *UpdateLock) Release(key string) error {
	if err := l.store.Delete(key); err != nil {
		return fmt.Errorf("releasing update lock: %w", err)
	}
	return nil
}

// Held reports whether a live marker exists for key.
func (l *UpdateLock) Held(key string) (bool, error) {
	raw, ok, err := l.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading update lock: %w", err)
	}
	return ok && !l.isStale(raw), nil
}

func (l *UpdateLock) isStale(raw []byte) bool {
	var m lockMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return true
	}
	return !l.clock.Now().Before(m.AcquiredAt.Add(LockTTL))
}
