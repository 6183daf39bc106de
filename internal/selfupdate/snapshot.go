// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invowk/upkeep/internal/store"
)

const (
	// SnapshotKey holds the release snapshot captured by the last check.
	SnapshotKey = "release_snapshot"
	// OutcomeKey holds the result of the last version comparison.
	OutcomeKey = "update_outcome"
	// AvailabilityKey is the host-visible "an update is ready" marker.
	AvailabilityKey = "update_available"
)

type (
	// Snapshot is the release data captured at check time and consumed at
	// update time. It is always written and read as one value.
	Snapshot struct {
		Repository  string    `json:"repository"`
		Version     string    `json:"version"`
		TagName     string    `json:"tag_name"`
		PublishedAt string    `json:"published_at"`
		HTMLURL     string    `json:"html_url"`
		Assets      []Asset   `json:"assets"`
		CapturedAt  time.Time `json:"captured_at"`
	}

	// Outcome records the last comparison for status displays.
	Outcome struct {
		CheckedAt       time.Time `json:"checked_at"`
		CurrentVersion  string    `json:"current_version"`
		LatestVersion   string    `json:"latest_version"`
		UpdateAvailable bool      `json:"update_available"`
	}

	// Availability is published when an update can be installed.
	Availability struct {
		Version    string `json:"version"`
		PackageURL string `json:"package_url"`
	}

	// SnapshotStore persists snapshots, outcomes and the availability marker.
	SnapshotStore struct {
		options store.OptionStore
	}
)

// NewSnapshotStore creates a SnapshotStore over options.
func NewSnapshotStore(options store.OptionStore) *SnapshotStore {
	return &SnapshotStore{options: options}
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(snap Snapshot) error {
	return s.putJSON(SnapshotKey, snap)
}

// Load returns the stored snapshot, or ErrNoSnapshot.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	var snap Snapshot
	ok, err := s.getJSON(SnapshotKey, &snap)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSnapshot
	}
	return &snap, nil
}

// Clear removes the snapshot and the availability marker.
func (s *SnapshotStore) Clear() error {
	if err := s.options.Delete(SnapshotKey); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return s.ClearAvailability()
}

// SaveOutcome replaces the stored comparison outcome.
func (s *SnapshotStore) SaveOutcome(o Outcome) error {
	return s.putJSON(OutcomeKey, o)
}

// LoadOutcome returns the last outcome and whether one exists.
func (s *SnapshotStore) LoadOutcome() (*Outcome, bool, error) {
	var o Outcome
	ok, err := s.getJSON(OutcomeKey, &o)
	if err != nil || !ok {
		return nil, false, err
	}
	return &o, true, nil
}

// PublishAvailability sets the host-visible availability marker.
func (s *SnapshotStore) PublishAvailability(a Availability) error {
	return s.putJSON(AvailabilityKey, a)
}

// LoadAvailability returns the availability marker and whether it is set.
func (s *SnapshotStore) LoadAvailability() (*Availability, bool, error) {
	var a Availability
	ok, err := s.getJSON(AvailabilityKey, &a)
	if err != nil || !ok {
		return nil, false, err
	}
	return &a, true, nil
}

// ClearAvailability removes the availability marker.
func (s *SnapshotStore) ClearAvailability() error {
	if err := s.options.Delete(AvailabilityKey); err != nil {
		return fmt.Errorf("clearing availability marker: %w", err)
	}
	return nil
}

func (s *SnapshotStore) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.options.Set(key, data); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (s *SnapshotStore) getJSON(key string, v any) (bool, error) {
	raw, ok, err := s.options.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}
