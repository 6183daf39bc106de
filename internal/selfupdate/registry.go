// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrUnknownInstance is returned when a registry has no settings for an instance.
var ErrUnknownInstance = errors.New("unknown instance")

// Registry maps instance identities to their update settings for hosts that
// manage several installations in one process.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]Settings
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]Settings)}
}

// Register validates settings and stores them under id, replacing any previous entry.
func (r *Registry) Register(id string, settings Settings) error {
	if id == "" {
		return errors.New("instance id must not be empty")
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("instance %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[id] = settings
	return nil
}

// Get returns the settings registered under id.
func (r *Registry) Get(id string) (Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.instances[id]
	if !ok {
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return s, nil
}

// Remove forgets id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// IDs returns the registered instance ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.instances))
}

// Validate checks the fields needed before any network call.
func (s Settings) Validate() error {
	if s.Repository == "" {
		return ErrEmptyRepository
	}
	if _, err := ParseRepository(s.Repository); err != nil {
		return err
	}
	if NormalizeAssetPrefix(s.AssetPrefix) == "" {
		return ErrEmptyAssetPrefix
	}
	if ExtractVersion(s.CurrentVersion) == "" {
		return fmt.Errorf("%w: current version %q", ErrInvalidVersion, s.CurrentVersion)
	}
	return nil
}
