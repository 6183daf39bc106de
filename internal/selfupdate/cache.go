// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/invowk/upkeep/internal/clock"
	"github.com/invowk/upkeep/internal/logging"
	"github.com/invowk/upkeep/internal/store"
)

// ReleaseCacheTTL is how long fetched release metadata is reused.
const ReleaseCacheTTL = 60 * time.Second

const logCategoryCache = "cache"

type (
	// ReleaseCache memoizes the latest-release fetch for one repository and channel.
	ReleaseCache struct {
		source  ReleaseSource
		store   store.EphemeralStore
		clock   clock.Clock
		logger  *logging.Logger
		repo    Repository
		channel Channel
	}

	cachedRelease struct {
		FetchedAt time.Time `json:"fetched_at"`
		Release   Release   `json:"release"`
	}
)

// NewReleaseCache wraps source with a ReleaseCacheTTL cache in ephemeral.
func NewReleaseCache(source ReleaseSource, ephemeral store.EphemeralStore, repo Repository, channel Channel, c clock.Clock, logger *logging.Logger) *ReleaseCache {
	return &ReleaseCache{
		source:  source,
		store:   ephemeral,
		clock:   clock.OrReal(c),
		logger:  logger,
		repo:    repo,
		channel: channel,
	}
}

// Key returns the storage key for this repository and channel.
func (c *ReleaseCache) Key() string {
	return ReleaseCacheKey(c.repo, c.channel)
}

// ReleaseCacheKey hashes the repository identity and channel into a cache key.
func ReleaseCacheKey(repo Repository, channel Channel) string {
	return fmt.Sprintf("release:%016x", xxh3.HashString(repo.String()+"#"+string(channel)))
}

// GetLatestRelease returns the cached release when it is younger than
// ReleaseCacheTTL, fetching otherwise. forceRefresh drops the entry first.
// Cache storage failures degrade to a live fetch.
func (c *ReleaseCache) GetLatestRelease(ctx context.Context, forceRefresh bool) (*Release, error) {
	if forceRefresh {
		if err := c.Clear(); err != nil {
			c.logger.Warn(logCategoryCache, "failed to clear release cache", logging.Fields{"error": err.Error()})
		}
	} else if cached, ok := c.lookup(); ok {
		return cached, nil
	}

	release, err := c.source.FetchLatest(ctx, c.channel)
	if err != nil {
		return nil, err
	}

	entry, err := json.Marshal(cachedRelease{FetchedAt: c.clock.Now(), Release: *release})
	if err == nil {
		err = c.store.SetWithTTL(c.Key(), entry, ReleaseCacheTTL)
	}
	if err != nil {
		c.logger.Warn(logCategoryCache, "failed to cache release metadata", logging.Fields{
			"repository": c.repo.String(),
			"error":      err.Error(),
		})
	}
	return release, nil
}

// Clear removes the cached entry.
func (c *ReleaseCache) Clear() error {
	return c.store.Delete(c.Key())
}

func (c *ReleaseCache) lookup() (*Release, bool) {
	raw, ok, err := c.store.Get(c.Key())
	if err != nil {
		c.logger.Warn(logCategoryCache, "failed to read release cache", logging.Fields{"error": err.Error()})
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry cachedRelease
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if c.clock.Now().Sub(entry.FetchedAt) >= ReleaseCacheTTL {
		return nil, false
	}
	return &entry.Release, true
}
