// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"

	"github.com/invowk/upkeep/internal/clock"
)

// Epoch is the time a FakeClock starts at when none is given.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

var _ clock.Clock = (*FakeClock)(nil)

// FakeClock is a clock.Clock that only moves when told to. It is safe for
// concurrent use, so stores and pipelines under test may share one.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFakeClock returns a FakeClock reading start, or Epoch when start is zero.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Expire moves the clock just past ttl, so an entry written now is stale.
func (c *FakeClock) Expire(ttl time.Duration) time.Time {
	return c.Advance(ttl + time.Nanosecond)
}
