// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts wall-clock reads so TTL decisions can be tested
// deterministically. Production code uses Real; tests use testutil.FakeClock.
package clock

import "time"

type (
	// Clock reports the current time.
	Clock interface {
		Now() time.Time
	}

	// Real implements Clock using the system time.
	Real struct{}
)

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
