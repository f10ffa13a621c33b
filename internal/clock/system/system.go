// Package system is the wall-clock research.Clock used outside of tests.
package system

import "time"

// Clock reads the system time. Job timestamps and log entries all come
// through here so tests can substitute a deterministic clock.
type Clock struct{}

// New returns a wall-clock Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
