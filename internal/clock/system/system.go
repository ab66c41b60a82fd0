// Package system is the wall-clock implementation of the scheduler's
// clock port.
package system

import "time"

// Clock reads the system clock. Readings are normalized to UTC because
// crawl timestamps and cadence math must not shift with the host's
// timezone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
