// Package system provides the wall clock used to timestamp lookups.
package system

import "time"

// Clock implements annotation.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
