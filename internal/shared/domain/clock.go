package domain

import "time"

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time {
	return time.Now().UTC()
}
