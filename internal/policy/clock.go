// Package policy holds the pure, I/O-free time and state-derivation math
// that the worker and scheduler lean on: retry backoff, lease expiry,
// staleness detection, and the ticket derived-state resolver.
package policy

import "time"

// Clock abstracts time.Now so tests can pin the current instant instead of
// racing the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Now returns the current UTC instant using the system clock.
func Now() time.Time { return time.Now().UTC() }
