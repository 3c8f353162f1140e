// Package counter provides sliding-window event counters and monotonic
// quota accumulators, backed by process memory or redis.
package counter

import (
	"context"
	"time"
)

// Store counts events in sliding time windows and tracks quota usage.
// All operations are safe for concurrent use.
type Store interface {
	// Incr records one event under key and returns the number of events
	// observed within the trailing window, including this one.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Count returns the number of events within the trailing window
	// without recording a new one.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)

	// AddQuota atomically adds n to the named accumulator and returns the
	// new total. Negative n rolls back a prior reservation.
	AddQuota(ctx context.Context, key string, n int64) (int64, error)

	// Quota returns the current accumulator value.
	Quota(ctx context.Context, key string) (int64, error)
}

// Key joins parts into a namespaced counter key.
func Key(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}
