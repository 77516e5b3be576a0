package cache

import (
	"fmt"
	"time"
)

// Entry wraps a cached value with the metadata needed to decide staleness.
// FetchedAt is zero until the first successful fetch completes; Fingerprint
// records the serialized query parameters that produced Value.
type Entry[T any] struct {
	Value       T
	FetchedAt   time.Time
	Fingerprint string
}

// ShouldRefresh applies the staleness rules in order: never fetched, changed
// fingerprint, expired TTL. A false result means the cached value may be
// served as-is. Callers handle force-refresh themselves since a forced load
// still merges into window-style caches.
func (e *Entry[T]) ShouldRefresh(ttl time.Duration, fingerprint string) bool {
	return e.shouldRefreshAt(time.Now(), ttl, fingerprint)
}

func (e *Entry[T]) shouldRefreshAt(now time.Time, ttl time.Duration, fingerprint string) bool {
	if e.FetchedAt.IsZero() {
		return true
	}
	if e.Fingerprint != fingerprint {
		return true
	}
	if now.Sub(e.FetchedAt) >= ttl {
		return true
	}
	return false
}

// Store replaces the value and stamps freshness metadata
func (e *Entry[T]) Store(value T, fingerprint string) {
	e.Value = value
	e.FetchedAt = time.Now()
	e.Fingerprint = fingerprint
}

// Reset returns the entry to its never-fetched state
func (e *Entry[T]) Reset() {
	var zero T
	e.Value = zero
	e.FetchedAt = time.Time{}
	e.Fingerprint = ""
}

// Age returns time elapsed since the last successful fetch, or zero if the
// entry was never fetched.
func (e *Entry[T]) Age() time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return time.Since(e.FetchedAt)
}

// AgeLabel formats a cache age for display: "just now", "5m ago", "2h ago",
// "3d ago".
func AgeLabel(age time.Duration) string {
	secs := int64(age.Seconds())
	switch {
	case secs < 60:
		return "just now"
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
