package cache

import "time"

// DefaultStaleTime is the staleness window applied when none is configured.
const DefaultStaleTime = 5 * time.Second

// IsStale reports whether entry is outdated at now.
//
// An entry that has never been fetched is stale. Otherwise it is stale when
// strictly more than staleTime has elapsed since UpdatedAt; an age equal to
// staleTime is still fresh.
func IsStale(entry Entry, staleTime time.Duration, now time.Time) bool {
	if entry.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(entry.UpdatedAt) > staleTime
}

// ShouldFetch reports whether an automatic fetch may start for entry:
// the entry is stale and no fetch for it is in flight.
func ShouldFetch(entry Entry, staleTime time.Duration, now time.Time) bool {
	return IsStale(entry, staleTime, now) && !entry.IsLoading
}
