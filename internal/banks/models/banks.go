package models

import (
	"time"

	"kore/internal/onepipe"
)

// Bank is the normalized provider bank entry.
type Bank = onepipe.Bank

// Entry is the single cache slot: the last successfully fetched bank
// list and when it was fetched. Staleness is derived at read time from
// the fetch timestamp; the slot itself is never evicted, so an expired
// value stays available as a fallback.
type Entry struct {
	Banks     []Bank    `json:"banks"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FreshAt reports whether the entry is within ttl at the given time.
func (e *Entry) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// List is the caller-facing result. Stale is set when the provider
// could not be reached and a previous value was served instead.
type List struct {
	Banks []Bank `json:"banks"`
	Stale bool   `json:"stale"`
}
