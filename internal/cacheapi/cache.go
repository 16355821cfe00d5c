// Package cacheapi defines the segment read-cache's external storage
// contract (spec.md §4.8): a keyed blob store for cached query-result
// segments, independent of the cache coordinator's eviction policy.
package cacheapi

import (
	"context"
	"time"
)

// CacheQueryResult is one cached segment: a previously-computed partial
// result plus its validity window.
type CacheQueryResult struct {
	Key       string
	Payload   []byte
	StoredAt  time.Time
	ExpiresAt time.Time

	// LastValueTimestamp is the timestamp of the most recent data point
	// folded into Payload, used by the segment-cache tip-query check
	// (spec.md §4.7) — distinct from StoredAt, which only says when the
	// cache entry itself was written.
	LastValueTimestamp time.Time
}

// Plugin is the external cache collaborator. Implementations might be
// backed by an embedded KV store, Redis, or (in tests) memory.
type Plugin interface {
	// Fetch returns the cached segment for key, if present and unexpired.
	Fetch(ctx context.Context, key string) (CacheQueryResult, bool, error)

	// Cache stores (or overwrites) a segment.
	Cache(ctx context.Context, result CacheQueryResult) error

	// Delete removes a segment. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
