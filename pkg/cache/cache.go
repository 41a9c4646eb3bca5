// Package cache stores finished export artifacts keyed by their inputs.
//
// Only the rendered bytes are cached. Metering is never cached: a cache hit
// still goes through the ledger before the artifact is returned.
//
// Three backends implement Cache:
//   - NullCache disables caching
//   - FileCache stores entries under a local directory for the CLI
//   - RedisCache shares entries between API server replicas
package cache

import (
	"context"
	"time"
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	// Get returns the data for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the cache.
	Close() error
}

// TTLArtifact is the default lifetime of a rendered artifact.
const TTLArtifact = 24 * time.Hour
