// Package genstore keeps a generation counter per record key. A record saved
// with generation g is only trusted while the key's generation is still g;
// bumping the generation invalidates every saved copy at once.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore for one process, RedisGenStore to share across processes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes entries not bumped within retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
