// Short-lived string values with a fixed TTL, namespaced by cache name.
//
// The message filter keeps each member's recent messages per channel here, to
// detect repeats. Backed by redis (shared between processes) or an in-process
// LRU.
package cachestore

import (
	"context"
)

type CacheStore interface {
	// Returns the empty string on a miss.
	Get(ctx context.Context, name, key string) (string, error)
	// Overwrites, restarting the TTL.
	Set(ctx context.Context, name, key string, val string) error
	// Purging a missing key is not an error.
	Purge(ctx context.Context, name, key string) error
}
