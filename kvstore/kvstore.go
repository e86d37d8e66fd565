package kvstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Flat keyed store of JSON documents, grouped into namespaces.
//
// Values must be valid JSON: the file backend embeds them verbatim into a
// single document per namespace.
type Store interface {
	// returns ErrNotFound if the key (or whole namespace) does not exist
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Put(ctx context.Context, ns, key string, val []byte) error
	// does not error if the key does not exist
	Delete(ctx context.Context, ns, key string) error
	// returns an empty map (not an error) for unknown namespaces
	List(ctx context.Context, ns string) (map[string][]byte, error)
	// Replaces the entire namespace in one step. Readers see either the old
	// or the new content, never a mix.
	Replace(ctx context.Context, ns string, entries map[string][]byte) error
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
