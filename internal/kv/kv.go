// Package kv provides the flat namespaced key/value store that backs the
// cache layer. Keys are plain strings ("messages:<id>", "user:<id>", ...);
// values are JSON blobs owned entirely by the caller. There are no
// transactions spanning keys and no secondary indices.
package kv

import "context"

// Store is the local persistence primitive.
type Store interface {
	// Get returns the value for key. The second return is false when the key
	// is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemoveMany deletes all given keys atomically (best-effort for
	// implementations without transactions).
	RemoveMany(ctx context.Context, keys []string) error
	// Keys returns every stored key with the given prefix. An empty prefix
	// returns all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
