package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get for keys that have no value.
var ErrKeyNotFound = errors.New("storage: key not found")

// Store is a flat string key-value store. Values are JSON-serialized
// records; typed encoding and decoding happens at the repository edge,
// never inside a backend.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns every stored key.
	Keys(ctx context.Context) ([]string, error)
}
