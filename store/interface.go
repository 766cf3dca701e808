package store

import "errors"

// ErrNotFound is returned by Get when the key has never been set or was deleted.
var ErrNotFound = errors.New("store: key not found")

// KV defines the interface for durable text storage backends.
// Values are opaque strings; the route store keeps its whole collection
// as one JSON document under a single key.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases any resources held by the store.
	Close() error
}
