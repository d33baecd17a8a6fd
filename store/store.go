// Package store implements an embedded document store: keyed JSON-like
// documents with exact-match filtering, merge updates and paginated scans,
// persisted through a pluggable storage engine.
package store

// Engine is the byte-level persistence layer under a DocumentStore.
// Keys are ordered byte-wise; values are the JSON encoding of a Document.
type Engine interface {
	// Get returns the stored bytes for key and whether the key is present.
	Get(key string) ([]byte, bool, error)

	// Put inserts or replaces the value at key.
	Put(key string, data []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Update atomically reads key and writes what fn returns. fn receives
	// nil, false when the key is absent. If fn fails nothing is written.
	Update(key string, fn func(old []byte, found bool) ([]byte, error)) error

	// Count returns the number of stored keys.
	Count() (int, error)

	// Iterate calls fn for each key in ascending order over a
	// point-in-time snapshot. data is nil when keysOnly is set. Returning
	// errStopIteration from fn ends the walk without error.
	Iterate(keysOnly bool, fn func(key string, data []byte) error) error

	// Close releases the engine.
	Close() error
}
