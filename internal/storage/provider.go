// Package storage defines the blob store that holds raw uploads until they
// are sealed.
package storage

// Provider is the interface for blob operations. Keys are slash-separated
// relative paths such as "raw/<id>".
type Provider interface {
	// Put atomically writes content under key, replacing any previous blob.
	Put(key string, content []byte) error
	// Get returns the blob stored under key, or apperr.ErrNotFound.
	Get(key string) ([]byte, error)
	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(key string) error
	// Exists reports whether a blob is stored under key.
	Exists(key string) (bool, error)
}
