package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the store has no object under the
// requested key. Callers branch on it to tell a missing asset apart
// from a transport failure.
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for file storage operations. A single
// instance is built at process start and shared by all requests, so
// implementations must be safe for concurrent use.
type Storage interface {
	// Save writes a file to storage, silently replacing any object
	// already stored under the key.
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get retrieves a file from storage. Returns an error wrapping
	// ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a file from storage.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a file is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetPresignedURL returns a pre-signed URL for the file.
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)

	// ValidateKey checks that a key is acceptable to the backend.
	ValidateKey(key string) error
}
