package filestore

import (
	"io"
)

// FileStore stores and retrieves media content addressed by hash.
type FileStore interface {
	// Save stores the content under the given hash. Idempotent: saving an
	// existing hash is a no-op.
	Save(r io.Reader, hash string) error

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
