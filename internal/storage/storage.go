// Package storage defines the blob Storage interface used to archive rendered
// QR badge images, plus a small registry of backends.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports each backend to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Download when nothing is stored at the path.
var ErrNotFound = errors.New("object not found")

// Storage is a flat key/value blob store.
type Storage interface {
	// Upload stores the reader's contents at path, replacing any previous object
	Upload(ctx context.Context, path string, reader io.Reader, size int64) error

	// Download opens the object at path. Callers must close the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored at path
	Exists(ctx context.Context, path string) (bool, error)
}
