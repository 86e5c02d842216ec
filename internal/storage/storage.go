// Package storage abstracts the object/blob store the pipeline writes
// artifacts to. Production deployments wrap their blob client in ObjectStore;
// LocalStore and MemStore cover local runs and tests.
package storage

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a read targets a missing object.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the blob-storage collaborator. Paths use forward slashes
// regardless of platform. Write with overwrite=false must be idempotent: an
// existing object is left intact and the call succeeds without writing.
type ObjectStore interface {
	// Write stores data at path, creating any parent namespace.
	Write(ctx context.Context, path string, data []byte, overwrite bool) error

	// Read returns the object's bytes, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns the names of all objects under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, path string) error
}

// DownloadAll fetches every named object with a bounded number of concurrent
// reads, preserving input order in the result. The first failed read cancels
// the remainder.
func DownloadAll(ctx context.Context, store ObjectStore, paths []string, workers int) ([][]byte, error) {
	if workers <= 0 {
		workers = 20
	}
	out := make([][]byte, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			data, err := store.Read(ctx, path)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
