// Package blobstore abstracts read access to immutable data blobs — the
// durable delta files the tracker reopens after a flush. Implementations
// must support chunked reads by offset so readers can scan incrementally
// without loading a whole file (the same access path remote bootstrap uses
// to copy tablet data).
package blobstore

import (
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for accessing immutable data blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(name string) (Blob, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Putter is an optional write-side interface. Stores that implement it can
// receive archival copies of flushed delta files.
type Putter interface {
	// Put uploads the contents of r as the named blob.
	Put(name string, r io.Reader, size int64) error
}
