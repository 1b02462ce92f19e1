package delta

import (
	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/blobstore"
	"github.com/tabulardb/rowset/internal/fs"
	"github.com/tabulardb/rowset/resource"
)

type trackerOptions struct {
	logger      *rowset.Logger
	fs          fs.FileSystem
	blobs       blobstore.BlobStore
	rc          *resource.Controller
	compression Compression
	blockBytes  int
	archive     blobstore.Putter
}

// Option configures a Tracker.
type Option func(*trackerOptions)

// WithLogger sets the tracker's logger. The default discards everything.
func WithLogger(l *rowset.Logger) Option {
	return func(o *trackerOptions) { o.logger = l }
}

// WithFileSystem replaces the file system used for flush writes and
// directory scans. Mainly for fault injection in tests.
func WithFileSystem(f fs.FileSystem) Option {
	return func(o *trackerOptions) { o.fs = f }
}

// WithBlobStore replaces the store used to reopen durable delta files.
// The default maps names to files under the tracker directory.
func WithBlobStore(b blobstore.BlobStore) Option {
	return func(o *trackerOptions) { o.blobs = b }
}

// WithResourceController attaches memory and flush-IO accounting.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *trackerOptions) { o.rc = rc }
}

// WithCompression sets the block codec for files written by Flush.
func WithCompression(c Compression) Option {
	return func(o *trackerOptions) { o.compression = c }
}

// WithBlockSize sets the uncompressed entry block size threshold for
// files written by Flush.
func WithBlockSize(bytes int) Option {
	return func(o *trackerOptions) { o.blockBytes = bytes }
}

// WithArchiveStore additionally uploads every flushed file to an object
// store. Upload failures are logged and do not fail the flush; the local
// file remains the source of truth.
func WithArchiveStore(p blobstore.Putter) Option {
	return func(o *trackerOptions) { o.archive = p }
}
