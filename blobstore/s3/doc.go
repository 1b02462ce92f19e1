// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface, plus a Putter for archiving flushed delta files.
//
// # Usage
//
//	store, err := s3.NewStoreFromConfig(ctx, "my-bucket", "tablets/42/")
//
//	tracker, err := delta.NewTracker(schema, dir, numRows,
//	    delta.WithArchiveStore(store),
//	)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads for large files
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
