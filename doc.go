// Package rowset provides the delta overlay engine for a columnar rowset:
// an immutable base column store plus a mutable layer of row updates and
// deletes that is periodically flushed to durable delta files.
//
// The core lives in the delta subpackage. A delta.Tracker owns one mutable
// in-memory change buffer (delta.MemStore) and an ordered list of durable
// delta files (delta.FileReader), and exposes a merged, snapshot-filtered
// iterator over all of them. See the delta package documentation for the
// concurrency protocol.
//
// This package holds the shared error taxonomy and the logging facade used
// by the subpackages.
package rowset
