package delta

import (
	"fmt"
	"sync/atomic"

	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
)

// Store is one source of row changes: either the in-memory buffer or a
// durable flushed change set. The merging iterator composes any number of
// stores behind the same Iterator contract.
type Store interface {
	// NewIterator creates a cursor over the store's changes, filtered to
	// the projection and snapshot. The cursor must be Init'ed before use.
	NewIterator(projection *model.Projection, snap *mvcc.Snapshot) (Iterator, error)

	// CheckRowDeleted reports whether the most recent change this store
	// holds for row is a delete. It considers every change in the store,
	// regardless of snapshot.
	CheckRowDeleted(row model.RowID) (bool, error)

	// Count returns the number of buffered changes.
	Count() int

	// EstimateSize returns the approximate store size in bytes.
	EstimateSize() int64

	// Close releases the store's resources. The tracker calls it through
	// reference counting once no iterator references the store.
	Close() error

	fmt.Stringer
}

// RefCountedStore wraps a Store with a reference count. The tracker holds
// the canonical reference; every iterator snapshot holds its own, so a
// flush-driven list mutation cannot close a store out from under a scan.
type RefCountedStore struct {
	Store
	refs    int64
	onClose atomic.Value // stores func()
}

// NewRefCountedStore wraps store with an initial reference.
func NewRefCountedStore(store Store) *RefCountedStore {
	r := &RefCountedStore{
		Store: store,
		refs:  1,
	}
	var f func()
	r.onClose.Store(f)
	return r
}

// IncRef adds a reference.
func (r *RefCountedStore) IncRef() {
	atomic.AddInt64(&r.refs, 1)
}

// DecRef drops a reference, closing the underlying store when the count
// reaches zero.
func (r *RefCountedStore) DecRef() {
	if atomic.AddInt64(&r.refs, -1) == 0 {
		_ = r.Store.Close()
		f := r.onClose.Load().(func())
		if f != nil {
			f()
		}
	}
}

// SetOnClose sets a callback executed after the store is closed. Typically
// used to delete the underlying file once the last reader finishes.
func (r *RefCountedStore) SetOnClose(f func()) {
	r.onClose.Store(f)
}
