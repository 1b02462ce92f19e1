package delta

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/blobstore"
	"github.com/tabulardb/rowset/internal/fs"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/resource"
	"github.com/tabulardb/rowset/rowchange"
)

// Tracker owns all change stores for one rowset: a live in-memory store
// absorbing writes plus zero or more durable files from earlier flushes,
// ordered oldest to newest.
//
// A single RW lock guards the component list. Readers and writers take it
// shared; only the two swap steps of Flush and Close take it exclusive.
// Flush never holds the lock across disk IO: the memory store is swapped
// into the durable list first, written without the lock, then swapped for
// its file reader under the lock again. Iterators hold references on the
// durable stores they read, so a concurrent flush never invalidates them.
type Tracker struct {
	schema  *model.Schema
	dir     string
	numRows model.RowID
	opts    trackerOptions

	mu      sync.RWMutex
	dms     *MemStore
	stores  []*RefCountedStore // oldest first
	nextGen model.Generation
	open    bool
	closed  bool
	fatal   error

	// Serializes flushes; never held together with mu across IO.
	flushMu sync.Mutex
}

// NewTracker creates a tracker for a rowset of numRows rows whose durable
// files live under dir. Call Open before any other method.
func NewTracker(schema *model.Schema, dir string, numRows model.RowID, opts ...Option) (*Tracker, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: schema is required", rowset.ErrInvalidArgument)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: directory is required", rowset.ErrInvalidArgument)
	}
	o := trackerOptions{
		logger:      rowset.NoopLogger(),
		fs:          fs.Default,
		compression: CompressionZstd,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.blobs == nil {
		o.blobs = blobstore.NewLocalStore(dir)
	}
	return &Tracker{
		schema:  schema,
		dir:     dir,
		numRows: numRows,
		opts:    o,
	}, nil
}

// Open scans the tracker directory, reopens every durable delta file in
// generation order, and restores the next flush generation. Files are
// opened in parallel; the first failure aborts the whole open.
func (t *Tracker) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return fmt.Errorf("%w: tracker already open", rowset.ErrInvalidArgument)
	}
	if t.closed {
		return fmt.Errorf("%w: tracker closed", rowset.ErrInvalidArgument)
	}

	if err := t.opts.fs.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", rowset.ErrIO, t.dir, err)
	}
	entries, err := t.opts.fs.ReadDir(t.dir)
	if err != nil {
		return fmt.Errorf("%w: list %s: %v", rowset.ErrIO, t.dir, err)
	}

	var gens []model.Generation
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		gen, ok, err := ParseDeltaFileName(name)
		if err != nil {
			return err
		}
		if !ok {
			if !strings.HasPrefix(name, ColumnFilePrefix) && !strings.HasSuffix(name, tmpSuffix) {
				t.opts.logger.Warn("skipping unrecognized file", "dir", t.dir, "file", name)
			}
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	readers := make([]*FileReader, len(gens))
	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range gens {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name := DeltaFileName(gen)
			blob, err := t.opts.blobs.Open(name)
			if err != nil {
				t.opts.logger.LogOpen(filepath.Join(t.dir, name), uint32(gen), err)
				return fmt.Errorf("%w: open %s: %v", rowset.ErrIO, name, err)
			}
			r, err := OpenFileReader(name, blob, gen)
			if err != nil {
				blob.Close()
				t.opts.logger.LogOpen(filepath.Join(t.dir, name), uint32(gen), err)
				return err
			}
			t.opts.logger.LogOpen(filepath.Join(t.dir, name), uint32(gen), nil)
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
		return err
	}

	t.stores = make([]*RefCountedStore, len(readers))
	for i, r := range readers {
		t.stores[i] = NewRefCountedStore(r)
	}
	if n := len(gens); n > 0 {
		t.nextGen = gens[n-1] + 1
	}
	t.dms = NewMemStore(t.opts.rc)
	t.open = true
	return nil
}

const tmpSuffix = ".tmp"

func (t *Tracker) usable() error {
	if !t.open {
		return fmt.Errorf("%w: tracker not open", rowset.ErrInvalidArgument)
	}
	if t.closed {
		return fmt.Errorf("%w: tracker closed", rowset.ErrInvalidArgument)
	}
	if t.fatal != nil {
		return t.fatal
	}
	return nil
}

// Update records one change against a row under the given transaction.
func (t *Tracker) Update(tx model.TxID, row model.RowID, change rowchange.ChangeList) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return err
	}
	if row >= t.numRows {
		return fmt.Errorf("%w: row %d outside rowset of %d rows", rowset.ErrInvalidArgument, row, t.numRows)
	}
	return t.dms.Update(tx, row, change)
}

// CheckRowDeleted reports whether any store holds a delete for row,
// regardless of transaction visibility. Stores are consulted newest first
// so a recently deleted row answers without touching old files.
func (t *Tracker) CheckRowDeleted(row model.RowID) (bool, error) {
	t.mu.RLock()
	if err := t.usable(); err != nil {
		t.mu.RUnlock()
		return false, err
	}
	if row >= t.numRows {
		t.mu.RUnlock()
		return false, fmt.Errorf("%w: row %d outside rowset of %d rows", rowset.ErrInvalidArgument, row, t.numRows)
	}
	dms := t.dms
	stores := make([]*RefCountedStore, len(t.stores))
	copy(stores, t.stores)
	for _, s := range stores {
		s.IncRef()
	}
	t.mu.RUnlock()
	defer func() {
		for _, s := range stores {
			s.DecRef()
		}
	}()

	deleted, err := dms.CheckRowDeleted(row)
	if err != nil || deleted {
		return deleted, err
	}
	for i := len(stores) - 1; i >= 0; i-- {
		deleted, err = stores[i].CheckRowDeleted(row)
		if err != nil || deleted {
			return deleted, err
		}
	}
	return false, nil
}

// NewIterator creates a merged cursor over every store, scoped to the
// projection and snapshot. The iterator pins the durable stores it reads;
// closing it releases them.
func (t *Tracker) NewIterator(projection *model.Projection, snap *mvcc.Snapshot) (Iterator, error) {
	t.mu.RLock()
	if err := t.usable(); err != nil {
		t.mu.RUnlock()
		return nil, err
	}
	dms := t.dms
	pinned := make([]*RefCountedStore, len(t.stores))
	copy(pinned, t.stores)
	for _, s := range pinned {
		s.IncRef()
	}
	t.mu.RUnlock()

	release := func() {
		for _, s := range pinned {
			s.DecRef()
		}
	}

	children := make([]Iterator, 0, len(pinned)+1)
	for _, s := range pinned {
		it, err := s.NewIterator(projection, snap)
		if err != nil {
			closeAll(children)
			release()
			return nil, err
		}
		children = append(children, it)
	}
	it, err := dms.NewIterator(projection, snap)
	if err != nil {
		closeAll(children)
		release()
		return nil, err
	}
	children = append(children, it)

	merged, err := NewMergeIterator(children)
	if err != nil {
		closeAll(children)
		release()
		return nil, err
	}
	return &pinnedIterator{Iterator: merged, release: release}, nil
}

func closeAll(its []Iterator) {
	for _, it := range its {
		it.Close()
	}
}

// pinnedIterator releases the tracker's store references when closed.
type pinnedIterator struct {
	Iterator
	release func()
	once    sync.Once
}

func (p *pinnedIterator) Close() error {
	err := p.Iterator.Close()
	p.once.Do(p.release)
	return err
}

// Flush makes the live memory store durable. The store is first swapped
// into the durable list so writes keep flowing to a fresh store, then
// written to disk with no lock held, then replaced in its slot by the file
// reader. An empty store is a no-op. A failure after the swap leaves the
// tracker unusable: the swapped store is already part of the read path and
// cannot be silently dropped.
func (t *Tracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	// Phase one: swap in a fresh memory store.
	t.mu.Lock()
	if err := t.usable(); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.dms.Count() == 0 {
		t.mu.Unlock()
		return nil
	}
	old := t.dms
	oldRef := NewRefCountedStore(old)
	gen := t.nextGen
	t.nextGen++
	log := t.opts.logger.WithGeneration(uint32(gen))
	oldRef.SetOnClose(func() {
		log.Debug("flushed memory store released by last reader")
	})
	t.stores = append(t.stores, oldRef)
	t.dms = NewMemStore(t.opts.rc)
	t.mu.Unlock()

	start := time.Now()
	name := DeltaFileName(gen)
	reader, err := t.writeAndReopen(ctx, name, gen, old)
	t.opts.logger.LogFlush(uint32(gen), old.Count(), time.Since(start), err)
	if err != nil {
		t.poison(fmt.Errorf("%w: flush of generation %d failed: %v", rowset.ErrInternal, gen, err))
		return err
	}

	// Phase two: swap the file reader into the memory store's slot.
	readerRef := NewRefCountedStore(reader)
	t.mu.Lock()
	slot := -1
	for i, s := range t.stores {
		if s == oldRef {
			slot = i
			break
		}
	}
	if slot < 0 {
		t.mu.Unlock()
		readerRef.DecRef()
		err := fmt.Errorf("%w: flushed store missing from component list", rowset.ErrInternal)
		t.poison(err)
		return err
	}
	t.stores[slot] = readerRef
	t.mu.Unlock()
	oldRef.DecRef()

	if t.opts.archive != nil {
		t.archive(gen, name)
	}
	return nil
}

// writeAndReopen writes the memory store to a temporary file, renames it
// into place, and reopens it through the blob store.
func (t *Tracker) writeAndReopen(ctx context.Context, name string, gen model.Generation, ms *MemStore) (*FileReader, error) {
	path := filepath.Join(t.dir, name)
	tmp := path + tmpSuffix

	f, err := t.opts.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", rowset.ErrIO, tmp, err)
	}
	fw := NewFileWriter(&throttledWriter{ctx: ctx, rc: t.opts.rc, w: f}, FileWriterOptions{
		Compression: t.opts.compression,
		BlockBytes:  t.opts.blockBytes,
	})
	err = fw.Start()
	if err == nil {
		err = ms.FlushToFile(fw)
	}
	if err == nil {
		err = fw.Finish()
	}
	if err == nil {
		err = f.Sync()
		if err != nil {
			err = fmt.Errorf("%w: sync %s: %v", rowset.ErrIO, tmp, err)
		}
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: close %s: %v", rowset.ErrIO, tmp, cerr)
	}
	if err != nil {
		t.opts.fs.Remove(tmp)
		return nil, err
	}
	if err := t.opts.fs.Rename(tmp, path); err != nil {
		t.opts.fs.Remove(tmp)
		return nil, fmt.Errorf("%w: rename %s: %v", rowset.ErrIO, tmp, err)
	}

	blob, err := t.opts.blobs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen %s: %v", rowset.ErrIO, name, err)
	}
	reader, err := OpenFileReader(name, blob, gen)
	if err != nil {
		blob.Close()
		return nil, err
	}
	return reader, nil
}

// archive uploads a flushed file to the configured object store. Failures
// are logged; the local file is the source of truth.
func (t *Tracker) archive(gen model.Generation, name string) {
	log := t.opts.logger.WithGeneration(uint32(gen)).WithPath(name)
	blob, err := t.opts.blobs.Open(name)
	if err != nil {
		log.Warn("archive open failed", "error", err)
		return
	}
	defer blob.Close()
	size := blob.Size()
	if err := t.opts.archive.Put(name, io.NewSectionReader(blob, 0, size), size); err != nil {
		log.Warn("archive upload failed", "error", err)
		return
	}
	log.Info("archived delta file", "bytes", size)
}

func (t *Tracker) poison(err error) {
	t.mu.Lock()
	if t.fatal == nil {
		t.fatal = err
	}
	t.mu.Unlock()
	t.opts.logger.Error("tracker unusable", "error", err)
}

// CountStores returns the number of durable stores plus one for the live
// memory store.
func (t *Tracker) CountStores() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open || t.closed {
		return 0
	}
	return len(t.stores) + 1
}

// EstimateSize returns the summed size estimate of every store.
func (t *Tracker) EstimateSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open || t.closed {
		return 0
	}
	total := t.dms.EstimateSize()
	for _, s := range t.stores {
		total += s.EstimateSize()
	}
	return total
}

// Close releases every store. In-flight iterators keep their pinned
// durable stores alive until they close.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var first error
	if t.dms != nil {
		if err := t.dms.Close(); err != nil {
			first = err
		}
		t.dms = nil
	}
	for _, s := range t.stores {
		s.DecRef()
	}
	t.stores = nil
	return first
}

func (t *Tracker) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open || t.closed {
		return "DeltaTracker(closed)"
	}
	parts := make([]string, 0, len(t.stores)+1)
	for _, s := range t.stores {
		parts = append(parts, s.String())
	}
	parts = append(parts, t.dms.String())
	return fmt.Sprintf("DeltaTracker(%s)", strings.Join(parts, ", "))
}

// throttledWriter paces flush writes through the resource controller's
// IO limiter. With a nil controller it degrades to a plain writer.
type throttledWriter struct {
	ctx context.Context
	rc  *resource.Controller
	w   io.Writer
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	if err := tw.rc.AcquireIO(tw.ctx, len(p)); err != nil {
		return 0, err
	}
	return tw.w.Write(p)
}
