package delta

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/internal/arena"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/resource"
	"github.com/tabulardb/rowset/rowchange"
)

const (
	memShardBits  = 4
	memShardCount = 1 << memShardBits // 16
	memShardMask  = memShardCount - 1

	// Accounting overhead per buffered entry beyond the change bytes.
	memEntryOverhead = 24
)

// memEntry is one buffered (txid, change) pair for a row.
type memEntry struct {
	tx     model.TxID
	change rowchange.ChangeList
}

type memShard struct {
	mu   sync.RWMutex
	rows map[model.RowID][]memEntry
}

// MemStore is the concurrent-write in-memory buffer of pending row changes.
// Appends from multiple writer goroutines are safe, as is concurrent
// iteration: an iterator snapshots the per-row entry slices, and entries
// already captured are never mutated by later appends.
type MemStore struct {
	shards [memShardCount]memShard

	count     atomic.Int64
	sizeBytes atomic.Int64

	rc     *resource.Controller
	closed atomic.Bool
}

// NewMemStore creates an empty MemStore. rc may be nil (no accounting).
func NewMemStore(rc *resource.Controller) *MemStore {
	m := &MemStore{rc: rc}
	for i := range m.shards {
		m.shards[i].rows = make(map[model.RowID][]memEntry)
	}
	return m
}

// Update appends a change for row. The store takes its own copy of the
// change bytes. Entries for one row are kept ordered by txid.
func (m *MemStore) Update(tx model.TxID, row model.RowID, change rowchange.ChangeList) error {
	if m.closed.Load() {
		return fmt.Errorf("%w: update on closed memstore", rowset.ErrInvalidArgument)
	}
	if _, err := change.Kind(); err != nil {
		return err
	}

	cost := int64(len(change)) + memEntryOverhead
	if err := m.rc.AcquireMemory(cost); err != nil {
		return err
	}

	owned := change.Clone()
	s := &m.shards[uint32(row)&memShardMask]

	s.mu.Lock()
	entries := s.rows[row]
	// Writers almost always arrive in txid order; insert from the back.
	pos := len(entries)
	for pos > 0 && entries[pos-1].tx > tx {
		pos--
	}
	if pos == len(entries) {
		entries = append(entries, memEntry{tx: tx, change: owned})
	} else {
		// Out-of-order txid: rebuild so concurrent iterator snapshots of
		// the old slice stay intact.
		rebuilt := make([]memEntry, 0, len(entries)+1)
		rebuilt = append(rebuilt, entries[:pos]...)
		rebuilt = append(rebuilt, memEntry{tx: tx, change: owned})
		rebuilt = append(rebuilt, entries[pos:]...)
		entries = rebuilt
	}
	s.rows[row] = entries
	s.mu.Unlock()

	m.count.Add(1)
	m.sizeBytes.Add(cost)
	return nil
}

// Count returns the number of buffered changes in O(1).
func (m *MemStore) Count() int {
	return int(m.count.Load())
}

// EstimateSize returns the approximate buffered bytes.
func (m *MemStore) EstimateSize() int64 {
	return m.sizeBytes.Load()
}

// CheckRowDeleted reports whether the latest buffered change for row is a
// delete.
func (m *MemStore) CheckRowDeleted(row model.RowID) (bool, error) {
	s := &m.shards[uint32(row)&memShardMask]
	s.mu.RLock()
	entries := s.rows[row]
	s.mu.RUnlock()

	if len(entries) == 0 {
		return false, nil
	}
	return entries[len(entries)-1].change.IsDelete()
}

// snapshotRows captures the current per-row entry slices, sorted by row.
// Captured slice headers stay valid: appends either extend past the
// captured length or replace the slice wholesale.
func (m *MemStore) snapshotRows() []memRow {
	var out []memRow
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for row, entries := range s.rows {
			out = append(out, memRow{row: row, entries: entries})
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].row < out[b].row })
	return out
}

// NewIterator creates a cursor over a snapshot of the buffered changes.
func (m *MemStore) NewIterator(projection *model.Projection, snap *mvcc.Snapshot) (Iterator, error) {
	if projection == nil || snap == nil {
		return nil, fmt.Errorf("%w: projection and snapshot are required", rowset.ErrInvalidArgument)
	}
	return &memIterator{
		rows:       m.snapshotRows(),
		projection: projection,
		snap:       snap,
	}, nil
}

// FlushToFile serializes every buffered change, ordered by (row, txid), to
// the writer. The caller is responsible for Finish and durability.
func (m *MemStore) FlushToFile(w *FileWriter) error {
	for _, r := range m.snapshotRows() {
		for _, e := range r.entries {
			if err := w.Append(r.row, e.tx, e.change); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the store's memory accounting. Iterator snapshots taken
// before Close remain readable.
func (m *MemStore) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.rc.ReleaseMemory(m.sizeBytes.Load())
	return nil
}

func (m *MemStore) String() string {
	return fmt.Sprintf("DeltaMemStore(%d deltas)", m.Count())
}

// memRow is one row's captured entries in an iterator snapshot.
type memRow struct {
	row     model.RowID
	entries []memEntry
}

// memIterator iterates a MemStore snapshot.
type memIterator struct {
	rows       []memRow
	projection *model.Projection
	snap       *mvcc.Snapshot

	state iterState
	pos   model.RowID // next unprepared row ordinal

	batchStart model.RowID
	batchRows  int
	staged     []preparedEntry
}

func (it *memIterator) Init() error {
	if it.state != stateUninitialized {
		return fmt.Errorf("%w: Init called twice", rowset.ErrInvalidArgument)
	}
	it.state = stateInitialized
	return nil
}

func (it *memIterator) SeekToOrdinal(idx model.RowID) error {
	if err := it.state.check(stateInitialized, "SeekToOrdinal"); err != nil {
		return err
	}
	it.pos = idx
	it.staged = nil
	it.batchRows = 0
	it.state = stateInitialized
	return nil
}

func (it *memIterator) PrepareBatch(nrows int) error {
	if err := it.state.check(stateInitialized, "PrepareBatch"); err != nil {
		return err
	}
	if nrows <= 0 {
		return fmt.Errorf("%w: PrepareBatch of %d rows", rowset.ErrInvalidArgument, nrows)
	}

	it.batchStart = it.pos
	it.batchRows = nrows
	it.staged = it.staged[:0]
	end := it.pos + model.RowID(nrows)

	// Rows are sorted; find the batch's span.
	lo := sort.Search(len(it.rows), func(i int) bool { return it.rows[i].row >= it.batchStart })
	for _, r := range it.rows[lo:] {
		if r.row >= end {
			break
		}
		for _, e := range r.entries {
			if !it.snap.IsCommitted(e.tx) {
				continue
			}
			it.staged = append(it.staged, preparedEntry{
				rowOffset: int(r.row - it.batchStart),
				tx:        e.tx,
				change:    e.change,
			})
		}
	}

	it.pos = end
	it.state = statePrepared
	return nil
}

func (it *memIterator) ApplyUpdates(projCol int, dst *model.ColumnBlock) error {
	if err := it.state.check(statePrepared, "ApplyUpdates"); err != nil {
		return err
	}
	if projCol < 0 || projCol >= it.projection.NumColumns() {
		return fmt.Errorf("%w: projection column %d out of range", rowset.ErrInvalidArgument, projCol)
	}
	return applyStagedUpdates(it.staged, it.projection.BaseIndex(projCol), dst)
}

func (it *memIterator) ApplyDeletes(sel *model.SelectionVector) error {
	if err := it.state.check(statePrepared, "ApplyDeletes"); err != nil {
		return err
	}
	return applyStagedDeletes(it.staged, sel)
}

func (it *memIterator) CollectMutations(dst *[]rowchange.Mutation, a *arena.Arena) error {
	if err := it.state.check(statePrepared, "CollectMutations"); err != nil {
		return err
	}
	collectStaged(it.staged, dst, a)
	return nil
}

func (it *memIterator) Close() error {
	it.state = stateClosed
	it.rows = nil
	it.staged = nil
	return nil
}

func (it *memIterator) String() string {
	return "DMSIterator"
}
