package delta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/blobstore"
	"github.com/tabulardb/rowset/internal/fs"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/rowchange"
	"github.com/tabulardb/rowset/testutil"
)

func newTestTracker(t *testing.T, dir string, numRows model.RowID, opts ...Option) *Tracker {
	t.Helper()
	tr, err := NewTracker(testSchema(), dir, numRows, opts...)
	require.NoError(t, err)
	require.NoError(t, tr.Open(context.Background()))
	t.Cleanup(func() { tr.Close() })
	return tr
}

// scanCells materializes the tracked changes over an empty base.
func scanCells(t *testing.T, tr *Tracker, numRows int, snap *mvcc.Snapshot) ([]*model.ColumnBlock, *model.SelectionVector) {
	t.Helper()
	proj := fullProj(t)
	it, err := tr.NewIterator(proj, snap)
	require.NoError(t, err)
	defer it.Close()

	prepareAll(t, it, numRows)
	return applyToBlocks(t, it, proj, numRows)
}

func TestTrackerReadAfterWrite(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 8)

	require.NoError(t, tr.Update(3, 1, rowchange.UpdateChange(1, []byte("hello"))))
	require.NoError(t, tr.Update(4, 2, rowchange.DeleteChange()))

	blocks, sel := scanCells(t, tr, 8, mvcc.AllCommitted())
	assert.Equal(t, []byte("hello"), blocks[1].Cell(1))
	assert.False(t, sel.IsRowSelected(2))

	// A snapshot below the txids sees neither change.
	blocks, sel = scanCells(t, tr, 8, mvcc.NewSnapshot(3))
	assert.Nil(t, blocks[1].Cell(1))
	assert.True(t, sel.IsRowSelected(2))
}

func TestTrackerDeleteAndLaterUpdateAcrossFlush(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 3)

	require.NoError(t, tr.Update(1, 0, rowchange.UpdateChange(1, []byte("5"))))
	require.NoError(t, tr.Update(2, 0, rowchange.DeleteChange()))
	require.NoError(t, tr.Update(3, 1, rowchange.UpdateChange(1, []byte("9"))))
	require.NoError(t, tr.Flush(context.Background()))
	require.NoError(t, tr.Update(4, 0, rowchange.UpdateChange(1, []byte("7"))))

	// Seeing all four txids: the post-flush update of row 0 does not
	// resurrect it, deletes win for liveness.
	blocks, sel := scanCells(t, tr, 3, mvcc.NewSnapshot(5))
	assert.False(t, sel.IsRowSelected(0))
	assert.Equal(t, []byte("9"), blocks[1].Cell(1))
	assert.True(t, sel.IsRowSelected(1))
	assert.Nil(t, blocks[1].Cell(2))
	assert.True(t, sel.IsRowSelected(2))

	// With txid 2 in flight and txid 4 beyond the bound, row 0 is not yet
	// deleted and still carries its first value.
	blocks, sel = scanCells(t, tr, 3, mvcc.NewSnapshot(4, 2))
	assert.True(t, sel.IsRowSelected(0))
	assert.Equal(t, []byte("5"), blocks[1].Cell(0))
	assert.Equal(t, []byte("9"), blocks[1].Cell(1))
}

func TestTrackerRowBounds(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 4)

	err := tr.Update(1, 4, rowchange.DeleteChange())
	assert.ErrorIs(t, err, rowset.ErrInvalidArgument)

	_, err = tr.CheckRowDeleted(4)
	assert.ErrorIs(t, err, rowset.ErrInvalidArgument)

	require.NoError(t, tr.Update(1, 3, rowchange.DeleteChange()))
}

func TestTrackerFlushReadThrough(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t, dir, 16)
	ctx := context.Background()

	require.NoError(t, tr.Update(1, 0, rowchange.UpdateChange(1, []byte("before-flush"))))
	require.NoError(t, tr.Update(2, 5, rowchange.DeleteChange()))
	assert.Equal(t, 1, tr.CountStores())

	require.NoError(t, tr.Flush(ctx))
	assert.Equal(t, 2, tr.CountStores())

	// The durable file carries the flushed generation name.
	_, err := os.Stat(filepath.Join(dir, "delta_0000000000"))
	require.NoError(t, err)

	// Same data visible through the file store.
	blocks, sel := scanCells(t, tr, 16, mvcc.AllCommitted())
	assert.Equal(t, []byte("before-flush"), blocks[1].Cell(0))
	assert.False(t, sel.IsRowSelected(5))

	// New writes land in the fresh memstore and merge over the file.
	require.NoError(t, tr.Update(7, 0, rowchange.UpdateChange(1, []byte("after-flush"))))
	blocks, _ = scanCells(t, tr, 16, mvcc.AllCommitted())
	assert.Equal(t, []byte("after-flush"), blocks[1].Cell(0))

	require.NoError(t, tr.Flush(ctx))
	_, err = os.Stat(filepath.Join(dir, "delta_0000000001"))
	require.NoError(t, err)
	assert.Equal(t, 3, tr.CountStores())
}

func TestTrackerEmptyFlushNoop(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTracker(t, dir, 8)

	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 1, tr.CountStores())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "empty flush must not write a file")
}

func TestTrackerReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tr, err := NewTracker(testSchema(), dir, 8)
	require.NoError(t, err)
	require.NoError(t, tr.Open(ctx))
	require.NoError(t, tr.Update(1, 2, rowchange.UpdateChange(1, []byte("gen0"))))
	require.NoError(t, tr.Flush(ctx))
	require.NoError(t, tr.Update(2, 3, rowchange.UpdateChange(1, []byte("gen1"))))
	require.NoError(t, tr.Flush(ctx))
	require.NoError(t, tr.Close())

	tr2 := newTestTracker(t, dir, 8)
	assert.Equal(t, 3, tr2.CountStores())

	blocks, _ := scanCells(t, tr2, 8, mvcc.AllCommitted())
	assert.Equal(t, []byte("gen0"), blocks[1].Cell(2))
	assert.Equal(t, []byte("gen1"), blocks[1].Cell(3))

	// The next flush continues the generation sequence.
	require.NoError(t, tr2.Update(3, 4, rowchange.UpdateChange(1, []byte("gen2"))))
	require.NoError(t, tr2.Flush(context.Background()))
	_, err = os.Stat(filepath.Join(dir, "delta_0000000002"))
	require.NoError(t, err)
}

func TestTrackerOpenDirectoryContents(t *testing.T) {
	t.Run("MalformedDeltaName", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "delta_zzz"), []byte("junk"), 0o644))

		tr, err := NewTracker(testSchema(), dir, 8)
		require.NoError(t, err)
		err = tr.Open(context.Background())
		assert.ErrorIs(t, err, rowset.ErrCorruption)
	})

	t.Run("ForeignFilesIgnored", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "col_key_000001"), []byte("base"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

		tr := newTestTracker(t, dir, 8)
		assert.Equal(t, 1, tr.CountStores())
	})

	t.Run("CorruptDeltaFile", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DeltaFileName(0)), []byte("short"), 0o644))

		tr, err := NewTracker(testSchema(), dir, 8)
		require.NoError(t, err)
		err = tr.Open(context.Background())
		assert.ErrorIs(t, err, rowset.ErrCorruption)
	})
}

func TestTrackerCheckRowDeletedAcrossStores(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 8)
	ctx := context.Background()

	require.NoError(t, tr.Update(1, 3, rowchange.DeleteChange()))
	require.NoError(t, tr.Flush(ctx))

	deleted, err := tr.CheckRowDeleted(3)
	require.NoError(t, err)
	assert.True(t, deleted, "delete must be found in the flushed store")

	deleted, err = tr.CheckRowDeleted(2)
	require.NoError(t, err)
	assert.False(t, deleted)

	// A later update in the memstore does not resurrect the row: the walk
	// skips the update-only memstore answer and finds the flushed delete.
	require.NoError(t, tr.Update(5, 3, rowchange.UpdateChange(1, []byte("back"))))
	deleted, err = tr.CheckRowDeleted(3)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestTrackerIteratorSurvivesFlush(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 8)

	require.NoError(t, tr.Update(1, 0, rowchange.UpdateChange(1, []byte("pinned"))))

	proj := fullProj(t)
	it, err := tr.NewIterator(proj, mvcc.AllCommitted())
	require.NoError(t, err)
	require.NoError(t, it.Init())
	require.NoError(t, it.SeekToOrdinal(0))

	// Flush swaps the memstore out from under the open iterator.
	require.NoError(t, tr.Flush(context.Background()))
	require.NoError(t, tr.Update(2, 1, rowchange.UpdateChange(1, []byte("unseen"))))

	require.NoError(t, it.PrepareBatch(8))
	blocks, _ := applyToBlocks(t, it, proj, 8)
	assert.Equal(t, []byte("pinned"), blocks[1].Cell(0))
	assert.Nil(t, blocks[1].Cell(1), "post-snapshot write must stay invisible")
	require.NoError(t, it.Close())
}

func TestTrackerFlushFailurePoisons(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(tmpSuffix, fs.Fault{FailAfterBytes: 32})

	tr := newTestTracker(t, t.TempDir(), 8, WithFileSystem(faulty))
	require.NoError(t, tr.Update(1, 0, rowchange.UpdateChange(1, []byte("doomed"))))

	err := tr.Flush(context.Background())
	require.Error(t, err)

	// Post-swap failure leaves the tracker unusable.
	err = tr.Update(2, 1, rowchange.UpdateChange(1, []byte("x")))
	assert.ErrorIs(t, err, rowset.ErrInternal)
	_, err = tr.NewIterator(fullProj(t), mvcc.AllCommitted())
	assert.ErrorIs(t, err, rowset.ErrInternal)
	err = tr.Flush(context.Background())
	assert.ErrorIs(t, err, rowset.ErrInternal)
}

func TestTrackerArchiveStore(t *testing.T) {
	dir := t.TempDir()
	archive := blobstore.NewMemoryStore()
	tr := newTestTracker(t, dir, 8, WithArchiveStore(archive))

	require.NoError(t, tr.Update(1, 0, rowchange.UpdateChange(1, []byte("archived"))))
	require.NoError(t, tr.Flush(context.Background()))

	blob, err := archive.Open(DeltaFileName(0))
	require.NoError(t, err)
	defer blob.Close()

	local, err := os.Stat(filepath.Join(dir, DeltaFileName(0)))
	require.NoError(t, err)
	assert.Equal(t, local.Size(), blob.Size())
}

func TestTrackerScanMatchesSequentialReplay(t *testing.T) {
	const numRows = 64
	const numOps = 400
	const upperBound = model.TxID(300)

	rng := testutil.NewRNG(1337)
	w := rng.GenerateWorkload(testSchema(), numRows, numOps, 1, 0.15)

	tr := newTestTracker(t, t.TempDir(), numRows)
	ctx := context.Background()
	for i, op := range w.Ops {
		require.NoError(t, tr.Update(op.Tx, op.Row, op.Change))
		// Interleave flushes so the scan merges files and the memstore.
		if i == numOps/3 || i == 2*numOps/3 {
			require.NoError(t, tr.Flush(ctx))
		}
	}
	assert.Equal(t, 3, tr.CountStores())

	oracle := testutil.NewOracle(testSchema(), numRows)
	require.NoError(t, oracle.ApplyAll(w.Ops, upperBound))

	blocks, sel := scanCells(t, tr, numRows, mvcc.NewSnapshot(upperBound))
	for row := model.RowID(0); row < numRows; row++ {
		assert.Equal(t, !oracle.Deleted(row), sel.IsRowSelected(int(row)), "row %d selection", row)
		for col := 0; col < testSchema().NumColumns(); col++ {
			assert.Equal(t, oracle.Cell(row, col), blocks[col].Cell(int(row)), "row %d col %d", row, col)
		}
	}
}

func TestTrackerClosedOps(t *testing.T) {
	tr, err := NewTracker(testSchema(), t.TempDir(), 8)
	require.NoError(t, err)

	// Before Open every operation fails.
	assert.ErrorIs(t, tr.Update(1, 0, rowchange.DeleteChange()), rowset.ErrInvalidArgument)

	require.NoError(t, tr.Open(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "double close is a no-op")

	assert.ErrorIs(t, tr.Update(1, 0, rowchange.DeleteChange()), rowset.ErrInvalidArgument)
	assert.Equal(t, "DeltaTracker(closed)", tr.String())
}
