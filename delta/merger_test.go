package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/internal/arena"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/rowchange"
)

func TestMergeIteratorSingleChildElision(t *testing.T) {
	ms := NewMemStore(nil)
	defer ms.Close()
	mustUpdate(t, ms, 1, 0, 1, []byte("x"))

	child, err := ms.NewIterator(fullProj(t), allCommitted())
	require.NoError(t, err)

	merged, err := NewMergeIterator([]Iterator{child})
	require.NoError(t, err)
	assert.Same(t, child, merged, "single child must be returned unwrapped")
	require.NoError(t, merged.Close())
}

func TestMergeIteratorEmpty(t *testing.T) {
	_, err := NewMergeIterator(nil)
	assert.ErrorIs(t, err, rowset.ErrInvalidArgument)
}

func TestMergeIteratorNewerStoreWins(t *testing.T) {
	// Older store: flushed file with the initial update.
	data := writeTestFile(t, FileWriterOptions{}, []appendOp{
		{row: 0, tx: 1, change: rowchange.UpdateChange(1, []byte("from-file"))},
		{row: 1, tx: 2, change: rowchange.UpdateChange(1, []byte("only-file"))},
	})
	r, err := openTestFile(t, data, 0)
	require.NoError(t, err)
	defer r.Close()

	// Newer store: memstore overwriting row 0 and deleting row 2.
	ms := NewMemStore(nil)
	defer ms.Close()
	mustUpdate(t, ms, 5, 0, 1, []byte("from-mem"))
	mustDelete(t, ms, 6, 2)

	proj := fullProj(t)
	fileIt, err := r.NewIterator(proj, allCommitted())
	require.NoError(t, err)
	memIt, err := ms.NewIterator(proj, allCommitted())
	require.NoError(t, err)

	merged, err := NewMergeIterator([]Iterator{fileIt, memIt})
	require.NoError(t, err)
	defer merged.Close()

	prepareAll(t, merged, 3)
	blocks, sel := applyToBlocks(t, merged, proj, 3)

	assert.Equal(t, []byte("from-mem"), blocks[1].Cell(0))
	assert.Equal(t, []byte("only-file"), blocks[1].Cell(1))
	assert.False(t, sel.IsRowSelected(2))
}

func TestMergeIteratorCollectStoreOrder(t *testing.T) {
	data := writeTestFile(t, FileWriterOptions{}, []appendOp{
		{row: 0, tx: 10, change: rowchange.UpdateChange(1, []byte("old-store"))},
	})
	r, err := openTestFile(t, data, 0)
	require.NoError(t, err)
	defer r.Close()

	ms := NewMemStore(nil)
	defer ms.Close()
	// Lower txid in the newer store: collected order follows stores, not
	// global transaction order.
	mustUpdate(t, ms, 3, 0, 1, []byte("new-store"))

	proj := fullProj(t)
	fileIt, err := r.NewIterator(proj, allCommitted())
	require.NoError(t, err)
	memIt, err := ms.NewIterator(proj, allCommitted())
	require.NoError(t, err)

	merged, err := NewMergeIterator([]Iterator{fileIt, memIt})
	require.NoError(t, err)
	defer merged.Close()

	prepareAll(t, merged, 1)
	var muts []rowchange.Mutation
	require.NoError(t, merged.CollectMutations(&muts, arena.New(4096)))

	require.Len(t, muts, 2)
	assert.Equal(t, model.TxID(10), muts[0].TxID)
	assert.Equal(t, model.TxID(3), muts[1].TxID)
}

func TestMergeIteratorString(t *testing.T) {
	ms1 := NewMemStore(nil)
	defer ms1.Close()
	ms2 := NewMemStore(nil)
	defer ms2.Close()

	it1, err := ms1.NewIterator(fullProj(t), allCommitted())
	require.NoError(t, err)
	it2, err := ms2.NewIterator(fullProj(t), allCommitted())
	require.NoError(t, err)

	merged, err := NewMergeIterator([]Iterator{it1, it2})
	require.NoError(t, err)
	defer merged.Close()

	assert.Equal(t, "DeltaIteratorMerger(DMSIterator, DMSIterator)", merged.String())
}
