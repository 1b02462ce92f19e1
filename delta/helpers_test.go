package delta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/rowchange"
)

func testSchema() *model.Schema {
	return model.MustSchema(
		model.Column{Name: "key", Type: model.TypeString},
		model.Column{Name: "val", Type: model.TypeBytes},
	)
}

func fullProj(t *testing.T) *model.Projection {
	t.Helper()
	return model.FullProjection(testSchema())
}

// prepareAll runs the Init/Seek/Prepare sequence over [0, nrows).
func prepareAll(t *testing.T, it Iterator, nrows int) {
	t.Helper()
	require.NoError(t, it.Init())
	require.NoError(t, it.SeekToOrdinal(0))
	require.NoError(t, it.PrepareBatch(nrows))
}

// applyToBlocks materializes every projected column plus the selection
// vector for the current prepared batch.
func applyToBlocks(t *testing.T, it Iterator, proj *model.Projection, nrows int) ([]*model.ColumnBlock, *model.SelectionVector) {
	t.Helper()
	blocks := make([]*model.ColumnBlock, proj.NumColumns())
	for col := range blocks {
		blocks[col] = model.NewColumnBlock(proj.Schema().Column(col), nrows)
		require.NoError(t, it.ApplyUpdates(col, blocks[col]))
	}
	sel := model.NewSelectionVector(nrows)
	require.NoError(t, it.ApplyDeletes(sel))
	return blocks, sel
}

func mustUpdate(t *testing.T, s *MemStore, tx model.TxID, row model.RowID, col int, val []byte) {
	t.Helper()
	require.NoError(t, s.Update(tx, row, rowchange.UpdateChange(col, val)))
}

func mustDelete(t *testing.T, s *MemStore, tx model.TxID, row model.RowID) {
	t.Helper()
	require.NoError(t, s.Update(tx, row, rowchange.DeleteChange()))
}

func allCommitted() *mvcc.Snapshot { return mvcc.AllCommitted() }
