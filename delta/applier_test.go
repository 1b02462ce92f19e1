package delta

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/rowchange"
)

// sliceSource serves base data from in-memory cells, one slice per base
// column.
type sliceSource struct {
	proj  *model.Projection
	cells [][][]byte // [projCol][row]
}

func newSliceSource(proj *model.Projection, numRows int) *sliceSource {
	cells := make([][][]byte, proj.NumColumns())
	for c := range cells {
		cells[c] = make([][]byte, numRows)
	}
	return &sliceSource{proj: proj, cells: cells}
}

func (s *sliceSource) set(row model.RowID, projCol int, v []byte) {
	s.cells[projCol][row] = v
}

func (s *sliceSource) NumRows() model.RowID {
	return model.RowID(len(s.cells[0]))
}

func (s *sliceSource) ReadColumn(start model.RowID, projCol int, dst *model.ColumnBlock) error {
	if int(start)+dst.NumRows() > len(s.cells[projCol]) {
		return fmt.Errorf("%w: block past end of source", rowset.ErrInvalidArgument)
	}
	for i := 0; i < dst.NumRows(); i++ {
		dst.SetCell(i, s.cells[projCol][start+model.RowID(i)])
	}
	return nil
}

func TestApplierThreeRowScan(t *testing.T) {
	tr := newTestTracker(t, t.TempDir(), 3)
	proj := fullProj(t)

	base := newSliceSource(proj, 3)
	for row := 0; row < 3; row++ {
		base.set(model.RowID(row), 0, []byte(fmt.Sprintf("key%d", row)))
		base.set(model.RowID(row), 1, []byte(fmt.Sprintf("base%d", row)))
	}

	// Row 0 untouched, row 1 updated, row 2 deleted.
	require.NoError(t, tr.Update(1, 1, rowchange.UpdateChange(1, []byte("updated"))))
	require.NoError(t, tr.Update(2, 2, rowchange.DeleteChange()))

	it, err := tr.NewIterator(proj, mvcc.AllCommitted())
	require.NoError(t, err)
	ap, err := NewApplier(base, it, proj)
	require.NoError(t, err)
	defer ap.Close()

	require.True(t, ap.HasNext())
	blk, err := ap.NextBlock(16)
	require.NoError(t, err)
	assert.False(t, ap.HasNext())

	assert.Equal(t, model.RowID(0), blk.StartRow)
	assert.Equal(t, 3, blk.NumRows())

	assert.Equal(t, []byte("base0"), blk.Columns[1].Cell(0))
	assert.Equal(t, []byte("updated"), blk.Columns[1].Cell(1))
	assert.Equal(t, []byte("key2"), blk.Columns[0].Cell(2))

	assert.True(t, blk.Selection.IsRowSelected(0))
	assert.True(t, blk.Selection.IsRowSelected(1))
	assert.False(t, blk.Selection.IsRowSelected(2))
}

func TestApplierBatchedScanWithFlush(t *testing.T) {
	const numRows = 50
	tr := newTestTracker(t, t.TempDir(), numRows)
	proj := fullProj(t)

	base := newSliceSource(proj, numRows)
	for row := 0; row < numRows; row++ {
		base.set(model.RowID(row), 1, []byte(fmt.Sprintf("base%d", row)))
	}

	for row := 0; row < numRows; row += 5 {
		require.NoError(t, tr.Update(model.TxID(row+1), model.RowID(row),
			rowchange.UpdateChange(1, []byte(fmt.Sprintf("upd%d", row)))))
	}
	require.NoError(t, tr.Flush(context.Background()))
	require.NoError(t, tr.Update(100, 7, rowchange.DeleteChange()))

	it, err := tr.NewIterator(proj, mvcc.AllCommitted())
	require.NoError(t, err)
	ap, err := NewApplier(base, it, proj)
	require.NoError(t, err)
	defer ap.Close()

	row := 0
	for ap.HasNext() {
		blk, err := ap.NextBlock(7) // uneven batch size on purpose
		require.NoError(t, err)
		for i := 0; i < blk.NumRows(); i++ {
			want := []byte(fmt.Sprintf("base%d", row))
			if row%5 == 0 {
				want = []byte(fmt.Sprintf("upd%d", row))
			}
			assert.Equal(t, want, blk.Columns[1].Cell(i), "row %d", row)
			assert.Equal(t, row != 7, blk.Selection.IsRowSelected(i), "row %d", row)
			row++
		}
	}
	assert.Equal(t, numRows, row)

	_, err = ap.NextBlock(1)
	assert.ErrorIs(t, err, rowset.ErrNotFound)
}

func TestApplierSeek(t *testing.T) {
	const numRows = 20
	tr := newTestTracker(t, t.TempDir(), numRows)
	proj := fullProj(t)

	base := newSliceSource(proj, numRows)
	require.NoError(t, tr.Update(1, 15, rowchange.UpdateChange(1, []byte("mid"))))

	it, err := tr.NewIterator(proj, mvcc.AllCommitted())
	require.NoError(t, err)
	ap, err := NewApplier(base, it, proj)
	require.NoError(t, err)
	defer ap.Close()

	require.NoError(t, ap.SeekToOrdinal(12))
	blk, err := ap.NextBlock(8)
	require.NoError(t, err)
	assert.Equal(t, model.RowID(12), blk.StartRow)
	assert.Equal(t, 8, blk.NumRows())
	assert.Equal(t, []byte("mid"), blk.Columns[1].Cell(3))

	err = ap.SeekToOrdinal(numRows + 1)
	assert.ErrorIs(t, err, rowset.ErrInvalidArgument)
}
