package model

import "fmt"

// ColumnBlock holds one column's cells for a contiguous batch of rows.
// Cells are opaque encoded values; a nil cell means the base store supplied
// no value (or the row is outside the base data, as in tests that apply
// deltas to an empty block).
type ColumnBlock struct {
	col   Column
	cells [][]byte
}

// NewColumnBlock creates a block for col with nrows cells, all nil.
func NewColumnBlock(col Column, nrows int) *ColumnBlock {
	return &ColumnBlock{
		col:   col,
		cells: make([][]byte, nrows),
	}
}

// Column returns the column the block belongs to.
func (b *ColumnBlock) Column() Column { return b.col }

// NumRows returns the number of cells in the block.
func (b *ColumnBlock) NumRows() int { return len(b.cells) }

// Cell returns the cell at batch offset i. The returned slice must not be
// mutated.
func (b *ColumnBlock) Cell(i int) []byte { return b.cells[i] }

// SetCell overwrites the cell at batch offset i. The block takes its own
// copy of v.
func (b *ColumnBlock) SetCell(i int, v []byte) {
	if v == nil {
		b.cells[i] = nil
		return
	}
	c := make([]byte, len(v))
	copy(c, v)
	b.cells[i] = c
}

// Clone returns a deep copy of the block.
func (b *ColumnBlock) Clone() *ColumnBlock {
	out := NewColumnBlock(b.col, len(b.cells))
	for i, c := range b.cells {
		out.SetCell(i, c)
	}
	return out
}

func (b *ColumnBlock) String() string {
	return fmt.Sprintf("ColumnBlock(%s, %d rows)", b.col.Name, len(b.cells))
}
