package model

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// SelectionVector tracks which rows of a batch are still live. It starts
// with every row selected; applying deltas clears the bit for each row with
// a visible delete. Deletes are monotone: there is no way to re-select a
// cleared row.
type SelectionVector struct {
	nrows int
	rb    *roaring.Bitmap
}

// NewSelectionVector creates a selection vector of nrows rows, all selected.
func NewSelectionVector(nrows int) *SelectionVector {
	sv := &SelectionVector{
		nrows: nrows,
		rb:    roaring.New(),
	}
	sv.SetAllTrue()
	return sv
}

// NumRows returns the batch size the vector covers.
func (sv *SelectionVector) NumRows() int { return sv.nrows }

// SetAllTrue selects every row.
func (sv *SelectionVector) SetAllTrue() {
	sv.rb.Clear()
	if sv.nrows > 0 {
		sv.rb.AddRange(0, uint64(sv.nrows))
	}
}

// IsRowSelected reports whether batch offset i is still selected.
func (sv *SelectionVector) IsRowSelected(i int) bool {
	return sv.rb.Contains(uint32(i))
}

// Clear deselects batch offset i.
func (sv *SelectionVector) Clear(i int) {
	sv.rb.Remove(uint32(i))
}

// CountSelected returns the number of selected rows.
func (sv *SelectionVector) CountSelected() int {
	return int(sv.rb.GetCardinality())
}

// AnySelected reports whether at least one row is selected.
func (sv *SelectionVector) AnySelected() bool {
	return !sv.rb.IsEmpty()
}

// Clone returns a deep copy of the selection vector.
func (sv *SelectionVector) Clone() *SelectionVector {
	return &SelectionVector{
		nrows: sv.nrows,
		rb:    sv.rb.Clone(),
	}
}

func (sv *SelectionVector) String() string {
	return fmt.Sprintf("SelectionVector(%d/%d selected)", sv.CountSelected(), sv.nrows)
}
