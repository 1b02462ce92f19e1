package model

import "fmt"

// RowID is a dense, zero-based row ordinal within a rowset.
// It is stable for the lifetime of the rowset.
type RowID uint32

// MaxRowID is the maximum possible value for a RowID.
const MaxRowID = ^RowID(0)

// TxID is a monotonically assigned transaction identifier. It establishes
// the total order of changes and is the unit of visibility filtering.
type TxID uint64

// Generation is the flush-generation index of a durable delta file.
// Store list order equals generation order, oldest first.
type Generation uint32

// String returns a string representation of the Generation.
func (g Generation) String() string {
	return fmt.Sprintf("gen(%d)", uint32(g))
}
