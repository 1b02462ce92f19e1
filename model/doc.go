// Package model defines core types shared across the rowset engine.
//
// # Identity Types
//
//   - RowID: dense zero-based row ordinal within a rowset, stable for the
//     rowset's lifetime
//   - TxID: monotonically assigned transaction id establishing the total
//     order of changes
//   - Generation: flush-generation index of a durable delta file
//
// # Scan Types
//
//   - Schema / Projection: column layout of the base store and the subset a
//     scan materializes
//   - ColumnBlock: one column's cells for a batch of rows
//   - SelectionVector: liveness bits for a batch of rows
package model
