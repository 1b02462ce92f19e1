package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/rowchange"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Zipf returns a Zipfian-distributed value in [0, n).
// s=1.0 gives standard Zipf, s=1.5 gives heavy skew. Row update workloads
// follow power laws; use this to pick hot rows.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// ChangeOp is one generated change against a rowset.
type ChangeOp struct {
	Tx     model.TxID
	Row    model.RowID
	Change rowchange.ChangeList
}

// Workload is a reproducible stream of changes plus the schema they
// target.
type Workload struct {
	Schema  *model.Schema
	NumRows model.RowID
	Ops     []ChangeOp
}

// TwoColumnSchema returns the schema most tests use: a string key column
// and a bytes value column.
func TwoColumnSchema() *model.Schema {
	return model.MustSchema(
		model.Column{Name: "key", Type: model.TypeString},
		model.Column{Name: "val", Type: model.TypeBytes},
	)
}

// UpdateOp builds a single-column update change.
func UpdateOp(tx model.TxID, row model.RowID, colIdx int, value []byte) ChangeOp {
	return ChangeOp{Tx: tx, Row: row, Change: rowchange.UpdateChange(colIdx, value)}
}

// DeleteOp builds a delete change.
func DeleteOp(tx model.TxID, row model.RowID) ChangeOp {
	return ChangeOp{Tx: tx, Row: row, Change: rowchange.DeleteChange()}
}

// GenerateWorkload produces numOps changes against a rowset of numRows
// rows with strictly increasing transaction ids starting at startTx. Rows
// are picked with Zipfian skew; deleteRate is the fraction of deletes.
// The result is fully determined by the RNG seed.
func (r *RNG) GenerateWorkload(schema *model.Schema, numRows model.RowID, numOps int, startTx model.TxID, deleteRate float64) *Workload {
	w := &Workload{
		Schema:  schema,
		NumRows: numRows,
		Ops:     make([]ChangeOp, 0, numOps),
	}
	for i := 0; i < numOps; i++ {
		tx := startTx + model.TxID(i)
		row := model.RowID(r.Zipf(int(numRows), 1.2))
		if r.Float64() < deleteRate {
			w.Ops = append(w.Ops, DeleteOp(tx, row))
			continue
		}
		col := r.Intn(schema.NumColumns())
		value := []byte(fmt.Sprintf("v-%d-%d-%d", tx, row, col))
		w.Ops = append(w.Ops, UpdateOp(tx, row, col, value))
	}
	return w
}

// Oracle replays changes sequentially to compute the expected state of a
// rowset, independent of stores, iterators, and flushes. Tests compare
// engine output against it.
type Oracle struct {
	schema  *model.Schema
	numRows model.RowID
	cells   [][][]byte // [row][col] -> latest value, nil = base
	deleted []bool
}

// NewOracle creates an oracle for a rowset where every base cell is nil.
func NewOracle(schema *model.Schema, numRows model.RowID) *Oracle {
	cells := make([][][]byte, numRows)
	for i := range cells {
		cells[i] = make([][]byte, schema.NumColumns())
	}
	return &Oracle{
		schema:  schema,
		numRows: numRows,
		cells:   cells,
		deleted: make([]bool, numRows),
	}
}

// Apply replays one change if it is visible under upperBound: only
// transactions strictly below upperBound count as committed.
func (o *Oracle) Apply(op ChangeOp, upperBound model.TxID) error {
	if op.Tx >= upperBound {
		return nil
	}
	isDel, err := op.Change.IsDelete()
	if err != nil {
		return err
	}
	if isDel {
		o.deleted[op.Row] = true
		return nil
	}
	dec := rowchange.NewDecoder(op.Change)
	return dec.ForEachUpdate(func(colIdx int, value []byte, isNull bool) error {
		if isNull {
			o.cells[op.Row][colIdx] = nil
		} else {
			o.cells[op.Row][colIdx] = append([]byte(nil), value...)
		}
		return nil
	})
}

// ApplyAll replays a workload in transaction order.
func (o *Oracle) ApplyAll(ops []ChangeOp, upperBound model.TxID) error {
	for _, op := range ops {
		if err := o.Apply(op, upperBound); err != nil {
			return err
		}
	}
	return nil
}

// Cell returns the expected value for a cell, nil meaning base value.
func (o *Oracle) Cell(row model.RowID, col int) []byte {
	return o.cells[row][col]
}

// Deleted reports whether the row should be deselected.
func (o *Oracle) Deleted(row model.RowID) bool {
	return o.deleted[row]
}
