package delta

import (
	"fmt"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/model"
)

// BlockSource yields base column data for a rowset in ordinal order. The
// tracker knows nothing about how base data is stored; anything that can
// materialize a column for a row span can drive an Applier.
type BlockSource interface {
	// NumRows returns the rowset's row count.
	NumRows() model.RowID

	// ReadColumn fills dst with the base cells of projection column
	// projCol for dst.NumRows() rows starting at start.
	ReadColumn(start model.RowID, projCol int, dst *model.ColumnBlock) error
}

// ScanBlock is one batch of scan output: base data with all visible
// changes applied and deleted rows deselected.
type ScanBlock struct {
	StartRow  model.RowID
	Columns   []*model.ColumnBlock
	Selection *model.SelectionVector
}

// NumRows returns the batch size.
func (b *ScanBlock) NumRows() int { return b.Selection.NumRows() }

// Applier drives a delta iterator over a base block source, producing
// fully resolved scan blocks. It owns the iterator and closes it.
type Applier struct {
	src        BlockSource
	it         Iterator
	projection *model.Projection
	pos        model.RowID
	closed     bool
}

// NewApplier wraps a base source with change application. The iterator is
// initialized and positioned at row zero; it is usually the tracker's
// merged iterator.
func NewApplier(src BlockSource, it Iterator, projection *model.Projection) (*Applier, error) {
	if src == nil || it == nil || projection == nil {
		return nil, fmt.Errorf("%w: source, iterator, and projection are required", rowset.ErrInvalidArgument)
	}
	if err := it.Init(); err != nil {
		return nil, err
	}
	if err := it.SeekToOrdinal(0); err != nil {
		return nil, err
	}
	return &Applier{src: src, it: it, projection: projection}, nil
}

// SeekToOrdinal repositions the scan at a row ordinal.
func (a *Applier) SeekToOrdinal(idx model.RowID) error {
	if a.closed {
		return fmt.Errorf("%w: applier is closed", rowset.ErrInvalidArgument)
	}
	if idx > a.src.NumRows() {
		return fmt.Errorf("%w: seek to row %d past rowset of %d rows",
			rowset.ErrInvalidArgument, idx, a.src.NumRows())
	}
	if err := a.it.SeekToOrdinal(idx); err != nil {
		return err
	}
	a.pos = idx
	return nil
}

// HasNext reports whether another block remains.
func (a *Applier) HasNext() bool {
	return !a.closed && a.pos < a.src.NumRows()
}

// NextBlock returns the next batch of at most nrows rows. The base cells
// are read first, then staged changes overwrite them column by column,
// then deletes clear selection bits.
func (a *Applier) NextBlock(nrows int) (*ScanBlock, error) {
	if a.closed {
		return nil, fmt.Errorf("%w: applier is closed", rowset.ErrInvalidArgument)
	}
	if nrows <= 0 {
		return nil, fmt.Errorf("%w: block of %d rows", rowset.ErrInvalidArgument, nrows)
	}
	remaining := int(a.src.NumRows() - a.pos)
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: scan exhausted", rowset.ErrNotFound)
	}
	if nrows > remaining {
		nrows = remaining
	}

	if err := a.it.PrepareBatch(nrows); err != nil {
		return nil, err
	}
	blk := &ScanBlock{
		StartRow:  a.pos,
		Columns:   make([]*model.ColumnBlock, a.projection.NumColumns()),
		Selection: model.NewSelectionVector(nrows),
	}
	for col := range blk.Columns {
		cb := model.NewColumnBlock(a.projection.Schema().Column(col), nrows)
		if err := a.src.ReadColumn(a.pos, col, cb); err != nil {
			return nil, err
		}
		if err := a.it.ApplyUpdates(col, cb); err != nil {
			return nil, err
		}
		blk.Columns[col] = cb
	}
	if err := a.it.ApplyDeletes(blk.Selection); err != nil {
		return nil, err
	}
	a.pos += model.RowID(nrows)
	return blk, nil
}

// Close releases the underlying iterator.
func (a *Applier) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.it.Close()
}

func (a *Applier) String() string {
	return fmt.Sprintf("DeltaApplier(%s)", a.it)
}
