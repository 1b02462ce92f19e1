package delta

import (
	"fmt"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/internal/arena"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/rowchange"
)

// Iterator is a stateful, single-use cursor over one store's changes,
// scoped to a projection and a snapshot. The state machine is
// uninitialized → initialized → positioned:
//
//  1. Init must be called exactly once before any other method.
//  2. SeekToOrdinal positions the cursor at a row ordinal; it may be
//     called repeatedly.
//  3. PrepareBatch stages the changes for the next nrows rows and advances
//     the position past them; it must be called before the Apply/Collect
//     methods for that block and re-called before moving on.
//
// Every method returns an explicit error; callers abort the scan on the
// first error. There is no partial-batch recovery.
type Iterator interface {
	Init() error
	SeekToOrdinal(idx model.RowID) error
	PrepareBatch(nrows int) error

	// ApplyUpdates overwrites cells in dst for the projection column
	// projCol wherever a staged visible update exists. Later-staged
	// updates win over earlier ones for the same cell.
	ApplyUpdates(projCol int, dst *model.ColumnBlock) error

	// ApplyDeletes clears the selection bit of every staged row with a
	// visible delete. Deletes are monotone.
	ApplyDeletes(sel *model.SelectionVector) error

	// CollectMutations appends every staged visible (txid, change) pair
	// to dst, copying change bytes into the caller-owned arena. Ordering
	// across stores is not globally chronological.
	CollectMutations(dst *[]rowchange.Mutation, a *arena.Arena) error

	// Close releases the iterator's store references and underlying
	// readers. The iterator is unusable afterwards.
	Close() error

	fmt.Stringer
}

// iterState tracks the Iterator state machine shared by the in-memory and
// file-backed implementations.
type iterState uint8

const (
	stateUninitialized iterState = iota
	stateInitialized
	statePrepared
	stateClosed
)

func (s iterState) check(want iterState, op string) error {
	if s == stateClosed {
		return fmt.Errorf("%w: %s on closed iterator", rowset.ErrInvalidArgument, op)
	}
	if s < want {
		return fmt.Errorf("%w: %s before %s", rowset.ErrInvalidArgument, op, want.name())
	}
	return nil
}

// name returns the call that brings an iterator into this state.
func (s iterState) name() string {
	switch s {
	case stateInitialized:
		return "Init"
	case statePrepared:
		return "PrepareBatch"
	default:
		return "creation"
	}
}

// preparedEntry is one staged visible change within the current batch.
type preparedEntry struct {
	rowOffset int // offset within the batch
	tx        model.TxID
	change    rowchange.ChangeList
}

// applyStagedUpdates replays staged entries onto dst for one base column.
// Shared by the memory and file iterators.
func applyStagedUpdates(staged []preparedEntry, baseCol int, dst *model.ColumnBlock) error {
	for _, e := range staged {
		isDel, err := e.change.IsDelete()
		if err != nil {
			return err
		}
		if isDel {
			continue
		}
		dec := rowchange.NewDecoder(e.change)
		value, isNull, found, err := dec.LatestForColumn(baseCol)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if e.rowOffset >= dst.NumRows() {
			return fmt.Errorf("%w: staged row offset %d outside block of %d rows",
				rowset.ErrInvalidArgument, e.rowOffset, dst.NumRows())
		}
		if isNull {
			dst.SetCell(e.rowOffset, nil)
		} else {
			dst.SetCell(e.rowOffset, value)
		}
	}
	return nil
}

// applyStagedDeletes clears selection bits for staged delete entries.
func applyStagedDeletes(staged []preparedEntry, sel *model.SelectionVector) error {
	for _, e := range staged {
		isDel, err := e.change.IsDelete()
		if err != nil {
			return err
		}
		if !isDel {
			continue
		}
		if e.rowOffset >= sel.NumRows() {
			return fmt.Errorf("%w: staged row offset %d outside selection of %d rows",
				rowset.ErrInvalidArgument, e.rowOffset, sel.NumRows())
		}
		sel.Clear(e.rowOffset)
	}
	return nil
}

// collectStaged appends staged entries as mutations, copying change bytes
// into the arena.
func collectStaged(staged []preparedEntry, dst *[]rowchange.Mutation, a *arena.Arena) {
	for _, e := range staged {
		*dst = append(*dst, rowchange.Mutation{
			TxID:   e.tx,
			Change: rowchange.ChangeList(a.CopyBytes(e.change)),
		})
	}
}
