package delta

import (
	"fmt"
	"strings"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/internal/arena"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/rowchange"
)

// mergeIterator fans every call out to one child iterator per store, in
// store order (oldest flushed file first, live memory store last). Because
// iteration is positional rather than key-ordered, merging needs no heap:
// each child stages changes for the same row span and the apply methods
// replay them child by child, so older stores are overwritten by newer
// ones. Collected mutations are likewise ordered per store, not globally
// by transaction.
type mergeIterator struct {
	children []Iterator
}

// NewMergeIterator combines per-store iterators into a single cursor.
// A single child is returned as-is; wrapping it would only add call
// overhead.
func NewMergeIterator(children []Iterator) (Iterator, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: merge of zero iterators", rowset.ErrInvalidArgument)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &mergeIterator{children: children}, nil
}

func (m *mergeIterator) Init() error {
	for _, c := range m.children {
		if err := c.Init(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergeIterator) SeekToOrdinal(idx model.RowID) error {
	for _, c := range m.children {
		if err := c.SeekToOrdinal(idx); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergeIterator) PrepareBatch(nrows int) error {
	for _, c := range m.children {
		if err := c.PrepareBatch(nrows); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergeIterator) ApplyUpdates(projCol int, dst *model.ColumnBlock) error {
	for _, c := range m.children {
		if err := c.ApplyUpdates(projCol, dst); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergeIterator) ApplyDeletes(sel *model.SelectionVector) error {
	for _, c := range m.children {
		if err := c.ApplyDeletes(sel); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergeIterator) CollectMutations(dst *[]rowchange.Mutation, a *arena.Arena) error {
	for _, c := range m.children {
		if err := c.CollectMutations(dst, a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every child, keeping the first error.
func (m *mergeIterator) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *mergeIterator) String() string {
	var sb strings.Builder
	sb.WriteString("DeltaIteratorMerger(")
	for i, c := range m.children {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.String())
	}
	sb.WriteString(")")
	return sb.String()
}
