package rowchange

import (
	"encoding/binary"
	"fmt"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/model"
)

// Kind discriminates the two change shapes.
type Kind uint8

const (
	// KindUpdate sets one or more column values.
	KindUpdate Kind = 1
	// KindDelete marks the row deleted.
	KindDelete Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ChangeList is the encoded, immutable byte form of one row change.
type ChangeList []byte

// IsEmpty reports whether the change list carries no encoded change.
func (c ChangeList) IsEmpty() bool { return len(c) == 0 }

// Kind returns the change kind, failing on an empty or unrecognized header.
func (c ChangeList) Kind() (Kind, error) {
	if len(c) == 0 {
		return 0, fmt.Errorf("%w: empty change list", rowset.ErrCorruption)
	}
	k := Kind(c[0])
	if k != KindUpdate && k != KindDelete {
		return 0, fmt.Errorf("%w: unknown change kind %d", rowset.ErrCorruption, c[0])
	}
	return k, nil
}

// IsDelete reports whether the change is a delete marker.
func (c ChangeList) IsDelete() (bool, error) {
	k, err := c.Kind()
	if err != nil {
		return false, err
	}
	return k == KindDelete, nil
}

// Clone returns an independent copy of the encoded bytes.
func (c ChangeList) Clone() ChangeList {
	if len(c) == 0 {
		return nil
	}
	out := make(ChangeList, len(c))
	copy(out, c)
	return out
}

func (c ChangeList) String() string {
	k, err := c.Kind()
	if err != nil {
		return fmt.Sprintf("ChangeList(invalid: %v)", err)
	}
	if k == KindDelete {
		return "ChangeList(DELETE)"
	}
	out := "ChangeList(SET"
	dec := NewDecoder(c)
	_ = dec.ForEachUpdate(func(colIdx int, value []byte, isNull bool) error {
		if isNull {
			out += fmt.Sprintf(" col%d=NULL", colIdx)
		} else {
			out += fmt.Sprintf(" col%d=%q", colIdx, value)
		}
		return nil
	})
	return out + ")"
}

// Mutation pairs a change with the transaction that produced it.
type Mutation struct {
	TxID   model.TxID
	Change ChangeList
}

func (m Mutation) String() string {
	return fmt.Sprintf("@%d %s", m.TxID, m.Change)
}

// Encoder builds a ChangeList. An Encoder encodes exactly one change: either
// a sequence of column updates or a single delete marker, never both.
type Encoder struct {
	buf     []byte
	kind    Kind
	misused bool
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// AddColumnUpdate appends "set base column colIdx to value". A nil value is
// distinct from an empty one: nil encodes NULL.
func (e *Encoder) AddColumnUpdate(colIdx int, value []byte) {
	if e.kind == KindDelete {
		e.misused = true
		return
	}
	if e.kind == 0 {
		e.kind = KindUpdate
		e.buf = append(e.buf, byte(KindUpdate))
	}
	e.buf = binary.AppendUvarint(e.buf, uint64(colIdx))
	if value == nil {
		e.buf = binary.AppendUvarint(e.buf, 0)
		return
	}
	e.buf = binary.AppendUvarint(e.buf, uint64(len(value))+1)
	e.buf = append(e.buf, value...)
}

// SetToDelete marks the change as a row delete.
func (e *Encoder) SetToDelete() {
	if e.kind == KindUpdate {
		e.misused = true
		return
	}
	if e.kind == 0 {
		e.kind = KindDelete
		e.buf = append(e.buf, byte(KindDelete))
	}
}

// ChangeList finalizes the encoder. It fails if nothing was encoded or if
// updates and a delete were mixed into the same change.
func (e *Encoder) ChangeList() (ChangeList, error) {
	if e.misused {
		return nil, fmt.Errorf("%w: change list cannot mix updates and delete", rowset.ErrInvalidArgument)
	}
	if e.kind == 0 {
		return nil, fmt.Errorf("%w: empty change list", rowset.ErrInvalidArgument)
	}
	out := make(ChangeList, len(e.buf))
	copy(out, e.buf)
	return out, nil
}

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.kind = 0
	e.misused = false
}

// DeleteChange returns the encoded delete marker.
func DeleteChange() ChangeList {
	enc := NewEncoder()
	enc.SetToDelete()
	c, _ := enc.ChangeList()
	return c
}

// UpdateChange encodes a single-column update.
func UpdateChange(colIdx int, value []byte) ChangeList {
	enc := NewEncoder()
	enc.AddColumnUpdate(colIdx, value)
	c, _ := enc.ChangeList()
	return c
}

// Decoder walks the update entries of a ChangeList.
type Decoder struct {
	c ChangeList
}

// NewDecoder creates a decoder over c.
func NewDecoder(c ChangeList) *Decoder {
	return &Decoder{c: c}
}

// ForEachUpdate invokes fn for every column update in encoding order.
// It is a no-op for delete markers. Returns a corruption error for a
// malformed stream, or fn's first error.
func (d *Decoder) ForEachUpdate(fn func(colIdx int, value []byte, isNull bool) error) error {
	k, err := d.c.Kind()
	if err != nil {
		return err
	}
	if k == KindDelete {
		if len(d.c) != 1 {
			return fmt.Errorf("%w: trailing bytes after delete marker", rowset.ErrCorruption)
		}
		return nil
	}

	rest := d.c[1:]
	for len(rest) > 0 {
		colIdx, n := binary.Uvarint(rest)
		if n <= 0 {
			return fmt.Errorf("%w: truncated column index", rowset.ErrCorruption)
		}
		rest = rest[n:]

		vlen, n := binary.Uvarint(rest)
		if n <= 0 {
			return fmt.Errorf("%w: truncated value length", rowset.ErrCorruption)
		}
		rest = rest[n:]

		if vlen == 0 {
			if err := fn(int(colIdx), nil, true); err != nil {
				return err
			}
			continue
		}
		want := int(vlen - 1)
		if want > len(rest) {
			return fmt.Errorf("%w: value length %d exceeds remaining %d", rowset.ErrCorruption, want, len(rest))
		}
		if err := fn(int(colIdx), rest[:want], false); err != nil {
			return err
		}
		rest = rest[want:]
	}
	return nil
}

// LatestForColumn returns the last update to baseColIdx within the change,
// if any. Later entries in one change list win over earlier ones.
func (d *Decoder) LatestForColumn(baseColIdx int) (value []byte, isNull, found bool, err error) {
	err = d.ForEachUpdate(func(colIdx int, v []byte, null bool) error {
		if colIdx == baseColIdx {
			value, isNull, found = v, null, true
		}
		return nil
	})
	if err != nil {
		return nil, false, false, err
	}
	return value, isNull, found, nil
}
