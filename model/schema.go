package model

import "fmt"

// ColumnType enumerates the cell encodings a column may carry. The engine
// treats cell values as opaque bytes; the type is kept for validation and
// for describing projections to the base store.
type ColumnType uint8

const (
	TypeBytes ColumnType = iota
	TypeString
	TypeUint32
	TypeInt64
)

func (t ColumnType) String() string {
	switch t {
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeUint32:
		return "uint32"
	case TypeInt64:
		return "int64"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Column describes a single column of the base store.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered, immutable list of columns.
type Schema struct {
	cols   []Column
	byName map[string]int
}

// NewSchema builds a Schema from the given columns.
// Column names must be non-empty and unique.
func NewSchema(cols ...Column) (*Schema, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("schema requires at least one column")
	}
	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has empty name", i)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", c.Name)
		}
		byName[c.Name] = i
	}
	s := &Schema{
		cols:   make([]Column, len(cols)),
		byName: byName,
	}
	copy(s.cols, cols)
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for tests and
// static schemas.
func MustSchema(cols ...Column) *Schema {
	s, err := NewSchema(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// NumColumns returns the number of columns.
func (s *Schema) NumColumns() int { return len(s.cols) }

// Column returns the column at index i.
func (s *Schema) Column(i int) Column { return s.cols[i] }

// ColumnIndex returns the index of the named column.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

func (s *Schema) String() string {
	out := "Schema("
	for i, c := range s.cols {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	return out + ")"
}

// Projection selects a subset of a base schema's columns for a scan.
// Projection column order is the order blocks are materialized in.
type Projection struct {
	base   *Schema
	schema *Schema
	toBase []int
}

// NewProjection builds a projection of base onto the named columns.
func NewProjection(base *Schema, names ...string) (*Projection, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("projection requires at least one column")
	}
	cols := make([]Column, 0, len(names))
	toBase := make([]int, 0, len(names))
	for _, name := range names {
		idx, ok := base.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("projection column %q not in base schema", name)
		}
		cols = append(cols, base.Column(idx))
		toBase = append(toBase, idx)
	}
	schema, err := NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	return &Projection{base: base, schema: schema, toBase: toBase}, nil
}

// FullProjection projects every column of base in schema order.
func FullProjection(base *Schema) *Projection {
	names := make([]string, base.NumColumns())
	for i := range names {
		names[i] = base.Column(i).Name
	}
	p, err := NewProjection(base, names...)
	if err != nil {
		// Base schema columns always project onto themselves.
		panic(err)
	}
	return p
}

// Base returns the base schema the projection was built from.
func (p *Projection) Base() *Schema { return p.base }

// Schema returns the projected schema.
func (p *Projection) Schema() *Schema { return p.schema }

// NumColumns returns the number of projected columns.
func (p *Projection) NumColumns() int { return len(p.toBase) }

// BaseIndex maps a projection column index to its base schema index.
func (p *Projection) BaseIndex(projIdx int) int { return p.toBase[projIdx] }
