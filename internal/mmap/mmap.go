// Package mmap provides read-only memory mapping of files, with a portable
// fallback that reads the file into memory on platforms without mmap
// support. Mappings back the local blob store; delta file readers only ever
// read through them.
package mmap

import (
	"fmt"
	"os"
)

// Mapping is a read-only view of a file's contents.
type Mapping struct {
	data    []byte
	unmap   func([]byte) error
	closed  bool
	mapped  bool
	srcPath string
}

// Open maps the file at path read-only. An empty file yields a valid
// zero-length mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &Mapping{srcPath: path}, nil
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %s too large to map", path)
	}

	data, unmap, err := osMap(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap: map %s: %w", path, err)
	}
	return &Mapping{
		data:    data,
		unmap:   unmap,
		mapped:  true,
		srcPath: path,
	}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the mapped length in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Close releases the mapping. Safe to call more than once.
func (m *Mapping) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	data := m.data
	m.data = nil
	if m.mapped && m.unmap != nil {
		return m.unmap(data)
	}
	return nil
}
