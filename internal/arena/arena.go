// Package arena provides a chunked, append-only byte arena.
//
// Scans use one arena per batch of collected mutations: change-list bytes
// are copied out of the store they came from so the mutation list stays
// valid after the scan releases its store references. An Arena is owned by
// a single scan and is not safe for concurrent use.
package arena

const defaultChunkSize = 64 * 1024

// Arena allocates byte slices out of large chunks. Memory is released only
// when the arena itself becomes unreachable or after Reset.
type Arena struct {
	chunkSize int
	cur       []byte
	full      [][]byte
	allocated int64
}

// New creates an arena with the given chunk size. chunkSize <= 0 selects
// the default (64 KiB).
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// CopyBytes copies b into the arena and returns the arena-owned copy.
func (a *Arena) CopyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	a.allocated += int64(len(b))

	if len(b) >= a.chunkSize {
		// Oversized allocations get their own chunk.
		out := make([]byte, len(b))
		copy(out, b)
		a.full = append(a.full, out)
		return out
	}

	if len(a.cur)+len(b) > cap(a.cur) {
		if a.cur != nil {
			a.full = append(a.full, a.cur)
		}
		a.cur = make([]byte, 0, a.chunkSize)
	}

	start := len(a.cur)
	a.cur = append(a.cur, b...)
	return a.cur[start : start+len(b) : start+len(b)]
}

// AllocatedBytes returns the total bytes handed out since creation or the
// last Reset.
func (a *Arena) AllocatedBytes() int64 { return a.allocated }

// Reset drops all chunks. Slices previously returned become invalid for
// the caller's purposes once it calls Reset.
func (a *Arena) Reset() {
	a.cur = nil
	a.full = nil
	a.allocated = 0
}
