package delta

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/blobstore"
	"github.com/tabulardb/rowset/internal/arena"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/mvcc"
	"github.com/tabulardb/rowset/rowchange"
)

// FileReader is the durable, immutable Store produced by flushing a
// MemStore. It is safe for concurrent reads by multiple iterators; blocks
// are read by offset through the blob, never the whole file at once.
type FileReader struct {
	name   string
	blob   blobstore.Blob
	gen    model.Generation
	codec  Compression
	blocks []blockMeta
	dels   *roaring.Bitmap
	count  uint64
	closed atomic.Bool
}

// OpenFileReader reconstructs a store from a durable blob, validating the
// header, footer, block index, and delete index. A truncated or malformed
// stream yields a corruption error.
func OpenFileReader(name string, blob blobstore.Blob, gen model.Generation) (*FileReader, error) {
	size := blob.Size()
	if size == 0 {
		return nil, rowset.NewCorruptionError(name, "zero-length delta file", nil)
	}
	if size < fileHeaderLen+fileFooterLen {
		return nil, rowset.NewCorruptionError(name, fmt.Sprintf("file of %d bytes is too short", size), nil)
	}

	var hdr [fileHeaderLen]byte
	if err := readFully(blob, hdr[:], 0, name); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != deltaFileMagic {
		return nil, rowset.NewCorruptionError(name, "bad header magic", nil)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != deltaFileVersion {
		return nil, rowset.NewCorruptionError(name, fmt.Sprintf("unsupported format version %d", v), nil)
	}
	codec := Compression(hdr[6])
	if !codec.valid() {
		return nil, rowset.NewCorruptionError(name, fmt.Sprintf("unknown compression codec %d", hdr[6]), nil)
	}

	var foot [fileFooterLen]byte
	if err := readFully(blob, foot[:], size-fileFooterLen, name); err != nil {
		return nil, err
	}
	if string(foot[44:48]) != deltaFileMagic {
		return nil, rowset.NewCorruptionError(name, "bad footer magic", nil)
	}
	indexOff := binary.LittleEndian.Uint64(foot[0:8])
	blockCount := binary.LittleEndian.Uint32(foot[8:12])
	deleteOff := binary.LittleEndian.Uint64(foot[12:20])
	deleteLen := binary.LittleEndian.Uint32(foot[20:24])
	count := binary.LittleEndian.Uint64(foot[24:32])
	indexCRC := binary.LittleEndian.Uint32(foot[32:36])
	deleteCRC := binary.LittleEndian.Uint32(foot[36:40])

	dataEnd := uint64(size - fileFooterLen)
	indexLen := uint64(blockCount) * blockIndexEntry
	if indexOff < fileHeaderLen || indexOff > dataEnd || indexLen > dataEnd-indexOff {
		return nil, rowset.NewCorruptionError(name, "block index out of range", nil)
	}
	if deleteOff < fileHeaderLen || deleteOff > dataEnd || uint64(deleteLen) > dataEnd-deleteOff {
		return nil, rowset.NewCorruptionError(name, "delete index out of range", nil)
	}

	indexBytes := make([]byte, indexLen)
	if err := readFully(blob, indexBytes, int64(indexOff), name); err != nil {
		return nil, err
	}
	if actual := crc32.ChecksumIEEE(indexBytes); actual != indexCRC {
		return nil, rowset.NewCorruptionError(name, "block index checksum",
			&rowset.ChecksumMismatchError{Expected: indexCRC, Actual: actual})
	}

	blocks := make([]blockMeta, blockCount)
	for i := range blocks {
		e := indexBytes[i*blockIndexEntry:]
		blocks[i] = blockMeta{
			firstRow:  model.RowID(binary.LittleEndian.Uint32(e[0:4])),
			lastRow:   model.RowID(binary.LittleEndian.Uint32(e[4:8])),
			offset:    binary.LittleEndian.Uint64(e[8:16]),
			storedLen: binary.LittleEndian.Uint32(e[16:20]),
			rawLen:    binary.LittleEndian.Uint32(e[20:24]),
			crc:       binary.LittleEndian.Uint32(e[24:28]),
		}
		b := blocks[i]
		if b.offset < fileHeaderLen || b.offset > dataEnd || uint64(b.storedLen) > dataEnd-b.offset {
			return nil, rowset.NewCorruptionError(name, fmt.Sprintf("block %d out of range", i), nil)
		}
		if b.firstRow > b.lastRow {
			return nil, rowset.NewCorruptionError(name, fmt.Sprintf("block %d row span inverted", i), nil)
		}
		if i > 0 && b.firstRow < blocks[i-1].lastRow {
			return nil, rowset.NewCorruptionError(name, fmt.Sprintf("block %d overlaps predecessor", i), nil)
		}
	}

	deleteBytes := make([]byte, deleteLen)
	if err := readFully(blob, deleteBytes, int64(deleteOff), name); err != nil {
		return nil, err
	}
	if actual := crc32.ChecksumIEEE(deleteBytes); actual != deleteCRC {
		return nil, rowset.NewCorruptionError(name, "delete index checksum",
			&rowset.ChecksumMismatchError{Expected: deleteCRC, Actual: actual})
	}
	dels := roaring.New()
	if err := dels.UnmarshalBinary(deleteBytes); err != nil {
		return nil, rowset.NewCorruptionError(name, "delete index", err)
	}

	return &FileReader{
		name:   name,
		blob:   blob,
		gen:    gen,
		codec:  codec,
		blocks: blocks,
		dels:   dels,
		count:  count,
	}, nil
}

// Generation returns the flush generation the file was written under.
func (r *FileReader) Generation() model.Generation { return r.gen }

// Name returns the blob name the reader was opened from.
func (r *FileReader) Name() string { return r.name }

// Count returns the number of changes in the file.
func (r *FileReader) Count() int { return int(r.count) }

// EstimateSize returns the durable file size in bytes.
func (r *FileReader) EstimateSize() int64 { return r.blob.Size() }

// CheckRowDeleted reports whether the file holds a delete entry for row.
func (r *FileReader) CheckRowDeleted(row model.RowID) (bool, error) {
	if r.closed.Load() {
		return false, fmt.Errorf("%w: reader %s is closed", rowset.ErrInvalidArgument, r.name)
	}
	return r.dels.Contains(uint32(row)), nil
}

// NewIterator creates a cursor over the file's changes.
func (r *FileReader) NewIterator(projection *model.Projection, snap *mvcc.Snapshot) (Iterator, error) {
	if projection == nil || snap == nil {
		return nil, fmt.Errorf("%w: projection and snapshot are required", rowset.ErrInvalidArgument)
	}
	if r.closed.Load() {
		return nil, fmt.Errorf("%w: reader %s is closed", rowset.ErrInvalidArgument, r.name)
	}
	return &fileIterator{r: r, projection: projection, snap: snap, cachedBlock: -1}, nil
}

// Close releases the underlying blob. Safe to call more than once.
func (r *FileReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.blob.Close()
}

func (r *FileReader) String() string {
	return fmt.Sprintf("DeltaFileReader(%s)", r.name)
}

// readBlock fetches, verifies, and decompresses one entry block.
func (r *FileReader) readBlock(bi int) ([]byte, error) {
	b := r.blocks[bi]
	stored := make([]byte, b.storedLen)
	if err := readFully(r.blob, stored, int64(b.offset), r.name); err != nil {
		return nil, err
	}
	if actual := crc32.ChecksumIEEE(stored); actual != b.crc {
		return nil, rowset.NewCorruptionError(r.name, fmt.Sprintf("block %d checksum", bi),
			&rowset.ChecksumMismatchError{Expected: b.crc, Actual: actual})
	}
	return decompressBlock(r.codec, stored, int(b.rawLen))
}

// decodeEntries parses one decompressed block.
func (r *FileReader) decodeEntries(raw []byte) ([]fileEntry, error) {
	var out []fileEntry
	rest := raw
	for len(rest) > 0 {
		row, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, rowset.NewCorruptionError(r.name, "truncated entry row", nil)
		}
		rest = rest[n:]
		tx, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, rowset.NewCorruptionError(r.name, "truncated entry txid", nil)
		}
		rest = rest[n:]
		clen, n := binary.Uvarint(rest)
		if n <= 0 || clen > uint64(len(rest)-n) {
			return nil, rowset.NewCorruptionError(r.name, "truncated entry change", nil)
		}
		rest = rest[n:]
		out = append(out, fileEntry{
			row:    model.RowID(row),
			tx:     model.TxID(tx),
			change: rest[:clen],
		})
		rest = rest[clen:]
	}
	return out, nil
}

func readFully(blob blobstore.Blob, p []byte, off int64, name string) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := blob.ReadAt(p, off); err != nil {
		return fmt.Errorf("%w: read %d bytes at %d of %s: %v", rowset.ErrIO, len(p), off, name, err)
	}
	return nil
}

// fileIterator iterates one durable delta file.
type fileIterator struct {
	r          *FileReader
	projection *model.Projection
	snap       *mvcc.Snapshot

	state iterState
	pos   model.RowID

	// Cache of the most recently decoded block.
	cachedBlock   int
	cachedEntries []fileEntry

	batchStart model.RowID
	staged     []preparedEntry
}

func (it *fileIterator) Init() error {
	if it.state != stateUninitialized {
		return fmt.Errorf("%w: Init called twice", rowset.ErrInvalidArgument)
	}
	if it.r.closed.Load() {
		return fmt.Errorf("%w: reader %s closed before iterator init", rowset.ErrIO, it.r.name)
	}
	it.state = stateInitialized
	return nil
}

func (it *fileIterator) SeekToOrdinal(idx model.RowID) error {
	if err := it.state.check(stateInitialized, "SeekToOrdinal"); err != nil {
		return err
	}
	it.pos = idx
	it.staged = nil
	it.state = stateInitialized
	return nil
}

func (it *fileIterator) PrepareBatch(nrows int) error {
	if err := it.state.check(stateInitialized, "PrepareBatch"); err != nil {
		return err
	}
	if nrows <= 0 {
		return fmt.Errorf("%w: PrepareBatch of %d rows", rowset.ErrInvalidArgument, nrows)
	}

	it.batchStart = it.pos
	it.staged = it.staged[:0]
	end := it.pos + model.RowID(nrows)

	blocks := it.r.blocks
	lo := sort.Search(len(blocks), func(i int) bool { return blocks[i].lastRow >= it.batchStart })
	for bi := lo; bi < len(blocks); bi++ {
		if blocks[bi].firstRow >= end {
			break
		}
		entries, err := it.loadBlock(bi)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.row < it.batchStart {
				continue
			}
			if e.row >= end {
				break
			}
			if !it.snap.IsCommitted(e.tx) {
				continue
			}
			it.staged = append(it.staged, preparedEntry{
				rowOffset: int(e.row - it.batchStart),
				tx:        e.tx,
				change:    rowchange.ChangeList(e.change),
			})
		}
	}

	it.pos = end
	it.state = statePrepared
	return nil
}

func (it *fileIterator) loadBlock(bi int) ([]fileEntry, error) {
	if bi == it.cachedBlock {
		return it.cachedEntries, nil
	}
	raw, err := it.r.readBlock(bi)
	if err != nil {
		return nil, err
	}
	entries, err := it.r.decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	it.cachedBlock = bi
	it.cachedEntries = entries
	return entries, nil
}

func (it *fileIterator) ApplyUpdates(projCol int, dst *model.ColumnBlock) error {
	if err := it.state.check(statePrepared, "ApplyUpdates"); err != nil {
		return err
	}
	if projCol < 0 || projCol >= it.projection.NumColumns() {
		return fmt.Errorf("%w: projection column %d out of range", rowset.ErrInvalidArgument, projCol)
	}
	return applyStagedUpdates(it.staged, it.projection.BaseIndex(projCol), dst)
}

func (it *fileIterator) ApplyDeletes(sel *model.SelectionVector) error {
	if err := it.state.check(statePrepared, "ApplyDeletes"); err != nil {
		return err
	}
	return applyStagedDeletes(it.staged, sel)
}

func (it *fileIterator) CollectMutations(dst *[]rowchange.Mutation, a *arena.Arena) error {
	if err := it.state.check(statePrepared, "CollectMutations"); err != nil {
		return err
	}
	collectStaged(it.staged, dst, a)
	return nil
}

func (it *fileIterator) Close() error {
	it.state = stateClosed
	it.cachedEntries = nil
	it.staged = nil
	return nil
}

func (it *fileIterator) String() string {
	return fmt.Sprintf("DeltaFileIterator(%s)", it.r.name)
}
