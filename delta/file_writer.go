package delta

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/model"
	"github.com/tabulardb/rowset/rowchange"
)

// FileWriter serializes a memstore's changes into the durable delta file
// format. Entries must be appended in nondecreasing (row, txid) order so a
// reader can seek by ordinal through the block index.
//
// Usage: Start, Append..., Finish. Durability (sync, rename) belongs to the
// caller.
type FileWriter struct {
	w           io.Writer
	compression Compression
	blockBytes  int

	started  bool
	finished bool

	off     uint64
	raw     []byte // current block, uncompressed
	blocks  []blockMeta
	deletes *roaring.Bitmap
	count   uint64

	// Current block row span.
	haveRows bool
	firstRow model.RowID
	lastRow  model.RowID
	lastTx   model.TxID
}

// FileWriterOptions configures a FileWriter.
type FileWriterOptions struct {
	// Compression is the block codec. The zero value is zstd.
	Compression Compression
	// BlockBytes is the uncompressed block size threshold.
	// If 0, defaults to 32KB.
	BlockBytes int
}

// NewFileWriter creates a writer emitting to w.
func NewFileWriter(w io.Writer, opts FileWriterOptions) *FileWriter {
	if opts.BlockBytes <= 0 {
		opts.BlockBytes = defaultBlockBytes
	}
	return &FileWriter{
		w:           w,
		compression: opts.Compression,
		blockBytes:  opts.BlockBytes,
		deletes:     roaring.New(),
	}
}

// Start writes the file header. Must be called once before Append.
func (fw *FileWriter) Start() error {
	if fw.started {
		return fmt.Errorf("%w: writer already started", rowset.ErrInvalidArgument)
	}
	if !fw.compression.valid() {
		return fmt.Errorf("%w: unknown compression codec %d", rowset.ErrInvalidArgument, fw.compression)
	}
	var hdr [fileHeaderLen]byte
	copy(hdr[0:4], deltaFileMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], deltaFileVersion)
	hdr[6] = byte(fw.compression)
	if err := fw.write(hdr[:]); err != nil {
		return err
	}
	fw.started = true
	return nil
}

// Append adds one change. Order must be nondecreasing by (row, txid).
func (fw *FileWriter) Append(row model.RowID, tx model.TxID, change rowchange.ChangeList) error {
	if !fw.started || fw.finished {
		return fmt.Errorf("%w: Append outside Start/Finish window", rowset.ErrInvalidArgument)
	}
	if fw.haveRows && (row < fw.lastRow || (row == fw.lastRow && tx < fw.lastTx)) {
		return fmt.Errorf("%w: out-of-order append (row %d tx %d after row %d tx %d)",
			rowset.ErrInvalidArgument, row, tx, fw.lastRow, fw.lastTx)
	}
	isDel, err := change.IsDelete()
	if err != nil {
		return err
	}

	if !fw.haveRows {
		fw.firstRow = row
		fw.haveRows = true
	}
	fw.lastRow = row
	fw.lastTx = tx

	fw.raw = binary.AppendUvarint(fw.raw, uint64(row))
	fw.raw = binary.AppendUvarint(fw.raw, uint64(tx))
	fw.raw = binary.AppendUvarint(fw.raw, uint64(len(change)))
	fw.raw = append(fw.raw, change...)
	fw.count++
	if isDel {
		fw.deletes.Add(uint32(row))
	}

	if len(fw.raw) >= fw.blockBytes {
		return fw.flushBlock()
	}
	return nil
}

// Count returns the number of appended entries.
func (fw *FileWriter) Count() int { return int(fw.count) }

func (fw *FileWriter) flushBlock() error {
	if len(fw.raw) == 0 {
		return nil
	}
	stored, err := compressBlock(fw.compression, fw.raw)
	if err != nil {
		return err
	}
	meta := blockMeta{
		firstRow:  fw.firstRow,
		lastRow:   fw.lastRow,
		offset:    fw.off,
		storedLen: uint32(len(stored)),
		rawLen:    uint32(len(fw.raw)),
		crc:       crc32.ChecksumIEEE(stored),
	}
	if err := fw.write(stored); err != nil {
		return err
	}
	fw.blocks = append(fw.blocks, meta)
	fw.raw = fw.raw[:0]
	fw.haveRows = false
	return nil
}

// Finish flushes the last block and writes the delete index, block index,
// and footer. The writer is unusable afterwards.
func (fw *FileWriter) Finish() error {
	if !fw.started || fw.finished {
		return fmt.Errorf("%w: Finish outside Start window", rowset.ErrInvalidArgument)
	}
	if err := fw.flushBlock(); err != nil {
		return err
	}

	deleteBytes, err := fw.deletes.ToBytes()
	if err != nil {
		return fmt.Errorf("serialize delete index: %w", err)
	}
	deleteOff := fw.off
	if err := fw.write(deleteBytes); err != nil {
		return err
	}

	index := make([]byte, 0, len(fw.blocks)*blockIndexEntry)
	for _, b := range fw.blocks {
		var e [blockIndexEntry]byte
		binary.LittleEndian.PutUint32(e[0:4], uint32(b.firstRow))
		binary.LittleEndian.PutUint32(e[4:8], uint32(b.lastRow))
		binary.LittleEndian.PutUint64(e[8:16], b.offset)
		binary.LittleEndian.PutUint32(e[16:20], b.storedLen)
		binary.LittleEndian.PutUint32(e[20:24], b.rawLen)
		binary.LittleEndian.PutUint32(e[24:28], b.crc)
		index = append(index, e[:]...)
	}
	indexOff := fw.off
	if err := fw.write(index); err != nil {
		return err
	}

	var foot [fileFooterLen]byte
	binary.LittleEndian.PutUint64(foot[0:8], indexOff)
	binary.LittleEndian.PutUint32(foot[8:12], uint32(len(fw.blocks)))
	binary.LittleEndian.PutUint64(foot[12:20], deleteOff)
	binary.LittleEndian.PutUint32(foot[20:24], uint32(len(deleteBytes)))
	binary.LittleEndian.PutUint64(foot[24:32], fw.count)
	binary.LittleEndian.PutUint32(foot[32:36], crc32.ChecksumIEEE(index))
	binary.LittleEndian.PutUint32(foot[36:40], crc32.ChecksumIEEE(deleteBytes))
	copy(foot[44:48], deltaFileMagic)
	if err := fw.write(foot[:]); err != nil {
		return err
	}

	fw.finished = true
	return nil
}

func (fw *FileWriter) write(p []byte) error {
	n, err := fw.w.Write(p)
	fw.off += uint64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", rowset.ErrIO, err)
	}
	return nil
}
