package delta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tabulardb/rowset"
	"github.com/tabulardb/rowset/model"
)

// Durable delta file layout:
//
//	header (16 bytes)
//	  [0:4]   magic "DLF1"
//	  [4:6]   format version, little endian
//	  [6]     compression codec
//	  [7:16]  reserved
//	entry blocks
//	  each block holds consecutive (row, txid, change) entries encoded as
//	  uvarint row | uvarint txid | uvarint len | change bytes, sorted by
//	  (row, txid); the block is stored compressed unless that saves no
//	  space (storedLen == rawLen means raw)
//	delete index
//	  serialized roaring bitmap of every row carrying a delete entry
//	block index
//	  28 bytes per block:
//	  firstRow u32 | lastRow u32 | offset u64 | storedLen u32 | rawLen u32 | crc32 u32
//	footer (48 bytes)
//	  [0:8]   block index offset
//	  [8:12]  block count
//	  [12:20] delete index offset
//	  [20:24] delete index length
//	  [24:32] entry count
//	  [32:36] block index crc32
//	  [36:40] delete index crc32
//	  [40:44] reserved
//	  [44:48] magic "DLF1"
//
// All integers are little endian. Checksums use the CRC32 IEEE polynomial
// and cover the stored (post-compression) bytes.
const (
	deltaFileMagic    = "DLF1"
	deltaFileVersion  = uint16(1)
	fileHeaderLen     = 16
	fileFooterLen     = 48
	blockIndexEntry   = 28
	defaultBlockBytes = 32 * 1024
)

// DeltaFilePrefix is the durable file name prefix. The suffix is the
// zero-padded decimal flush generation.
const DeltaFilePrefix = "delta_"

// ParseDeltaFileName extracts the flush generation from a durable file
// name. ok is false when the name does not carry the delta prefix; a name
// with the prefix but a malformed suffix is an error, since it means the
// directory holds something that was never written by a flush.
func ParseDeltaFileName(name string) (gen model.Generation, ok bool, err error) {
	if !strings.HasPrefix(name, DeltaFilePrefix) {
		return 0, false, nil
	}
	suffix := name[len(DeltaFilePrefix):]
	n, perr := strconv.ParseUint(suffix, 10, 32)
	if perr != nil || len(suffix) != 10 {
		return 0, false, rowset.NewCorruptionError(name, "malformed delta file name", perr)
	}
	return model.Generation(n), true, nil
}

// ColumnFilePrefix marks base column data files living in the same rowset
// directory; the tracker recognizes and skips them during Open.
const ColumnFilePrefix = "col_"

// DeltaFileName returns the durable file name for a flush generation.
func DeltaFileName(gen model.Generation) string {
	return fmt.Sprintf("%s%010d", DeltaFilePrefix, uint32(gen))
}

// blockMeta is one decoded block index entry.
type blockMeta struct {
	firstRow  model.RowID
	lastRow   model.RowID
	offset    uint64
	storedLen uint32
	rawLen    uint32
	crc       uint32
}

// fileEntry is one decoded (row, txid, change) entry.
type fileEntry struct {
	row    model.RowID
	tx     model.TxID
	change []byte
}
