package delta

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tabulardb/rowset"
)

// Compression selects the block codec for durable delta files. Each file
// records its codec in the header; readers never need it configured.
type Compression uint8

const (
	// CompressionZstd is the default codec.
	CompressionZstd Compression = iota
	CompressionNone
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

func (c Compression) valid() bool {
	return c == CompressionNone || c == CompressionZstd || c == CompressionLZ4
}

// Shared zstd coders; both are safe for concurrent use via EncodeAll and
// DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// compressBlock encodes raw with the codec. When compression does not save
// space the raw bytes are stored as-is; readers detect that case by
// storedLen == rawLen.
func compressBlock(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(raw, nil)
		if len(out) >= len(raw) {
			return raw, nil
		}
		return out, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		out := make([]byte, bound)
		n, err := lz4.CompressBlock(raw, out, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			// Incompressible.
			return raw, nil
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("%w: unknown compression codec %d", rowset.ErrInvalidArgument, c)
	}
}

// decompressBlock decodes a stored block back to rawLen bytes.
func decompressBlock(c Compression, stored []byte, rawLen int) ([]byte, error) {
	if len(stored) == rawLen {
		return stored, nil
	}
	switch c {
	case CompressionNone:
		return nil, fmt.Errorf("%w: stored length %d does not match raw length %d for uncompressed block",
			rowset.ErrCorruption, len(stored), rawLen)
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd block: %v", rowset.ErrCorruption, err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: zstd block decoded to %d bytes, expected %d",
				rowset.ErrCorruption, len(out), rawLen)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 block: %v", rowset.ErrCorruption, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 block decoded to %d bytes, expected %d",
				rowset.ErrCorruption, n, rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression codec %d", rowset.ErrCorruption, c)
	}
}
