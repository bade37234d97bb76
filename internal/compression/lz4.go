// Package compression implements LZ4 compression of link payloads.
package compression

import (
	"encoding/binary"
	"errors"

	"github.com/pierrec/lz4"
)

const (
	// MinCompressibleSize is the minimum payload size worth compressing.
	MinCompressibleSize = 70

	// MaxDecompressedSize bounds the size a framed payload may claim.
	MaxDecompressedSize = 16 << 20

	headerSize = 4
)

var (
	// ErrDecompressionFailed is returned when a frame cannot be decoded.
	ErrDecompressionFailed = errors.New("decompression failed")
	// ErrTooLarge is returned when a frame claims more than MaxDecompressedSize bytes.
	ErrTooLarge = errors.New("decompressed size too large")
)

// Frame compresses data into one LZ4 block behind a 4-byte big-endian
// length header. It returns (frame, true) when compression was applied and
// (data, false) when the payload is too small or does not shrink.
func Frame(data []byte) ([]byte, bool) {
	if len(data) < MinCompressibleSize {
		return data, false
	}

	frame := make([]byte, headerSize+lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, frame[headerSize:], nil)
	if err != nil || n == 0 || n >= len(data) {
		return data, false
	}
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	return frame[:headerSize+n], true
}

// Unframe reverses Frame.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) <= headerSize {
		return nil, ErrDecompressionFailed
	}
	size := binary.BigEndian.Uint32(frame)
	if size == 0 {
		return nil, ErrDecompressionFailed
	}
	if size > MaxDecompressedSize {
		return nil, ErrTooLarge
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(frame[headerSize:], out)
	if err != nil || n != int(size) {
		return nil, ErrDecompressionFailed
	}
	return out, nil
}
