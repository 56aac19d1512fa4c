package session

import (
	"encoding/binary"
	"hash/crc32"
	"iter"

	"github.com/pkg/errors"
)

// MetadataSize is the length of the metadata message: an 8-byte file size
// followed by a 4-byte checksum, both in host byte order.
const MetadataSize = 8 + 4

var (
	// AckDone is the receiver's completion acknowledgment.
	AckDone = []byte("DONE")
	// AckFail is the receiver's negative acknowledgment.
	AckFail = []byte("FAIL")
)

// Metadata is the first message of every transfer.
type Metadata struct {
	FileSize uint64
	Checksum uint32
}

// BuildMetadata serializes the metadata message.
func BuildMetadata(fileSize uint64, checksum uint32) []byte {
	b := make([]byte, MetadataSize)
	binary.NativeEndian.PutUint64(b[0:8], fileSize)
	binary.NativeEndian.PutUint32(b[8:12], checksum)
	return b
}

// ParseMetadata is the inverse of BuildMetadata.
func ParseMetadata(b []byte) (Metadata, error) {
	if len(b) != MetadataSize {
		return Metadata{}, errors.Errorf("metadata message is %d bytes, want %d", len(b), MetadataSize)
	}
	return Metadata{
		FileSize: binary.NativeEndian.Uint64(b[0:8]),
		Checksum: binary.NativeEndian.Uint32(b[8:12]),
	}, nil
}

// Chunks yields consecutive slices of data of at most maxSize bytes. Every
// range over the sequence starts again at offset zero. The slices alias data.
func Chunks(data []byte, maxSize int) iter.Seq[[]byte] {
	if maxSize <= 0 {
		panic("session: chunk size must be positive")
	}
	return func(yield func([]byte) bool) {
		for off := 0; off < len(data); off += maxSize {
			end := min(off+maxSize, len(data))
			if !yield(data[off:end:end]) {
				return
			}
		}
	}
}

// ChunkCount is the number of chunks Chunks yields for size bytes.
func ChunkCount(size, maxSize int) int {
	if size <= 0 || maxSize <= 0 {
		return 0
	}
	return (size + maxSize - 1) / maxSize
}

// Checksum is the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
