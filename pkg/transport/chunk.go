package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultChunkSize is the default chunk payload size.
const DefaultChunkSize = 2 * 1024 * 1024

// MaxResendAttempts bounds per-chunk checksum-mismatch retransmission
// before the stripe is declared failed.
const MaxResendAttempts = 128

// header precedes every chunk on the wire. A raw memcpy of a native C
// struct only round-trips on a homogeneous x86_64 deployment; this
// implementation pins a little-endian, unpadded encoding instead, which is a
// deliberate wire-compatibility break with any such sender.
type header struct {
	Sum16     uint16
	Sum32     uint32
	ChunkSize int32
	Offset    int64
	MaxBytes  int64
}

const headerSize = 2 + 4 + 4 + 8 + 8

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], h.Sum16)
	binary.LittleEndian.PutUint32(buf[2:6], h.Sum32)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.ChunkSize))
	binary.LittleEndian.PutUint64(buf[10:18], uint64(h.Offset))
	binary.LittleEndian.PutUint64(buf[18:26], uint64(h.MaxBytes))
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("transport: write header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, fmt.Errorf("transport: read header: %w", err)
	}
	return header{
		Sum16:     binary.LittleEndian.Uint16(buf[0:2]),
		Sum32:     binary.LittleEndian.Uint32(buf[2:6]),
		ChunkSize: int32(binary.LittleEndian.Uint32(buf[6:10])),
		Offset:    int64(binary.LittleEndian.Uint64(buf[10:18])),
		MaxBytes:  int64(binary.LittleEndian.Uint64(buf[18:26])),
	}, nil
}

// additive32 computes a simple additive 32-bit checksum: the sum of every
// byte in the block, accumulated in a uint32.
func additive32(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	return sum
}
