package daemon

import (
	"crypto/md5"
	"encoding/hex"
	"hash/crc32"
	"io"
	"os"
)

// sum32Writer accumulates the additive 32-bit checksum used elsewhere for
// per-chunk verification (pkg/transport), applied here over an entire file.
type sum32Writer struct {
	sum uint32
}

func (w *sum32Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		w.sum += uint32(b)
	}
	return len(p), nil
}

// fileChecksums streams path once, computing its additive 32-bit sum, IEEE
// CRC-32, and MD5 digest together.
func fileChecksums(path string) (sum32, crcVal uint32, md5Hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", err
	}
	defer f.Close()

	s32 := &sum32Writer{}
	crcH := crc32.NewIEEE()
	md5H := md5.New()

	if _, err := io.Copy(io.MultiWriter(s32, crcH, md5H), f); err != nil {
		return 0, 0, "", err
	}
	return s32.sum, crcH.Sum32(), hex.EncodeToString(md5H.Sum(nil)), nil
}
