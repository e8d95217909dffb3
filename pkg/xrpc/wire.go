package xrpc

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Request is one call frame: the method name, its password, and its
// positional string arguments.
type Request struct {
	Password string
	Method   string
	Args     []string
}

// Response is the OK/ERR sentinel pair plus message and result list
// returned across the wire.
type Response struct {
	OK      bool
	Message string
	Results []string
}

// writeFrame gob-encodes v and writes it as a length-prefixed frame so the
// reader knows exactly how many bytes to buffer before decoding.
func writeFrame(w io.Writer, v interface{}) error {
	var buf bufferedWriter
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("xrpc: encode: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf.data)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("xrpc: write length: %w", err)
	}
	if _, err := w.Write(buf.data); err != nil {
		return fmt.Errorf("xrpc: write body: %w", err)
	}
	return nil
}

func readFrame(r *bufio.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("xrpc: read body: %w", err)
	}

	dec := gob.NewDecoder(&staticReader{body})
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("xrpc: decode: %w", err)
	}
	return nil
}

// bufferedWriter accumulates gob output so its length can be measured
// before writing the length-prefixed frame.
type bufferedWriter struct {
	data []byte
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

type staticReader struct {
	data []byte
}

func (r *staticReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
