// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is readable by any zlib decoder while the
// writer needs neither tables nor a sliding window, which keeps it small
// enough for microcontrollers.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// ErrClosed is returned by Write after Close
var ErrClosed = errors.New("tinycompress: write after close")

// maxStored is the largest payload of one stored block
const maxStored = 0xFFFF

// zlibHeader is CMF/FLG for deflate with a 32K window
var zlibHeader = [2]byte{0x78, 0x9C}

// Writer buffers everything written and emits the zlib stream on Close
type Writer struct {
	output io.Writer
	data   []byte
	closed bool
}

// NewWriter returns a Writer emitting to w. sizeHint preallocates the
// buffer; TinyGo schedulers can stall on growth during Write.
func NewWriter(w io.Writer, sizeHint ...int) *Writer {
	n := 4096
	if len(sizeHint) > 0 && sizeHint[0] > 0 {
		n = sizeHint[0]
	}
	return &Writer{
		output: w,
		data:   make([]byte, 0, n),
	}
}

// Write buffers p
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.data = append(w.data, p...)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	ew := &errWriter{w: w.output}
	ew.write(zlibHeader[:])

	rest := w.data
	for {
		n := min(len(rest), maxStored)
		final := byte(0)
		if n == len(rest) {
			final = 1
		}
		length := uint16(n)
		ew.write([]byte{final, byte(length), byte(length >> 8), byte(^length), byte(^length >> 8)})
		ew.write(rest[:n])
		rest = rest[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.data)
	ew.write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return ew.err
}

// Len returns the number of uncompressed bytes buffered
func (w *Writer) Len() int {
	return len(w.data)
}

// errWriter keeps the first write error and skips later writes
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}
