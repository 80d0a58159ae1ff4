// Package codec implements the binary serialization protocol used by every
// persisted value: exact sizes, big-endian fixed-width integers, tagged
// strings and RDF terms, and the cursors that encode them into page buffers.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/sushant-115/pagedb/core/dberror"
)

// Writer is a mutable cursor over a fixed buffer. Every Put advances the
// cursor by exactly the size written, or fails with dberror.ErrSpaceOverflow
// and leaves the cursor where it was.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a cursor whose budget is len(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) Offset() int    { return w.off }
func (w *Writer) Remaining() int { return len(w.buf) - w.off }

// Bytes returns the written prefix of the underlying buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Reserve checks that n more bytes fit.
func (w *Writer) Reserve(n int) error {
	if n > w.Remaining() {
		return fmt.Errorf("%w: need %d bytes, %d remaining", dberror.ErrSpaceOverflow, n, w.Remaining())
	}
	return nil
}

func (w *Writer) PutUint8(v uint8) error {
	if err := w.Reserve(1); err != nil {
		return err
	}
	w.buf[w.off] = v
	w.off++
	return nil
}

func (w *Writer) PutUint16(v uint16) error {
	if err := w.Reserve(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
	return nil
}

func (w *Writer) PutUint32(v uint32) error {
	if err := w.Reserve(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return nil
}

func (w *Writer) PutUint64(v uint64) error {
	if err := w.Reserve(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
	return nil
}

func (w *Writer) PutBytes(b []byte) error {
	if err := w.Reserve(len(b)); err != nil {
		return err
	}
	w.off += copy(w.buf[w.off:], b)
	return nil
}

// Reader is an immutable cursor over an encoded buffer.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if n > r.Remaining() {
		return fmt.Errorf("%w: truncated input at offset %d, need %d bytes, %d remaining",
			dberror.ErrDeserialization, r.off, n, r.Remaining())
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// Bytes returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", dberror.ErrDeserialization, n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
