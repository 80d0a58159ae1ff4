package codec

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/sushant-115/pagedb/core/dberror"
)

// Codec is the serialization contract every persisted value type implements.
// Size must be exact: Encode advances the writer by exactly Size(v) bytes and
// Decode consumes the same amount.
type Codec[T any] interface {
	// TypeCode identifies the encoding on disk. Pages record the codes of
	// their key and value codecs so a mismatched open fails loudly.
	TypeCode() uint16
	Size(v T) int
	Encode(w *Writer, v T) error
	Decode(r *Reader) (T, error)
}

// Type codes of the built-in codecs.
const (
	TypeEmpty  uint16 = 0x0001
	TypeUint8  uint16 = 0x0002
	TypeUint16 uint16 = 0x0003
	TypeUint32 uint16 = 0x0004
	TypeUint64 uint16 = 0x0005
	TypeInt64  uint16 = 0x0006
	TypeString uint16 = 0x0010
	TypeTerm   uint16 = 0x0020
	TypeIDQuad uint16 = 0x0030
)

// TypePair packs a key and value type code into the 4-byte tag stored in
// tree and table page headers.
func TypePair(key, value uint16) uint32 {
	return uint32(key)<<16 | uint32(value)
}

// SplitTypePair is the inverse of TypePair.
func SplitTypePair(tag uint32) (key, value uint16) {
	return uint16(tag >> 16), uint16(tag)
}

// Empty is a zero-width value, used by indexes whose keys carry everything.
type Empty struct{}

type EmptyCodec struct{}

type (
	Uint8Codec  struct{}
	Uint16Codec struct{}
	Uint32Codec struct{}
	Uint64Codec struct{}
)

func (EmptyCodec) TypeCode() uint16                  { return TypeEmpty }
func (EmptyCodec) Size(Empty) int                    { return 0 }
func (EmptyCodec) Encode(*Writer, Empty) error       { return nil }
func (EmptyCodec) Decode(*Reader) (Empty, error)     { return Empty{}, nil }
func (Uint8Codec) TypeCode() uint16                  { return TypeUint8 }
func (Uint8Codec) Size(uint8) int                    { return 1 }
func (Uint8Codec) Encode(w *Writer, v uint8) error   { return w.PutUint8(v) }
func (Uint8Codec) Decode(r *Reader) (uint8, error)   { return r.Uint8() }
func (Uint16Codec) TypeCode() uint16                 { return TypeUint16 }
func (Uint16Codec) Size(uint16) int                  { return 2 }
func (Uint16Codec) Encode(w *Writer, v uint16) error { return w.PutUint16(v) }
func (Uint16Codec) Decode(r *Reader) (uint16, error) { return r.Uint16() }
func (Uint32Codec) TypeCode() uint16                 { return TypeUint32 }
func (Uint32Codec) Size(uint32) int                  { return 4 }
func (Uint32Codec) Encode(w *Writer, v uint32) error { return w.PutUint32(v) }
func (Uint32Codec) Decode(r *Reader) (uint32, error) { return r.Uint32() }
func (Uint64Codec) TypeCode() uint16                 { return TypeUint64 }
func (Uint64Codec) Size(uint64) int                  { return 8 }
func (Uint64Codec) Encode(w *Writer, v uint64) error { return w.PutUint64(v) }
func (Uint64Codec) Decode(r *Reader) (uint64, error) { return r.Uint64() }

// Int64Codec stores the value with its sign bit flipped so that the
// big-endian bytes sort in numeric order.
type Int64Codec struct{}

func (Int64Codec) TypeCode() uint16 { return TypeInt64 }
func (Int64Codec) Size(int64) int   { return 8 }

func (Int64Codec) Encode(w *Writer, v int64) error {
	return w.PutUint64(uint64(v) ^ (1 << 63))
}

func (Int64Codec) Decode(r *Reader) (int64, error) {
	u, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	return int64(u ^ (1 << 63)), nil
}

// IDQuad is a quad of dictionary term identifiers, the key shape of the quad
// indexes built on this engine.
type IDQuad [4]uint64

// CompareIDQuad orders quads lexicographically by position.
func CompareIDQuad(a, b IDQuad) int {
	for i := range a {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

type IDQuadCodec struct{}

func (IDQuadCodec) TypeCode() uint16 { return TypeIDQuad }
func (IDQuadCodec) Size(IDQuad) int  { return 32 }

func (IDQuadCodec) Encode(w *Writer, q IDQuad) error {
	if err := w.Reserve(32); err != nil {
		return err
	}
	for _, id := range q {
		_ = w.PutUint64(id)
	}
	return nil
}

func (IDQuadCodec) Decode(r *Reader) (IDQuad, error) {
	var q IDQuad
	for i := range q {
		id, err := r.Uint64()
		if err != nil {
			return IDQuad{}, err
		}
		q[i] = id
	}
	return q, nil
}

// ParseIDQuad reads "a b c d" or "a,b,c,d".
func ParseIDQuad(s string) (IDQuad, error) {
	var q IDQuad
	n, err := fmt.Sscanf(normalizeQuad(s), "%d %d %d %d", &q[0], &q[1], &q[2], &q[3])
	if err != nil || n != 4 {
		return IDQuad{}, fmt.Errorf("%w: %q is not a quad of ids", dberror.ErrSerialization, s)
	}
	return q, nil
}

func normalizeQuad(s string) string {
	return strings.ReplaceAll(s, ",", " ")
}

func parseUint[T uint8 | uint16 | uint32 | uint64](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		v, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", dberror.ErrSerialization, err)
		}
		return T(v), nil
	}
}
