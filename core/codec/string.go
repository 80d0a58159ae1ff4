package codec

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/sushant-115/pagedb/core/dberror"
)

// String encoding tags.
const (
	StringInline  uint8 = 0x01
	StringSpilled uint8 = 0x02 // reserved: large string held on a side page
)

// stringOverhead is tag + 4-byte length + NUL terminator.
const stringOverhead = 1 + 4 + 1

// StringCodec encodes length-prefixed, NUL-terminated UTF-8.
//
// Strings are always stored inline. A value that does not fit the remaining
// budget fails with ErrSpaceOverflow so the caller can split; the spilled
// form is rejected on decode.
type StringCodec struct{}

func (StringCodec) TypeCode() uint16 { return TypeString }

func (StringCodec) Size(s string) int { return stringSize(s) }

func (StringCodec) Encode(w *Writer, s string) error { return putString(w, s) }

func (StringCodec) Decode(r *Reader) (string, error) { return readString(r) }

func stringSize(s string) int {
	return stringOverhead + len(s)
}

func putString(w *Writer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", dberror.ErrSerialization)
	}
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("%w: string of %d bytes exceeds the length prefix", dberror.ErrSerialization, len(s))
	}
	if err := w.Reserve(stringSize(s)); err != nil {
		return err
	}
	_ = w.PutUint8(StringInline)
	_ = w.PutUint32(uint32(len(s)))
	_ = w.PutBytes([]byte(s))
	return w.PutUint8(0)
}

func readString(r *Reader) (string, error) {
	tag, err := r.Uint8()
	if err != nil {
		return "", err
	}
	switch tag {
	case StringInline:
	case StringSpilled:
		return "", fmt.Errorf("%w: spilled strings are not supported", dberror.ErrDeserialization)
	default:
		return "", fmt.Errorf("%w: unknown string tag 0x%02x", dberror.ErrDeserialization, tag)
	}
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if int64(n) >= int64(r.Remaining()) {
		return "", fmt.Errorf("%w: string length %d exceeds remaining %d bytes", dberror.ErrDeserialization, n, r.Remaining())
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	nul, err := r.Uint8()
	if err != nil {
		return "", err
	}
	if nul != 0 {
		return "", fmt.Errorf("%w: string is not NUL-terminated", dberror.ErrDeserialization)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", dberror.ErrDeserialization)
	}
	return string(b), nil
}
