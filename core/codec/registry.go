package codec

import (
	"cmp"
	"fmt"
	"strconv"
	"sync"

	"github.com/sushant-115/pagedb/core/dberror"
)

// Dynamic is a type-erased codec. Tooling that only knows a page's on-disk
// type tag uses it to decode, compare and parse values.
type Dynamic struct {
	Name    string
	Code    uint16
	Size    func(v any) int
	Encode  func(w *Writer, v any) error
	Decode  func(r *Reader) (any, error)
	Compare func(a, b any) int
	Parse   func(s string) (any, error)
}

// Erase wraps a typed codec with its ordering and text parser.
func Erase[T any](name string, c Codec[T], compare func(a, b T) int, parse func(string) (T, error)) Dynamic {
	return Dynamic{
		Name: name,
		Code: c.TypeCode(),
		Size: func(v any) int {
			t, _ := v.(T)
			return c.Size(t)
		},
		Encode: func(w *Writer, v any) error {
			t, ok := v.(T)
			if !ok {
				return fmt.Errorf("%w: %s codec cannot encode %T", dberror.ErrSerialization, name, v)
			}
			return c.Encode(w, t)
		},
		Decode: func(r *Reader) (any, error) {
			return c.Decode(r)
		},
		Compare: func(a, b any) int {
			return compare(a.(T), b.(T))
		},
		Parse: func(s string) (any, error) {
			return parse(s)
		},
	}
}

// AsCodec adapts the dynamic form back to the Codec interface over any.
func (d Dynamic) AsCodec() Codec[any] { return dynamicCodec{d} }

type dynamicCodec struct{ d Dynamic }

func (c dynamicCodec) TypeCode() uint16                { return c.d.Code }
func (c dynamicCodec) Size(v any) int                  { return c.d.Size(v) }
func (c dynamicCodec) Encode(w *Writer, v any) error   { return c.d.Encode(w, v) }
func (c dynamicCodec) Decode(r *Reader) (any, error)   { return c.d.Decode(r) }

var (
	registryMu sync.RWMutex
	registry   = map[uint16]Dynamic{}
)

// Register makes a codec discoverable by its type code. Registering a code
// twice replaces the earlier entry.
func Register(d Dynamic) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Code] = d
}

// Lookup finds a registered codec.
func Lookup(code uint16) (Dynamic, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[code]
	if !ok {
		return Dynamic{}, fmt.Errorf("%w: 0x%04x", dberror.ErrUnsupportedCodec, code)
	}
	return d, nil
}

// LookupPair resolves both halves of a key/value type-pair tag.
func LookupPair(tag uint32) (key, value Dynamic, err error) {
	kc, vc := SplitTypePair(tag)
	if key, err = Lookup(kc); err != nil {
		return Dynamic{}, Dynamic{}, fmt.Errorf("key type: %w", err)
	}
	if value, err = Lookup(vc); err != nil {
		return Dynamic{}, Dynamic{}, fmt.Errorf("value type: %w", err)
	}
	return key, value, nil
}

func init() {
	Register(Erase("empty", EmptyCodec{}, func(Empty, Empty) int { return 0 }, func(string) (Empty, error) { return Empty{}, nil }))
	Register(Erase("uint8", Uint8Codec{}, cmp.Compare[uint8], parseUint[uint8](8)))
	Register(Erase("uint16", Uint16Codec{}, cmp.Compare[uint16], parseUint[uint16](16)))
	Register(Erase("uint32", Uint32Codec{}, cmp.Compare[uint32], parseUint[uint32](32)))
	Register(Erase("uint64", Uint64Codec{}, cmp.Compare[uint64], parseUint[uint64](64)))
	Register(Erase("int64", Int64Codec{}, cmp.Compare[int64], func(s string) (int64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", dberror.ErrSerialization, err)
		}
		return v, nil
	}))
	Register(Erase("string", StringCodec{}, cmp.Compare[string], func(s string) (string, error) { return s, nil }))
	Register(Erase("term", TermCodec{}, CompareTerms, ParseTerm))
	Register(Erase("idquad", IDQuadCodec{}, CompareIDQuad, ParseIDQuad))
}
