package codec

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagedb/core/dberror"
)

func encode[T any](t *testing.T, c Codec[T], v T) []byte {
	t.Helper()
	buf := make([]byte, c.Size(v))
	w := NewWriter(buf)
	require.NoError(t, c.Encode(w, v))
	require.Equal(t, len(buf), w.Offset(), "Size must match the bytes written")
	return buf
}

func TestTermRoundTrip(t *testing.T) {
	terms := []Term{
		NewIRI("http://example.org/a"),
		NewBlank("b0"),
		NewLiteral("plain"),
		NewLiteral(""),
		NewLangLiteral("hallo", "de"),
		NewLangLiteral("kia ora", "mi"),
		NewTypedLiteral("42", xsd+"integer"),
		NewTypedLiteral("x", "http://example.org/type"),
	}
	c := TermCodec{}
	for _, term := range terms {
		t.Run(term.String(), func(t *testing.T) {
			buf := encode(t, c, term)
			got, err := c.Decode(NewReader(buf))
			require.NoError(t, err)
			assert.Equal(t, term, got)
		})
	}
}

func TestTermCommonTagsCollapse(t *testing.T) {
	c := TermCodec{}
	common := NewLangLiteral("v", "en")
	rare := NewLangLiteral("v", "mi")
	assert.Equal(t, c.Size(NewLiteral("v")), c.Size(common))
	assert.Greater(t, c.Size(rare), c.Size(common))

	typed := NewTypedLiteral("1", xsd+"integer")
	assert.Equal(t, c.Size(NewLiteral("1")), c.Size(typed))
}

func TestTermRejectsLanguageAndDatatype(t *testing.T) {
	bad := Term{Kind: KindLiteral, Value: "v", Language: "en", Datatype: xsd + "string"}
	err := TermCodec{}.Encode(NewWriter(make([]byte, 64)), bad)
	assert.ErrorIs(t, err, dberror.ErrSerialization)
}

func TestParseTerm(t *testing.T) {
	for _, term := range []Term{
		NewIRI("urn:x"),
		NewBlank("n1"),
		NewLiteral(`say "hi"`),
		NewLangLiteral("bonjour", "fr"),
		NewTypedLiteral("true", xsd+"boolean"),
	} {
		got, err := ParseTerm(term.String())
		require.NoError(t, err)
		assert.Equal(t, term, got)
	}
	_, err := ParseTerm("not a term")
	assert.ErrorIs(t, err, dberror.ErrSerialization)
}

func TestStringEncoding(t *testing.T) {
	buf := encode[string](t, StringCodec{}, "héllo")
	assert.Equal(t, StringInline, buf[0])
	assert.Equal(t, byte(0), buf[len(buf)-1])

	got, err := StringCodec{}.Decode(NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, "héllo", got)
}

func TestStringRejectsBadInput(t *testing.T) {
	err := StringCodec{}.Encode(NewWriter(make([]byte, 64)), "\xff\xfe")
	assert.ErrorIs(t, err, dberror.ErrSerialization)

	w := NewWriter(make([]byte, 8))
	err = StringCodec{}.Encode(w, "too long for eight")
	assert.ErrorIs(t, err, dberror.ErrSpaceOverflow)
	assert.Zero(t, w.Offset())

	spilled := []byte{StringSpilled, 0, 0, 0, 1, 0, 0, 0, 0, 0}
	_, err = StringCodec{}.Decode(NewReader(spilled))
	assert.ErrorIs(t, err, dberror.ErrDeserialization)

	unterminated := []byte{StringInline, 0, 0, 0, 1, 'a', 'x'}
	_, err = StringCodec{}.Decode(NewReader(unterminated))
	assert.ErrorIs(t, err, dberror.ErrDeserialization)

	truncated := []byte{StringInline, 0, 0, 1, 0, 'a'}
	_, err = StringCodec{}.Decode(NewReader(truncated))
	assert.ErrorIs(t, err, dberror.ErrDeserialization)
}

func TestInt64BytesSortNumerically(t *testing.T) {
	values := []int64{-1 << 63, -1000, -1, 0, 1, 7, 1 << 40, 1<<63 - 1}
	var encoded [][]byte
	for _, v := range values {
		encoded = append(encoded, encode[int64](t, Int64Codec{}, v))
	}
	assert.True(t, slices.IsSortedFunc(encoded, bytes.Compare))

	for i, v := range values {
		got, err := Int64Codec{}.Decode(NewReader(encoded[i]))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestIDQuad(t *testing.T) {
	q, err := ParseIDQuad("1, 2,3 4")
	require.NoError(t, err)
	assert.Equal(t, IDQuad{1, 2, 3, 4}, q)

	_, err = ParseIDQuad("1 2 3")
	assert.ErrorIs(t, err, dberror.ErrSerialization)

	buf := encode[IDQuad](t, IDQuadCodec{}, q)
	got, err := IDQuadCodec{}.Decode(NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, q, got)

	assert.Negative(t, CompareIDQuad(IDQuad{1, 2, 3, 4}, IDQuad{1, 2, 4, 0}))
	assert.Zero(t, CompareIDQuad(q, got))
}

func TestReaderBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_, err := r.Uint32()
	assert.ErrorIs(t, err, dberror.ErrDeserialization)
	assert.Zero(t, r.Offset())

	v, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)
	assert.Equal(t, 1, r.Remaining())
}

func TestTypePair(t *testing.T) {
	tag := TypePair(TypeString, TypeUint64)
	assert.Equal(t, uint32(0x00100005), tag)
	k, v := SplitTypePair(tag)
	assert.Equal(t, TypeString, k)
	assert.Equal(t, TypeUint64, v)
}

func TestRegistry(t *testing.T) {
	keys, values, err := LookupPair(TypePair(TypeTerm, TypeUint32))
	require.NoError(t, err)
	assert.Equal(t, "term", keys.Name)
	assert.Equal(t, "uint32", values.Name)

	parsed, err := values.Parse("17")
	require.NoError(t, err)
	assert.Equal(t, uint32(17), parsed)

	_, err = values.Parse("70000000000")
	assert.ErrorIs(t, err, dberror.ErrSerialization)

	c := keys.AsCodec()
	term := NewIRI("urn:a")
	buf := make([]byte, c.Size(term))
	require.NoError(t, c.Encode(NewWriter(buf), term))
	decoded, err := c.Decode(NewReader(buf))
	require.NoError(t, err)
	assert.Zero(t, keys.Compare(term, decoded))

	assert.ErrorIs(t, c.Encode(NewWriter(buf), "not a term"), dberror.ErrSerialization)

	_, _, err = LookupPair(TypePair(0x7777, TypeUint8))
	assert.ErrorIs(t, err, dberror.ErrUnsupportedCodec)
}
