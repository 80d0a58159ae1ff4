package codec

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/sushant-115/pagedb/core/dberror"
)

// TermKind distinguishes the three RDF term forms.
type TermKind uint8

const (
	KindBlank TermKind = iota + 1
	KindIRI
	KindLiteral
)

func (k TermKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindIRI:
		return "iri"
	case KindLiteral:
		return "literal"
	default:
		return fmt.Sprintf("TermKind(%d)", uint8(k))
	}
}

// Term is an RDF term as the dictionary layer stores it. A literal carries at
// most one of Language and Datatype.
type Term struct {
	Kind     TermKind
	Value    string
	Language string
	Datatype string
}

const xsd = "http://www.w3.org/2001/XMLSchema#"

func NewIRI(iri string) Term       { return Term{Kind: KindIRI, Value: iri} }
func NewBlank(label string) Term   { return Term{Kind: KindBlank, Value: label} }
func NewLiteral(value string) Term { return Term{Kind: KindLiteral, Value: value} }

func NewLangLiteral(value, lang string) Term {
	return Term{Kind: KindLiteral, Value: value, Language: lang}
}

func NewTypedLiteral(value, datatype string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindBlank:
		return "_:" + t.Value
	case KindIRI:
		return "<" + t.Value + ">"
	case KindLiteral:
		q := `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(t.Value) + `"`
		switch {
		case t.Language != "":
			return q + "@" + t.Language
		case t.Datatype != "":
			return q + "^^<" + t.Datatype + ">"
		}
		return q
	}
	return fmt.Sprintf("?invalid(%d)", t.Kind)
}

// CompareTerms orders by kind, then value, language and datatype.
func CompareTerms(a, b Term) int {
	for _, c := range [...]int{
		cmp.Compare(a.Kind, b.Kind),
		strings.Compare(a.Value, b.Value),
		strings.Compare(a.Language, b.Language),
		strings.Compare(a.Datatype, b.Datatype),
	} {
		if c != 0 {
			return c
		}
	}
	return 0
}

// Term discriminants. Frequent language tags and XSD datatypes collapse into
// the discriminant byte itself.
const (
	termBlank     uint8 = 0x01
	termIRI       uint8 = 0x02
	termPlain     uint8 = 0x03
	termLangAny   uint8 = 0x04
	termTypedAny  uint8 = 0x05
	termLangBase  uint8 = 0x10
	termTypedBase uint8 = 0x30
)

var commonLanguages = []string{"en", "en-US", "en-GB", "de", "es", "fr", "it", "ja", "zh"}

var commonDatatypes = []string{
	xsd + "string",
	xsd + "integer",
	xsd + "decimal",
	xsd + "double",
	xsd + "float",
	xsd + "boolean",
	xsd + "date",
	xsd + "dateTime",
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

type TermCodec struct{}

func (TermCodec) TypeCode() uint16 { return TypeTerm }

func (TermCodec) Size(t Term) int {
	size := 1 + stringSize(t.Value)
	if t.Kind != KindLiteral {
		return size
	}
	switch {
	case t.Language != "":
		if indexOf(commonLanguages, t.Language) < 0 {
			size += stringSize(t.Language)
		}
	case t.Datatype != "":
		if indexOf(commonDatatypes, t.Datatype) < 0 {
			size += stringSize(t.Datatype)
		}
	}
	return size
}

func (c TermCodec) Encode(w *Writer, t Term) error {
	var disc uint8
	var extra string
	switch t.Kind {
	case KindBlank:
		disc = termBlank
	case KindIRI:
		disc = termIRI
	case KindLiteral:
		if t.Language != "" && t.Datatype != "" {
			return fmt.Errorf("%w: literal has both language %q and datatype %q", dberror.ErrSerialization, t.Language, t.Datatype)
		}
		switch {
		case t.Language != "":
			if i := indexOf(commonLanguages, t.Language); i >= 0 {
				disc = termLangBase + uint8(i)
			} else {
				disc, extra = termLangAny, t.Language
			}
		case t.Datatype != "":
			if i := indexOf(commonDatatypes, t.Datatype); i >= 0 {
				disc = termTypedBase + uint8(i)
			} else {
				disc, extra = termTypedAny, t.Datatype
			}
		default:
			disc = termPlain
		}
	default:
		return fmt.Errorf("%w: unknown term kind %d", dberror.ErrSerialization, t.Kind)
	}
	if err := w.Reserve(c.Size(t)); err != nil {
		return err
	}
	_ = w.PutUint8(disc)
	if err := putString(w, t.Value); err != nil {
		return err
	}
	if extra != "" {
		return putString(w, extra)
	}
	return nil
}

func (TermCodec) Decode(r *Reader) (Term, error) {
	disc, err := r.Uint8()
	if err != nil {
		return Term{}, err
	}
	value, err := readString(r)
	if err != nil {
		return Term{}, err
	}
	switch {
	case disc == termBlank:
		return NewBlank(value), nil
	case disc == termIRI:
		return NewIRI(value), nil
	case disc == termPlain:
		return NewLiteral(value), nil
	case disc == termLangAny, disc == termTypedAny:
		extra, err := readString(r)
		if err != nil {
			return Term{}, err
		}
		if disc == termLangAny {
			return NewLangLiteral(value, extra), nil
		}
		return NewTypedLiteral(value, extra), nil
	case disc >= termLangBase && int(disc-termLangBase) < len(commonLanguages):
		return NewLangLiteral(value, commonLanguages[disc-termLangBase]), nil
	case disc >= termTypedBase && int(disc-termTypedBase) < len(commonDatatypes):
		return NewTypedLiteral(value, commonDatatypes[disc-termTypedBase]), nil
	}
	return Term{}, fmt.Errorf("%w: unknown term discriminant 0x%02x", dberror.ErrDeserialization, disc)
}

// ParseTerm accepts the N-Triples forms produced by Term.String, without
// escapes beyond \" and \\.
func ParseTerm(s string) (Term, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "_:"):
		return NewBlank(s[2:]), nil
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		return NewIRI(s[1 : len(s)-1]), nil
	case strings.HasPrefix(s, `"`):
		end := strings.LastIndex(s, `"`)
		if end == 0 {
			break
		}
		value := strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, "\n").Replace(s[1:end])
		rest := s[end+1:]
		switch {
		case rest == "":
			return NewLiteral(value), nil
		case strings.HasPrefix(rest, "@"):
			return NewLangLiteral(value, rest[1:]), nil
		case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
			return NewTypedLiteral(value, rest[3:len(rest)-1]), nil
		}
	}
	return Term{}, fmt.Errorf("%w: cannot parse term %q", dberror.ErrSerialization, s)
}
