package btree

import (
	"errors"
	"fmt"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// --- BTree Node Serialization/Deserialization ---

// Node header: cookie(4) version(8) type pair(4) unused(4) total count(8)
// pair count(4). Pairs follow in ascending key order.
const nodeHeaderSize = 4 + 8 + 4 + 4 + 8 + 4

// childRefSize is the encoded size of a child page id in an internal node.
const childRefSize = 4

// node is either *leaf[K, V] or *internal[K].
type node interface {
	pagemanager.PageObject
	total() uint64
	count() int
}

// leaf holds (key, value) pairs in non-decreasing key order.
type leaf[K, V any] struct {
	version pagemanager.Version
	cfg     *Config[K, V]
	keys    []K
	values  []V
	size    int // encoded bytes of all pairs
}

func (l *leaf[K, V]) Cookie() uint32      { return pagemanager.CookieTreeLeaf }
func (l *leaf[K, V]) SerializedSize() int { return nodeHeaderSize + l.size }
func (l *leaf[K, V]) total() uint64       { return uint64(len(l.keys)) }
func (l *leaf[K, V]) count() int          { return len(l.keys) }

func (l *leaf[K, V]) Serialize(w *codec.Writer) error {
	if err := putNodeHeader(w, pagemanager.CookieTreeLeaf, l.version, l.cfg.tag(), l.total(), len(l.keys)); err != nil {
		return err
	}
	for i := range l.keys {
		if err := l.cfg.Keys.Encode(w, l.keys[i]); err != nil {
			return overflowAt(err, i)
		}
		if err := l.cfg.Values.Encode(w, l.values[i]); err != nil {
			return overflowAt(err, i)
		}
	}
	return nil
}

func (l *leaf[K, V]) clone() *leaf[K, V] {
	return &leaf[K, V]{
		version: l.version,
		cfg:     l.cfg,
		keys:    append([]K(nil), l.keys...),
		values:  append([]V(nil), l.values...),
		size:    l.size,
	}
}

// internal holds (max key of child, child page) entries. Child i covers keys
// in [keys[i-1], keys[i]]; the lower bound is inclusive because equal keys
// may straddle a split.
type internal[K any] struct {
	version    pagemanager.Version
	tag        uint32
	keyCodec   codec.Codec[K]
	keys       []K
	children   []pagemanager.PageID
	totalCount uint64
	size       int
}

func (n *internal[K]) Cookie() uint32      { return pagemanager.CookieTreeInternal }
func (n *internal[K]) SerializedSize() int { return nodeHeaderSize + n.size }
func (n *internal[K]) total() uint64       { return n.totalCount }
func (n *internal[K]) count() int          { return len(n.keys) }

func (n *internal[K]) Serialize(w *codec.Writer) error {
	if err := putNodeHeader(w, pagemanager.CookieTreeInternal, n.version, n.tag, n.totalCount, len(n.keys)); err != nil {
		return err
	}
	for i := range n.keys {
		if err := n.keyCodec.Encode(w, n.keys[i]); err != nil {
			return overflowAt(err, i)
		}
		if err := w.PutUint32(uint32(n.children[i])); err != nil {
			return overflowAt(err, i)
		}
	}
	return nil
}

func (n *internal[K]) clone() *internal[K] {
	c := *n
	c.keys = append([]K(nil), n.keys...)
	c.children = append([]pagemanager.PageID(nil), n.children...)
	return &c
}

func putNodeHeader(w *codec.Writer, cookie uint32, version pagemanager.Version, tag uint32, total uint64, count int) error {
	if err := w.Reserve(nodeHeaderSize); err != nil {
		return &dberror.PageOverflowError{}
	}
	_ = w.PutUint32(cookie)
	_ = w.PutUint64(uint64(version))
	_ = w.PutUint32(tag)
	_ = w.PutUint32(0)
	_ = w.PutUint64(total)
	return w.PutUint32(uint32(count))
}

func overflowAt(err error, written int) error {
	if errors.Is(err, dberror.ErrSpaceOverflow) {
		return &dberror.PageOverflowError{Written: written}
	}
	return err
}

// nodeHeader is the decoded fixed part of a node page.
type nodeHeader struct {
	cookie  uint32
	version pagemanager.Version
	tag     uint32
	total   uint64
	count   uint32
}

func readNodeHeader(r *codec.Reader) (nodeHeader, error) {
	var h nodeHeader
	var err error
	if h.cookie, err = r.Uint32(); err != nil {
		return h, err
	}
	v, err := r.Uint64()
	if err != nil {
		return h, err
	}
	h.version = pagemanager.Version(v)
	if h.tag, err = r.Uint32(); err != nil {
		return h, err
	}
	if _, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.total, err = r.Uint64(); err != nil {
		return h, err
	}
	h.count, err = r.Uint32()
	return h, err
}

// decodeNode parses a tree page written with cfg's codecs.
func decodeNode[K, V any](cfg *Config[K, V], buf []byte) (pagemanager.PageObject, error) {
	r := codec.NewReader(buf)
	h, err := readNodeHeader(r)
	if err != nil {
		return nil, err
	}
	if h.tag != cfg.tag() {
		return nil, fmt.Errorf("%w: tree page type pair 0x%08x, want 0x%08x", dberror.ErrData, h.tag, cfg.tag())
	}

	// bound preallocation by what the page could hold
	capHint := min(int(h.count), len(buf))

	switch h.cookie {
	case pagemanager.CookieTreeLeaf:
		l := &leaf[K, V]{
			version: h.version,
			cfg:     cfg,
			keys:    make([]K, 0, capHint),
			values:  make([]V, 0, capHint),
		}
		for i := uint32(0); i < h.count; i++ {
			k, err := cfg.Keys.Decode(r)
			if err != nil {
				return nil, fmt.Errorf("leaf pair %d key: %w", i, err)
			}
			v, err := cfg.Values.Decode(r)
			if err != nil {
				return nil, fmt.Errorf("leaf pair %d value: %w", i, err)
			}
			l.keys = append(l.keys, k)
			l.values = append(l.values, v)
		}
		l.size = r.Offset() - nodeHeaderSize
		return l, nil

	case pagemanager.CookieTreeInternal:
		if h.count == 0 {
			return nil, fmt.Errorf("%w: internal node without children", dberror.ErrData)
		}
		n := &internal[K]{
			version:    h.version,
			tag:        h.tag,
			keyCodec:   cfg.Keys,
			keys:       make([]K, 0, capHint),
			children:   make([]pagemanager.PageID, 0, capHint),
			totalCount: h.total,
		}
		for i := uint32(0); i < h.count; i++ {
			k, err := cfg.Keys.Decode(r)
			if err != nil {
				return nil, fmt.Errorf("internal entry %d key: %w", i, err)
			}
			child, err := r.Uint32()
			if err != nil {
				return nil, fmt.Errorf("internal entry %d child: %w", i, err)
			}
			n.keys = append(n.keys, k)
			n.children = append(n.children, pagemanager.PageID(child))
		}
		n.size = r.Offset() - nodeHeaderSize
		return n, nil
	}
	return nil, fmt.Errorf("%w: page cookie %s is not a tree node", dberror.ErrData, pagemanager.CookieName(h.cookie))
}
