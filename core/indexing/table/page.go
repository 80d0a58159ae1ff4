package table

import (
	"errors"
	"fmt"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// Table page header: cookie(4) version(8) type pair(4) previous page(4)
// pair count(4).
const pageHeaderSize = 4 + 8 + 4 + 4 + 4

// page is one link of the chain. Pairs are sorted within the page only.
type page[K, V any] struct {
	version  pagemanager.Version
	tag      uint32
	previous pagemanager.PageID
	cfg      *btree.Config[K, V]
	keys     []K
	values   []V
	size     int
}

func (p *page[K, V]) Cookie() uint32      { return pagemanager.CookieTable }
func (p *page[K, V]) SerializedSize() int { return pageHeaderSize + p.size }

func (p *page[K, V]) Serialize(w *codec.Writer) error {
	if err := w.Reserve(pageHeaderSize); err != nil {
		return &dberror.PageOverflowError{}
	}
	_ = w.PutUint32(pagemanager.CookieTable)
	_ = w.PutUint64(uint64(p.version))
	_ = w.PutUint32(p.tag)
	_ = w.PutUint32(uint32(p.previous))
	_ = w.PutUint32(uint32(len(p.keys)))
	for i := range p.keys {
		if err := p.cfg.Keys.Encode(w, p.keys[i]); err != nil {
			return overflowAt(err, i)
		}
		if err := p.cfg.Values.Encode(w, p.values[i]); err != nil {
			return overflowAt(err, i)
		}
	}
	return nil
}

func overflowAt(err error, written int) error {
	if errors.Is(err, dberror.ErrSpaceOverflow) {
		return &dberror.PageOverflowError{Written: written}
	}
	return err
}

type pageHeader struct {
	cookie   uint32
	version  pagemanager.Version
	tag      uint32
	previous pagemanager.PageID
	count    uint32
}

func readPageHeader(r *codec.Reader) (pageHeader, error) {
	var h pageHeader
	var err error
	if h.cookie, err = r.Uint32(); err != nil {
		return h, err
	}
	if h.cookie != pagemanager.CookieTable {
		return h, fmt.Errorf("%w: page cookie %s is not a table page", dberror.ErrData, pagemanager.CookieName(h.cookie))
	}
	v, err := r.Uint64()
	if err != nil {
		return h, err
	}
	h.version = pagemanager.Version(v)
	if h.tag, err = r.Uint32(); err != nil {
		return h, err
	}
	prev, err := r.Uint32()
	if err != nil {
		return h, err
	}
	h.previous = pagemanager.PageID(prev)
	h.count, err = r.Uint32()
	return h, err
}

func decodePage[K, V any](cfg *btree.Config[K, V], tag uint32, buf []byte) (pagemanager.PageObject, error) {
	r := codec.NewReader(buf)
	h, err := readPageHeader(r)
	if err != nil {
		return nil, err
	}
	if h.tag != tag {
		return nil, fmt.Errorf("%w: table page type pair 0x%08x, want 0x%08x", dberror.ErrData, h.tag, tag)
	}
	capHint := min(int(h.count), len(buf))
	p := &page[K, V]{
		version:  h.version,
		tag:      h.tag,
		previous: h.previous,
		cfg:      cfg,
		keys:     make([]K, 0, capHint),
		values:   make([]V, 0, capHint),
	}
	for i := uint32(0); i < h.count; i++ {
		k, err := cfg.Keys.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("table pair %d key: %w", i, err)
		}
		v, err := cfg.Values.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("table pair %d value: %w", i, err)
		}
		p.keys = append(p.keys, k)
		p.values = append(p.values, v)
	}
	p.size = r.Offset() - pageHeaderSize
	return p, nil
}
