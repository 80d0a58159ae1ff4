package btree

import (
	"fmt"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

// Stats describes the shape of a tree.
type Stats struct {
	Depth         int    `json:"depth"`
	LeafPages     int    `json:"leaf_pages"`
	InternalPages int    `json:"internal_pages"`
	Pairs         uint64 `json:"pairs"`
	BytesUsed     int64  `json:"bytes_used"`
	PageSize      int    `json:"page_size"`
	TypeTag       uint32 `json:"type_tag"`
}

// FillRatio is the share of allocated page bytes holding node content.
func (s Stats) FillRatio() float64 {
	pages := s.LeafPages + s.InternalPages
	if pages == 0 || s.PageSize == 0 {
		return 0
	}
	return float64(s.BytesUsed) / float64(pages*s.PageSize)
}

// Stats visits every node of the tree.
func (t *BTree[K, V]) Stats() (Stats, error) {
	st := Stats{PageSize: t.m.PageSize(), TypeTag: t.cfg.tag()}
	level := []pagemanager.PageID{t.root}
	for len(level) > 0 {
		st.Depth++
		var next []pagemanager.PageID
		for _, pid := range level {
			n, _, err := t.readNode(pid)
			if err != nil {
				return st, err
			}
			st.BytesUsed += int64(n.SerializedSize())
			switch n := n.(type) {
			case *leaf[K, V]:
				st.LeafPages++
				st.Pairs += n.total()
			case *internal[K]:
				st.InternalPages++
				next = append(next, n.children...)
			}
		}
		level = next
	}
	return st, nil
}

// Check verifies the structural invariants of every node: key order within
// nodes, parent keys equal to child maxima, aggregate counts and node sizes.
func (t *BTree[K, V]) Check() error {
	_, _, err := t.check(t.root)
	return err
}

func (t *BTree[K, V]) check(pid pagemanager.PageID) (K, uint64, error) {
	var zero K
	n, _, err := t.readNode(pid)
	if err != nil {
		return zero, 0, err
	}
	if n.SerializedSize() > t.m.PageSize() {
		return zero, 0, dberror.Invariantf("page %d holds %d bytes, page size is %d", pid, n.SerializedSize(), t.m.PageSize())
	}
	switch n := n.(type) {
	case *leaf[K, V]:
		for i := 1; i < len(n.keys); i++ {
			if t.cfg.Compare(n.keys[i-1], n.keys[i]) > 0 {
				return zero, 0, dberror.Invariantf("leaf %d keys out of order at %d", pid, i)
			}
		}
		if len(n.keys) == 0 {
			return zero, 0, nil
		}
		return n.keys[len(n.keys)-1], n.total(), nil
	case *internal[K]:
		var total uint64
		for i, child := range n.children {
			childMax, childTotal, err := t.check(child)
			if err != nil {
				return zero, 0, err
			}
			if t.cfg.Compare(childMax, n.keys[i]) != 0 {
				return zero, 0, dberror.Invariantf("internal %d entry %d does not match its child's max key", pid, i)
			}
			if i > 0 && t.cfg.Compare(n.keys[i-1], n.keys[i]) > 0 {
				return zero, 0, dberror.Invariantf("internal %d keys out of order at %d", pid, i)
			}
			total += childTotal
		}
		if total != n.totalCount {
			return zero, 0, dberror.Invariantf("internal %d total %d, children hold %d", pid, n.totalCount, total)
		}
		return n.keys[len(n.keys)-1], total, nil
	}
	return zero, 0, dberror.Invariantf("unexpected node type %T", n)
}

// OpenDynamic opens a tree whose key and value types are only known from the
// type pair recorded in its root page.
func OpenDynamic(m pagefile.Mediator, name string) (*BTree[any, any], error) {
	pid, err := m.GetRoot(name)
	if err != nil {
		return nil, err
	}
	raw, err := m.RawPage(pid)
	if err != nil {
		return nil, err
	}
	h, err := readNodeHeader(codec.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: root of %q: %w", dberror.ErrData, name, err)
	}
	if h.cookie != pagemanager.CookieTreeLeaf && h.cookie != pagemanager.CookieTreeInternal {
		return nil, fmt.Errorf("%w: root of %q is a %s page", dberror.ErrData, name, pagemanager.CookieName(h.cookie))
	}
	keys, values, err := codec.LookupPair(h.tag)
	if err != nil {
		return nil, err
	}
	return Open(m, name, Config[any, any]{
		Keys:    keys.AsCodec(),
		Values:  values.AsCodec(),
		Compare: keys.Compare,
	})
}
