// Package table implements an append-only chain of pages for small metadata
// tables. The newest page is the head, registered under the table's name;
// each page links to the page written before it. Lookups scan every page.
package table

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

// Table is a handle on a named chain within one transaction.
type Table[K, V any] struct {
	m      pagefile.Mediator
	name   string
	cfg    *btree.Config[K, V]
	tag    uint32
	logger *zap.Logger
}

func newHandle[K, V any](m pagefile.Mediator, name string, cfg btree.Config[K, V]) (*Table[K, V], error) {
	if cfg.Keys == nil || cfg.Values == nil || cfg.Compare == nil {
		return nil, fmt.Errorf("%w: table config needs key and value codecs and a key order", dberror.ErrInvariant)
	}
	return &Table[K, V]{
		m:      m,
		name:   name,
		cfg:    &cfg,
		tag:    codec.TypePair(cfg.Keys.TypeCode(), cfg.Values.TypeCode()),
		logger: m.Logger().With(zap.String("table", name)),
	}, nil
}

// Create registers name with a single empty page.
func Create[K, V any](m pagefile.Mediator, name string, cfg btree.Config[K, V]) (*Table[K, V], error) {
	t, err := newHandle(m, name, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := m.GetRoot(name); err == nil {
		return nil, fmt.Errorf("%w: %q", dberror.ErrRootExists, name)
	}
	if err := t.Append(nil, true); err != nil {
		return nil, err
	}
	return t, nil
}

// Open checks that name's head page is a table page with cfg's type pair.
func Open[K, V any](m pagefile.Mediator, name string, cfg btree.Config[K, V]) (*Table[K, V], error) {
	t, err := newHandle(m, name, cfg)
	if err != nil {
		return nil, err
	}
	head, err := m.GetRoot(name)
	if err != nil {
		return nil, err
	}
	if _, err := t.readPage(head); err != nil {
		return nil, fmt.Errorf("open table %q: %w", name, err)
	}
	return t, nil
}

// OpenOrCreate opens name, creating it if it is not registered.
func OpenOrCreate[K, V any](m pagefile.Mediator, name string, cfg btree.Config[K, V]) (*Table[K, V], error) {
	t, err := Open(m, name, cfg)
	if errors.Is(err, dberror.ErrKeyNotFound) {
		return Create(m, name, cfg)
	}
	return t, err
}

func (t *Table[K, V]) Name() string    { return t.name }
func (t *Table[K, V]) TypeTag() uint32 { return t.tag }

func (t *Table[K, V]) decode(buf []byte) (pagemanager.PageObject, error) {
	return decodePage(t.cfg, t.tag, buf)
}

func (t *Table[K, V]) readPage(pid pagemanager.PageID) (*page[K, V], error) {
	p, _, err := pagefile.ReadPage[*page[K, V]](t.m, pid, t.decode)
	return p, err
}

// head returns the newest page, or InvalidPageID when name is unregistered.
func (t *Table[K, V]) head() (pagemanager.PageID, bool, error) {
	pid, err := t.m.GetRoot(t.name)
	if errors.Is(err, dberror.ErrKeyNotFound) {
		return pagemanager.InvalidPageID, false, nil
	}
	return pid, err == nil, err
}

// Append writes pairs to new pages in front of the chain. Each page is filled
// to capacity and sorted by key. With force, a page is written even when pairs
// is empty.
func (t *Table[K, V]) Append(pairs []btree.Pair[K, V], force bool) error {
	w, err := pagefile.Writable(t.m)
	if err != nil {
		return err
	}
	capacity := t.m.PageSize() - pageHeaderSize
	sizes := make([]int, len(pairs))
	for i, p := range pairs {
		sizes[i] = t.cfg.Keys.Size(p.Key) + t.cfg.Values.Size(p.Value)
		if sizes[i] > capacity {
			return fmt.Errorf("%w: pair %d of %d bytes cannot fit a %d-byte table page", dberror.ErrSerialization, i, sizes[i], t.m.PageSize())
		}
		if err := t.cfg.CheckEncodable(p.Key, p.Value, capacity); err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
	}
	if len(pairs) == 0 && !force {
		return nil
	}

	head, registered, err := t.head()
	if err != nil {
		return err
	}
	written := 0
	for start := 0; start < len(pairs) || written == 0; written++ {
		p := &page[K, V]{
			version:  w.Version(),
			tag:      t.tag,
			previous: head,
			cfg:      t.cfg,
		}
		end := start
		for end < len(pairs) && p.size+sizes[end] <= capacity {
			p.size += sizes[end]
			end++
		}
		batch := slices.Clone(pairs[start:end])
		slices.SortStableFunc(batch, func(a, b btree.Pair[K, V]) int { return t.cfg.Compare(a.Key, b.Key) })
		for _, pair := range batch {
			p.keys = append(p.keys, pair.Key)
			p.values = append(p.values, pair.Value)
		}
		if head, err = w.CreatePage(p); err != nil {
			return err
		}
		start = end
	}

	if registered {
		err = w.UpdateRoot(t.name, head)
	} else {
		err = w.AddRoot(t.name, head)
	}
	if err != nil {
		return err
	}
	t.logger.Debug("appended to table",
		zap.Int("pairs", len(pairs)),
		zap.Int("pages", written),
		zap.Uint32("head", uint32(head)))
	return nil
}

// Walk calls fn for every pair, newest page first, until fn returns false.
func (t *Table[K, V]) Walk(fn func(k K, v V) bool) error {
	pid, ok, err := t.head()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: table %q", dberror.ErrKeyNotFound, t.name)
	}
	for pid != pagemanager.InvalidPageID {
		p, err := t.readPage(pid)
		if err != nil {
			return err
		}
		for i := range p.keys {
			if !fn(p.keys[i], p.values[i]) {
				return nil
			}
		}
		pid = p.previous
	}
	return nil
}

// Get scans the whole chain for pairs with key k.
func (t *Table[K, V]) Get(k K) ([]V, error) {
	var values []V
	err := t.Walk(func(key K, v V) bool {
		if t.cfg.Compare(key, k) == 0 {
			values = append(values, v)
		}
		return true
	})
	return values, err
}

// Pairs collects every pair in chain order.
func (t *Table[K, V]) Pairs() ([]btree.Pair[K, V], error) {
	var out []btree.Pair[K, V]
	err := t.Walk(func(k K, v V) bool {
		out = append(out, btree.Pair[K, V]{Key: k, Value: v})
		return true
	})
	return out, err
}

// Count is the number of pairs across the chain.
func (t *Table[K, V]) Count() (uint64, error) {
	var n uint64
	err := t.Walk(func(K, V) bool {
		n++
		return true
	})
	return n, err
}

// Pages lists the chain's pages, newest first.
func (t *Table[K, V]) Pages() ([]pagemanager.PageID, error) {
	pid, ok, err := t.head()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: table %q", dberror.ErrKeyNotFound, t.name)
	}
	var pages []pagemanager.PageID
	for pid != pagemanager.InvalidPageID {
		p, err := t.readPage(pid)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pid)
		pid = p.previous
	}
	return pages, nil
}

// OpenDynamic opens a table whose types are only known from the type pair in
// its head page.
func OpenDynamic(m pagefile.Mediator, name string) (*Table[any, any], error) {
	pid, err := m.GetRoot(name)
	if err != nil {
		return nil, err
	}
	raw, err := m.RawPage(pid)
	if err != nil {
		return nil, err
	}
	h, err := readPageHeader(codec.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: head of %q: %w", dberror.ErrData, name, err)
	}
	keys, values, err := codec.LookupPair(h.tag)
	if err != nil {
		return nil, err
	}
	return Open(m, name, btree.Config[any, any]{
		Keys:    keys.AsCodec(),
		Values:  values.AsCodec(),
		Compare: keys.Compare,
	})
}
