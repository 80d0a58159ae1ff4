// Package btree implements an insert-only, copy-on-write B+-tree stored in the
// pages of a pagefile.Store. A tree is reached through a named root in the
// store's root registry and is only valid for the transaction it was opened
// in.
package btree

import (
	"cmp"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

// Order defines the key ordering: negative if a < b, zero if equal, positive
// if a > b.
type Order[K any] func(a, b K) int

// DefaultKeyOrder orders any cmp.Ordered key.
func DefaultKeyOrder[K cmp.Ordered](a, b K) int {
	return cmp.Compare(a, b)
}

// Config binds the key and value codecs and the key order of a tree.
type Config[K, V any] struct {
	Keys    codec.Codec[K]
	Values  codec.Codec[V]
	Compare Order[K]
}

func (c *Config[K, V]) tag() uint32 {
	return codec.TypePair(c.Keys.TypeCode(), c.Values.TypeCode())
}

func (c *Config[K, V]) validate() error {
	if c.Keys == nil || c.Values == nil || c.Compare == nil {
		return fmt.Errorf("%w: tree config needs key and value codecs and a key order", dberror.ErrInvariant)
	}
	return nil
}

// CheckEncodable encodes k and v into a scratch buffer of budget bytes. Sizes
// alone do not catch values a codec refuses, such as strings that are not
// valid UTF-8.
func (c *Config[K, V]) CheckEncodable(k K, v V, budget int) error {
	w := codec.NewWriter(make([]byte, budget))
	if err := c.Keys.Encode(w, k); err != nil {
		return fmt.Errorf("%w: key: %w", dberror.ErrSerialization, err)
	}
	if err := c.Values.Encode(w, v); err != nil {
		return fmt.Errorf("%w: value: %w", dberror.ErrSerialization, err)
	}
	return nil
}

// Pair is one key/value entry.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// BTree is a handle on a named tree within one transaction.
type BTree[K, V any] struct {
	m      pagefile.Mediator
	name   string
	cfg    *Config[K, V]
	root   pagemanager.PageID
	logger *zap.Logger
}

func newHandle[K, V any](m pagefile.Mediator, name string, cfg Config[K, V]) (*BTree[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BTree[K, V]{
		m:      m,
		name:   name,
		cfg:    &cfg,
		logger: m.Logger().With(zap.String("tree", name)),
	}, nil
}

// Open resolves name in the root registry and checks that its root page is a
// tree node with cfg's type pair.
func Open[K, V any](m pagefile.Mediator, name string, cfg Config[K, V]) (*BTree[K, V], error) {
	t, err := newHandle(m, name, cfg)
	if err != nil {
		return nil, err
	}
	t.root, err = m.GetRoot(name)
	if err != nil {
		return nil, err
	}
	if _, _, err := t.readNode(t.root); err != nil {
		return nil, fmt.Errorf("open tree %q: %w", name, err)
	}
	return t, nil
}

// OpenOrCreate opens name, creating an empty tree if it is not registered.
func OpenOrCreate[K, V any](m pagefile.Mediator, name string, cfg Config[K, V]) (*BTree[K, V], error) {
	t, err := Open(m, name, cfg)
	if errors.Is(err, dberror.ErrKeyNotFound) {
		return Create[K, V](m, name, cfg, nil)
	}
	return t, err
}

// Name is the tree's root registry name.
func (t *BTree[K, V]) Name() string { return t.name }

// Root is the tree's current root page.
func (t *BTree[K, V]) Root() pagemanager.PageID { return t.root }

// TypeTag is the key/value type pair written into every node.
func (t *BTree[K, V]) TypeTag() uint32 { return t.cfg.tag() }

func (t *BTree[K, V]) decode(buf []byte) (pagemanager.PageObject, error) {
	return decodeNode(t.cfg, buf)
}

func (t *BTree[K, V]) readNode(pid pagemanager.PageID) (node, pagemanager.PageStatus, error) {
	obj, status, err := t.m.Page(pid, t.decode)
	if err != nil {
		return nil, status, err
	}
	if n, ok := asNode[K, V](obj); ok {
		return n, status, nil
	}
	// cached or staged by a handle with other Go types, e.g. OpenDynamic next
	// to a typed handle in the same transaction
	raw, err := t.m.RawPage(pid)
	if err != nil {
		return nil, status, err
	}
	if obj, err = t.decode(raw); err != nil {
		return nil, status, fmt.Errorf("%w: page %d: %w", dberror.ErrData, pid, err)
	}
	if n, ok := asNode[K, V](obj); ok {
		return n, status, nil
	}
	return nil, status, fmt.Errorf("%w: page %d holds %T, not a tree node", dberror.ErrData, pid, obj)
}

func asNode[K, V any](obj pagemanager.PageObject) (node, bool) {
	switch n := obj.(type) {
	case *leaf[K, V]:
		return n, true
	case *internal[K]:
		return n, true
	}
	return nil, false
}

// --- Lookup ---

// Get returns every value stored under k, in tree order. A missing key yields
// an empty slice.
func (t *BTree[K, V]) Get(k K) ([]V, error) {
	var values []V
	err := t.Walk(k, k, func(_ K, v V) bool {
		values = append(values, v)
		return true
	})
	return values, err
}

// Contains reports whether at least one pair has key k.
func (t *BTree[K, V]) Contains(k K) (bool, error) {
	found := false
	err := t.Walk(k, k, func(K, V) bool {
		found = true
		return false
	})
	return found, err
}

// MaxKey returns the largest key, or false for an empty tree.
func (t *BTree[K, V]) MaxKey() (K, bool, error) {
	it, err := t.Last()
	if err != nil {
		var zero K
		return zero, false, err
	}
	if !it.Next() {
		var zero K
		return zero, false, it.Err()
	}
	return it.Key(), true, nil
}

// MaxKeyIn returns the largest key k with lo <= k <= hi.
func (t *BTree[K, V]) MaxKeyIn(lo, hi K) (K, bool, error) {
	var zero K
	if t.cfg.Compare(lo, hi) > 0 {
		return zero, false, nil
	}
	return t.maxKeyIn(t.root, lo, hi)
}

func (t *BTree[K, V]) maxKeyIn(pid pagemanager.PageID, lo, hi K) (K, bool, error) {
	var zero K
	n, _, err := t.readNode(pid)
	if err != nil {
		return zero, false, err
	}
	switch n := n.(type) {
	case *leaf[K, V]:
		for i := len(n.keys) - 1; i >= 0; i-- {
			if t.cfg.Compare(n.keys[i], hi) > 0 {
				continue
			}
			if t.cfg.Compare(n.keys[i], lo) >= 0 {
				return n.keys[i], true, nil
			}
			break
		}
		return zero, false, nil
	case *internal[K]:
		for i := len(n.keys) - 1; i >= 0; i-- {
			childMax := n.keys[i]
			if t.cfg.Compare(childMax, lo) < 0 {
				break
			}
			if i > 0 && t.cfg.Compare(n.keys[i-1], hi) > 0 {
				continue
			}
			// the child's max is itself a key of the tree
			if t.cfg.Compare(childMax, hi) <= 0 {
				return childMax, true, nil
			}
			k, ok, err := t.maxKeyIn(n.children[i], lo, hi)
			if err != nil || ok {
				return k, ok, err
			}
		}
		return zero, false, nil
	}
	return zero, false, dberror.Invariantf("unexpected node type %T", n)
}

// Walk calls fn for every pair with lo <= key <= hi in ascending key order
// until fn returns false.
func (t *BTree[K, V]) Walk(lo, hi K, fn func(k K, v V) bool) error {
	it, err := t.Seek(lo)
	if err != nil {
		return err
	}
	for it.Next() {
		if t.cfg.Compare(it.Key(), hi) > 0 {
			break
		}
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Err()
}

// Scan calls fn for every pair in ascending key order until fn returns false.
func (t *BTree[K, V]) Scan(fn func(k K, v V) bool) error {
	it, err := t.Iterator()
	if err != nil {
		return err
	}
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Err()
}

// Pairs collects the whole tree in order.
func (t *BTree[K, V]) Pairs() ([]Pair[K, V], error) {
	var out []Pair[K, V]
	err := t.Scan(func(k K, v V) bool {
		out = append(out, Pair[K, V]{Key: k, Value: v})
		return true
	})
	return out, err
}

// Count is the number of pairs in the tree, read from the root's aggregate.
func (t *BTree[K, V]) Count() (uint64, error) {
	n, _, err := t.readNode(t.root)
	if err != nil {
		return 0, err
	}
	return n.total(), nil
}
