package btree

import (
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// frame is one internal node on the path from the root to the current leaf,
// with the index of the child being visited.
type frame[K any] struct {
	node *internal[K]
	idx  int
}

// Iterator walks pairs in ascending key order. It keeps the full ancestor path
// so that moving to the next leaf never restarts from the root.
//
//	it, err := tree.Seek(k)
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	err = it.Err()
type Iterator[K, V any] struct {
	t       *BTree[K, V]
	path    []frame[K]
	leaf    *leaf[K, V]
	idx     int
	started bool
	done    bool
	err     error
}

// Iterator is positioned before the smallest pair.
func (t *BTree[K, V]) Iterator() (*Iterator[K, V], error) {
	it := &Iterator[K, V]{t: t}
	if err := it.minPath(t.root); err != nil {
		return nil, err
	}
	return it, nil
}

// Seek is positioned before the first pair whose key is >= k.
func (t *BTree[K, V]) Seek(k K) (*Iterator[K, V], error) {
	it := &Iterator[K, V]{t: t}
	if err := it.seekPath(k); err != nil {
		return nil, err
	}
	return it, nil
}

// Last is positioned before the largest pair; the first Next yields it and
// the second ends the iteration.
func (t *BTree[K, V]) Last() (*Iterator[K, V], error) {
	it := &Iterator[K, V]{t: t}
	if err := it.maxPath(t.root); err != nil {
		return nil, err
	}
	return it, nil
}

// Next advances to the next pair and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
	} else {
		it.idx++
	}
	for it.leaf == nil || it.idx >= len(it.leaf.keys) {
		ok, err := it.advanceLeaf()
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			it.done = true
			return false
		}
	}
	return true
}

func (it *Iterator[K, V]) Key() K   { return it.leaf.keys[it.idx] }
func (it *Iterator[K, V]) Value() V { return it.leaf.values[it.idx] }

// Err is the first error met while moving between pages.
func (it *Iterator[K, V]) Err() error { return it.err }

// descend follows child idx of every internal node, chosen by pick, until it
// reaches a leaf. The visited internal nodes are pushed on the path.
func (it *Iterator[K, V]) descend(pid pagemanager.PageID, pick func(n *internal[K]) (int, bool)) error {
	for {
		n, _, err := it.t.readNode(pid)
		if err != nil {
			return err
		}
		switch n := n.(type) {
		case *leaf[K, V]:
			it.leaf = n
			return nil
		case *internal[K]:
			idx, ok := pick(n)
			if !ok {
				// every key is below the target: nothing to visit here
				it.path = append(it.path, frame[K]{node: n, idx: len(n.children) - 1})
				it.leaf = nil
				return nil
			}
			it.path = append(it.path, frame[K]{node: n, idx: idx})
			pid = n.children[idx]
		default:
			return dberror.Invariantf("unexpected node type %T", n)
		}
	}
}

// minPath builds the left-most spine under pid.
func (it *Iterator[K, V]) minPath(pid pagemanager.PageID) error {
	it.idx = 0
	return it.descend(pid, func(*internal[K]) (int, bool) { return 0, true })
}

// maxPath builds the right-most spine under pid and points at the last pair.
func (it *Iterator[K, V]) maxPath(pid pagemanager.PageID) error {
	err := it.descend(pid, func(n *internal[K]) (int, bool) { return len(n.children) - 1, true })
	if err != nil {
		return err
	}
	it.idx = len(it.leaf.keys) - 1
	if it.idx < 0 {
		it.idx = 0
	}
	return nil
}

// seekPath descends into the first child whose max key is >= k.
func (it *Iterator[K, V]) seekPath(k K) error {
	order := it.t.cfg.Compare
	err := it.descend(it.t.root, func(n *internal[K]) (int, bool) {
		for i, childMax := range n.keys {
			if order(childMax, k) >= 0 {
				return i, true
			}
		}
		return 0, false
	})
	if err != nil || it.leaf == nil {
		return err
	}
	it.idx = len(it.leaf.keys)
	for i, key := range it.leaf.keys {
		if order(key, k) >= 0 {
			it.idx = i
			break
		}
	}
	return nil
}

// advanceLeaf pops ancestors until one has an unvisited next child, then
// descends that child's left-most spine.
func (it *Iterator[K, V]) advanceLeaf() (bool, error) {
	for len(it.path) > 0 {
		top := &it.path[len(it.path)-1]
		if top.idx+1 < len(top.node.children) {
			top.idx++
			if err := it.minPath(top.node.children[top.idx]); err != nil {
				return false, err
			}
			return true, nil
		}
		it.path = it.path[:len(it.path)-1]
	}
	it.leaf = nil
	return false, nil
}
