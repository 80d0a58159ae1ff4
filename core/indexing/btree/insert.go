package btree

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

// pointer is a reference to a (new or rewritten) child handed to the level
// above.
type pointer[K any] struct {
	max   K
	pid   pagemanager.PageID
	total uint64
}

// step records one ancestor visited on the way down to the target leaf.
type step[K any] struct {
	node   *internal[K]
	pid    pagemanager.PageID
	status pagemanager.PageStatus
	idx    int
}

// Add inserts (k, v). Equal keys are kept; a new pair goes after existing
// pairs with the same key. Pages already written by this transaction are
// modified in place, clean pages are copied to new pages.
func (t *BTree[K, V]) Add(k K, v V) error {
	w, err := pagefile.Writable(t.m)
	if err != nil {
		return err
	}
	if err := t.checkPairFits(k, v); err != nil {
		return err
	}

	var path []step[K]
	pid := t.root
	var target *leaf[K, V]
	var leafStatus pagemanager.PageStatus
	for target == nil {
		n, status, err := t.readNode(pid)
		if err != nil {
			return err
		}
		switch n := n.(type) {
		case *leaf[K, V]:
			target, leafStatus = n, status
		case *internal[K]:
			idx := t.childFor(n, k)
			path = append(path, step[K]{node: n, pid: pid, status: status, idx: idx})
			pid = n.children[idx]
		default:
			return dberror.Invariantf("unexpected node type %T", n)
		}
	}

	ptrs, err := t.insertIntoLeaf(w, target, pid, leafStatus, k, v)
	if err != nil {
		return err
	}
	for i := len(path) - 1; i >= 0; i-- {
		if ptrs, err = t.spliceInternal(w, path[i], ptrs); err != nil {
			return err
		}
	}

	root := ptrs[0].pid
	if len(ptrs) > 1 {
		if root, err = t.buildLevels(w, ptrs); err != nil {
			return err
		}
		t.logger.Debug("tree grew a level", zap.Uint32("root", uint32(root)), zap.Int("depth", len(path)+2))
	}
	if err := w.UpdateRoot(t.name, root); err != nil {
		return err
	}
	t.root = root
	return nil
}

// checkPairFits rejects pairs that could never be stored: a leaf must hold
// the pair alone, an internal node must hold two keys, and both codecs must
// accept the values.
func (t *BTree[K, V]) checkPairFits(k K, v V) error {
	pageSize := t.m.PageSize()
	ks, vs := t.cfg.Keys.Size(k), t.cfg.Values.Size(v)
	if nodeHeaderSize+ks+vs > pageSize {
		return fmt.Errorf("%w: pair of %d bytes cannot fit a %d-byte page", dberror.ErrSerialization, ks+vs, pageSize)
	}
	if nodeHeaderSize+2*(ks+childRefSize) > pageSize {
		return fmt.Errorf("%w: key of %d bytes is too large for internal nodes of a %d-byte page", dberror.ErrSerialization, ks, pageSize)
	}
	return t.cfg.CheckEncodable(k, v, pageSize-nodeHeaderSize)
}

// childFor picks the first child whose max key is >= k, else the last child.
func (t *BTree[K, V]) childFor(n *internal[K], k K) int {
	for i, childMax := range n.keys {
		if t.cfg.Compare(childMax, k) >= 0 {
			return i
		}
	}
	return len(n.children) - 1
}

func (t *BTree[K, V]) insertIntoLeaf(w pagefile.WriteMediator, l *leaf[K, V], pid pagemanager.PageID, status pagemanager.PageStatus, k K, v V) ([]pointer[K], error) {
	pos, _ := slices.BinarySearchFunc(l.keys, k, func(e, target K) int {
		// upper bound: treat equal keys as smaller
		if c := t.cfg.Compare(e, target); c != 0 {
			return c
		}
		return -1
	})
	pairSize := t.cfg.Keys.Size(k) + t.cfg.Values.Size(v)

	if nodeHeaderSize+l.size+pairSize <= t.m.PageSize() {
		next := l
		if !status.IsDirty() {
			next = l.clone()
		}
		next.version = w.Version()
		next.keys = slices.Insert(next.keys, pos, k)
		next.values = slices.Insert(next.values, pos, v)
		next.size += pairSize
		npid, err := t.stage(w, next, pid, status)
		if err != nil {
			return nil, err
		}
		return []pointer[K]{{max: next.keys[len(next.keys)-1], pid: npid, total: next.total()}}, nil
	}

	keys := slices.Insert(slices.Clone(l.keys), pos, k)
	values := slices.Insert(slices.Clone(l.values), pos, v)
	sizes := make([]int, len(keys))
	for i := range keys {
		sizes[i] = t.cfg.Keys.Size(keys[i]) + t.cfg.Values.Size(values[i])
	}
	cuts, err := splitPoints(sizes, t.m.PageSize()-nodeHeaderSize)
	if err != nil {
		return nil, err
	}

	ptrs := make([]pointer[K], 0, len(cuts))
	for g := range cuts {
		lo, hi := bounds(cuts, g, len(keys))
		part := &leaf[K, V]{
			version: w.Version(),
			cfg:     t.cfg,
			keys:    keys[lo:hi:hi],
			values:  values[lo:hi:hi],
			size:    sum(sizes[lo:hi]),
		}
		var npid pagemanager.PageID
		if g == 0 {
			npid, err = t.stage(w, part, pid, status)
		} else {
			npid, err = w.CreatePage(part)
		}
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, pointer[K]{max: part.keys[len(part.keys)-1], pid: npid, total: part.total()})
	}
	t.logger.Debug("split leaf", zap.Uint32("page_id", uint32(pid)), zap.Int("parts", len(ptrs)))
	return ptrs, nil
}

// spliceInternal replaces the child at s.idx with ptrs.
func (t *BTree[K, V]) spliceInternal(w pagefile.WriteMediator, s step[K], ptrs []pointer[K]) ([]pointer[K], error) {
	n := s.node
	oldSize := t.cfg.Keys.Size(n.keys[s.idx]) + childRefSize
	newSize := 0
	for _, p := range ptrs {
		newSize += t.cfg.Keys.Size(p.max) + childRefSize
	}

	if nodeHeaderSize+n.size-oldSize+newSize <= t.m.PageSize() {
		next := n
		if !s.status.IsDirty() {
			next = n.clone()
		}
		next.version = w.Version()
		next.keys = slices.Replace(next.keys, s.idx, s.idx+1, pointerKeys(ptrs)...)
		next.children = slices.Replace(next.children, s.idx, s.idx+1, pointerPages(ptrs)...)
		next.size += newSize - oldSize
		next.totalCount++
		npid, err := t.stage(w, next, s.pid, s.status)
		if err != nil {
			return nil, err
		}
		return []pointer[K]{{max: next.keys[len(next.keys)-1], pid: npid, total: next.totalCount}}, nil
	}

	// Merge every child reference with the incoming pointers, then split.
	entries := make([]pointer[K], 0, len(n.keys)-1+len(ptrs))
	for i := range n.keys {
		if i == s.idx {
			entries = append(entries, ptrs...)
			continue
		}
		child, _, err := t.readNode(n.children[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, pointer[K]{max: n.keys[i], pid: n.children[i], total: child.total()})
	}
	out, err := t.packInternal(w, entries, func(part *internal[K], first bool) (pagemanager.PageID, error) {
		if first {
			return t.stage(w, part, s.pid, s.status)
		}
		return w.CreatePage(part)
	}, false)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("split internal node", zap.Uint32("page_id", uint32(s.pid)), zap.Int("parts", len(out)))
	return out, nil
}

// stage writes obj back to pid if this transaction already owns the page,
// otherwise to a fresh page.
func (t *BTree[K, V]) stage(w pagefile.WriteMediator, obj pagemanager.PageObject, pid pagemanager.PageID, status pagemanager.PageStatus) (pagemanager.PageID, error) {
	if status.IsDirty() {
		return pid, w.UpdatePage(pid, obj)
	}
	return w.CreatePage(obj)
}

// buildLevels packs pointers into internal nodes level by level until one
// node remains and returns its page.
func (t *BTree[K, V]) buildLevels(w pagefile.WriteMediator, ptrs []pointer[K]) (pagemanager.PageID, error) {
	for len(ptrs) > 1 {
		var err error
		ptrs, err = t.packInternal(w, ptrs, func(part *internal[K], _ bool) (pagemanager.PageID, error) {
			return w.CreatePage(part)
		}, true)
		if err != nil {
			return 0, err
		}
	}
	return ptrs[0].pid, nil
}

// packInternal groups entries into internal nodes and stores each with
// place. greedy fills nodes in order; otherwise the entries are split at the
// byte midpoint when two nodes suffice.
func (t *BTree[K, V]) packInternal(w pagefile.WriteMediator, entries []pointer[K], place func(*internal[K], bool) (pagemanager.PageID, error), greedy bool) ([]pointer[K], error) {
	sizes := make([]int, len(entries))
	for i, e := range entries {
		sizes[i] = t.cfg.Keys.Size(e.max) + childRefSize
	}
	capacity := t.m.PageSize() - nodeHeaderSize
	var cuts []int
	var err error
	if greedy {
		cuts, err = packPoints(sizes, capacity)
	} else {
		cuts, err = splitPoints(sizes, capacity)
	}
	if err != nil {
		return nil, err
	}

	out := make([]pointer[K], 0, len(cuts))
	for g := range cuts {
		lo, hi := bounds(cuts, g, len(entries))
		part := &internal[K]{
			version:  w.Version(),
			tag:      t.cfg.tag(),
			keyCodec: t.cfg.Keys,
			keys:     pointerKeys(entries[lo:hi]),
			children: pointerPages(entries[lo:hi]),
			size:     sum(sizes[lo:hi]),
		}
		for _, e := range entries[lo:hi] {
			part.totalCount += e.total
		}
		pid, err := place(part, g == 0)
		if err != nil {
			return nil, err
		}
		out = append(out, pointer[K]{max: part.keys[len(part.keys)-1], pid: pid, total: part.totalCount})
	}
	return out, nil
}

func pointerKeys[K any](ptrs []pointer[K]) []K {
	keys := make([]K, len(ptrs))
	for i, p := range ptrs {
		keys[i] = p.max
	}
	return keys
}

func pointerPages[K any](ptrs []pointer[K]) []pagemanager.PageID {
	pids := make([]pagemanager.PageID, len(ptrs))
	for i, p := range ptrs {
		pids[i] = p.pid
	}
	return pids
}

// --- Partitioning ---

// splitPoints divides items that overflow one page. It cuts at the byte
// midpoint when both halves fit and otherwise packs greedily. The result holds
// the start index of every group.
func splitPoints(sizes []int, capacity int) ([]int, error) {
	if len(sizes) >= 2 {
		total := sum(sizes)
		mid, acc := len(sizes)-1, 0
		for i := 1; i < len(sizes); i++ {
			acc += sizes[i-1]
			if 2*acc >= total {
				mid = i
				break
			}
		}
		left := sum(sizes[:mid])
		if left <= capacity && total-left <= capacity {
			return []int{0, mid}, nil
		}
	}
	return packPoints(sizes, capacity)
}

// packPoints fills groups in order up to capacity. It always returns at least
// one group.
func packPoints(sizes []int, capacity int) ([]int, error) {
	cuts := []int{0}
	acc := 0
	for i, s := range sizes {
		if s > capacity {
			return nil, fmt.Errorf("%w: item of %d bytes exceeds page capacity %d", dberror.ErrSerialization, s, capacity)
		}
		if acc+s > capacity {
			cuts = append(cuts, i)
			acc = 0
		}
		acc += s
	}
	return cuts, nil
}

func bounds(cuts []int, g, n int) (int, int) {
	if g+1 < len(cuts) {
		return cuts[g], cuts[g+1]
	}
	return cuts[g], n
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
