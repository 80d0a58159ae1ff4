package btree

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

// Create bulk-loads pairs into a new tree registered as name. pairs must be
// sorted by key; equal keys are allowed. Leaves are filled to capacity, then
// each internal level is packed the same way until a single root remains.
// Sorted input should always go through Create rather than repeated Add.
func Create[K, V any](m pagefile.Mediator, name string, cfg Config[K, V], pairs []Pair[K, V]) (*BTree[K, V], error) {
	w, err := pagefile.Writable(m)
	if err != nil {
		return nil, err
	}
	t, err := newHandle(m, name, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := m.GetRoot(name); err == nil {
		return nil, fmt.Errorf("%w: %q", dberror.ErrRootExists, name)
	}

	sizes := make([]int, len(pairs))
	for i, p := range pairs {
		if i > 0 && t.cfg.Compare(pairs[i-1].Key, p.Key) > 0 {
			return nil, fmt.Errorf("%w: bulk input out of order at pair %d", dberror.ErrData, i)
		}
		if err := t.checkPairFits(p.Key, p.Value); err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		sizes[i] = t.cfg.Keys.Size(p.Key) + t.cfg.Values.Size(p.Value)
	}

	cuts, err := packPoints(sizes, m.PageSize()-nodeHeaderSize)
	if err != nil {
		return nil, err
	}
	ptrs := make([]pointer[K], 0, len(cuts))
	for g := range cuts {
		lo, hi := bounds(cuts, g, len(pairs))
		l := &leaf[K, V]{
			version: w.Version(),
			cfg:     t.cfg,
			keys:    make([]K, 0, hi-lo),
			values:  make([]V, 0, hi-lo),
			size:    sum(sizes[lo:hi]),
		}
		for _, p := range pairs[lo:hi] {
			l.keys = append(l.keys, p.Key)
			l.values = append(l.values, p.Value)
		}
		pid, err := w.CreatePage(l)
		if err != nil {
			return nil, err
		}
		var maxKey K
		if len(l.keys) > 0 {
			maxKey = l.keys[len(l.keys)-1]
		}
		ptrs = append(ptrs, pointer[K]{max: maxKey, pid: pid, total: l.total()})
	}

	root := ptrs[0].pid
	if len(ptrs) > 1 {
		if root, err = t.buildLevels(w, ptrs); err != nil {
			return nil, err
		}
	}
	if err := w.AddRoot(name, root); err != nil {
		return nil, err
	}
	t.root = root
	t.logger.Debug("bulk loaded tree",
		zap.Int("pairs", len(pairs)),
		zap.Int("leaves", len(ptrs)),
		zap.Uint32("root", uint32(root)))
	return t, nil
}
