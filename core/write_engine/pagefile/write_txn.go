package pagefile

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/transaction"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// WriteTxn stages page and root changes over a ReadTxn. Staged pages shadow
// disk content for the rest of the transaction; root changes are invisible to
// other transactions until commit.
type WriteTxn struct {
	*ReadTxn
	txn       *transaction.Transaction
	dirty     map[pagemanager.PageID]pagemanager.PageObject
	created   map[pagemanager.PageID]struct{}
	roots     map[string]pagemanager.PageID
	rootOrder []string
}

func newWriteTxn(s *Store, version pagemanager.Version) *WriteTxn {
	txn := transaction.New(uint64(version))
	logger := s.logger.With(zap.String("txn_id", txn.ID), zap.Uint64("version", uint64(version)))
	return &WriteTxn{
		ReadTxn: newReadTxn(s, logger),
		txn:     txn,
		dirty:   make(map[pagemanager.PageID]pagemanager.PageObject),
		created: make(map[pagemanager.PageID]struct{}),
		roots:   make(map[string]pagemanager.PageID),
	}
}

// ID is the transaction's unique id.
func (t *WriteTxn) ID() string { return t.txn.ID }

func (t *WriteTxn) Version() pagemanager.Version { return pagemanager.Version(t.txn.Version) }

// State reports the transaction's lifecycle state.
func (t *WriteTxn) State() transaction.TransactionState { return t.txn.State }

func (t *WriteTxn) Page(pid pagemanager.PageID, dec pagemanager.Decoder) (pagemanager.PageObject, pagemanager.PageStatus, error) {
	if err := t.txn.CheckRunning(); err != nil {
		return nil, pagemanager.UnassignedStatus(), err
	}
	if obj, ok := t.dirty[pid]; ok {
		return obj, pagemanager.DirtyStatus(pid), nil
	}
	return t.ReadTxn.Page(pid, dec)
}

func (t *WriteTxn) CreatePage(obj pagemanager.PageObject) (pagemanager.PageID, error) {
	if err := t.txn.CheckRunning(); err != nil {
		return 0, err
	}
	pid := t.store.allocate()
	t.dirty[pid] = obj
	t.created[pid] = struct{}{}
	return pid, nil
}

func (t *WriteTxn) UpdatePage(pid pagemanager.PageID, obj pagemanager.PageObject) error {
	if err := t.txn.CheckRunning(); err != nil {
		return err
	}
	if pid == pagemanager.HeaderPageID {
		return dberror.Invariantf("page %d is the header and cannot be staged", pid)
	}
	if !t.store.allocated(pid) {
		return fmt.Errorf("%w: page %d was never allocated", dberror.ErrData, pid)
	}
	t.dirty[pid] = obj
	delete(t.cache, pid)
	return nil
}

// RawPage renders staged pages so callers see this transaction's content. The
// header page is always returned as last committed.
func (t *WriteTxn) RawPage(pid pagemanager.PageID) ([]byte, error) {
	if err := t.txn.CheckRunning(); err != nil {
		return nil, err
	}
	if obj, ok := t.dirty[pid]; ok {
		img, err := flushmanager.Render(pid, obj, t.store.pageSize)
		if err != nil {
			return nil, err
		}
		return img.Data, nil
	}
	return t.ReadTxn.RawPage(pid)
}

func (t *WriteTxn) RootNames() ([]string, error) {
	if err := t.txn.CheckRunning(); err != nil {
		return nil, err
	}
	names, err := t.ReadTxn.RootNames()
	if err != nil {
		return nil, err
	}
	for _, name := range t.rootOrder {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (t *WriteTxn) GetRoot(name string) (pagemanager.PageID, error) {
	if err := t.txn.CheckRunning(); err != nil {
		return 0, err
	}
	if pid, ok := t.roots[name]; ok {
		return pid, nil
	}
	return t.ReadTxn.GetRoot(name)
}

// AddRoot registers a new root. It fails if the name is already registered on
// disk or earlier in this transaction.
func (t *WriteTxn) AddRoot(name string, pid pagemanager.PageID) error {
	if _, err := t.GetRoot(name); err == nil {
		return fmt.Errorf("%w: %q", dberror.ErrRootExists, name)
	} else if !isNotFound(err) {
		return err
	}
	t.stageRoot(name, pid)
	return nil
}

// UpdateRoot repoints an existing root.
func (t *WriteTxn) UpdateRoot(name string, pid pagemanager.PageID) error {
	if _, err := t.GetRoot(name); err != nil {
		return err
	}
	t.stageRoot(name, pid)
	return nil
}

func (t *WriteTxn) stageRoot(name string, pid pagemanager.PageID) {
	if _, ok := t.roots[name]; !ok {
		t.rootOrder = append(t.rootOrder, name)
	}
	t.roots[name] = pid
	t.logger.Debug("staged root", zap.String("root", name), zap.Uint32("page_id", uint32(pid)))
}

// discard drops every staged change. Allocated page ids are not returned.
func (t *WriteTxn) discard(state transaction.TransactionState) {
	clear(t.dirty)
	clear(t.created)
	clear(t.roots)
	t.rootOrder = nil
	_ = t.txn.Finish(state)
}

// commit renders every staged page before touching the file so that an
// overflow leaves the file unchanged, then hands the images to the flusher.
func (t *WriteTxn) commit(ctx context.Context) error {
	_, span := t.store.tracer.Start(ctx, "pagefile.commit")
	defer span.End()
	start := time.Now()

	header, err := t.ReadTxn.readHeader()
	if err != nil {
		return err
	}
	merged := &Header{
		Version:  t.Version(),
		PageSize: uint32(t.store.pageSize),
		Roots:    slices.Clone(header.Roots),
	}
	for _, name := range t.rootOrder {
		merged.set(name, t.roots[name])
	}

	images := make([]flushmanager.PageImage, 0, len(t.dirty))
	for pid, obj := range t.dirty {
		img, err := flushmanager.Render(pid, obj, t.store.pageSize)
		if err != nil {
			return fmt.Errorf("%w: %w", dberror.ErrCommit, err)
		}
		images = append(images, img)
	}
	headerImg, err := flushmanager.Render(pagemanager.HeaderPageID, merged, t.store.pageSize)
	if err != nil {
		return fmt.Errorf("%w: header: %w", dberror.ErrCommit, err)
	}

	maxID, err := t.store.flush(images, headerImg)
	if err != nil {
		return err
	}
	if err := t.txn.Finish(transaction.TxnStateCommitted); err != nil {
		return err
	}

	elapsed := time.Since(start)
	t.store.metrics.PagesWrittenCounter.Add(ctx, int64(len(images)+1))
	t.store.metrics.CommitLatencyHistogram.Record(ctx, elapsed.Milliseconds())
	span.SetAttributes(
		attribute.Int("pages", len(images)),
		attribute.Int("new_pages", len(t.created)),
		attribute.Int("roots", len(t.rootOrder)),
	)
	t.logger.Debug("transaction committed",
		zap.Int("pages", len(images)),
		zap.Int("new_pages", len(t.created)),
		zap.Uint32("max_page_id", uint32(maxID)),
		zap.Duration("elapsed", elapsed))
	return nil
}

func outcome(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", name))
}
