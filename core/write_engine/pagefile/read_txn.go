package pagefile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// ReadTxn is a read-only view of the store. Decoded pages are cached for the
// life of the transaction and never invalidated. A ReadTxn must not be used
// from more than one goroutine.
type ReadTxn struct {
	store   *Store
	cache   map[pagemanager.PageID]pagemanager.PageObject
	scratch []byte
	header  *Header
	logger  *zap.Logger
}

func newReadTxn(s *Store, logger *zap.Logger) *ReadTxn {
	return &ReadTxn{
		store:   s,
		cache:   make(map[pagemanager.PageID]pagemanager.PageObject),
		scratch: make([]byte, s.pageSize),
		logger:  logger,
	}
}

func (t *ReadTxn) PageSize() int       { return t.store.pageSize }
func (t *ReadTxn) Logger() *zap.Logger { return t.logger }

// Version is the version of the last committed transaction as seen when the
// header was first consulted. An unreadable header reports version 0 and is
// logged; the same error surfaces from RootNames and GetRoot.
func (t *ReadTxn) Version() pagemanager.Version {
	h, err := t.loadHeader()
	if err != nil {
		t.logger.Error("failed to read header version", zap.Error(err))
		return 0
	}
	return h.Version
}

func (t *ReadTxn) Page(pid pagemanager.PageID, dec pagemanager.Decoder) (pagemanager.PageObject, pagemanager.PageStatus, error) {
	if obj, ok := t.cache[pid]; ok {
		return obj, pagemanager.CleanStatus(pid), nil
	}
	if err := t.store.readPage(pid, t.scratch); err != nil {
		return nil, pagemanager.UnassignedStatus(), err
	}
	obj, err := dec(t.scratch)
	if err != nil {
		return nil, pagemanager.UnassignedStatus(), fmt.Errorf("%w: page %d: %w", dberror.ErrData, pid, err)
	}
	t.cache[pid] = obj
	return obj, pagemanager.CleanStatus(pid), nil
}

func (t *ReadTxn) RawPage(pid pagemanager.PageID) ([]byte, error) {
	buf := make([]byte, t.store.pageSize)
	if err := t.store.readPage(pid, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *ReadTxn) RootNames() ([]string, error) {
	h, err := t.readHeader()
	if err != nil {
		return nil, err
	}
	return h.Names(), nil
}

func (t *ReadTxn) GetRoot(name string) (pagemanager.PageID, error) {
	h, err := t.readHeader()
	if err != nil {
		return 0, err
	}
	pid, ok := h.Root(name)
	if !ok {
		return 0, fmt.Errorf("%w: root %q", dberror.ErrKeyNotFound, name)
	}
	return pid, nil
}

// readHeader decodes page 0 from disk on every call, so a long-running reader
// sees roots registered by later commits.
func (t *ReadTxn) readHeader() (*Header, error) {
	if err := t.store.readPage(pagemanager.HeaderPageID, t.scratch); err != nil {
		return nil, err
	}
	obj, err := DecodeHeader(t.scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", dberror.ErrData, err)
	}
	h := obj.(*Header)
	if t.header == nil {
		t.header = h
	}
	return h, nil
}

func (t *ReadTxn) loadHeader() (*Header, error) {
	if t.header != nil {
		return t.header, nil
	}
	return t.readHeader()
}
