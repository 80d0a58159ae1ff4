package pagefile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// Mediator is the read surface a transaction offers to the index layers.
type Mediator interface {
	PageSize() int
	Version() pagemanager.Version
	// Page returns the decoded page and whether it is clean or staged dirty.
	// The decoder must not retain buf.
	Page(pid pagemanager.PageID, dec pagemanager.Decoder) (pagemanager.PageObject, pagemanager.PageStatus, error)
	// RawPage returns a private copy of the page bytes. A write transaction
	// renders its staged pages; everything else comes from disk.
	RawPage(pid pagemanager.PageID) ([]byte, error)
	RootNames() ([]string, error)
	GetRoot(name string) (pagemanager.PageID, error)
	Logger() *zap.Logger
}

// WriteMediator adds staging operations. Nothing reaches the file until the
// enclosing Update returns without error.
type WriteMediator interface {
	Mediator
	CreatePage(obj pagemanager.PageObject) (pagemanager.PageID, error)
	UpdatePage(pid pagemanager.PageID, obj pagemanager.PageObject) error
	AddRoot(name string, pid pagemanager.PageID) error
	UpdateRoot(name string, pid pagemanager.PageID) error
}

// ReadPage fetches a page and asserts its concrete type.
func ReadPage[T pagemanager.PageObject](m Mediator, pid pagemanager.PageID, dec pagemanager.Decoder) (T, pagemanager.PageStatus, error) {
	var zero T
	obj, status, err := m.Page(pid, dec)
	if err != nil {
		return zero, status, err
	}
	t, ok := obj.(T)
	if !ok {
		// decoded or staged through a handle with other Go types; decode the
		// page bytes again with dec
		raw, err := m.RawPage(pid)
		if err != nil {
			return zero, status, err
		}
		if obj, err = dec(raw); err != nil {
			return zero, status, fmt.Errorf("%w: page %d: %w", dberror.ErrData, pid, err)
		}
		t, ok = obj.(T)
	}
	if !ok {
		return zero, status, fmt.Errorf("%w: page %d holds %T, want %T", dberror.ErrData, pid, obj, zero)
	}
	return t, status, nil
}

// Writable upgrades m to a write mediator or fails with ErrPermission.
func Writable(m Mediator) (WriteMediator, error) {
	w, ok := m.(WriteMediator)
	if !ok {
		return nil, dberror.ErrPermission
	}
	return w, nil
}
