package pagefile

import (
	"errors"
	"fmt"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// headerPrefixSize covers cookie, version and page size: enough to validate a
// file before the page size is known.
const headerPrefixSize = 4 + 8 + 4

// headerFixedSize adds the root count.
const headerFixedSize = headerPrefixSize + 4

// SystemRoot is registered on bootstrap and points at the header page itself.
const SystemRoot = "sys"

// Root is one entry of the root registry.
type Root struct {
	Name   string
	PageID pagemanager.PageID
}

// Header is page 0: file-wide metadata and the root registry.
type Header struct {
	Version  pagemanager.Version
	PageSize uint32
	Roots    []Root
}

func (h *Header) Cookie() uint32 { return pagemanager.CookieHeader }

func (h *Header) SerializedSize() int {
	size := headerFixedSize
	for _, r := range h.Roots {
		size += codec.StringCodec{}.Size(r.Name) + 4
	}
	return size
}

func (h *Header) Serialize(w *codec.Writer) error {
	if err := w.Reserve(headerFixedSize); err != nil {
		return err
	}
	_ = w.PutUint32(pagemanager.CookieHeader)
	_ = w.PutUint64(uint64(h.Version))
	_ = w.PutUint32(h.PageSize)
	_ = w.PutUint32(uint32(len(h.Roots)))
	for i, r := range h.Roots {
		if err := (codec.StringCodec{}).Encode(w, r.Name); err != nil {
			if errors.Is(err, dberror.ErrSpaceOverflow) {
				return &dberror.PageOverflowError{Written: i}
			}
			return err
		}
		if err := w.PutUint32(uint32(r.PageID)); err != nil {
			return &dberror.PageOverflowError{Written: i}
		}
	}
	return nil
}

// Root returns the page registered under name.
func (h *Header) Root(name string) (pagemanager.PageID, bool) {
	for _, r := range h.Roots {
		if r.Name == name {
			return r.PageID, true
		}
	}
	return 0, false
}

// Names lists registered roots in registry order.
func (h *Header) Names() []string {
	names := make([]string, len(h.Roots))
	for i, r := range h.Roots {
		names[i] = r.Name
	}
	return names
}

// set registers or repoints name, keeping registry order for existing names.
func (h *Header) set(name string, pid pagemanager.PageID) {
	for i := range h.Roots {
		if h.Roots[i].Name == name {
			h.Roots[i].PageID = pid
			return
		}
	}
	h.Roots = append(h.Roots, Root{Name: name, PageID: pid})
}

// DecodeHeader parses page 0.
func DecodeHeader(buf []byte) (pagemanager.PageObject, error) {
	r := codec.NewReader(buf)
	cookie, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if cookie != pagemanager.CookieHeader {
		return nil, fmt.Errorf("%w: header cookie 0x%08x, want 0x%08x", dberror.ErrData, cookie, pagemanager.CookieHeader)
	}
	version, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	pageSize, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	h := &Header{Version: pagemanager.Version(version), PageSize: pageSize}
	for i := uint32(0); i < count; i++ {
		name, err := codec.StringCodec{}.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("root %d name: %w", i, err)
		}
		pid, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("root %q page: %w", name, err)
		}
		h.Roots = append(h.Roots, Root{Name: name, PageID: pagemanager.PageID(pid)})
	}
	return h, nil
}

// parsePrefix validates the fixed leading bytes of a file and returns its
// page size.
func parsePrefix(prefix []byte) (int, pagemanager.Version, error) {
	r := codec.NewReader(prefix)
	cookie, err := r.Uint32()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", dberror.ErrData, err)
	}
	if cookie != pagemanager.CookieHeader {
		return 0, 0, fmt.Errorf("%w: not a database file (cookie 0x%08x)", dberror.ErrData, cookie)
	}
	version, _ := r.Uint64()
	pageSize, err := r.Uint32()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", dberror.ErrData, err)
	}
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return 0, 0, fmt.Errorf("%w: page size %d out of range [%d, %d]", dberror.ErrData, pageSize, MinPageSize, MaxPageSize)
	}
	return int(pageSize), pagemanager.Version(version), nil
}
