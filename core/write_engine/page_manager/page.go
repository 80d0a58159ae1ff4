package pagemanager

import (
	"fmt"

	"github.com/sushant-115/pagedb/core/codec"
)

// --- Page Management ---

// PageID is a page index; its byte offset in the file is PageID * pageSize.
type PageID uint32

const (
	// HeaderPageID is the page holding the root registry.
	HeaderPageID PageID = 0
	// InvalidPageID marks "no page". Page 0 is the header and is never a
	// tree or table page, so the value cannot collide with a real link.
	InvalidPageID PageID = 0
)

// Version is an opaque 64-bit stamp, commonly a timestamp, written into every
// page and the header by the transaction that produced it.
type Version uint64

// Cookies identify a page's structural type in its first four bytes.
const (
	CookieHeader       uint32 = 0x50474442 // "PGDB"
	CookieTable        uint32 = 0x5441424c // "TABL"
	CookieTreeInternal uint32 = 0x54524549 // "TREI"
	CookieTreeLeaf     uint32 = 0x5452454c // "TREL"
)

// CookieName renders a cookie for logs and tooling.
func CookieName(c uint32) string {
	switch c {
	case CookieHeader:
		return "header"
	case CookieTable:
		return "table"
	case CookieTreeInternal:
		return "tree-internal"
	case CookieTreeLeaf:
		return "tree-leaf"
	default:
		return fmt.Sprintf("unknown(0x%08x)", c)
	}
}

// StatusKind is the discriminant of PageStatus.
type StatusKind uint8

const (
	Unassigned StatusKind = iota
	Clean
	Dirty
)

// PageStatus says whether an in-memory page object mirrors disk content
// (Clean), was created or modified by the active transaction (Dirty), or has
// no page yet (Unassigned).
type PageStatus struct {
	kind StatusKind
	id   PageID
}

func UnassignedStatus() PageStatus          { return PageStatus{kind: Unassigned} }
func CleanStatus(id PageID) PageStatus      { return PageStatus{kind: Clean, id: id} }
func DirtyStatus(id PageID) PageStatus      { return PageStatus{kind: Dirty, id: id} }
func (s PageStatus) Kind() StatusKind       { return s.kind }
func (s PageStatus) IsDirty() bool          { return s.kind == Dirty }
func (s PageStatus) IsClean() bool          { return s.kind == Clean }
func (s PageStatus) PageID() (PageID, bool) { return s.id, s.kind != Unassigned }

func (s PageStatus) String() string {
	switch s.kind {
	case Clean:
		return fmt.Sprintf("clean(%d)", s.id)
	case Dirty:
		return fmt.Sprintf("dirty(%d)", s.id)
	default:
		return "unassigned"
	}
}

// PageObject is an in-memory page that the store can serialize. Serialize
// writes the whole page, cookie first, into a writer whose budget is the page
// size, and fails with an overflow error when the content no longer fits.
type PageObject interface {
	Cookie() uint32
	SerializedSize() int
	Serialize(w *codec.Writer) error
}

// Decoder turns the bytes of one page into a page object.
type Decoder func(buf []byte) (PageObject, error)
