// Package dberror holds the error taxonomy shared by the page store, the
// serialization protocol and the index structures.
package dberror

import (
	"errors"
	"fmt"
)

// --- Error Definitions ---

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrData             = errors.New("invalid page data")
	ErrPermission       = errors.New("operation not permitted in a read-only transaction")
	ErrCommit           = errors.New("commit failed")
	ErrPageOverflow     = errors.New("page content no longer fits the page")
	ErrSerialization    = errors.New("error during serialization")
	ErrDeserialization  = errors.New("error during deserialization")
	ErrSpaceOverflow    = errors.New("value exceeds the remaining buffer space")
	ErrRollback         = errors.New("transaction rolled back")
	ErrIO               = errors.New("i/o error")
	ErrTxnInvalidState  = errors.New("transaction is in an invalid state for this operation")
	ErrRootExists       = errors.New("root name already registered")
	ErrInvariant        = errors.New("internal invariant violated")
	ErrUnsupportedCodec = errors.New("no codec registered for type code")
)

// PageOverflowError reports how many items were written into a page before
// the next one no longer fit. Callers that see it must split.
type PageOverflowError struct {
	PageID  uint32
	Written int
}

func (e *PageOverflowError) Error() string {
	return fmt.Sprintf("%v: page %d overflowed after %d items", ErrPageOverflow, e.PageID, e.Written)
}

func (e *PageOverflowError) Unwrap() error { return ErrPageOverflow }

// Invariantf builds an error for a broken structural invariant. It is distinct
// from ErrData: the bytes were fine, the code that produced them was not.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
