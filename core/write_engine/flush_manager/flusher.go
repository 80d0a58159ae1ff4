// Package flushmanager writes the pages of a committing transaction to the
// database file in crash-aware order: every data page first, then a sync
// barrier, then the header page that makes them reachable.
package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// File is the subset of *os.File the flusher needs.
type File interface {
	io.WriterAt
	Sync() error
}

// PageImage is a fully serialized, page-sized buffer bound for one page id.
type PageImage struct {
	ID   pagemanager.PageID
	Data []byte
}

// Render serializes obj into a zero-padded page image. Content that no longer
// fits is reported as a *dberror.PageOverflowError.
func Render(id pagemanager.PageID, obj pagemanager.PageObject, pageSize int) (PageImage, error) {
	buf := make([]byte, pageSize)
	w := codec.NewWriter(buf)
	if err := obj.Serialize(w); err != nil {
		var overflow *dberror.PageOverflowError
		switch {
		case errors.As(err, &overflow):
			overflow.PageID = uint32(id)
			return PageImage{}, overflow
		case errors.Is(err, dberror.ErrSpaceOverflow):
			return PageImage{}, &dberror.PageOverflowError{PageID: uint32(id)}
		}
		return PageImage{}, fmt.Errorf("%w: page %d: %w", dberror.ErrSerialization, id, err)
	}
	if w.Offset() != obj.SerializedSize() {
		return PageImage{}, dberror.Invariantf("page %d (%s) reported %d bytes but wrote %d",
			id, pagemanager.CookieName(obj.Cookie()), obj.SerializedSize(), w.Offset())
	}
	return PageImage{ID: id, Data: buf}, nil
}

// Flusher writes page images at their offsets.
type Flusher struct {
	file     File
	pageSize int
	sync     bool
	logger   *zap.Logger
}

func NewFlusher(file File, pageSize int, sync bool, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{file: file, pageSize: pageSize, sync: sync, logger: logger}
}

// Flush writes every data page in ascending id order, syncs, writes the header
// image at page 0 and syncs again. It returns the highest page id written.
func (f *Flusher) Flush(pages []PageImage, header PageImage) (pagemanager.PageID, error) {
	if header.ID != pagemanager.HeaderPageID {
		return 0, dberror.Invariantf("header image targets page %d", header.ID)
	}
	slices.SortFunc(pages, func(a, b PageImage) int { return int(a.ID) - int(b.ID) })

	var maxID pagemanager.PageID
	for _, p := range pages {
		if p.ID == pagemanager.HeaderPageID {
			return 0, dberror.Invariantf("data page staged at the header page id")
		}
		if err := f.writeImage(p); err != nil {
			return 0, err
		}
		maxID = max(maxID, p.ID)
	}
	if err := f.barrier(); err != nil {
		return 0, err
	}
	if err := f.writeImage(header); err != nil {
		return 0, err
	}
	if err := f.barrier(); err != nil {
		return 0, err
	}
	f.logger.Debug("flushed transaction pages",
		zap.Int("data_pages", len(pages)),
		zap.Uint32("max_page_id", uint32(maxID)),
		zap.Bool("synced", f.sync))
	return maxID, nil
}

func (f *Flusher) writeImage(p PageImage) error {
	if len(p.Data) != f.pageSize {
		return dberror.Invariantf("page %d image is %d bytes, page size is %d", p.ID, len(p.Data), f.pageSize)
	}
	offset := int64(p.ID) * int64(f.pageSize)
	if _, err := f.file.WriteAt(p.Data, offset); err != nil {
		return fmt.Errorf("%w: %w: writing page %d at offset %d: %v", dberror.ErrCommit, dberror.ErrIO, p.ID, offset, err)
	}
	return nil
}

func (f *Flusher) barrier() error {
	if !f.sync {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("%w: %w: sync: %v", dberror.ErrCommit, dberror.ErrIO, err)
	}
	return nil
}
