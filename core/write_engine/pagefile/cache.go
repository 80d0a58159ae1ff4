package pagefile

import (
	"github.com/dgraph-io/ristretto/v2"

	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// pageCache holds raw bytes of committed pages shared by every transaction.
// The header page is never cached. A nil *pageCache is a valid, empty cache.
type pageCache struct {
	c *ristretto.Cache[uint64, []byte]
}

func newPageCache(maxBytes int64, pageSize int) (*pageCache, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	pages := max(maxBytes/int64(pageSize), 1)
	c, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: max(pages*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &pageCache{c: c}, nil
}

func (pc *pageCache) get(pid pagemanager.PageID) ([]byte, bool) {
	if pc == nil || pid == pagemanager.HeaderPageID {
		return nil, false
	}
	return pc.c.Get(uint64(pid))
}

// put stores a private copy of data.
func (pc *pageCache) put(pid pagemanager.PageID, data []byte) {
	if pc == nil || pid == pagemanager.HeaderPageID {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	pc.c.Set(uint64(pid), cp, int64(len(cp)))
}

func (pc *pageCache) invalidate(pid pagemanager.PageID) {
	if pc == nil {
		return
	}
	pc.c.Del(uint64(pid))
}

func (pc *pageCache) close() {
	if pc == nil {
		return
	}
	pc.c.Close()
}
