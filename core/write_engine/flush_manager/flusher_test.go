package flushmanager

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/dberror"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
)

// recordingFile logs every write and sync in call order.
type recordingFile struct {
	ops     []string
	failAt  int64
	written map[int64][]byte
}

func newRecordingFile() *recordingFile {
	return &recordingFile{failAt: -1, written: map[int64][]byte{}}
}

func (f *recordingFile) WriteAt(p []byte, off int64) (int, error) {
	if off == f.failAt {
		return 0, errors.New("disk full")
	}
	f.ops = append(f.ops, fmt.Sprintf("write@%d", off))
	f.written[off] = append([]byte(nil), p...)
	return len(p), nil
}

func (f *recordingFile) Sync() error {
	f.ops = append(f.ops, "sync")
	return nil
}

type fill struct {
	cookie uint32
	n      int
	extra  int
}

func (o fill) Cookie() uint32      { return o.cookie }
func (o fill) SerializedSize() int { return o.n + o.extra }
func (o fill) Serialize(w *codec.Writer) error {
	for i := 0; i < o.n; i++ {
		if err := w.PutUint8(uint8(i)); err != nil {
			return err
		}
	}
	return nil
}

func render(t *testing.T, id pagemanager.PageID, n int) PageImage {
	t.Helper()
	img, err := Render(id, fill{cookie: pagemanager.CookieTable, n: n}, 64)
	require.NoError(t, err)
	return img
}

func TestRenderPadsToPageSize(t *testing.T) {
	img := render(t, 3, 5)
	assert.Equal(t, pagemanager.PageID(3), img.ID)
	assert.Len(t, img.Data, 64)
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, img.Data[:5])
	assert.Equal(t, make([]byte, 59), img.Data[5:])
}

func TestRenderReportsOverflow(t *testing.T) {
	_, err := Render(9, fill{n: 65}, 64)
	var overflow *dberror.PageOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, uint32(9), overflow.PageID)
	assert.ErrorIs(t, err, dberror.ErrPageOverflow)
}

func TestRenderChecksReportedSize(t *testing.T) {
	_, err := Render(2, fill{n: 4, extra: 1}, 64)
	assert.ErrorIs(t, err, dberror.ErrInvariant)
}

func TestFlushOrdersDataBeforeHeader(t *testing.T) {
	f := newRecordingFile()
	fl := NewFlusher(f, 64, true, zaptest.NewLogger(t))

	maxID, err := fl.Flush([]PageImage{render(t, 5, 1), render(t, 2, 1), render(t, 9, 1)}, render(t, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, pagemanager.PageID(9), maxID)
	assert.Equal(t, []string{"write@128", "write@320", "write@576", "sync", "write@0", "sync"}, f.ops)
	assert.Equal(t, []byte{0, 1}, f.written[0][:2])
}

func TestFlushWithoutSync(t *testing.T) {
	f := newRecordingFile()
	fl := NewFlusher(f, 64, false, nil)
	_, err := fl.Flush(nil, render(t, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"write@0"}, f.ops)
}

func TestFlushFailureLeavesHeaderUnwritten(t *testing.T) {
	f := newRecordingFile()
	f.failAt = 4 * 64
	fl := NewFlusher(f, 64, true, nil)

	_, err := fl.Flush([]PageImage{render(t, 1, 1), render(t, 4, 1)}, render(t, 0, 1))
	assert.ErrorIs(t, err, dberror.ErrCommit)
	assert.ErrorIs(t, err, dberror.ErrIO)
	assert.NotContains(t, f.ops, "write@0")
}

func TestFlushRejectsMisplacedImages(t *testing.T) {
	fl := NewFlusher(newRecordingFile(), 64, false, nil)

	_, err := fl.Flush(nil, render(t, 1, 1))
	assert.ErrorIs(t, err, dberror.ErrInvariant)

	_, err = fl.Flush([]PageImage{render(t, 0, 1)}, render(t, 0, 1))
	assert.ErrorIs(t, err, dberror.ErrInvariant)

	_, err = fl.Flush([]PageImage{{ID: 3, Data: make([]byte, 10)}}, render(t, 0, 1))
	assert.ErrorIs(t, err, dberror.ErrInvariant)
}
