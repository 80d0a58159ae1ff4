// Package pagefile implements the page store: a single file of fixed-size
// pages whose page 0 holds the root registry, accessed through read and write
// transactions.
package pagefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/dberror"
	"github.com/sushant-115/pagedb/core/storage_engine/common"
	"github.com/sushant-115/pagedb/core/transaction"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/pagedb/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
)

const (
	DefaultPageSize = 4096
	MinPageSize     = 128
	MaxPageSize     = 1 << 24
)

// Options configures Open.
type Options struct {
	// PageSize is used only when a new file is bootstrapped; an existing
	// file's page size comes from its header.
	PageSize int
	// CacheSize bounds the shared committed-page cache in bytes. Zero
	// disables it.
	CacheSize int64
	// SyncOnCommit fsyncs after the data pages and again after the header.
	SyncOnCommit bool
	Logger       *zap.Logger
	Meter        metric.Meter
	Tracer       trace.Tracer
}

// DefaultOptions returns durable settings with a 4 KiB page.
func DefaultOptions() Options {
	return Options{PageSize: DefaultPageSize, SyncOnCommit: true}
}

// Store owns the database file. Reads need no locking; write transactions
// are serialized.
type Store struct {
	path     string
	file     *os.File
	pageSize int

	// pageCount is the number of committed pages, read by readers without
	// holding writeMu.
	pageCount atomic.Uint32
	// nextPageID is only touched by the active writer.
	nextPageID pagemanager.PageID

	writeMu sync.Mutex
	// ioMu orders commit writes against reader cache fills.
	ioMu sync.RWMutex

	flusher *flushmanager.Flusher
	cache   *pageCache
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *internaltelemetry.StoreMetrics
	closed  atomic.Bool
}

// Open opens or bootstraps the database file at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	metrics, err := internaltelemetry.NewStoreMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create store metrics: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %s: %v", dberror.ErrIO, dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", dberror.ErrIO, path, err)
	}

	s := &Store{
		path:    path,
		file:    file,
		logger:  opts.Logger.With(zap.String("path", path)),
		tracer:  opts.Tracer,
		metrics: metrics,
	}
	if err := s.load(opts); err != nil {
		file.Close()
		return nil, err
	}
	s.cache, err = newPageCache(opts.CacheSize, s.pageSize)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	s.flusher = flushmanager.NewFlusher(file, s.pageSize, opts.SyncOnCommit, s.logger)
	s.logger.Info("page store opened",
		zap.Int("page_size", s.pageSize),
		zap.Uint32("page_count", s.PageCount()),
		zap.Int64("cache_bytes", opts.CacheSize))
	return s, nil
}

// load bootstraps an empty file or validates an existing one.
func (s *Store) load(opts Options) error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", dberror.ErrIO, err)
	}
	if info.Size() == 0 {
		return s.bootstrap(opts)
	}

	prefix := make([]byte, headerPrefixSize)
	if _, err := s.file.ReadAt(prefix, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file of %d bytes is too short for a header", dberror.ErrData, info.Size())
		}
		return fmt.Errorf("%w: read header: %v", dberror.ErrIO, err)
	}
	pageSize, version, err := parsePrefix(prefix)
	if err != nil {
		return err
	}
	if info.Size()%int64(pageSize) != 0 {
		return fmt.Errorf("%w: file length %d is not a multiple of page size %d", dberror.ErrData, info.Size(), pageSize)
	}
	s.pageSize = pageSize
	count := uint32(info.Size() / int64(pageSize))
	s.pageCount.Store(count)
	s.nextPageID = pagemanager.PageID(count)

	buf := make([]byte, pageSize)
	if err := s.readPage(pagemanager.HeaderPageID, buf); err != nil {
		return err
	}
	if _, err := DecodeHeader(buf); err != nil {
		return fmt.Errorf("%w: header: %w", dberror.ErrData, err)
	}
	s.logger.Debug("validated existing file", zap.Uint64("version", uint64(version)))
	return nil
}

func (s *Store) bootstrap(opts Options) error {
	if opts.PageSize < MinPageSize || opts.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page size %d out of range [%d, %d]", dberror.ErrData, opts.PageSize, MinPageSize, MaxPageSize)
	}
	s.pageSize = opts.PageSize
	h := &Header{
		PageSize: uint32(opts.PageSize),
		Roots:    []Root{{Name: SystemRoot, PageID: pagemanager.HeaderPageID}},
	}
	img, err := flushmanager.Render(pagemanager.HeaderPageID, h, opts.PageSize)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(img.Data, 0); err != nil {
		return fmt.Errorf("%w: write header: %v", dberror.ErrIO, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", dberror.ErrIO, err)
	}
	s.pageCount.Store(1)
	s.nextPageID = 1
	s.logger.Info("bootstrapped new database file", zap.Int("page_size", opts.PageSize))
	return nil
}

func (s *Store) PageSize() int { return s.pageSize }

// PageCount is the number of committed pages.
func (s *Store) PageCount() uint32 { return s.pageCount.Load() }

// Path is the database file's path.
func (s *Store) Path() string { return s.path }

// Read runs fn in a read transaction. fn's error is returned unchanged.
func (s *Store) Read(ctx context.Context, fn func(*ReadTxn) error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", dberror.ErrTxnInvalidState)
	}
	ctx, span := s.tracer.Start(ctx, "pagefile.Read")
	defer span.End()
	s.metrics.ActiveReadersUpDownCounter.Add(ctx, 1)
	defer s.metrics.ActiveReadersUpDownCounter.Add(ctx, -1)

	err := fn(newReadTxn(s, s.logger))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Update runs fn in a write transaction stamped with version and commits its
// staged pages if fn returns nil. Returning an error wrapping ErrRollback
// discards the staged state and Update returns nil. Any other error, or a
// cancelled ctx, aborts without writing.
func (s *Store) Update(ctx context.Context, version pagemanager.Version, fn func(*WriteTxn) error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", dberror.ErrTxnInvalidState)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "pagefile.Update",
		trace.WithAttributes(attribute.Int64("version", int64(version))))
	defer span.End()

	txn := newWriteTxn(s, version)
	span.SetAttributes(attribute.String("txn_id", txn.ID()))

	if err := fn(txn); err != nil {
		if errors.Is(err, dberror.ErrRollback) {
			txn.discard(transaction.TxnStateRolledBack)
			s.metrics.TxnOutcomeCounter.Add(ctx, 1, outcome("rolled_back"))
			txn.logger.Debug("transaction rolled back", zap.Error(err))
			return nil
		}
		return s.abort(ctx, span, txn, err)
	}
	if err := ctx.Err(); err != nil {
		return s.abort(ctx, span, txn, err)
	}
	if err := txn.commit(ctx); err != nil {
		return s.abort(ctx, span, txn, err)
	}
	s.metrics.TxnOutcomeCounter.Add(ctx, 1, outcome("committed"))
	return nil
}

func (s *Store) abort(ctx context.Context, span trace.Span, txn *WriteTxn, err error) error {
	txn.discard(transaction.TxnStateFailed)
	s.metrics.TxnOutcomeCounter.Add(ctx, 1, outcome("failed"))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	txn.logger.Warn("transaction aborted", zap.Error(err))
	return err
}

// Backup copies the database file to dst while holding the writer lock, so the
// copy is a committed state. bytesPerSec <= 0 copies unthrottled.
func (s *Store) Backup(ctx context.Context, dst string, bytesPerSec int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "pagefile.Backup")
	defer span.End()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", dberror.ErrIO, dst, err)
	}
	defer out.Close()

	sum, err := common.CopyThrottled(ctx, s.file, out, bytesPerSec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: backup to %s: %w", dberror.ErrIO, dst, err)
	}
	if err := common.VerifyCopy(dst, sum); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: backup to %s: %w", dberror.ErrIO, dst, err)
	}
	s.logger.Info("backup complete",
		zap.String("dst", dst),
		zap.Uint32("page_count", s.PageCount()),
		zap.String("sha256", fmt.Sprintf("%x", sum)))
	return nil
}

// Close releases the file. Transactions must not be running.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.cache.close()
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("%w: sync: %v", dberror.ErrIO, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", dberror.ErrIO, err)
	}
	s.logger.Info("page store closed")
	return nil
}

// readPage fills buf with the committed bytes of pid.
func (s *Store) readPage(pid pagemanager.PageID, buf []byte) error {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()

	ctx := context.Background()
	if data, ok := s.cache.get(pid); ok {
		copy(buf, data)
		s.metrics.CacheHitsCounter.Add(ctx, 1)
		return nil
	}
	if s.cache != nil && pid != pagemanager.HeaderPageID {
		s.metrics.CacheMissesCounter.Add(ctx, 1)
	}
	offset := int64(pid) * int64(s.pageSize)
	n, err := s.file.ReadAt(buf, offset)
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: short read of page %d: %d of %d bytes", dberror.ErrData, pid, n, len(buf))
		}
		return fmt.Errorf("%w: read page %d: %v", dberror.ErrIO, pid, err)
	}
	s.metrics.PagesReadCounter.Add(ctx, 1)
	s.cache.put(pid, buf)
	return nil
}

// flush writes a rendered commit and publishes the new page count.
func (s *Store) flush(pages []flushmanager.PageImage, header flushmanager.PageImage) (pagemanager.PageID, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	maxID, err := s.flusher.Flush(pages, header)
	for _, p := range pages {
		s.cache.invalidate(p.ID)
	}
	if err != nil {
		return 0, err
	}
	if count := uint32(maxID) + 1; count > s.pageCount.Load() {
		s.pageCount.Store(count)
	}
	return maxID, nil
}

func (s *Store) allocate() pagemanager.PageID {
	pid := s.nextPageID
	s.nextPageID++
	return pid
}

func (s *Store) allocated(pid pagemanager.PageID) bool {
	return pid < s.nextPageID
}

func isNotFound(err error) bool {
	return errors.Is(err, dberror.ErrKeyNotFound)
}
