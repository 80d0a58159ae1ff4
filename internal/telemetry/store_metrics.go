package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// StoreMetrics holds all the metric instruments for the page store.
type StoreMetrics struct {
	PagesReadCounter           metric.Int64Counter
	PagesWrittenCounter        metric.Int64Counter
	CacheHitsCounter           metric.Int64Counter
	CacheMissesCounter         metric.Int64Counter
	TxnOutcomeCounter          metric.Int64Counter
	CommitLatencyHistogram     metric.Int64Histogram
	ActiveReadersUpDownCounter metric.Int64UpDownCounter
}

// NewStoreMetrics creates and registers all the metrics for the page store.
// A nil meter yields no-op instruments.
func NewStoreMetrics(meter metric.Meter) (*StoreMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	pagesRead, err := meter.Int64Counter(
		"pagedb.store.pages_read_total",
		metric.WithDescription("Pages read from the database file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesWritten, err := meter.Int64Counter(
		"pagedb.store.pages_written_total",
		metric.WithDescription("Pages written by committed transactions, header included."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"pagedb.store.cache_hits_total",
		metric.WithDescription("Page reads served by the shared page cache."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"pagedb.store.cache_misses_total",
		metric.WithDescription("Page reads that went to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnOutcome, err := meter.Int64Counter(
		"pagedb.store.write_txns_total",
		metric.WithDescription("Write transactions by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commitLatency, err := meter.Int64Histogram(
		"pagedb.store.commit.duration",
		metric.WithDescription("Time spent serializing and flushing a commit."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeReaders, err := meter.Int64UpDownCounter(
		"pagedb.store.active_readers",
		metric.WithDescription("Number of read transactions in progress."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		PagesReadCounter:           pagesRead,
		PagesWrittenCounter:        pagesWritten,
		CacheHitsCounter:           cacheHits,
		CacheMissesCounter:         cacheMisses,
		TxnOutcomeCounter:          txnOutcome,
		CommitLatencyHistogram:     commitLatency,
		ActiveReadersUpDownCounter: activeReaders,
	}, nil
}
