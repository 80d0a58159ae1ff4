package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/pagedb/core/codec"
	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexing/table"
	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

var counts = btree.Config[uint64, uint64]{
	Keys:    codec.Uint64Codec{},
	Values:  codec.Uint64Codec{},
	Compare: btree.DefaultKeyOrder[uint64],
}

var labels = btree.Config[string, uint32]{
	Keys:    codec.StringCodec{},
	Values:  codec.Uint32Codec{},
	Compare: strings.Compare,
}

func setupServer(t *testing.T, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := pagefile.Open(filepath.Join(t.TempDir(), "srv.db"), pagefile.Options{PageSize: 512, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Update(context.Background(), 42, func(txn *pagefile.WriteTxn) error {
		pairs := make([]btree.Pair[uint64, uint64], 500)
		for i := range pairs {
			pairs[i] = btree.Pair[uint64, uint64]{Key: uint64(i), Value: uint64(i * 10)}
		}
		if _, err := btree.Create(txn, "counts", counts, pairs); err != nil {
			return err
		}
		tbl, err := table.Create(txn, "labels", labels)
		if err != nil {
			return err
		}
		return tbl.Append([]btree.Pair[string, uint32]{{Key: "a", Value: 1}, {Key: "b", Value: 2}}, false)
	}))

	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "pagedb-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	srv := httptest.NewServer(NewServer(cfg, store, tel, logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatsAndRoots(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{})

	var health HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	assert.Equal(t, "ok", health.Status)

	var stats StatsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stats", &stats))
	assert.Equal(t, 512, stats.PageSize)
	assert.Equal(t, uint64(42), stats.Version)
	assert.Equal(t, 3, stats.Roots)
	assert.Equal(t, int64(stats.PageCount)*512, stats.FileBytes)

	var roots []RootResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/roots", &roots))
	kinds := map[string]string{}
	for _, r := range roots {
		kinds[r.Name] = r.Kind
	}
	assert.Equal(t, "tree-internal", kinds["counts"])
	assert.Equal(t, "table", kinds["labels"])
	assert.Contains(t, kinds, pagefile.SystemRoot)
}

func TestTreeEndpoints(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{})

	var tree TreeResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/trees/counts", &tree))
	assert.Equal(t, uint64(500), tree.Stats.Pairs)
	assert.Equal(t, "uint64", tree.KeyType)
	assert.Greater(t, tree.Stats.Depth, 1)
	assert.Positive(t, tree.FillRatio)

	var lookup LookupResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/trees/counts/keys/77", &lookup))
	assert.Equal(t, []string{"770"}, lookup.Values)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/trees/counts/keys/seventy", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/trees/missing", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, getJSON(t, srv.URL+"/trees/labels", nil))
}

func TestTableEndpoint(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{})

	var tbl TableResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/tables/labels", &tbl))
	assert.Equal(t, uint64(2), tbl.Pairs)
	assert.Len(t, tbl.Pages, 2)
	assert.Equal(t, "string", tbl.KeyType)
	assert.Equal(t, "uint32", tbl.ValueType)
}

func TestPageEndpoint(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{RequestsPerSecond: 1})

	var page PageResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/pages/0", &page))
	assert.Equal(t, "header", page.Kind)
	assert.Equal(t, 512, page.Size)
	assert.Len(t, page.Hex, 1024)

	assert.Equal(t, http.StatusTooManyRequests, getJSON(t, srv.URL+"/pages/0", nil))
}

func TestPageEndpointBounds(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{})
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/pages/-1", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/pages/99999", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t, config.ServerConfig{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
