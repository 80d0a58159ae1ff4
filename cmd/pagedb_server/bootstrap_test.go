package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sushant-115/pagedb/internal/server"
)

func TestContainerWiresServer(t *testing.T) {
	t.Setenv("PAGEDB_LOG_OUTPUT", "stderr")
	t.Setenv("PAGEDB_SYNC_ON_COMMIT", "false")
	dir := t.TempDir()
	container, err := buildContainer(flags{
		envFile:  filepath.Join(dir, "missing.env"),
		dbPath:   filepath.Join(dir, "db", "pagedb.db"),
		httpAddr: "127.0.0.1:0",
		grpcAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	require.NoError(t, container.Invoke(func(a *app) {
		defer a.close()
		assert.Equal(t, filepath.Join(dir, "db", "pagedb.db"), a.store.Path())
		assert.Equal(t, uint32(1), a.store.PageCount())

		rec := httptest.NewRecorder()
		a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "pagedb_store")
		assert.NotNil(t, a.health)
	}))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv("PAGEDB_LOG_OUTPUT", "stderr")
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, flags{
		envFile:  filepath.Join(dir, "missing.env"),
		dbPath:   filepath.Join(dir, "pagedb.db"),
		httpAddr: "127.0.0.1:0",
		grpcAddr: "127.0.0.1:0",
	})
	assert.NoError(t, err)
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	_, err := loadConfig(flags{configPath: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestCloseMarksStoreNotServing(t *testing.T) {
	t.Setenv("PAGEDB_LOG_OUTPUT", "stderr")
	dir := t.TempDir()
	container, err := buildContainer(flags{
		envFile: filepath.Join(dir, "missing.env"),
		dbPath:  filepath.Join(dir, "pagedb.db"),
	})
	require.NoError(t, err)

	require.NoError(t, container.Invoke(func(a *app) {
		lis := bufconn.Listen(1 << 20)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.health.Serve(ctx, lis) }()
		defer func() {
			cancel()
			assert.NoError(t, <-done)
		}()

		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		defer conn.Close()
		client := healthpb.NewHealthClient(conn)

		check := func() healthpb.HealthCheckResponse_ServingStatus {
			resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.StoreService})
			require.NoError(t, err)
			return resp.GetStatus()
		}
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
		a.close()
		assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	}))
}
