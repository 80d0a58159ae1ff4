package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

func setupHealth(t *testing.T) (*HealthServer, healthpb.HealthClient, *telemetry.Telemetry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := pagefile.Open(filepath.Join(t.TempDir(), "health.db"), pagefile.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "pagedb-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	h, err := NewHealthServer(config.ServerConfig{}, store, tel, logger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return h, healthpb.NewHealthClient(conn), tel
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthTracksStore(t *testing.T) {
	h, client, _ := setupHealth(t)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, StoreService))

	h.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, StoreService))

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "pagedb.Unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthRecordsRPCMetrics(t *testing.T) {
	_, client, tel := setupHealth(t)
	checkStatus(t, client, StoreService)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pagedb_grpc_server_handled")
	assert.Contains(t, rec.Body.String(), "/grpc.health.v1.Health/Check")
}

func TestHealthRunDisabledWithoutAddr(t *testing.T) {
	tel, _, err := telemetry.New(telemetry.Config{})
	require.NoError(t, err)
	h, err := NewHealthServer(config.ServerConfig{}, nil, tel, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, h.Run(context.Background()))
}
