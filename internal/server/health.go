package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

// StoreService is the health service name that tracks the page store. The
// empty service name reports the same status.
const StoreService = "pagedb.Store"

// HealthServer serves grpc.health.v1 and server reflection for load
// balancers and orchestrators.
type HealthServer struct {
	cfg    config.ServerConfig
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer reports SERVING for the open store until SetServing(false)
// or shutdown.
func NewHealthServer(cfg config.ServerConfig, store *pagefile.Store, tel *telemetry.Telemetry, log *zap.Logger) (*HealthServer, error) {
	metrics, err := internaltelemetry.NewRPCMetrics(tel.Meter)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(metrics.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	h := &HealthServer{cfg: cfg, grpc: gs, health: hs, logger: logger.Component(log, "grpc")}
	h.SetServing(store != nil)
	return h, nil
}

// SetServing flips the store's health status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(StoreService, status)
}

// Run listens on cfg.GRPCAddr and serves until ctx is cancelled. An empty
// address disables the listener.
func (h *HealthServer) Run(ctx context.Context) error {
	if h.cfg.GRPCAddr == "" {
		h.logger.Info("grpc health listener disabled")
		return nil
	}
	lis, err := net.Listen("tcp", h.cfg.GRPCAddr)
	if err != nil {
		return err
	}
	h.logger.Info("grpc health listener started", zap.String("addr", lis.Addr().String()))
	return h.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then marks every service
// NOT_SERVING and stops. Open Watch streams are cut after ShutdownTimeout.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.grpc.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.health.Shutdown()
	timeout := h.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stopped := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		h.logger.Warn("grpc graceful stop timed out, closing connections")
		h.grpc.Stop()
	}
	h.logger.Info("grpc health listener stopped")
	return <-errCh
}
