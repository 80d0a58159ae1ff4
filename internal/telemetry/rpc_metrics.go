package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPCMetrics holds the instruments for the gRPC health listener.
type RPCMetrics struct {
	RpcsStartedCounter      metric.Int64Counter
	RpcsHandledCounter      metric.Int64Counter
	RpcLatencyHistogram     metric.Int64Histogram
	ActiveRpcsUpDownCounter metric.Int64UpDownCounter
}

// NewRPCMetrics creates the gRPC server instruments. A nil meter yields
// no-op instruments.
func NewRPCMetrics(meter metric.Meter) (*RPCMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	started, err := meter.Int64Counter(
		"pagedb.grpc.server.started_total",
		metric.WithDescription("Total number of RPCs started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	handled, err := meter.Int64Counter(
		"pagedb.grpc.server.handled_total",
		metric.WithDescription("Total number of RPCs completed, by status code."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"pagedb.grpc.server.duration",
		metric.WithDescription("The latency of RPCs."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"pagedb.grpc.server.active_rpcs",
		metric.WithDescription("Number of active RPCs."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &RPCMetrics{
		RpcsStartedCounter:      started,
		RpcsHandledCounter:      handled,
		RpcLatencyHistogram:     latency,
		ActiveRpcsUpDownCounter: active,
	}, nil
}

// observe records one RPC around call.
func (m *RPCMetrics) observe(ctx context.Context, method string, call func() error) error {
	attrs := metric.WithAttributes(attribute.String("rpc.method", method))
	m.RpcsStartedCounter.Add(ctx, 1, attrs)
	m.ActiveRpcsUpDownCounter.Add(ctx, 1, attrs)
	start := time.Now()

	err := call()

	m.ActiveRpcsUpDownCounter.Add(ctx, -1, attrs)
	m.RpcLatencyHistogram.Record(ctx, time.Since(start).Milliseconds(), attrs)
	m.RpcsHandledCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("rpc.grpc.status_code", status.Code(err).String()),
	))
	return err
}

func (m *RPCMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var resp any
		err := m.observe(ctx, info.FullMethod, func() error {
			var err error
			resp, err = handler(ctx, req)
			return err
		})
		return resp, err
	}
}

// StreamServerInterceptor covers Health/Watch and reflection streams; the
// latency is the lifetime of the stream.
func (m *RPCMetrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return m.observe(ss.Context(), info.FullMethod, func() error {
			return handler(srv, ss)
		})
	}
}
