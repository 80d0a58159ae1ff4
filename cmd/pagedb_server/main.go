package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	envFile    = flag.String("env_file", ".env", "Optional .env file with PAGEDB_* overrides")
	dbPath     = flag.String("db", "", "Database file; overrides store.path")
	httpAddr   = flag.String("http_addr", "", "Diagnostics listen address; overrides server.addr")
	grpcAddr   = flag.String("grpc_addr", "", "gRPC health listen address; overrides server.grpc_addr")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags{
		configPath: *configPath,
		envFile:    *envFile,
		dbPath:     *dbPath,
		httpAddr:   *httpAddr,
		grpcAddr:   *grpcAddr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "pagedb_server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	container, err := buildContainer(f)
	if err != nil {
		return err
	}
	return container.Invoke(func(a *app) error {
		defer a.close()
		a.logger.Info("starting pagedb diagnostics server",
			zap.String("db", a.store.Path()),
			zap.Int("page_size", a.store.PageSize()),
			zap.Uint32("page_count", a.store.PageCount()))
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.server.Run(gctx) })
		g.Go(func() error { return a.health.Run(gctx) })
		if err := g.Wait(); err != nil {
			return err
		}
		a.logger.Info("pagedb diagnostics server stopped")
		return nil
	})
}
