package main

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/internal/server"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

type flags struct {
	configPath string
	envFile    string
	dbPath     string
	httpAddr   string
	grpcAddr   string
}

// app is everything run needs, resolved from the container.
type app struct {
	logger   *zap.Logger
	store    *pagefile.Store
	server   *server.Server
	health   *server.HealthServer
	shutdown telemetry.ShutdownFunc
}

func (a *app) close() {
	a.health.SetServing(false)
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", zap.Error(err))
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Error("failed to shut down telemetry", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func buildContainer(f flags) (*dig.Container, error) {
	container := dig.New()
	constructors := []interface{}{
		func() flags { return f },
		loadConfig,
		newLogger,
		newTelemetry,
		openStore,
		func(cfg config.Config) config.ServerConfig { return cfg.Server },
		server.NewServer,
		server.NewHealthServer,
		newApp,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		return cfg, err
	}
	if f.dbPath != "" {
		cfg.Store.Path = f.dbPath
	}
	if f.httpAddr != "" {
		cfg.Server.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.Server.GRPCAddr = f.grpcAddr
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	log, _, err := logger.New(cfg.Logger)
	return log, err
}

type telemetryResult struct {
	dig.Out
	Telemetry *telemetry.Telemetry
	Shutdown  telemetry.ShutdownFunc
}

func newTelemetry(cfg config.Config) (telemetryResult, error) {
	cfg.Telemetry.SetGlobal = true
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return telemetryResult{}, err
	}
	return telemetryResult{Telemetry: tel, Shutdown: shutdown}, nil
}

func openStore(cfg config.Config, log *zap.Logger, tel *telemetry.Telemetry) (*pagefile.Store, error) {
	opts, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger.Component(log, "store")
	opts.Meter = tel.Meter
	opts.Tracer = tel.Tracer
	return pagefile.Open(cfg.Store.Path, opts)
}

func newApp(log *zap.Logger, store *pagefile.Store, srv *server.Server, health *server.HealthServer, shutdown telemetry.ShutdownFunc) *app {
	return &app{logger: log, store: store, server: srv, health: health, shutdown: shutdown}
}
