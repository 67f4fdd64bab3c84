package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/useorgx/openclaw-plugin/internal/audit"
	"github.com/useorgx/openclaw-plugin/internal/bus"
	"github.com/useorgx/openclaw-plugin/internal/config"
	otelPkg "github.com/useorgx/openclaw-plugin/internal/otel"
	"github.com/useorgx/openclaw-plugin/internal/orgx"
	"github.com/useorgx/openclaw-plugin/internal/outbox"
	"github.com/useorgx/openclaw-plugin/internal/persistence"
	"github.com/useorgx/openclaw-plugin/internal/syncer"
	"github.com/useorgx/openclaw-plugin/internal/telemetry"
)

// app holds the wiring shared by every subcommand. Config is resolved once
// and handed to each component.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	bus       *bus.Bus
	otel      *otelPkg.Provider
	metrics   *otelPkg.Metrics
	store     *persistence.Store
	outbox    *outbox.Queue
	client    *orgx.HTTPClient // nil without an API key
	syncer    *syncer.Syncer
}

// openApp loads config and builds the stores, client, and syncer. quiet
// keeps logs out of stdout.
func openApp(ctx context.Context, quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, closer, err := telemetry.NewLogger(cfg.ConfigDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	slog.SetDefault(logger)
	if err := audit.Init(cfg.ConfigDir); err != nil {
		logger.Warn("audit trail unavailable", "error", err)
	}

	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRate:     cfg.Telemetry.SampleRate,
		Writer:         stderr,
	})
	if err != nil {
		_ = audit.Close()
		closer.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		logger.Warn("metrics unavailable", "error", err)
		metrics = nil
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		bus:       bus.New(),
		otel:      provider,
		metrics:   metrics,
	}
	a.store = persistence.Open(cfg.ConfigDir, a.bus,
		persistence.WithLogger(logger.With("component", "store")),
		persistence.WithMetrics(metrics),
	)
	a.outbox = outbox.New(cfg.OutboxDir, a.bus,
		outbox.WithLogger(logger.With("component", "outbox")),
		outbox.WithMetrics(metrics),
	)
	a.client = a.newClient(cfg)
	a.syncer = syncer.New(syncer.Config{
		Client:  entityClient(a.client),
		Store:   a.store,
		Outbox:  a.outbox,
		Bus:     a.bus,
		Logger:  logger.With("component", "syncer"),
		Tracer:  provider.Tracer,
		Metrics: metrics,
	})
	if cfg.NeedsSetup {
		logger.Info("no config.yaml yet; run set-key to connect", "config_dir", cfg.ConfigDir)
	}
	return a, nil
}

// newClient builds the entity client for cfg, or nil when no API key is set.
func (a *app) newClient(cfg config.Config) *orgx.HTTPClient {
	if !cfg.Configured() {
		return nil
	}
	return orgx.NewHTTPClient(orgx.Options{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		UserID:         cfg.UserID,
		RequestTimeout: cfg.RequestTimeout(),
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL(),
		Logger:         a.logger.With("component", "orgx"),
		Tracer:         a.otel.Tracer,
		Metrics:        a.metrics,
	})
}

// entityClient avoids handing the syncer a typed nil.
func entityClient(c *orgx.HTTPClient) orgx.EntityClient {
	if c == nil {
		return nil
	}
	return c
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = audit.Close()
	a.logCloser.Close()
}

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(ctx context.Context, fn func(*app) int) int {
	a, err := openApp(ctx, true)
	if err != nil {
		return fatalStartup("E_CONFIG_LOAD", err)
	}
	defer a.Close()
	return fn(a)
}
