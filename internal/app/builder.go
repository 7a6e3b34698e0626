package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/shipwatch/tracking-server/internal/api"
	"github.com/shipwatch/tracking-server/internal/cache"
	"github.com/shipwatch/tracking-server/internal/config"
	"github.com/shipwatch/tracking-server/internal/courier"
	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/query"
	csync "github.com/shipwatch/tracking-server/internal/sync"
	"github.com/shipwatch/tracking-server/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 45 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// TrackingAppOption configures the tracking app builder
type TrackingAppOption func(*trackingAppConfig) error

// trackingAppConfig collects the builder state. Component overrides exist
// primarily for testing.
type trackingAppConfig struct {
	config *config.Config

	store         manifest.Store
	courierClient courier.Client

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider metric.MeterProvider
}

func baseConfig(opts ...TrackingAppOption) (*trackingAppConfig, error) {
	cfg := &trackingAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	return cfg, nil
}

// NewTrackingApp wires all components and returns a runnable app
func NewTrackingApp(ctx context.Context, opts ...TrackingAppOption) (*TrackingApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, cleanup, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		cleanup()
		return nil, err
	}

	appCtx, cancel := context.WithCancel(ctx)
	cancelFunc := func() {
		cleanup()
		cancel()
	}

	return &TrackingApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid host:port: %s", addr)
		}
		host := parts[0]
		port := parts[1]

		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid host:port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore allows injecting a custom manifest store (for testing)
func WithStore(s manifest.Store) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		cfg.store = s
		return nil
	}
}

// WithCourierClient allows injecting a custom courier client (for testing)
func WithCourierClient(c courier.Client) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		cfg.courierClient = c
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider
func WithMeterProvider(mp metric.MeterProvider) TrackingAppOption {
	return func(cfg *trackingAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// instrumentedCacheStats forwards cache outcomes to both the counter
// collector and the OpenTelemetry instruments.
type instrumentedCacheStats struct {
	stats   *csync.Stats
	metrics *telemetry.CacheMetrics
}

func (s *instrumentedCacheStats) RecordCacheHit() {
	s.stats.RecordCacheHit()
	s.metrics.RecordLookup(context.Background(), true)
}

func (s *instrumentedCacheStats) RecordCacheMiss() {
	s.stats.RecordCacheMiss()
	s.metrics.RecordLookup(context.Background(), false)
}

// buildComponents wires store, cache, courier client, coordinator, and
// engine. The returned cleanup releases the database pool, if any.
func buildComponents(ctx context.Context, b *trackingAppConfig) (*Components, func(), error) {
	slog.Info("Initializing tracking components")

	stats := csync.NewStats()
	cleanup := func() {}

	var cacheMetrics *telemetry.CacheMetrics
	var courierMetrics *telemetry.CourierMetrics
	var syncMetrics *telemetry.SyncMetrics
	if b.meterProvider != nil {
		var err error
		if cacheMetrics, err = telemetry.NewCacheMetrics(b.meterProvider); err != nil {
			return nil, nil, fmt.Errorf("failed to create cache metrics: %w", err)
		}
		if courierMetrics, err = telemetry.NewCourierMetrics(b.meterProvider); err != nil {
			return nil, nil, fmt.Errorf("failed to create courier metrics: %w", err)
		}
		if syncMetrics, err = telemetry.NewSyncMetrics(b.meterProvider); err != nil {
			return nil, nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		slog.Info("Telemetry instruments enabled")
	}

	manifestCache := cache.New(
		cache.WithTTL(b.config.Cache.GetTTL()),
		cache.WithStatsRecorder(&instrumentedCacheStats{stats: stats, metrics: cacheMetrics}),
	)

	// The relay breaks the store/coordinator construction cycle: the store
	// needs hooks at creation, the coordinator needs the store.
	relay := manifest.NewHookRelay()

	store := b.store
	if store == nil {
		var err error
		store, cleanup, err = buildStore(ctx, b.config, relay)
		if err != nil {
			return nil, nil, err
		}
	}

	courierClient := b.courierClient
	if courierClient == nil {
		var err error
		courierClient, err = courier.NewClient(&b.config.Courier,
			courier.WithStatsRecorder(stats),
			courier.WithMetrics(courierMetrics),
		)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create courier client: %w", err)
		}
	}

	coordinator := csync.New(manifestCache, store, &b.config.Sync,
		csync.WithStats(stats),
		csync.WithCourierClient(courierClient),
		csync.WithSyncMetrics(syncMetrics),
		csync.WithCacheMetrics(cacheMetrics),
	)
	relay.Bind(coordinator)

	engine := query.New(coordinator, courierClient)

	slog.Info("Tracking components initialized successfully")
	return &Components{
		ManifestStore:   store,
		ManifestCache:   manifestCache,
		SyncCoordinator: coordinator,
		CourierClient:   courierClient,
		QueryEngine:     engine,
	}, cleanup, nil
}

// buildStore selects the manifest persistence backend: Postgres when a
// database is configured, in-memory otherwise.
func buildStore(ctx context.Context, cfg *config.Config, hooks manifest.MutationHooks) (manifest.Store, func(), error) {
	if cfg.Database == nil {
		slog.Info("Using in-memory manifest store")
		store, err := manifest.NewInMemoryStore(manifest.WithMemMutationHooks(hooks))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		return store, func() {}, nil
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build database connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := manifest.NewPostgresStore(pool, manifest.WithMutationHooks(hooks))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create postgres store: %w", err)
	}

	if err := manifest.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ensure manifest schema: %w", err)
	}

	slog.Info("Using postgres manifest store", "host", cfg.Database.Host)
	return store, pool.Close, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *trackingAppConfig, components *Components) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics middleware goes first so every request is captured.
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}

	router := api.NewServer(
		components.QueryEngine,
		components.SyncCoordinator,
		components.ManifestStore,
		api.WithMiddlewares(b.middlewares...),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
