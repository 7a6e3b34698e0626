// Package sync keeps the manifest cache consistent with the manifest
// store. The coordinator reacts to mutation hooks by invalidating cached
// snapshots, fans events out to subscribers without blocking the mutation
// path, and exposes the administrative surface: force refresh, full
// invalidation, recent operation history, statistics, and health.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shipwatch/tracking-server/internal/cache"
	"github.com/shipwatch/tracking-server/internal/config"
	"github.com/shipwatch/tracking-server/internal/courier"
	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/telemetry"
)

// Coordinator owns the manifest cache and its consistency with the store.
type Coordinator interface {
	manifest.MutationHooks

	// GetManifest returns the manifest snapshot for trackingNumber using a
	// cache-aside read. A missing record is cached negatively and returned
	// as (nil, nil).
	GetManifest(ctx context.Context, trackingNumber string) (*manifest.Record, error)

	// RegisterSubscriber adds fn to the notification list and returns the
	// token that unregisters it.
	RegisterSubscriber(fn SubscriberFunc) uuid.UUID

	// UnregisterSubscriber removes the subscriber for token. It reports
	// whether the token was registered.
	UnregisterSubscriber(token uuid.UUID) bool

	// ForceSync refreshes the cached snapshot for trackingNumber straight
	// from the store. Subscribers are not notified: the manifest data did
	// not change, only the cache was refreshed.
	ForceSync(ctx context.Context, trackingNumber string) (*manifest.Record, error)

	// InvalidateAll flushes the entire cache and notifies subscribers.
	InvalidateAll(ctx context.Context)

	// Statistics returns a snapshot of the aggregated counters.
	Statistics() Statistics

	// PendingOperations returns the recent operation history, oldest first.
	PendingOperations() []Operation

	// ClearPendingOperations discards the operation history and returns
	// how many entries were dropped.
	ClearPendingOperations() int

	// HealthCheck reports whether the subsystem is operating normally.
	HealthCheck(ctx context.Context) HealthStatus

	// Start launches the notification worker. Blocks until ctx is done.
	Start(ctx context.Context) error

	// Stop gracefully stops the notification worker.
	Stop() error
}

// HealthStatus is the result of a coordinator health check.
type HealthStatus struct {
	Healthy            bool    `json:"healthy"`
	StoreReachable     bool    `json:"store_reachable"`
	Subscribers        int     `json:"subscribers"`
	CacheEntries       int     `json:"cache_entries"`
	CourierFailureRate float64 `json:"courier_failure_rate"`
	Detail             string  `json:"detail,omitempty"`
}

type defaultCoordinator struct {
	cache *cache.ManifestCache
	store manifest.Store
	stats *Stats

	subscribers *subscriberRegistry
	pending     *pendingOps
	notifyCh    chan Event

	preload              bool
	expectSubscribers    bool
	failureRateThreshold float64

	courierClient courier.Client
	metrics       *telemetry.SyncMetrics
	cacheMetrics  *telemetry.CacheMetrics

	stopCh  chan struct{}
	stopped sync.Once
	started atomic.Bool
	done    chan struct{}
}

// Option configures the coordinator.
type Option func(*defaultCoordinator)

// WithCourierClient wires the courier client whose recent failure rate
// feeds the health check.
func WithCourierClient(client courier.Client) Option {
	return func(c *defaultCoordinator) {
		c.courierClient = client
	}
}

// WithSyncMetrics sets the OpenTelemetry instruments for sync activity.
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = metrics
	}
}

// WithCacheMetrics sets the OpenTelemetry instruments for the owned cache.
// The coordinator records the entry gauge after every operation that changes
// the cache size.
func WithCacheMetrics(metrics *telemetry.CacheMetrics) Option {
	return func(c *defaultCoordinator) {
		c.cacheMetrics = metrics
	}
}

// WithStats replaces the counter collector. Useful when the same collector
// is shared with the cache and the courier client.
func WithStats(stats *Stats) Option {
	return func(c *defaultCoordinator) {
		c.stats = stats
	}
}

// New creates a coordinator over the given cache and store.
func New(manifestCache *cache.ManifestCache, store manifest.Store, cfg *config.SyncConfig, opts ...Option) Coordinator {
	if cfg == nil {
		cfg = &config.SyncConfig{}
	}

	c := &defaultCoordinator{
		cache:                manifestCache,
		store:                store,
		stats:                NewStats(),
		subscribers:          newSubscriberRegistry(),
		pending:              newPendingOps(cfg.GetPendingOpsLimit()),
		notifyCh:             make(chan Event, cfg.GetNotifyQueueSize()),
		preload:              cfg.Preload,
		expectSubscribers:    cfg.ExpectSubscribers,
		failureRateThreshold: cfg.GetFailureRateThreshold(),
		stopCh:               make(chan struct{}),
		done:                 make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start runs the notification worker until ctx is cancelled or Stop is
// called. A Stop issued before Start takes effect immediately.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.started.Store(true)
	slog.Info("Starting sync coordinator",
		"preload", c.preload,
		"notify_queue", cap(c.notifyCh))

	defer func() {
		close(c.done)
		slog.Info("Sync coordinator shutting down")
	}()

	for {
		select {
		case ev := <-c.notifyCh:
			c.deliver(ev)
		case <-ctx.Done():
			c.drain()
			return nil
		case <-c.stopCh:
			c.drain()
			return nil
		}
	}
}

// drain delivers what is already queued so registered subscribers do not
// miss events accepted before shutdown.
func (c *defaultCoordinator) drain() {
	for {
		select {
		case ev := <-c.notifyCh:
			c.deliver(ev)
		default:
			return
		}
	}
}

// Stop signals the worker and waits for it to finish. Safe to call from any
// goroutine, any number of times, including before Start has run.
func (c *defaultCoordinator) Stop() error {
	c.stopped.Do(func() {
		slog.Info("Stopping sync coordinator")
		close(c.stopCh)
	})
	if c.started.Load() {
		<-c.done
	}
	return nil
}

// OnCreate implements manifest.MutationHooks.
func (c *defaultCoordinator) OnCreate(ctx context.Context, trackingNumber string) {
	c.handleMutation(ctx, OpCreate, trackingNumber)
}

// OnUpdate implements manifest.MutationHooks.
func (c *defaultCoordinator) OnUpdate(ctx context.Context, trackingNumber string) {
	c.handleMutation(ctx, OpUpdate, trackingNumber)
}

// OnDelete implements manifest.MutationHooks.
func (c *defaultCoordinator) OnDelete(ctx context.Context, trackingNumber string) {
	c.handleMutation(ctx, OpDelete, trackingNumber)
}

// handleMutation runs post-commit. It must never block or fail the
// mutation that triggered it.
func (c *defaultCoordinator) handleMutation(ctx context.Context, op OpType, trackingNumber string) {
	c.cache.Invalidate(trackingNumber)
	c.stats.recordSyncOp(op)
	c.metrics.RecordInvalidation(ctx, string(op))

	c.pending.add(Operation{
		ID:             uuid.New(),
		Type:           op,
		TrackingNumber: trackingNumber,
		RecordedAt:     time.Now().UTC(),
	})

	slog.Debug("Manifest mutation synced",
		"op", op,
		"tracking_number", trackingNumber)

	if c.preload && op != OpDelete {
		c.preloadSnapshot(ctx, trackingNumber)
	}
	c.recordCacheSize(ctx)

	c.enqueue(ctx, Event{
		Type:           op,
		TrackingNumber: trackingNumber,
		OccurredAt:     time.Now().UTC(),
	})
}

// preloadSnapshot eagerly repopulates the cache after a mutation. Failures
// are logged only; the next read falls back to the store.
func (c *defaultCoordinator) preloadSnapshot(ctx context.Context, trackingNumber string) {
	rec, err := c.store.GetByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		if !errors.Is(err, manifest.ErrNotFound) {
			slog.Warn("Cache preload failed",
				"tracking_number", trackingNumber,
				"error", err)
		}
		return
	}
	c.cache.Set(trackingNumber, rec, 0)
}

// enqueue hands an event to the notification worker without blocking.
// When the queue is full the oldest queued event is dropped to admit the
// newest one.
func (c *defaultCoordinator) enqueue(ctx context.Context, ev Event) {
	select {
	case c.notifyCh <- ev:
		return
	default:
	}

	select {
	case dropped := <-c.notifyCh:
		c.stats.recordDroppedNotification()
		c.metrics.RecordDroppedNotification(ctx)
		slog.Warn("Notification queue full, dropping oldest event",
			"dropped_type", dropped.Type,
			"dropped_tracking_number", dropped.TrackingNumber)
	default:
	}

	select {
	case c.notifyCh <- ev:
	default:
		c.stats.recordDroppedNotification()
		c.metrics.RecordDroppedNotification(ctx)
	}
}

func (c *defaultCoordinator) deliver(ev Event) {
	c.subscribers.notify(ev)
	c.stats.recordNotification()
	c.metrics.RecordNotification(context.Background())
}

func (c *defaultCoordinator) GetManifest(ctx context.Context, trackingNumber string) (*manifest.Record, error) {
	rec, err := c.cache.GetOrLoad(ctx, trackingNumber, func(ctx context.Context) (*manifest.Record, error) {
		rec, err := c.store.GetByTrackingNumber(ctx, trackingNumber)
		if errors.Is(err, manifest.ErrNotFound) {
			// Cache the absence so repeated lookups for unknown numbers
			// do not hammer the store.
			return nil, nil
		}
		return rec, err
	})
	if err != nil {
		return nil, err
	}
	c.recordCacheSize(ctx)
	return rec, nil
}

func (c *defaultCoordinator) RegisterSubscriber(fn SubscriberFunc) uuid.UUID {
	token := c.subscribers.register(fn)
	slog.Debug("Sync subscriber registered", "token", token)
	return token
}

func (c *defaultCoordinator) UnregisterSubscriber(token uuid.UUID) bool {
	removed := c.subscribers.unregister(token)
	slog.Debug("Sync subscriber unregistered", "token", token, "removed", removed)
	return removed
}

func (c *defaultCoordinator) ForceSync(ctx context.Context, trackingNumber string) (*manifest.Record, error) {
	c.cache.Invalidate(trackingNumber)

	rec, err := c.store.GetByTrackingNumber(ctx, trackingNumber)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		c.cache.Set(trackingNumber, nil, 0)
		rec = nil
	case err != nil:
		return nil, err
	default:
		c.cache.Set(trackingNumber, rec, 0)
	}

	c.stats.recordSyncOp(OpForceSync)
	c.recordCacheSize(ctx)
	c.pending.add(Operation{
		ID:             uuid.New(),
		Type:           OpForceSync,
		TrackingNumber: trackingNumber,
		RecordedAt:     time.Now().UTC(),
	})

	slog.Info("Forced cache refresh",
		"tracking_number", trackingNumber,
		"found", rec != nil)
	return rec, nil
}

func (c *defaultCoordinator) InvalidateAll(ctx context.Context) {
	c.cache.InvalidateAll()
	c.metrics.RecordInvalidation(ctx, string(OpInvalidateAll))
	c.recordCacheSize(ctx)
	c.enqueue(ctx, Event{Type: OpInvalidateAll, OccurredAt: time.Now().UTC()})
	slog.Info("Cache fully invalidated")
}

// recordCacheSize publishes the current entry count to the cache gauge.
func (c *defaultCoordinator) recordCacheSize(ctx context.Context) {
	c.cacheMetrics.RecordEntries(ctx, int64(c.cache.Len()))
}

func (c *defaultCoordinator) Statistics() Statistics {
	return c.stats.Snapshot()
}

func (c *defaultCoordinator) PendingOperations() []Operation {
	return c.pending.snapshot()
}

func (c *defaultCoordinator) ClearPendingOperations() int {
	n := c.pending.clear()
	slog.Info("Pending sync operations cleared", "dropped", n)
	return n
}

func (c *defaultCoordinator) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:      true,
		Subscribers:  c.subscribers.count(),
		CacheEntries: c.cache.Len(),
	}

	if _, err := c.store.Count(ctx); err != nil {
		status.Healthy = false
		status.Detail = "manifest store unreachable"
		slog.Warn("Health check: store unreachable", "error", err)
	} else {
		status.StoreReachable = true
	}

	if c.courierClient != nil {
		status.CourierFailureRate = c.courierClient.RecentFailureRate()
	} else {
		status.CourierFailureRate = c.stats.Snapshot().APIFailureRate
	}
	if status.CourierFailureRate > c.failureRateThreshold {
		status.Healthy = false
		status.Detail = "courier failure rate above threshold"
	}

	if c.expectSubscribers && status.Subscribers == 0 {
		status.Healthy = false
		status.Detail = "no sync subscribers registered"
	}

	return status
}
