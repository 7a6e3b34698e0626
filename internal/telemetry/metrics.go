// Package telemetry provides OpenTelemetry instrumentation for the tracking server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CacheMetricsMeterName is the name used for the cache metrics meter
	CacheMetricsMeterName = "github.com/shipwatch/tracking-server/cache"

	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/shipwatch/tracking-server/sync"

	// CourierMetricsMeterName is the name used for the courier client metrics meter
	CourierMetricsMeterName = "github.com/shipwatch/tracking-server/courier"
)

// CacheMetrics holds the OpenTelemetry instruments for manifest cache metrics
type CacheMetrics struct {
	lookups metric.Int64Counter
	entries metric.Int64Gauge
}

// NewCacheMetrics creates a new CacheMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCacheMetrics(provider metric.MeterProvider) (*CacheMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CacheMetricsMeterName)

	lookups, err := meter.Int64Counter(
		"shipwatch_cache_lookups_total",
		metric.WithDescription("Number of manifest cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := meter.Int64Gauge(
		"shipwatch_cache_entries",
		metric.WithDescription("Number of entries currently in the manifest cache"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{lookups: lookups, entries: entries}, nil
}

// RecordLookup records a cache lookup outcome.
func (m *CacheMetrics) RecordLookup(ctx context.Context, hit bool) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordEntries records the current cache entry count.
func (m *CacheMetrics) RecordEntries(ctx context.Context, count int64) {
	if m == nil || m.entries == nil {
		return
	}
	m.entries.Record(ctx, count)
}

// SyncMetrics holds the OpenTelemetry instruments for sync coordinator metrics
type SyncMetrics struct {
	invalidations        metric.Int64Counter
	notifications        metric.Int64Counter
	droppedNotifications metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	invalidations, err := meter.Int64Counter(
		"shipwatch_sync_invalidations_total",
		metric.WithDescription("Number of cache invalidations triggered by manifest mutations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		"shipwatch_sync_notifications_total",
		metric.WithDescription("Number of subscriber notifications dispatched"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"shipwatch_sync_notifications_dropped_total",
		metric.WithDescription("Number of subscriber notifications dropped due to a full queue"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		invalidations:        invalidations,
		notifications:        notifications,
		droppedNotifications: dropped,
	}, nil
}

// RecordInvalidation records a mutation-driven cache invalidation.
func (m *SyncMetrics) RecordInvalidation(ctx context.Context, op string) {
	if m == nil || m.invalidations == nil {
		return
	}
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordNotification records a dispatched subscriber notification.
func (m *SyncMetrics) RecordNotification(ctx context.Context) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.Add(ctx, 1)
}

// RecordDroppedNotification records a notification dropped because the queue was full.
func (m *SyncMetrics) RecordDroppedNotification(ctx context.Context) {
	if m == nil || m.droppedNotifications == nil {
		return
	}
	m.droppedNotifications.Add(ctx, 1)
}

// CourierMetrics holds the OpenTelemetry instruments for courier API metrics
type CourierMetrics struct {
	requestDuration metric.Float64Histogram
}

// NewCourierMetrics creates a new CourierMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCourierMetrics(provider metric.MeterProvider) (*CourierMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CourierMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"shipwatch_courier_request_duration_seconds",
		metric.WithDescription("Duration of courier API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &CourierMetrics{requestDuration: requestDuration}, nil
}

// RecordRequest records a courier API request with its duration and outcome.
func (m *CourierMetrics) RecordRequest(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
