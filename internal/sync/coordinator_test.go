package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/shipwatch/tracking-server/internal/cache"
	"github.com/shipwatch/tracking-server/internal/config"
	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/manifest/mocks"
	"github.com/shipwatch/tracking-server/internal/telemetry"
)

func newTestCoordinator(t *testing.T, cfg *config.SyncConfig, opts ...Option) (Coordinator, manifest.Store, *cache.ManifestCache) {
	t.Helper()

	store, err := manifest.NewInMemoryStore()
	require.NoError(t, err)

	manifestCache := cache.New()
	coord := New(manifestCache, store, cfg, opts...)
	return coord, store, manifestCache
}

func startCoordinator(t *testing.T, coord Coordinator) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = coord.Start(ctx)
	}()
	<-started

	t.Cleanup(func() {
		cancel()
		_ = coord.Stop()
	})
}

func TestCoordinator_MutationInvalidatesCache(t *testing.T) {
	t.Parallel()

	coord, store, manifestCache := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &manifest.Record{
		TrackingNumber: "SF100",
		PackageNumber:  "PK900",
	}))

	rec, err := coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "PK900", rec.PackageNumber)
	assert.Equal(t, 1, manifestCache.Len())

	updated, err := store.GetByTrackingNumber(ctx, "SF100")
	require.NoError(t, err)
	updated.PackageNumber = "PK901"
	require.NoError(t, store.Update(ctx, updated))

	// The store has no hooks wired in this test, so the mutation is
	// reported to the coordinator directly.
	coord.OnUpdate(ctx, "SF100")

	rec, err = coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "PK901", rec.PackageNumber, "post-mutation read must not be stale")
}

func TestCoordinator_DeleteCachesAbsence(t *testing.T) {
	t.Parallel()

	coord, store, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &manifest.Record{
		TrackingNumber: "SF100",
		PackageNumber:  "PK900",
	}))

	rec, err := coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.NoError(t, store.Delete(ctx, "SF100"))
	coord.OnDelete(ctx, "SF100")

	rec, err = coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCoordinator_GetManifest_NegativeCaching(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	store.EXPECT().
		GetByTrackingNumber(gomock.Any(), "UNKNOWN").
		Return(nil, manifest.ErrNotFound).
		Times(1)

	manifestCache := cache.New()
	coord := New(manifestCache, store, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec, err := coord.GetManifest(ctx, "UNKNOWN")
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestCoordinator_GetManifest_StoreError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	storeErr := errors.New("connection refused")
	store.EXPECT().
		GetByTrackingNumber(gomock.Any(), "SF100").
		Return(nil, storeErr)

	coord := New(cache.New(), store, nil)

	_, err := coord.GetManifest(context.Background(), "SF100")
	assert.ErrorIs(t, err, storeErr)
}

func TestCoordinator_SubscriberNotification(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, nil)
	startCoordinator(t, coord)

	var mu sync.Mutex
	var order []string

	coord.RegisterSubscriber(func(ev Event) error {
		mu.Lock()
		order = append(order, "first:"+string(ev.Type))
		mu.Unlock()
		return nil
	})
	coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return errors.New("subscriber failure is isolated")
	})
	coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		order = append(order, "third")
		mu.Unlock()
		return nil
	})

	coord.OnCreate(context.Background(), "SF100")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:create", "second", "third"}, order)
}

func TestCoordinator_UnregisteredSubscriberReceivesNothing(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, nil)
	startCoordinator(t, coord)

	var mu sync.Mutex
	unregisteredCalls := 0
	remainingCalls := 0

	token := coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		unregisteredCalls++
		mu.Unlock()
		return nil
	})
	coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		remainingCalls++
		mu.Unlock()
		return nil
	})

	assert.True(t, coord.UnregisterSubscriber(token))
	assert.False(t, coord.UnregisterSubscriber(token), "second unregister reports not found")

	coord.OnDelete(context.Background(), "SF100")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return remainingCalls == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, unregisteredCalls)
}

func TestCoordinator_PanickingSubscriberIsContained(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, nil)
	startCoordinator(t, coord)

	var mu sync.Mutex
	delivered := 0

	coord.RegisterSubscriber(func(Event) error {
		panic("subscriber bug")
	})
	coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	coord.OnUpdate(context.Background(), "SF100")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_NotificationQueueDropsOldest(t *testing.T) {
	t.Parallel()

	cfg := &config.SyncConfig{NotifyQueueSize: 2}
	coord, _, _ := newTestCoordinator(t, cfg)

	// The worker is intentionally not started, so events pile up.
	ctx := context.Background()
	coord.OnCreate(ctx, "SF1")
	coord.OnCreate(ctx, "SF2")
	coord.OnCreate(ctx, "SF3")
	coord.OnCreate(ctx, "SF4")

	stats := coord.Statistics()
	assert.Equal(t, int64(2), stats.NotificationsDropped)
	assert.Equal(t, int64(4), stats.Creates)
}

func TestCoordinator_ForceSync(t *testing.T) {
	t.Parallel()

	coord, store, manifestCache := newTestCoordinator(t, nil)
	startCoordinator(t, coord)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &manifest.Record{
		TrackingNumber: "SF100",
		PackageNumber:  "PK900",
	}))

	var mu sync.Mutex
	notified := 0
	coord.RegisterSubscriber(func(Event) error {
		mu.Lock()
		notified++
		mu.Unlock()
		return nil
	})

	rec, err := coord.ForceSync(ctx, "SF100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "PK900", rec.PackageNumber)
	assert.Equal(t, 1, manifestCache.Len())

	cached, ok := manifestCache.Get("SF100")
	require.True(t, ok)
	assert.Equal(t, "PK900", cached.PackageNumber)

	ops := coord.PendingOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, OpForceSync, ops[0].Type)

	// Force sync refreshes the cache without touching manifest data, so
	// no subscriber notification is expected.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, notified)
}

func TestCoordinator_ForceSync_MissingRecord(t *testing.T) {
	t.Parallel()

	coord, _, manifestCache := newTestCoordinator(t, nil)

	rec, err := coord.ForceSync(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The absence itself is cached.
	assert.Equal(t, 1, manifestCache.Len())
}

func TestCoordinator_InvalidateAll(t *testing.T) {
	t.Parallel()

	coord, store, manifestCache := newTestCoordinator(t, nil)
	startCoordinator(t, coord)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &manifest.Record{TrackingNumber: "SF100"}))
	require.NoError(t, store.Create(ctx, &manifest.Record{TrackingNumber: "SF200"}))

	_, err := coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)
	_, err = coord.GetManifest(ctx, "SF200")
	require.NoError(t, err)
	require.Equal(t, 2, manifestCache.Len())

	var mu sync.Mutex
	var got []Event
	coord.RegisterSubscriber(func(ev Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})

	coord.InvalidateAll(ctx)
	assert.Zero(t, manifestCache.Len())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, OpInvalidateAll, got[0].Type)
	assert.Empty(t, got[0].TrackingNumber)
}

func TestCoordinator_PendingOperations(t *testing.T) {
	t.Parallel()

	cfg := &config.SyncConfig{PendingOpsLimit: 3}
	coord, _, _ := newTestCoordinator(t, cfg)
	ctx := context.Background()

	coord.OnCreate(ctx, "SF1")
	coord.OnUpdate(ctx, "SF2")
	coord.OnDelete(ctx, "SF3")
	coord.OnCreate(ctx, "SF4")

	ops := coord.PendingOperations()
	require.Len(t, ops, 3, "buffer drops the oldest entry when full")
	assert.Equal(t, "SF2", ops[0].TrackingNumber)
	assert.Equal(t, "SF4", ops[2].TrackingNumber)

	assert.Equal(t, 3, coord.ClearPendingOperations())
	assert.Empty(t, coord.PendingOperations())
}

func TestCoordinator_Preload(t *testing.T) {
	t.Parallel()

	cfg := &config.SyncConfig{Preload: true}
	coord, store, manifestCache := newTestCoordinator(t, cfg)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &manifest.Record{
		TrackingNumber: "SF100",
		PackageNumber:  "PK900",
	}))
	coord.OnCreate(ctx, "SF100")

	// The snapshot is cached without going through GetManifest.
	cached, ok := manifestCache.Get("SF100")
	require.True(t, ok)
	assert.Equal(t, "PK900", cached.PackageNumber)
}

func TestCoordinator_Statistics(t *testing.T) {
	t.Parallel()

	stats := NewStats()
	coord, store, _ := newTestCoordinator(t, nil, WithStats(stats))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &manifest.Record{TrackingNumber: "SF100"}))
	coord.OnCreate(ctx, "SF100")
	coord.OnUpdate(ctx, "SF100")
	coord.OnDelete(ctx, "SF100")

	stats.RecordAPISuccess()
	stats.RecordAPISuccess()
	stats.RecordAPIFailure()
	stats.RecordCacheHit()
	stats.RecordCacheMiss()

	snap := coord.Statistics()
	assert.Equal(t, int64(1), snap.Creates)
	assert.Equal(t, int64(1), snap.Updates)
	assert.Equal(t, int64(1), snap.Deletes)
	assert.Equal(t, int64(2), snap.APISuccesses)
	assert.Equal(t, int64(1), snap.APIFailures)
	assert.InDelta(t, 1.0/3.0, snap.APIFailureRate, 0.001)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 0.001)
}

func TestCoordinator_HealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy with reachable store", func(t *testing.T) {
		t.Parallel()

		coord, _, _ := newTestCoordinator(t, nil)
		status := coord.HealthCheck(context.Background())
		assert.True(t, status.Healthy)
		assert.True(t, status.StoreReachable)
	})

	t.Run("degraded when store unreachable", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Count(gomock.Any()).Return(int64(0), errors.New("down"))

		coord := New(cache.New(), store, nil)
		status := coord.HealthCheck(context.Background())
		assert.False(t, status.Healthy)
		assert.False(t, status.StoreReachable)
	})

	t.Run("degraded when courier failure rate exceeds threshold", func(t *testing.T) {
		t.Parallel()

		stats := NewStats()
		coord, _, _ := newTestCoordinator(t, nil, WithStats(stats))

		stats.RecordAPIFailure()
		stats.RecordAPIFailure()
		stats.RecordAPIFailure()
		stats.RecordAPISuccess()

		status := coord.HealthCheck(context.Background())
		assert.False(t, status.Healthy)
		assert.InDelta(t, 0.75, status.CourierFailureRate, 0.001)
	})

	t.Run("degraded when subscribers expected but absent", func(t *testing.T) {
		t.Parallel()

		cfg := &config.SyncConfig{ExpectSubscribers: true}
		coord, _, _ := newTestCoordinator(t, cfg)

		status := coord.HealthCheck(context.Background())
		assert.False(t, status.Healthy)

		coord.RegisterSubscriber(func(Event) error { return nil })
		status = coord.HealthCheck(context.Background())
		assert.True(t, status.Healthy)
	})
}

func TestCoordinator_StopBeforeStart(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, nil)

	// Stop must not block when no worker is running.
	stopped := make(chan struct{})
	go func() {
		_ = coord.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked with no worker running")
	}

	// A Start issued after the stop returns promptly instead of leaking
	// the worker.
	errCh := make(chan error, 1)
	go func() { errCh <- coord.Start(context.Background()) }()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not honor the earlier Stop")
	}

	// Repeated stops are no-ops.
	require.NoError(t, coord.Stop())
}

func TestCoordinator_StopRacingStart(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, nil)

	startErr := make(chan error, 1)
	go func() { startErr <- coord.Start(context.Background()) }()
	go func() { _ = coord.Stop() }()

	select {
	case err := <-startErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker leaked after a Stop racing Start")
	}
}

func TestCoordinator_RecordsCacheEntryGauge(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cacheMetrics, err := telemetry.NewCacheMetrics(provider)
	require.NoError(t, err)

	coord, store, _ := newTestCoordinator(t, nil, WithCacheMetrics(cacheMetrics))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &manifest.Record{TrackingNumber: "SF100"}))
	_, err = coord.GetManifest(ctx, "SF100")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var found bool
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != telemetry.CacheMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			if m.Name != "shipwatch_cache_entries" {
				continue
			}
			found = true
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			require.NotEmpty(t, gauge.DataPoints)
			assert.EqualValues(t, 1, gauge.DataPoints[len(gauge.DataPoints)-1].Value)
		}
	}
	assert.True(t, found, "cache entry gauge was not recorded")
}
