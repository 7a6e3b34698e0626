package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/tracking-server/internal/manifest"
)

type countingStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (s *countingStats) RecordCacheHit()  { s.hits.Add(1) }
func (s *countingStats) RecordCacheMiss() { s.misses.Add(1) }

func TestCache_SetGet(t *testing.T) {
	t.Parallel()

	c := New()
	rec := &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK900"}

	_, ok := c.Get("SF100")
	assert.False(t, ok)

	c.Set("SF100", rec, 0)
	got, ok := c.Get("SF100")
	require.True(t, ok)
	assert.Equal(t, "PK900", got.PackageNumber)
	assert.Equal(t, 1, c.Len())
}

func TestCache_NegativeEntry(t *testing.T) {
	t.Parallel()

	c := New()
	c.Set("SF404", nil, 0)

	got, ok := c.Get("SF404")
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := New(WithTTL(30 * time.Millisecond))
	c.Set("SF100", &manifest.Record{TrackingNumber: "SF100"}, 30*time.Millisecond)

	_, ok := c.Get("SF100")
	assert.True(t, ok, "entry should be a hit before TTL elapses")

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("SF100")
	assert.False(t, ok, "entry must be a miss after TTL elapses")
	assert.Equal(t, 0, c.Len(), "expired entry is removed lazily")
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := New()
	c.Set("SF100", &manifest.Record{TrackingNumber: "SF100"}, time.Hour)

	c.Invalidate("SF100")
	_, ok := c.Get("SF100")
	assert.False(t, ok)
}

func TestCache_InvalidateAll(t *testing.T) {
	t.Parallel()

	c := New()
	c.Set("SF100", &manifest.Record{TrackingNumber: "SF100"}, time.Hour)
	c.Set("SF200", &manifest.Record{TrackingNumber: "SF200"}, time.Hour)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("SF100")
	assert.False(t, ok)
}

func TestCache_GetOrLoad_SingleFlight(t *testing.T) {
	t.Parallel()

	c := New()
	var loads atomic.Int64
	release := make(chan struct{})

	loader := func(context.Context) (*manifest.Record, error) {
		loads.Add(1)
		<-release
		return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK900"}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*manifest.Record, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrLoad(context.Background(), "SF100", loader)
		}(i)
	}

	// Give all goroutines a chance to reach the singleflight barrier.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, loads.Load(), "concurrent misses must run the loader exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "PK900", results[i].PackageNumber)
	}
}

func TestCache_GetOrLoad_Error(t *testing.T) {
	t.Parallel()

	c := New()
	wantErr := errors.New("store down")

	_, err := c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, c.Len(), "failed loads must not populate the cache")
}

func TestCache_GetOrLoad_InvalidationDuringLoad(t *testing.T) {
	t.Parallel()

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
			close(started)
			<-release
			return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "STALE"}, nil
		})
	}()

	<-started
	c.Invalidate("SF100")
	close(release)

	// The in-flight load must not repopulate the invalidated key.
	assert.Eventually(t, func() bool {
		_, ok := c.Get("SF100")
		return !ok && c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCache_GetOrLoad_ReadAfterInvalidationIsFresh(t *testing.T) {
	t.Parallel()

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	staleDone := make(chan *manifest.Record, 1)

	// First reader blocks inside the loader holding the singleflight slot.
	go func() {
		rec, err := c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
			close(started)
			<-release
			return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK900"}, nil
		})
		assert.NoError(t, err)
		staleDone <- rec
	}()

	<-started
	c.Invalidate("SF100")

	// A read that begins after the invalidation returned must not join the
	// pre-mutation flight: it loads and returns the current record even
	// while the stale load is still blocked.
	rec, err := c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
		return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK901"}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "PK901", rec.PackageNumber)

	close(release)

	// The first reader began before the mutation; it may see the old record
	// but must not overwrite the fresh entry.
	old := <-staleDone
	require.NotNil(t, old)
	assert.Equal(t, "PK900", old.PackageNumber)

	got, ok := c.Get("SF100")
	require.True(t, ok)
	assert.Equal(t, "PK901", got.PackageNumber)
}

func TestCache_GetOrLoad_ReadAfterInvalidateAllIsFresh(t *testing.T) {
	t.Parallel()

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
			close(started)
			<-release
			return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK900"}, nil
		})
	}()

	<-started
	c.InvalidateAll()

	rec, err := c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
		return &manifest.Record{TrackingNumber: "SF100", PackageNumber: "PK901"}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "PK901", rec.PackageNumber)

	close(release)
}

func TestCache_GenerationGuardIsPruned(t *testing.T) {
	t.Parallel()

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_, _ = c.GetOrLoad(context.Background(), "SF100", func(context.Context) (*manifest.Record, error) {
			close(started)
			<-release
			return &manifest.Record{TrackingNumber: "SF100"}, nil
		})
		close(done)
	}()

	<-started
	c.Invalidate("SF100")

	c.mu.Lock()
	guarded := len(c.gens)
	c.mu.Unlock()
	assert.Equal(t, 1, guarded, "an in-flight load keeps its generation guard")

	close(release)
	<-done

	// Once no load is in flight the guard is dropped, so the maps do not
	// grow with every tracking number ever invalidated.
	c.mu.Lock()
	gens, loads := len(c.gens), len(c.loads)
	c.mu.Unlock()
	assert.Zero(t, gens)
	assert.Zero(t, loads)
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	stats := &countingStats{}
	c := New(WithStatsRecorder(stats))

	c.Set("SF100", &manifest.Record{TrackingNumber: "SF100"}, time.Hour)
	c.Get("SF100")
	c.Get("SF100")
	c.Get("SF999")

	assert.EqualValues(t, 2, stats.hits.Load())
	assert.EqualValues(t, 1, stats.misses.Load())
}
