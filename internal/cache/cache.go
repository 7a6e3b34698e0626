// Package cache provides the TTL-bounded manifest snapshot cache used by the
// query path. Reads are cache-aside: callers go through GetOrLoad, which
// coalesces concurrent misses on the same key into a single upstream load.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shipwatch/tracking-server/internal/manifest"
)

// DefaultTTL is the entry lifetime when none is configured.
const DefaultTTL = 30 * time.Minute

// StatsRecorder receives cache outcome events. A nil recorder is valid and
// records nothing.
type StatsRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// entry is a cached manifest snapshot. A nil record is a negative entry:
// the manifest is known to not exist.
type entry struct {
	record    *manifest.Record
	expiresAt time.Time
}

// ManifestCache is a TTL cache keyed by tracking number. All access is
// synchronized; expired entries are removed lazily on read.
type ManifestCache struct {
	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	loads   map[string]int
	epoch   uint64

	ttl   time.Duration
	group singleflight.Group
	stats StatsRecorder
}

// Option is a functional option for configuring the cache.
type Option func(*ManifestCache)

// WithTTL sets the entry lifetime. Non-positive values fall back to DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *ManifestCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithStatsRecorder attaches a hit/miss recorder.
func WithStatsRecorder(stats StatsRecorder) Option {
	return func(c *ManifestCache) {
		c.stats = stats
	}
}

// New creates an empty manifest cache.
func New(opts ...Option) *ManifestCache {
	c := &ManifestCache{
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		loads:   make(map[string]int),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached snapshot for key. The second return value reports
// whether an unexpired entry was present; the record itself may be nil for a
// negative entry. An expired entry is treated as a miss and removed.
func (c *ManifestCache) Get(key string) (*manifest.Record, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return e.record, true
}

// Set stores a snapshot for key with the given ttl. Non-positive ttl uses the
// cache default. A nil record stores a negative entry.
func (c *ManifestCache) Set(key string, rec *manifest.Record, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	c.entries[key] = entry{record: rec, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// loadResult carries the generation a flight observed when it started, so a
// caller can detect that the flight it joined predates an invalidation the
// caller has already seen.
type loadResult struct {
	record *manifest.Record
	epoch  uint64
	gen    uint64
}

// GetOrLoad returns the snapshot for key, loading it through loader on a miss.
// Concurrent callers missing on the same key share a single loader invocation.
// A loader returning (nil, nil) populates a negative entry. If the key is
// invalidated while a load is in flight, the loaded value is neither stored
// nor returned to callers whose read began after the invalidation; those
// callers load again.
func (c *ManifestCache) GetOrLoad(
	ctx context.Context,
	key string,
	loader func(context.Context) (*manifest.Record, error),
) (*manifest.Record, error) {
	for {
		if rec, ok := c.Get(key); ok {
			return rec, nil
		}

		c.mu.Lock()
		epoch, gen := c.epoch, c.gens[key]
		c.mu.Unlock()

		v, err, _ := c.group.Do(key, func() (any, error) {
			c.mu.Lock()
			flightEpoch, flightGen := c.epoch, c.gens[key]
			c.loads[key]++
			c.mu.Unlock()

			rec, loadErr := loader(ctx)

			c.mu.Lock()
			if loadErr == nil && c.epoch == flightEpoch && c.gens[key] == flightGen {
				c.entries[key] = entry{record: rec, expiresAt: time.Now().Add(c.ttl)}
			}
			c.loads[key]--
			if c.loads[key] <= 0 {
				delete(c.loads, key)
				delete(c.gens, key)
			}
			c.mu.Unlock()

			if loadErr != nil {
				return nil, loadErr
			}
			return loadResult{record: rec, epoch: flightEpoch, gen: flightGen}, nil
		})
		if err != nil {
			return nil, err
		}

		res, _ := v.(loadResult)
		if res.epoch != epoch || res.gen < gen {
			// The flight started before an invalidation this caller had
			// already observed; its value may predate the mutation.
			continue
		}
		return res.record, nil
	}
}

// Invalidate removes the entry for key, regardless of remaining TTL. Any load
// in flight for key is barred from storing its result, and its singleflight
// slot is forgotten so subsequent callers start a fresh load.
func (c *ManifestCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	if c.loads[key] > 0 {
		c.gens[key]++
	}
	c.mu.Unlock()
	c.group.Forget(key)

	slog.Debug("Cache entry invalidated", "key", key)
}

// InvalidateAll clears the cache unconditionally.
func (c *ManifestCache) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.epoch++
	inFlight := make([]string, 0, len(c.loads))
	for key := range c.loads {
		inFlight = append(inFlight, key)
	}
	c.mu.Unlock()

	for _, key := range inFlight {
		c.group.Forget(key)
	}

	slog.Info("Cache cleared", "entries", n)
}

// Len returns the number of entries currently stored, including expired ones
// not yet collected.
func (c *ManifestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ManifestCache) recordHit() {
	if c.stats != nil {
		c.stats.RecordCacheHit()
	}
}

func (c *ManifestCache) recordMiss() {
	if c.stats != nil {
		c.stats.RecordCacheMiss()
	}
}
