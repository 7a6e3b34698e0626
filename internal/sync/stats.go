package sync

import (
	"sync/atomic"
	"time"
)

// Stats aggregates counters fed by the cache, the courier client, and the
// coordinator itself. All methods are safe for concurrent use.
type Stats struct {
	startedAt time.Time

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	creates    atomic.Int64
	updates    atomic.Int64
	deletes    atomic.Int64
	forceSyncs atomic.Int64

	apiSuccesses atomic.Int64
	apiFailures  atomic.Int64
	apiRetries   atomic.Int64

	notificationsSent    atomic.Int64
	notificationsDropped atomic.Int64
}

// NewStats returns a zeroed collector.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

// RecordCacheHit implements cache.StatsRecorder.
func (s *Stats) RecordCacheHit() { s.cacheHits.Add(1) }

// RecordCacheMiss implements cache.StatsRecorder.
func (s *Stats) RecordCacheMiss() { s.cacheMisses.Add(1) }

// RecordAPISuccess implements courier.StatsRecorder.
func (s *Stats) RecordAPISuccess() { s.apiSuccesses.Add(1) }

// RecordAPIFailure implements courier.StatsRecorder.
func (s *Stats) RecordAPIFailure() { s.apiFailures.Add(1) }

// RecordAPIRetry implements courier.StatsRecorder.
func (s *Stats) RecordAPIRetry() { s.apiRetries.Add(1) }

func (s *Stats) recordSyncOp(op OpType) {
	switch op {
	case OpCreate:
		s.creates.Add(1)
	case OpUpdate:
		s.updates.Add(1)
	case OpDelete:
		s.deletes.Add(1)
	case OpForceSync:
		s.forceSyncs.Add(1)
	}
}

func (s *Stats) recordNotification()        { s.notificationsSent.Add(1) }
func (s *Stats) recordDroppedNotification() { s.notificationsDropped.Add(1) }

// Statistics is a point-in-time snapshot of the collected counters.
type Statistics struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	Creates    int64 `json:"creates"`
	Updates    int64 `json:"updates"`
	Deletes    int64 `json:"deletes"`
	ForceSyncs int64 `json:"force_syncs"`

	APISuccesses   int64   `json:"api_successes"`
	APIFailures    int64   `json:"api_failures"`
	APIRetries     int64   `json:"api_retries"`
	APIFailureRate float64 `json:"api_failure_rate"`

	NotificationsSent    int64 `json:"notifications_sent"`
	NotificationsDropped int64 `json:"notifications_dropped"`
}

// Snapshot returns the current counter values. Counters are read
// individually, so a snapshot taken under concurrent load is approximate.
func (s *Stats) Snapshot() Statistics {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()
	successes := s.apiSuccesses.Load()
	failures := s.apiFailures.Load()

	snap := Statistics{
		UptimeSeconds:        time.Since(s.startedAt).Seconds(),
		CacheHits:            hits,
		CacheMisses:          misses,
		Creates:              s.creates.Load(),
		Updates:              s.updates.Load(),
		Deletes:              s.deletes.Load(),
		ForceSyncs:           s.forceSyncs.Load(),
		APISuccesses:         successes,
		APIFailures:          failures,
		APIRetries:           s.apiRetries.Load(),
		NotificationsSent:    s.notificationsSent.Load(),
		NotificationsDropped: s.notificationsDropped.Load(),
	}

	if total := hits + misses; total > 0 {
		snap.CacheHitRate = float64(hits) / float64(total)
	}
	if total := successes + failures; total > 0 {
		snap.APIFailureRate = float64(failures) / float64(total)
	}
	return snap
}
