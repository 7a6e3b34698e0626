package app

import (
	"github.com/shipwatch/tracking-server/internal/cache"
	"github.com/shipwatch/tracking-server/internal/courier"
	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/query"
	csync "github.com/shipwatch/tracking-server/internal/sync"
)

// Components groups all wired application components.
type Components struct {
	// ManifestStore provides manifest persistence
	ManifestStore manifest.Store

	// ManifestCache is the TTL cache over manifest snapshots
	ManifestCache *cache.ManifestCache

	// SyncCoordinator keeps the cache consistent with the store
	SyncCoordinator csync.Coordinator

	// CourierClient queries the upstream tracking API
	CourierClient courier.Client

	// QueryEngine selects the canonical identifier and performs lookups
	QueryEngine query.Engine
}
