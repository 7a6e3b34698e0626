package v0

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shipwatch/tracking-server/internal/query"
)

// StatisticsResponse combines the sync counters, the query engine counters,
// and a summary of the manifest store contents.
type StatisticsResponse struct {
	Sync      any                `json:"sync"`
	Query     query.Statistics   `json:"query"`
	Manifests ManifestStatistics `json:"manifests"`
}

// ManifestStatistics reports manifest totals and the package-association rate.
type ManifestStatistics struct {
	Total       int64   `json:"total"`
	WithPackage int64   `json:"with_package"`
	PackageRate float64 `json:"package_rate"`
}

// ClearedResponse reports how many pending operations were discarded.
type ClearedResponse struct {
	Cleared int `json:"cleared"`
}

// ForceSyncResponse reports the outcome of a forced cache refresh.
type ForceSyncResponse struct {
	TrackingNumber string `json:"tracking_number"`
	Found          bool   `json:"found"`
}

// getSyncStatistics handles GET /api/v0/sync/statistics
func (rr *Routes) getSyncStatistics(w http.ResponseWriter, r *http.Request) {
	total, err := rr.store.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count manifests", "error", err)
		rr.writeErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError)
		return
	}

	withPackage, err := rr.store.CountWithPackage(r.Context())
	if err != nil {
		slog.Error("Failed to count manifests with package numbers", "error", err)
		rr.writeErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError)
		return
	}

	manifests := ManifestStatistics{
		Total:       total,
		WithPackage: withPackage,
	}
	if total > 0 {
		manifests.PackageRate = float64(withPackage) / float64(total)
	}

	rr.writeJSONResponse(w, http.StatusOK, StatisticsResponse{
		Sync:      rr.coordinator.Statistics(),
		Query:     rr.engine.Statistics(),
		Manifests: manifests,
	})
}

// getPendingOperations handles GET /api/v0/sync/operations
func (rr *Routes) getPendingOperations(w http.ResponseWriter, _ *http.Request) {
	ops := rr.coordinator.PendingOperations()
	rr.writeJSONResponse(w, http.StatusOK, map[string]any{
		"total":      len(ops),
		"operations": ops,
	})
}

// clearPendingOperations handles DELETE /api/v0/sync/operations
func (rr *Routes) clearPendingOperations(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, http.StatusOK, ClearedResponse{
		Cleared: rr.coordinator.ClearPendingOperations(),
	})
}

// invalidateCache handles POST /api/v0/sync/cache/invalidate
func (rr *Routes) invalidateCache(w http.ResponseWriter, r *http.Request) {
	rr.coordinator.InvalidateAll(r.Context())
	rr.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// forceSync handles POST /api/v0/sync/force/{trackingNumber}
func (rr *Routes) forceSync(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")
	if !query.ValidTrackingNumber(trackingNumber) {
		rr.writeErrorResponse(w, query.ErrInvalidTrackingNumber.Error(), http.StatusBadRequest)
		return
	}

	rec, err := rr.coordinator.ForceSync(r.Context(), trackingNumber)
	if err != nil {
		slog.Error("Force sync failed", "tracking_number", trackingNumber, "error", err)
		rr.writeErrorResponse(w, "Failed to refresh cache entry", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, ForceSyncResponse{
		TrackingNumber: trackingNumber,
		Found:          rec != nil,
	})
}

// getSyncHealth handles GET /api/v0/sync/health
func (rr *Routes) getSyncHealth(w http.ResponseWriter, r *http.Request) {
	status := rr.coordinator.HealthCheck(r.Context())

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	rr.writeJSONResponse(w, code, status)
}
