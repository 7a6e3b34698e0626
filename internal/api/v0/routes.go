// Package v0 provides the REST API handlers for the tracking service.
package v0

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/query"
	csync "github.com/shipwatch/tracking-server/internal/sync"
	"github.com/shipwatch/tracking-server/internal/versions"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes holds the handler dependencies
type Routes struct {
	engine      query.Engine
	coordinator csync.Coordinator
	store       manifest.Store
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(engine query.Engine, coordinator csync.Coordinator, store manifest.Store) *Routes {
	return &Routes{
		engine:      engine,
		coordinator: coordinator,
		store:       store,
	}
}

// Router creates a router for the versioned tracking API
func Router(engine query.Engine, coordinator csync.Coordinator, store manifest.Store) http.Handler {
	routes := NewRoutes(engine, coordinator, store)

	r := chi.NewRouter()

	r.Route("/tracking", func(r chi.Router) {
		r.Post("/query", routes.queryTracking)
		r.Post("/batch", routes.batchQueryTracking)
		r.Get("/companies", routes.listCompanies)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/statistics", routes.getSyncStatistics)
		r.Get("/operations", routes.getPendingOperations)
		r.Delete("/operations", routes.clearPendingOperations)
		r.Post("/cache/invalidate", routes.invalidateCache)
		r.Post("/force/{trackingNumber}", routes.forceSync)
		r.Get("/health", routes.getSyncHealth)
	})

	r.Route("/manifests", func(r chi.Router) {
		r.Get("/", routes.listManifests)
		r.Post("/", routes.createManifest)
		r.Get("/stats", routes.getManifestStats)
		r.Get("/{trackingNumber}", routes.getManifest)
		r.Put("/{trackingNumber}", routes.updateManifest)
		r.Delete("/{trackingNumber}", routes.deleteManifest)
	})

	return r
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(coordinator csync.Coordinator) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(coordinator))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler reports process liveness only.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler reports whether the sync subsystem can serve lookups.
func readinessHandler(coordinator csync.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := coordinator.HealthCheck(r.Context())
		if !status.Healthy {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			if err := json.NewEncoder(w).Encode(status); err != nil {
				slog.Error("Failed to encode readiness response", "error", err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// versionHandler returns build version information
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given status and data
func (*Routes) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// decodeJSONBody decodes the request body into dst, rejecting unknown fields.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
