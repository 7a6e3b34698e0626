package v0

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shipwatch/tracking-server/internal/manifest"
	"github.com/shipwatch/tracking-server/internal/query"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ManifestListResponse is a page of manifest records.
type ManifestListResponse struct {
	Total     int64             `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	Manifests []manifest.Record `json:"manifests"`
}

// ManifestStatsResponse summarizes the manifest store contents.
type ManifestStatsResponse struct {
	Total       int64 `json:"total"`
	WithPackage int64 `json:"with_package"`
}

// listManifests handles GET /api/v0/manifests
func (rr *Routes) listManifests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		rr.writeErrorResponse(w, "limit must be between 1 and 500", http.StatusBadRequest)
		return
	}
	if offset < 0 {
		rr.writeErrorResponse(w, "offset must not be negative", http.StatusBadRequest)
		return
	}

	records, err := rr.store.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("Failed to list manifests", "error", err)
		rr.writeErrorResponse(w, "Failed to list manifests", http.StatusInternalServerError)
		return
	}

	total, err := rr.store.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count manifests", "error", err)
		rr.writeErrorResponse(w, "Failed to list manifests", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, ManifestListResponse{
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		Manifests: records,
	})
}

// getManifest handles GET /api/v0/manifests/{trackingNumber}
func (rr *Routes) getManifest(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")

	rec, err := rr.store.GetByTrackingNumber(r.Context(), trackingNumber)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			rr.writeErrorResponse(w, "Manifest not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get manifest", "tracking_number", trackingNumber, "error", err)
		rr.writeErrorResponse(w, "Failed to get manifest", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, rec)
}

// createManifest handles POST /api/v0/manifests
func (rr *Routes) createManifest(w http.ResponseWriter, r *http.Request) {
	var rec manifest.Record
	if err := decodeJSONBody(r, &rec); err != nil {
		rr.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !query.ValidTrackingNumber(rec.TrackingNumber) {
		rr.writeErrorResponse(w, query.ErrInvalidTrackingNumber.Error(), http.StatusBadRequest)
		return
	}

	if err := rr.store.Create(r.Context(), &rec); err != nil {
		if errors.Is(err, manifest.ErrAlreadyExists) {
			rr.writeErrorResponse(w, "Manifest already exists", http.StatusConflict)
			return
		}
		slog.Error("Failed to create manifest", "tracking_number", rec.TrackingNumber, "error", err)
		rr.writeErrorResponse(w, "Failed to create manifest", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusCreated, rec)
}

// updateManifest handles PUT /api/v0/manifests/{trackingNumber}
func (rr *Routes) updateManifest(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")

	var rec manifest.Record
	if err := decodeJSONBody(r, &rec); err != nil {
		rr.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	rec.TrackingNumber = trackingNumber

	if err := rr.store.Update(r.Context(), &rec); err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			rr.writeErrorResponse(w, "Manifest not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to update manifest", "tracking_number", trackingNumber, "error", err)
		rr.writeErrorResponse(w, "Failed to update manifest", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, rec)
}

// deleteManifest handles DELETE /api/v0/manifests/{trackingNumber}
func (rr *Routes) deleteManifest(w http.ResponseWriter, r *http.Request) {
	trackingNumber := chi.URLParam(r, "trackingNumber")

	if err := rr.store.Delete(r.Context(), trackingNumber); err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			rr.writeErrorResponse(w, "Manifest not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete manifest", "tracking_number", trackingNumber, "error", err)
		rr.writeErrorResponse(w, "Failed to delete manifest", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getManifestStats handles GET /api/v0/manifests/stats
func (rr *Routes) getManifestStats(w http.ResponseWriter, r *http.Request) {
	total, err := rr.store.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count manifests", "error", err)
		rr.writeErrorResponse(w, "Failed to compute manifest statistics", http.StatusInternalServerError)
		return
	}

	withPackage, err := rr.store.CountWithPackage(r.Context())
	if err != nil {
		slog.Error("Failed to count manifests with package numbers", "error", err)
		rr.writeErrorResponse(w, "Failed to compute manifest statistics", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, ManifestStatsResponse{
		Total:       total,
		WithPackage: withPackage,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
