package v0

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/shipwatch/tracking-server/internal/courier"
	"github.com/shipwatch/tracking-server/internal/query"
)

// QueryRequest is the body for a single tracking lookup.
type QueryRequest struct {
	TrackingNumber string `json:"tracking_number"`
	CompanyCode    string `json:"company_code,omitempty"`
	PhoneSuffix    string `json:"phone_suffix,omitempty"`
}

// BatchQueryRequest is the body for a batch tracking lookup.
type BatchQueryRequest struct {
	TrackingNumbers []string `json:"tracking_numbers"`
	CompanyCode     string   `json:"company_code,omitempty"`
}

func (req *QueryRequest) options() []courier.QueryOption {
	var opts []courier.QueryOption
	if req.CompanyCode != "" {
		opts = append(opts, courier.WithCompanyCode(req.CompanyCode))
	}
	if req.PhoneSuffix != "" {
		opts = append(opts, courier.WithPhoneSuffix(req.PhoneSuffix))
	}
	return opts
}

// queryTracking handles POST /api/v0/tracking/query
func (rr *Routes) queryTracking(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := rr.engine.Query(r.Context(), req.TrackingNumber, req.options()...)
	if err != nil {
		if errors.Is(err, query.ErrInvalidTrackingNumber) {
			rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Tracking query failed",
			"tracking_number", req.TrackingNumber,
			"error", err)
		rr.writeErrorResponse(w, "Failed to query tracking information", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, result)
}

// batchQueryTracking handles POST /api/v0/tracking/batch
func (rr *Routes) batchQueryTracking(w http.ResponseWriter, r *http.Request) {
	var req BatchQueryRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.TrackingNumbers) == 0 {
		rr.writeErrorResponse(w, "tracking_numbers must not be empty", http.StatusBadRequest)
		return
	}

	var opts []courier.QueryOption
	if req.CompanyCode != "" {
		opts = append(opts, courier.WithCompanyCode(req.CompanyCode))
	}

	batch, err := rr.engine.BatchQuery(r.Context(), req.TrackingNumbers, opts...)
	if err != nil {
		if errors.Is(err, query.ErrBatchTooLarge) {
			rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Batch tracking query failed", "count", len(req.TrackingNumbers), "error", err)
		rr.writeErrorResponse(w, "Failed to run batch query", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, http.StatusOK, batch)
}

// listCompanies handles GET /api/v0/tracking/companies
func (rr *Routes) listCompanies(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, http.StatusOK, courier.SupportedCompanies())
}
