// Package courier implements the client for the external package-tracking
// API: request signing, transient-failure retries, and error classification.
package courier

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=types.go Client

// Client queries tracking information from the upstream courier API.
type Client interface {
	// QueryTracking fetches the tracking events for a single number.
	// Failures are returned as a typed *Error describing the failure kind.
	QueryTracking(ctx context.Context, trackingNumber string, opts ...QueryOption) (*TrackingResult, error)

	// BatchQuery fetches tracking events for several numbers sequentially.
	// Individual failures are recorded per entry and never abort the batch.
	BatchQuery(ctx context.Context, trackingNumbers []string, opts ...QueryOption) (*BatchResult, error)

	// RecentFailureRate returns the fraction of recent requests that failed,
	// in [0, 1]. It reports 0 until at least one request has completed.
	RecentFailureRate() float64
}

// TrackEvent is a single scan event in a tracking history, newest first.
type TrackEvent struct {
	Time        string `json:"time"`
	FormatTime  string `json:"ftime,omitempty"`
	Description string `json:"context"`
	Location    string `json:"location,omitempty"`
}

// TrackingResult is a successful tracking query.
type TrackingResult struct {
	TrackingNumber string       `json:"tracking_number"`
	CompanyCode    string       `json:"company_code"`
	CompanyName    string       `json:"company_name,omitempty"`
	State          string       `json:"state"`
	Delivered      bool         `json:"delivered"`
	Events         []TrackEvent `json:"events"`
	QueriedAt      time.Time    `json:"queried_at"`
}

// BatchEntry is the outcome for one number in a batch query.
type BatchEntry struct {
	TrackingNumber string          `json:"tracking_number"`
	Result         *TrackingResult `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of a batch query.
type BatchResult struct {
	Total       int          `json:"total"`
	SuccessCnt  int          `json:"success_count"`
	FailureCnt  int          `json:"failed_count"`
	Entries     []BatchEntry `json:"results"`
	CompletedAt time.Time    `json:"completed_at"`
}

// StatsRecorder receives API call outcomes. Implementations must be safe
// for concurrent use. A nil recorder disables recording.
type StatsRecorder interface {
	RecordAPISuccess()
	RecordAPIFailure()
	RecordAPIRetry()
}

type queryOptions struct {
	companyCode string
	phoneSuffix string
}

// QueryOption customizes a single tracking query.
type QueryOption func(*queryOptions)

// WithCompanyCode overrides the carrier code. The default is "auto",
// which asks the upstream to detect the carrier from the number.
func WithCompanyCode(code string) QueryOption {
	return func(o *queryOptions) {
		o.companyCode = code
	}
}

// WithPhoneSuffix supplies the last four digits of the recipient phone
// number, required by some carriers to disambiguate reused numbers.
func WithPhoneSuffix(suffix string) QueryOption {
	return func(o *queryOptions) {
		o.phoneSuffix = suffix
	}
}
