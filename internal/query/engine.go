// Package query implements the lookup decision engine: given a tracking
// number it selects the canonical identifier to query upstream, preferring
// the internal package number when the manifest mapping has one.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shipwatch/tracking-server/internal/courier"
	"github.com/shipwatch/tracking-server/internal/manifest"
	csync "github.com/shipwatch/tracking-server/internal/sync"
)

const (
	// StrategyPackage means the manifest supplied a package number and it
	// was queried instead of the customer-facing tracking number.
	StrategyPackage = "package"
	// StrategyOriginal means the tracking number itself was queried.
	StrategyOriginal = "original"

	maxNumberLength = 32

	// MaxBatchSize caps how many numbers a single batch query accepts.
	MaxBatchSize = 100
)

// ErrInvalidTrackingNumber is returned when the input fails validation
// before any lookup is attempted.
var ErrInvalidTrackingNumber = errors.New("tracking number must be 1 to 32 characters of letters, digits, or dashes")

// ErrBatchTooLarge is returned when a batch query exceeds MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch query exceeds the maximum of %d numbers", MaxBatchSize)

// Result is the outcome of a single query. Upstream API failures are
// reported through Error and ErrorKind rather than a Go error, so callers
// can render them without unwinding.
type Result struct {
	Strategy       string                  `json:"strategy"`
	OriginalNumber string                  `json:"original_number"`
	QueryNumber    string                  `json:"query_number"`
	HasPackageLink bool                    `json:"has_package_link"`
	Manifest       *manifest.Record        `json:"manifest,omitempty"`
	Tracking       *courier.TrackingResult `json:"tracking,omitempty"`
	Error          string                  `json:"error,omitempty"`
	ErrorKind      string                  `json:"error_kind,omitempty"`
}

// Succeeded reports whether the upstream lookup produced a payload.
func (r *Result) Succeeded() bool {
	return r.Error == ""
}

// BatchResult aggregates per-number outcomes of a batch query.
type BatchResult struct {
	Total       int       `json:"total"`
	SuccessCnt  int       `json:"success_count"`
	FailureCnt  int       `json:"failed_count"`
	Results     []Result  `json:"results"`
	CompletedAt time.Time `json:"completed_at"`
}

// Statistics summarizes engine activity since start.
type Statistics struct {
	TotalQueries     int64 `json:"total_queries"`
	PackageStrategy  int64 `json:"package_strategy"`
	OriginalStrategy int64 `json:"original_strategy"`
	UpstreamFailures int64 `json:"upstream_failures"`
}

// Engine decides which identifier to query and performs the lookup.
type Engine interface {
	// Query resolves trackingNumber through the manifest mapping and
	// queries the courier API with the selected identifier. It returns an
	// error only for invalid input or a manifest store failure; upstream
	// API failures are embedded in the Result.
	Query(ctx context.Context, trackingNumber string, opts ...courier.QueryOption) (*Result, error)

	// BatchQuery runs Query for every number. Invalid numbers fail their
	// own entry without aborting the batch.
	BatchQuery(ctx context.Context, trackingNumbers []string, opts ...courier.QueryOption) (*BatchResult, error)

	// Statistics returns a snapshot of the engine counters.
	Statistics() Statistics
}

type defaultEngine struct {
	coordinator csync.Coordinator
	client      courier.Client

	totalQueries     atomic.Int64
	packageStrategy  atomic.Int64
	originalStrategy atomic.Int64
	upstreamFailures atomic.Int64
}

// New creates an engine over the sync coordinator's cache-aside manifest
// reads and the given courier client.
func New(coordinator csync.Coordinator, client courier.Client) Engine {
	return &defaultEngine{
		coordinator: coordinator,
		client:      client,
	}
}

func (e *defaultEngine) Query(ctx context.Context, trackingNumber string, opts ...courier.QueryOption) (*Result, error) {
	if !ValidTrackingNumber(trackingNumber) {
		return nil, ErrInvalidTrackingNumber
	}

	e.totalQueries.Add(1)

	rec, err := e.coordinator.GetManifest(ctx, trackingNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest mapping for %s: %w", trackingNumber, err)
	}

	result := &Result{
		Strategy:       StrategyOriginal,
		OriginalNumber: trackingNumber,
		QueryNumber:    trackingNumber,
		Manifest:       rec,
	}
	if rec.HasPackageNumber() {
		result.Strategy = StrategyPackage
		result.QueryNumber = rec.PackageNumber
		result.HasPackageLink = true
	}

	if result.Strategy == StrategyPackage {
		e.packageStrategy.Add(1)
	} else {
		e.originalStrategy.Add(1)
	}

	slog.Debug("Resolved query identifier",
		"tracking_number", trackingNumber,
		"query_number", result.QueryNumber,
		"strategy", result.Strategy)

	tracking, err := e.client.QueryTracking(ctx, result.QueryNumber, opts...)
	if err != nil {
		e.upstreamFailures.Add(1)
		result.Error = err.Error()
		if apiErr, ok := courier.AsError(err); ok {
			result.ErrorKind = string(apiErr.Kind)
		}
		return result, nil
	}

	result.Tracking = tracking
	return result, nil
}

func (e *defaultEngine) BatchQuery(ctx context.Context, trackingNumbers []string, opts ...courier.QueryOption) (*BatchResult, error) {
	if len(trackingNumbers) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	batch := &BatchResult{
		Total:   len(trackingNumbers),
		Results: make([]Result, 0, len(trackingNumbers)),
	}

	for _, num := range trackingNumbers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.Query(ctx, num, opts...)
		if err != nil {
			result = &Result{
				OriginalNumber: num,
				Error:          err.Error(),
			}
		}

		if result.Succeeded() {
			batch.SuccessCnt++
		} else {
			batch.FailureCnt++
		}
		batch.Results = append(batch.Results, *result)
	}

	batch.CompletedAt = time.Now().UTC()
	return batch, nil
}

func (e *defaultEngine) Statistics() Statistics {
	return Statistics{
		TotalQueries:     e.totalQueries.Load(),
		PackageStrategy:  e.packageStrategy.Load(),
		OriginalStrategy: e.originalStrategy.Load(),
		UpstreamFailures: e.upstreamFailures.Load(),
	}
}

// ValidTrackingNumber reports whether s is 1 to 32 characters of ASCII
// letters, digits, or dashes. Carrier-specific format checks belong to
// the HTTP boundary, not here: manifest mappings may carry short internal
// numbers.
func ValidTrackingNumber(s string) bool {
	if len(s) == 0 || len(s) > maxNumberLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
