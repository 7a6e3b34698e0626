package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shipwatch/tracking-server/internal/config"
	"github.com/shipwatch/tracking-server/internal/telemetry"
)

const (
	// maxResponseSize caps how much of a response body is read (1MB).
	maxResponseSize = 1 << 20

	// failureWindowSize is how many recent request outcomes feed
	// RecentFailureRate.
	failureWindowSize = 50

	userAgent = "shipwatch-api/1.0"

	stateDelivered = "3"
)

// apiResponse is the upstream response envelope.
type apiResponse struct {
	Status     string       `json:"status"`
	Message    string       `json:"message"`
	Number     string       `json:"nu"`
	Company    string       `json:"com"`
	State      string       `json:"state"`
	IsChecked  string       `json:"ischeck"`
	Data       []TrackEvent `json:"data"`
	ReturnCode string       `json:"returnCode"`
}

type httpClientImpl struct {
	endpoint    string
	customer    string
	key         string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration

	httpClient *http.Client
	stats      StatsRecorder
	metrics    *telemetry.CourierMetrics

	window *failureWindow
}

// Option configures the client beyond what the config file provides.
type Option func(*httpClientImpl)

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClientImpl) {
		h.httpClient = c
	}
}

// WithStatsRecorder registers a recorder for per-call outcomes.
func WithStatsRecorder(r StatsRecorder) Option {
	return func(h *httpClientImpl) {
		h.stats = r
	}
}

// WithMetrics registers OpenTelemetry instruments for request durations.
func WithMetrics(m *telemetry.CourierMetrics) Option {
	return func(h *httpClientImpl) {
		h.metrics = m
	}
}

// NewClient builds a courier API client from configuration. Missing
// credentials or an unset endpoint are reported as a config-kind *Error.
func NewClient(cfg *config.CourierConfig, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, &Error{Kind: KindConfig, Message: "courier configuration is required"}
	}
	if cfg.Endpoint == "" {
		return nil, &Error{Kind: KindConfig, Message: "courier endpoint is required"}
	}
	if cfg.Customer == "" {
		return nil, &Error{Kind: KindConfig, Message: "courier customer identifier is required"}
	}

	key, err := cfg.GetKey()
	if err != nil {
		return nil, &Error{Kind: KindConfig, Message: "failed to resolve courier signing key", Err: err}
	}
	if key == "" {
		return nil, &Error{Kind: KindConfig, Message: "courier signing key is required"}
	}

	c := &httpClientImpl{
		endpoint:    cfg.Endpoint,
		customer:    cfg.Customer,
		key:         key,
		timeout:     cfg.GetTimeout(),
		maxAttempts: cfg.GetMaxAttempts(),
		baseDelay:   cfg.GetBaseDelay(),
		window:      newFailureWindow(failureWindowSize),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c, nil
}

func (c *httpClientImpl) QueryTracking(ctx context.Context, trackingNumber string, opts ...QueryOption) (*TrackingResult, error) {
	options := queryOptions{companyCode: AutoDetect}
	for _, opt := range opts {
		opt(&options)
	}

	param, err := buildParam(trackingNumber, options)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("customer", c.customer)
	form.Set("sign", Sign(param, c.key, c.customer))
	form.Set("param", param)
	body := form.Encode()

	slog.Debug("Querying courier API",
		"tracking_number", trackingNumber,
		"company_code", options.companyCode)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.baseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	attempt := 0
	operation := func() (*apiResponse, error) {
		if attempt > 0 {
			c.recordRetry()
			slog.Debug("Retrying courier API request",
				"tracking_number", trackingNumber,
				"attempt", attempt+1)
		}
		attempt++

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Transient() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.maxAttempts))) // #nosec G115 - validated positive
	if err != nil {
		c.recordOutcome(false)
		slog.Warn("Courier API query failed",
			"tracking_number", trackingNumber,
			"attempts", attempt,
			"error", err)
		return nil, classifyFinal(ctx, err)
	}

	c.recordOutcome(true)

	result := &TrackingResult{
		TrackingNumber: trackingNumber,
		CompanyCode:    options.companyCode,
		CompanyName:    resp.Company,
		State:          resp.State,
		Delivered:      resp.State == stateDelivered || resp.IsChecked == "1",
		Events:         resp.Data,
		QueriedAt:      time.Now().UTC(),
	}

	slog.Debug("Courier API query succeeded",
		"tracking_number", trackingNumber,
		"state", result.State,
		"events", len(result.Events))
	return result, nil
}

func (c *httpClientImpl) BatchQuery(ctx context.Context, trackingNumbers []string, opts ...QueryOption) (*BatchResult, error) {
	batch := &BatchResult{
		Total:   len(trackingNumbers),
		Entries: make([]BatchEntry, 0, len(trackingNumbers)),
	}

	for _, num := range trackingNumbers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := BatchEntry{TrackingNumber: num}
		result, err := c.QueryTracking(ctx, num, opts...)
		if err != nil {
			entry.Error = err.Error()
			batch.FailureCnt++
		} else {
			entry.Result = result
			batch.SuccessCnt++
		}
		batch.Entries = append(batch.Entries, entry)
	}

	batch.CompletedAt = time.Now().UTC()
	return batch, nil
}

func (c *httpClientImpl) RecentFailureRate() float64 {
	return c.window.failureRate()
}

// doRequest performs a single signed POST and classifies any failure.
func (c *httpClientImpl) doRequest(ctx context.Context, form string) (*apiResponse, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form))
	if err != nil {
		return nil, &Error{Kind: KindRequest, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(ctx, start, false)
		return nil, classifyTransport(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.observe(ctx, start, false)
		return nil, &Error{Kind: KindNetwork, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.observe(ctx, start, false)
		return nil, classifyStatus(resp.StatusCode, raw)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.observe(ctx, start, false)
		return nil, &Error{
			Kind:    KindMalformedResponse,
			Message: "response body is not valid JSON",
			RawBody: raw,
			Err:     err,
		}
	}

	// A successful lookup carries status "200"; some responses signal
	// success only through message "ok" plus a populated event list.
	if envelope.Status == "200" || (envelope.Message == "ok" && len(envelope.Data) > 0) {
		if envelope.Number == "" && len(envelope.Data) == 0 {
			c.observe(ctx, start, false)
			return nil, &Error{
				Kind:    KindMalformedResponse,
				Message: "response is missing tracking payload",
				RawBody: raw,
			}
		}
		c.observe(ctx, start, true)
		return &envelope, nil
	}

	c.observe(ctx, start, false)
	return nil, classifyEnvelope(&envelope, raw)
}

func (c *httpClientImpl) observe(ctx context.Context, start time.Time, success bool) {
	c.metrics.RecordRequest(ctx, time.Since(start), success)
}

func (c *httpClientImpl) recordRetry() {
	if c.stats != nil {
		c.stats.RecordAPIRetry()
	}
}

func (c *httpClientImpl) recordOutcome(success bool) {
	c.window.record(success)
	if c.stats == nil {
		return
	}
	if success {
		c.stats.RecordAPISuccess()
	} else {
		c.stats.RecordAPIFailure()
	}
}

// buildParam serializes the query parameters to the compact JSON string
// that is both sent and signed. Key order matters for the signature, so
// the string is assembled from a fixed field order rather than a map.
func buildParam(trackingNumber string, options queryOptions) (string, error) {
	if trackingNumber == "" {
		return "", &Error{Kind: KindRequest, Message: "tracking number is required"}
	}

	type paramPayload struct {
		Com   string `json:"com"`
		Num   string `json:"num"`
		Phone string `json:"phone,omitempty"`
	}

	raw, err := json.Marshal(paramPayload{
		Com:   options.companyCode,
		Num:   trackingNumber,
		Phone: options.phoneSuffix,
	})
	if err != nil {
		return "", &Error{Kind: KindRequest, Message: "failed to encode query parameters", Err: err}
	}
	return string(raw), nil
}

func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request deadline exceeded", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: "request canceled", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "connection failed", Err: err}
}

func classifyStatus(statusCode int, raw []byte) *Error {
	switch {
	case statusCode == http.StatusBadRequest:
		return &Error{Kind: KindRequest, Message: "upstream rejected the request parameters", StatusCode: statusCode, RawBody: raw}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: "upstream rejected the credentials", StatusCode: statusCode, RawBody: raw}
	case statusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindUpstream, Message: "upstream rate limit exceeded", StatusCode: statusCode, RawBody: raw}
	case statusCode >= 500:
		return &Error{Kind: KindUpstream, Message: "upstream server error", StatusCode: statusCode, RawBody: raw}
	default:
		return &Error{Kind: KindUpstream, Message: fmt.Sprintf("unexpected HTTP status %d", statusCode), StatusCode: statusCode, RawBody: raw}
	}
}

// classifyEnvelope maps an application-level failure envelope to a typed
// error. Signature rejections count as auth failures so a misconfigured
// key degrades the health check instead of being retried forever.
func classifyEnvelope(envelope *apiResponse, raw []byte) *Error {
	msg := envelope.Message
	if msg == "" || msg == "ok" {
		msg = envelope.ReturnCode
	}
	if msg == "" {
		msg = "upstream reported an unspecified failure"
	}

	kind := KindUpstream
	if strings.Contains(msg, "签名") || strings.Contains(strings.ToLower(msg), "sign") {
		kind = KindAuth
	}

	return &Error{Kind: kind, Message: msg, RawBody: raw}
}

// classifyFinal ensures the error surfaced after retries are exhausted is
// always a typed *Error, even when the retry machinery returns a bare
// context error.
func classifyFinal(ctx context.Context, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "query abandoned: caller deadline exhausted", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "query failed", Err: err}
}

// failureWindow tracks the success/failure of the most recent requests.
type failureWindow struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   int
}

func newFailureWindow(size int) *failureWindow {
	return &failureWindow{outcomes: make([]bool, size)}
}

func (w *failureWindow) record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outcomes[w.next] = success
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

func (w *failureWindow) failureRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == 0 {
		return 0
	}

	failures := 0
	for i := 0; i < w.filled; i++ {
		if !w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.filled)
}
