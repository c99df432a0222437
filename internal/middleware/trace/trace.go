// Package trace instruments outgoing HTTP calls with request counters and
// structured logs.
package trace

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"famfin/internal/log"
)

// Metrics tracks outgoing request metrics.
type Metrics struct {
	TotalRequests       int64
	FailedRequests      int64 // transport errors and 5xx responses
	AverageResponseTime int64 // in microseconds
}

// Transport is an http.RoundTripper that records Metrics for every round
// trip made through it.
type Transport struct {
	base   http.RoundTripper
	logger *log.Logger

	total       atomic.Int64
	failed      atomic.Int64
	totalMicros atomic.Int64
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, logger *log.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Transport{base: base, logger: logger.WithComponent(log.ComponentAPI)}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	duration := time.Since(start)

	t.total.Add(1)
	t.totalMicros.Add(duration.Microseconds())

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	level := slog.LevelDebug
	if err != nil || status >= 500 {
		t.failed.Add(1)
		level = slog.LevelWarn
	}

	t.logger.Log(r.Context(), level, "HTTP round trip",
		log.FieldComponent, t.logger.Component(),
		log.FieldRequestID, r.Header.Get("X-Request-ID"),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path,
		log.FieldStatusCode, status,
		log.FieldDuration, duration.Milliseconds(),
		log.FieldSuccess, err == nil && status < 500)

	return resp, err
}

// GetMetrics returns current metrics
func (t *Transport) GetMetrics() Metrics {
	m := Metrics{
		TotalRequests:  t.total.Load(),
		FailedRequests: t.failed.Load(),
	}
	if m.TotalRequests > 0 {
		m.AverageResponseTime = t.totalMicros.Load() / m.TotalRequests
	}
	return m
}
