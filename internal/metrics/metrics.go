// Package metrics provides Prometheus instrumentation for the lottery engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts bet attempts, partitioned by result ("accepted" or
	// the rejection reason).
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_bets_total",
		Help: "Total number of bet attempts by result",
	}, []string{"result"})

	// StakeVolume tracks cumulative accepted stake.
	StakeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_stake_volume_total",
		Help: "Cumulative accepted stake",
	})

	// DrawsTotal counts open→drawn transitions by trigger.
	DrawsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_draws_total",
		Help: "Draws performed by trigger (scheduled, manual)",
	}, []string{"trigger"})

	// SettlementsTotal counts settled periods by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_settlements_total",
		Help: "Settled periods by outcome (winners, no_winners)",
	}, []string{"outcome"})

	// SettlementLatency tracks settlement duration including ledger credits.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lotto_settlement_duration_seconds",
		Help:    "Settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PrizesPaid tracks cumulative prize money credited to winners.
	PrizesPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_prizes_paid_total",
		Help: "Cumulative prize money credited",
	})

	// CreditRetries counts prize credit attempts after the first.
	CreditRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_credit_retries_total",
		Help: "Prize credit retries",
	})

	// CreditFailures counts prize credits that exhausted their retries.
	CreditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_credit_failures_total",
		Help: "Prize credits abandoned after retries, needing reconciliation",
	})

	// SchedulerRuns counts scheduler firings by result.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_scheduler_runs_total",
		Help: "Scheduled draw firings by result (success, failure, skipped)",
	}, []string{"result"})

	// SchedulerNextRun is the unix time of the next scheduled draw, 0 when stopped.
	SchedulerNextRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotto_scheduler_next_run_timestamp_seconds",
		Help: "Unix time of the next scheduled draw",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotto_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lotto_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The route pattern keeps period IDs out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes websocket upgrades through to the underlying writer.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot hijack")
	}
	return h.Hijack()
}
