// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesOpened counts opened trades, partitioned by pair and direction.
	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_trades_opened_total",
		Help: "Total number of trades opened",
	}, []string{"pair", "type"})

	// TradesSettled counts settled trades by outcome (won/lost).
	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_trades_settled_total",
		Help: "Total number of trades settled",
	}, []string{"outcome"})

	// SettlementLatency tracks the duration of one settlement.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binopt_settlement_latency_seconds",
		Help:    "Trade settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementErrors counts settlements that failed downstream.
	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binopt_settlement_errors_total",
		Help: "Settlements that failed with a downstream error",
	})

	// LimitRejections counts trades rejected by the exposure limiter.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_limit_rejections_total",
		Help: "Trades rejected by the exposure limiter",
	}, []string{"limit"})

	// BonusClaims counts successful bonus claims by offer type.
	BonusClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_bonus_claims_total",
		Help: "Successful bonus claims",
	}, []string{"offer_type"})

	// SpinsTotal counts daily spins.
	SpinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binopt_spins_total",
		Help: "Daily spins played",
	})

	// EmailsSent counts outbound emails by type and result.
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_emails_total",
		Help: "Outbound emails by type and result",
	}, []string{"type", "result"})

	// FeedState is 1 for the price feed's current state and 0 for the others.
	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "binopt_price_feed_state",
		Help: "Current price feed state",
	}, []string{"state"})

	// FeedReconnects counts stream reconnect attempts.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binopt_price_feed_reconnects_total",
		Help: "Price stream reconnect attempts",
	})

	// FeedTicks counts ticker updates applied to the snapshot.
	FeedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_price_feed_ticks_total",
		Help: "Ticker updates applied, by source",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binopt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binopt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "binopt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SetFeedState marks state as the only active feed state.
func SetFeedState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		FeedState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Unwrap exposes the underlying writer so http.ResponseController and the
// WebSocket upgrader can reach its Hijacker.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
