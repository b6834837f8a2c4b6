package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ride_dispatch"

var (
	OrdersCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "orders_created_total", Help: "Orders created"})
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Committed order transitions by target status"},
		[]string{"status"},
	)
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "claim_conflicts_total", Help: "Claims lost to another driver"})
	MatchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time from order creation to claim",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 180, 300},
	})

	OffersIssued    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_issued_total", Help: "Offers pushed to drivers"})
	OffersRetracted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_retracted_total", Help: "Offers retracted by reason"},
		[]string{"reason"},
	)
	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_dispatches", Help: "Orders currently being matched"})

	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers eligible for offers"})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active", Help: "Live websocket sessions"})
	PushesDropped  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pushes_dropped_total", Help: "Channel pushes that could not be delivered"},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetrics records request counts and latency labelled by chi route pattern.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
