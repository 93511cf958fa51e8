// Package metrics exposes import, export and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "userdir"

// Metrics implements core.Recorder and instruments HTTP handlers.
type Metrics struct {
	registry prometheus.Gatherer

	importRows    *prometheus.CounterVec
	importAborted prometheus.Counter
	exportRows    *prometheus.CounterVec
	exportSeconds *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpSeconds   *prometheus.HistogramVec
}

var _ core.Recorder = (*Metrics)(nil)

// New registers every collector on a fresh registry. activeImports, when
// non-nil, is sampled on each scrape.
func New(activeImports func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported CSV rows by outcome.",
		}, []string{"outcome"}),
		importAborted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_aborted_total",
			Help:      "Imports stopped by a persistence failure or cancellation.",
		}),
		exportRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_rows_total",
			Help:      "Rows written by completed exports.",
		}, []string{"variant"}),
		exportSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Duration of completed exports.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"variant"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if activeImports != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imports_active",
			Help:      "Imports currently holding a slot.",
		}, func() float64 { return float64(activeImports()) })
	}
	return m
}

// ImportRows counts rows that finished an import with the given outcome.
func (m *Metrics) ImportRows(outcome core.Outcome, n int) {
	if n > 0 {
		m.importRows.WithLabelValues(outcome.String()).Add(float64(n))
	}
}

// ImportAborted counts imports that stopped early on a store error or cancellation.
func (m *Metrics) ImportAborted() {
	m.importAborted.Inc()
}

// ExportFinished records the row count and duration of a completed export.
func (m *Metrics) ExportFinished(variant string, rows int, elapsed time.Duration) {
	m.exportRows.WithLabelValues(variant).Add(float64(rows))
	m.exportSeconds.WithLabelValues(variant).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
