package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/checkin-integrity/checkin"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	reports         *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	anomalies       *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors, including Go runtime and process stats.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_health_reports_total",
				Help: "Data health reports generated, by outcome",
			},
			[]string{"outcome"},
		),
		repairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkin_repairs_total",
				Help: "Repair operations, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		anomalies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkin_anomalies",
				Help: "Records per anomaly bucket in the most recent unfiltered report",
			},
			[]string{"bucket"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.reports,
		m.repairs,
		m.anomalies,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request durations labelled by route pattern, not raw
// path, so check-in ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) observeReport(report *checkin.HealthReport, filtered bool, err error) {
	m.reports.WithLabelValues(outcome(err)).Inc()
	if err != nil || filtered {
		return
	}
	m.anomalies.WithLabelValues("future").Set(float64(len(report.FutureCheckins)))
	m.anomalies.WithLabelValues("mismatched").Set(float64(len(report.MismatchedDates)))
	m.anomalies.WithLabelValues("duplicate_groups").Set(float64(len(report.DuplicateCheckins)))
	m.anomalies.WithLabelValues("orphaned").Set(float64(len(report.OrphanedCheckins)))
}

func (m *Metrics) observeRepair(operation string, err error) {
	m.repairs.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case checkin.IsConflict(err):
		return "conflict"
	case checkin.IsNotFound(err):
		return "not_found"
	case checkin.IsClientError(err):
		return "invalid"
	default:
		return "error"
	}
}
