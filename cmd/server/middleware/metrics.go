package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// MetricsCollector defines the interface for collecting metrics.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
}

// MetricsMiddleware provides metrics collection middleware.
type MetricsMiddleware struct {
	collector MetricsCollector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{
		collector: collector,
	}
}

// Handler counts requests and records their latency, labelled by route
// template so that path variables do not create new series.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeTemplate(r)

		m.collector.IncrementCounter("http_requests_total", "route", route, "method", r.Method)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		m.collector.RecordHistogram("http_request_duration_seconds", time.Since(start).Seconds(),
			"route", route, "method", r.Method)
		m.collector.IncrementCounter("http_responses_total",
			"route", route, "method", r.Method, "status", strconv.Itoa(rw.status))
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
