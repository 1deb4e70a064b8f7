package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TFMV/plantatlas/pkg/cache"
	"github.com/TFMV/plantatlas/pkg/infrastructure/memory"
)

// PrometheusCollector implements Collector using Prometheus. Metric vectors
// are created on first use and registered with the collector's registerer.
type PrometheusCollector struct {
	namespace  string
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusCollector creates a new Prometheus collector. A nil registerer
// uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(namespace string, registerer prometheus.Registerer) Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusCollector{
		namespace:  namespace,
		registerer: registerer,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// IncrementCounter increments a counter metric.
func (p *PrometheusCollector) IncrementCounter(name string, labels ...string) {
	labelNames, labelValues := parseLabelPairs(labels)

	p.mu.Lock()
	counter, exists := p.counters[name]
	if !exists {
		counter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Counter for %s", name),
			},
			labelNames,
		)
		if existing, ok := p.register(counter).(*prometheus.CounterVec); ok {
			counter = existing
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()

	if c, err := counter.GetMetricWithLabelValues(labelValues...); err == nil {
		c.Inc()
	}
}

// RecordHistogram records a value in a histogram metric.
func (p *PrometheusCollector) RecordHistogram(name string, value float64, labels ...string) {
	labelNames, labelValues := parseLabelPairs(labels)

	p.mu.Lock()
	histogram, exists := p.histograms[name]
	if !exists {
		histogram = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Histogram for %s", name),
				Buckets:   prometheus.DefBuckets,
			},
			labelNames,
		)
		if existing, ok := p.register(histogram).(*prometheus.HistogramVec); ok {
			histogram = existing
		}
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	if h, err := histogram.GetMetricWithLabelValues(labelValues...); err == nil {
		h.Observe(value)
	}
}

// RecordGauge records a gauge metric value.
func (p *PrometheusCollector) RecordGauge(name string, value float64, labels ...string) {
	labelNames, labelValues := parseLabelPairs(labels)

	p.mu.Lock()
	gauge, exists := p.gauges[name]
	if !exists {
		gauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Gauge for %s", name),
			},
			labelNames,
		)
		if existing, ok := p.register(gauge).(*prometheus.GaugeVec); ok {
			gauge = existing
		}
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	if g, err := gauge.GetMetricWithLabelValues(labelValues...); err == nil {
		g.Set(value)
	}
}

// StartTimer starts a timer. Stop records the elapsed seconds in the
// histogram <name>_duration_seconds.
func (p *PrometheusCollector) StartTimer(name string) Timer {
	return newStopwatch(func(elapsed time.Duration) {
		p.RecordHistogram(name+"_duration_seconds", elapsed.Seconds())
	})
}

// register registers c and returns the collector to use, which is the
// already registered one when an identical metric exists on the registry.
func (p *PrometheusCollector) register(c prometheus.Collector) prometheus.Collector {
	if err := p.registerer.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// parseLabelPairs parses label pairs from variadic string arguments.
// Expected format: "key1", "value1", "key2", "value2", ...
func parseLabelPairs(labels []string) ([]string, []string) {
	if len(labels)%2 != 0 {
		// If odd number of labels, ignore the last one
		labels = labels[:len(labels)-1]
	}

	labelNames := make([]string, 0, len(labels)/2)
	labelValues := make([]string, 0, len(labels)/2)

	for i := 0; i < len(labels); i += 2 {
		labelNames = append(labelNames, labels[i])
		labelValues = append(labelValues, labels[i+1])
	}

	return labelNames, labelValues
}

// RegisterCacheStats exposes cache statistics as gauges read at scrape time.
func RegisterCacheStats(registerer prometheus.Registerer, namespace string, stats func() cache.Stats) error {
	gauges := []struct {
		name  string
		help  string
		value func(cache.Stats) float64
	}{
		{"cache_hits_total", "Record set cache hits", func(s cache.Stats) float64 { return float64(s.Hits) }},
		{"cache_misses_total", "Record set cache misses", func(s cache.Stats) float64 { return float64(s.Misses) }},
		{"cache_evictions_total", "Record sets evicted to respect the entry limit", func(s cache.Stats) float64 { return float64(s.Evictions) }},
		{"cache_invalidations_total", "Record sets dropped because their source changed", func(s cache.Stats) float64 { return float64(s.Invalidations) }},
		{"cache_entries", "Record sets currently cached", func(s cache.Stats) float64 { return float64(s.Entries) }},
	}

	for _, g := range gauges {
		value := g.value
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return value(stats()) })
		if err := registerer.Register(gf); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

// RegisterAllocatorStats exposes Arrow allocator usage as gauges read at
// scrape time.
func RegisterAllocatorStats(registerer prometheus.Registerer, namespace string, stats func() memory.Stats) error {
	gauges := []struct {
		name  string
		help  string
		value func(memory.Stats) float64
	}{
		{"arrow_bytes_in_use", "Arrow buffer bytes currently allocated", func(s memory.Stats) float64 { return float64(s.BytesUsed) }},
		{"arrow_bytes_peak", "Highest Arrow buffer usage observed", func(s memory.Stats) float64 { return float64(s.PeakBytes) }},
		{"arrow_allocations_total", "Arrow buffer allocations", func(s memory.Stats) float64 { return float64(s.Allocations) }},
	}

	for _, g := range gauges {
		value := g.value
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return value(stats()) })
		if err := registerer.Register(gf); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

// MetricsServer provides an HTTP server for Prometheus metrics.
type MetricsServer struct {
	address  string
	path     string
	gatherer prometheus.Gatherer
	server   *http.Server
}

// NewMetricsServer creates a new metrics server. A nil gatherer uses
// prometheus.DefaultGatherer.
func NewMetricsServer(address, path string, gatherer prometheus.Gatherer) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		address:  address,
		path:     path,
		gatherer: gatherer,
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the HTTP handler serving the metrics path.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server. It blocks until the server stops and
// returns nil after a clean shutdown.
func (s *MetricsServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
