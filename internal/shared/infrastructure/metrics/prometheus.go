// Package metrics backs observability.Metrics with Prometheus.
package metrics

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// DurationBuckets covers settlement and delivery latencies, in seconds.
var DurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// PrometheusMetrics creates collectors on first use. The label set of a
// metric is fixed by its first observation; later tags outside that set
// are dropped and missing ones are recorded as empty.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[V any] struct {
	labels []string
	v      V
}

// NewPrometheusMetrics creates a collector set on a private registry that
// also carries the Go runtime and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
	}
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Counter implements observability.Metrics.
func (m *PrometheusMetrics) Counter(name string, value int64, tags ...observability.Tag) {
	if value < 0 {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		labels := labelNames(tags)
		c = &vec[*prometheus.CounterVec]{labels: labels, v: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName(name) + "_total",
			Help: "Counter " + name,
		}, labels)}
		m.registry.MustRegister(c.v)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.v.WithLabelValues(labelValues(c.labels, tags)...).Add(float64(value))
}

// Gauge implements observability.Metrics.
func (m *PrometheusMetrics) Gauge(name string, value float64, tags ...observability.Tag) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		labels := labelNames(tags)
		g = &vec[*prometheus.GaugeVec]{labels: labels, v: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricName(name),
			Help: "Gauge " + name,
		}, labels)}
		m.registry.MustRegister(g.v)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.v.WithLabelValues(labelValues(g.labels, tags)...).Set(value)
}

// Histogram implements observability.Metrics.
func (m *PrometheusMetrics) Histogram(name string, value float64, tags ...observability.Tag) {
	m.histogram(metricName(name), name, prometheus.DefBuckets, tags).Observe(value)
}

// Timing implements observability.Metrics as a histogram in seconds.
func (m *PrometheusMetrics) Timing(name string, d time.Duration, tags ...observability.Tag) {
	m.histogram(metricName(name)+"_seconds", name, DurationBuckets, tags).Observe(d.Seconds())
}

func (m *PrometheusMetrics) histogram(promName, name string, buckets []float64, tags []observability.Tag) prometheus.Observer {
	m.mu.Lock()
	h, ok := m.histograms[promName]
	if !ok {
		labels := labelNames(tags)
		h = &vec[*prometheus.HistogramVec]{labels: labels, v: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    promName,
			Help:    "Distribution of " + name,
			Buckets: buckets,
		}, labels)}
		m.registry.MustRegister(h.v)
		m.histograms[promName] = h
	}
	m.mu.Unlock()
	return h.v.WithLabelValues(labelValues(h.labels, tags)...)
}

// metricName maps "circulum.billing.cycles" to "circulum_billing_cycles".
func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

func labelNames(tags []observability.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		n := metricName(t.Key)
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}

func labelValues(labels []string, tags []observability.Tag) []string {
	values := make([]string, len(labels))
	for _, t := range tags {
		if i := slices.Index(labels, metricName(t.Key)); i >= 0 {
			values[i] = t.Value
		}
	}
	return values
}

var _ observability.Metrics = (*PrometheusMetrics)(nil)
