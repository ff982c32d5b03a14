package observability

import (
	"strings"
	"sync"
	"time"
)

// Metrics provides an interface for recording application metrics.
type Metrics interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags ...Tag)

	// Gauge sets a gauge metric to the given value.
	Gauge(name string, value float64, tags ...Tag)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags ...Tag)

	// Timing records a duration.
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag represents a key-value pair for metric labeling.
type Tag struct {
	Key   string
	Value string
}

// T creates a new Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)          {}
func (NoopMetrics) Gauge(string, float64, ...Tag)          {}
func (NoopMetrics) Histogram(string, float64, ...Tag)      {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics records metrics in maps. Tests read them back with the Get methods.
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	timings    map[string][]time.Duration
}

// NewInMemoryMetrics creates a new in-memory metrics collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.counters[key] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.gauges[key] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.histograms[key] = append(m.histograms[key], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// GetCounter returns the current value of a counter.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[formatKey(name, tags)]
}

// GetGauge returns the current value of a gauge.
func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[formatKey(name, tags)]
}

// GetHistogram returns all recorded values for a histogram.
func (m *InMemoryMetrics) GetHistogram(name string, tags ...Tag) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.histograms[formatKey(name, tags)]
}

// GetTimings returns all recorded timings.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timings[formatKey(name, tags)]
}

// Reset clears all recorded metrics.
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
	m.timings = make(map[string][]time.Duration)
}

// CounterTotal sums a counter across every tag combination.
func (m *InMemoryMetrics) CounterTotal(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for key, v := range m.counters {
		if key == name || strings.HasPrefix(key, name+":") {
			total += v
		}
	}
	return total
}

func formatKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, t := range tags {
		b.WriteString(":")
		b.WriteString(t.Key)
		b.WriteString("=")
		b.WriteString(t.Value)
	}
	return b.String()
}

// Metric names emitted by circulum.
const (
	// Billing
	MetricCyclesTotal        = "circulum.billing.cycles"
	MetricCycleDuration      = "circulum.billing.cycle_duration"
	MetricSettlements        = "circulum.billing.settlements"
	MetricSettlementAttempts = "circulum.billing.settlement_attempts"
	MetricSettleDuration     = "circulum.billing.settle_duration"
	MetricPaymentsUnresolved = "circulum.payments.unresolved"
	MetricSubscriptionsDue   = "circulum.billing.subscriptions_due"
	MetricExpiredByMaint     = "circulum.billing.expired"

	// Scheduler
	MetricSkippedTicks = "circulum.scheduler.skipped_ticks"

	// Event bus and webhooks
	MetricEventsEmitted     = "circulum.events.emitted"
	MetricEventsDropped     = "circulum.events.dropped"
	MetricQueueDepth        = "circulum.events.queue_depth"
	MetricBrokerErrors      = "circulum.events.broker_errors"
	MetricDeliveries        = "circulum.webhooks.deliveries"
	MetricDeliveryDuration  = "circulum.webhooks.delivery_duration"
	MetricEndpointsDisabled = "circulum.webhooks.endpoints_disabled"

	// Gateway
	MetricBreakerState = "circulum.gateway.breaker_state"

	// HTTP API
	MetricHTTPRequests = "circulum.http.requests"
	MetricHTTPDuration = "circulum.http.duration"
)
