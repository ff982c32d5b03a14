package observability

import (
	"time"
)

// Timer measures one operation and reports it to Metrics.
type Timer struct {
	name    string
	start   time.Time
	metrics Metrics
	tags    []Tag
}

// StartTimer starts timing the metric name.
func StartTimer(metrics Metrics, name string, tags ...Tag) *Timer {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Timer{name: name, start: time.Now(), metrics: metrics, tags: tags}
}

// Stop records the elapsed duration, tagged with the outcome of err.
func (t *Timer) Stop(err error) time.Duration {
	d := time.Since(t.start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	tags := append(append([]Tag(nil), t.tags...), T(StatusKey, status))
	t.metrics.Timing(t.name, d, tags...)
	return d
}
