package store

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// OpMetrics counts operations, failures and latencies of one engine in its own metrics.Set.
// Names follow <prefix>_ops_total{op="..."}, <prefix>_errors_total{op="..."} and
// <prefix>_op_duration_seconds{op="..."}.
type OpMetrics struct {
	set    *metrics.Set
	prefix string
}

// NewOpMetrics creates an empty metric set with the given name prefix
func NewOpMetrics(prefix string) *OpMetrics {
	return &OpMetrics{
		set:    metrics.NewSet(),
		prefix: prefix,
	}
}

// Observe records one call of op that started at start. errp may be nil.
// NotFound results are not counted as errors.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *OpMetrics) Observe(op string, start time.Time, errp *error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`%s_ops_total{op=%q}`, m.prefix, op)).Inc()
	if errp != nil && *errp != nil && !IsNotFound(*errp) {
		m.set.GetOrCreateCounter(fmt.Sprintf(`%s_errors_total{op=%q}`, m.prefix, op)).Inc()
	}
	m.set.GetOrCreateHistogram(fmt.Sprintf(`%s_op_duration_seconds{op=%q}`, m.prefix, op)).UpdateDuration(start)
}

// Add increments the counter <prefix>_<name> by n
func (m *OpMetrics) Add(name string, n int) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`%s_%s`, m.prefix, name)).Add(n)
}

// Count returns the number of recorded calls of op
func (m *OpMetrics) Count(op string) uint64 {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`%s_ops_total{op=%q}`, m.prefix, op)).Get()
}

// Set returns the underlying metric set
func (m *OpMetrics) Set() *metrics.Set {
	return m.set
}

// WritePrometheus writes all metrics in the Prometheus text format
func (m *OpMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
