// Package metrics provides Prometheus-compatible metrics for blinkscan.
//
// Features:
//   - Counters for frames, blinks, ticks, commits and sessions
//   - Gauges for connected clients and scanner state
//   - Histograms for eye aspect ratio and storage latency
//   - Text exposition and JSON over HTTP
//   - Thread-safe operations
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in exposition order, e.g. {area="keyboard"}.
func (l Labels) String() string {
	return l.render("")
}

// render appends extra (already formatted) label pairs after the sorted labels.
func (l Labels) render(extra string) string {
	if len(l) == 0 && extra == "" {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, l[k]))
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Metric is implemented by every registered metric.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
}

type meta struct {
	name   string
	help   string
	labels Labels
}

func (m meta) Name() string { return m.name }
func (m meta) Help() string { return m.help }

// Counter is a monotonically increasing counter.
type Counter struct {
	meta
	value atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Type returns the metric type.
func (c *Counter) Type() MetricType { return TypeCounter }

// Gauge is a value that can go up and down.
type Gauge struct {
	meta
	bits atomic.Uint64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }

// SetBool sets the gauge to 1 or 0.
func (g *Gauge) SetBool(v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Type returns the metric type.
func (g *Gauge) Type() MetricType { return TypeGauge }

// Histogram tracks the distribution of values.
type Histogram struct {
	meta
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last is +Inf; not cumulative
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for duration histograms (in seconds).
var DurationBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// RatioBuckets cover eye aspect ratios.
var RatioBuckets = []float64{
	0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.5,
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Since records the time elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.ObserveDuration(time.Since(start))
}

// Type returns the metric type.
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Count returns the count of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the mean of observed values.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// cumulative returns the "le" counts, +Inf last. Caller holds mu.
func (h *Histogram) cumulative() []uint64 {
	out := make([]uint64, len(h.counts))
	var total uint64
	for i, c := range h.counts {
		total += c
		out[i] = total
	}
	return out
}

// Registry holds all registered metrics.
type Registry struct {
	mu        sync.RWMutex
	metrics   map[string]Metric
	namespace string
}

// NewRegistry creates a new Registry.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		metrics:   make(map[string]Metric),
		namespace: namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// register returns the existing metric for name+labels or stores the one
// built by mk.
func (r *Registry) register(name string, labels Labels, mk func(meta) Metric) Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := meta{name: r.fullName(name), labels: labels}
	key := m.name + labels.String()
	if existing, ok := r.metrics[key]; ok {
		return existing
	}
	metric := mk(m)
	r.metrics[key] = metric
	return metric
}

// Counter registers (or returns) a counter.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	return r.register(name, labels, func(m meta) Metric {
		m.help = help
		return &Counter{meta: m}
	}).(*Counter)
}

// Gauge registers (or returns) a gauge.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	return r.register(name, labels, func(m meta) Metric {
		m.help = help
		return &Gauge{meta: m}
	}).(*Gauge)
}

// Histogram registers (or returns) a histogram. Nil buckets mean DurationBuckets.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	return r.register(name, labels, func(m meta) Metric {
		m.help = help
		return &Histogram{meta: m, buckets: sorted, counts: make([]uint64, len(sorted)+1)}
	}).(*Histogram)
}

// sortedKeys returns registry keys grouped by metric name. Caller holds mu.
func (r *Registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes metrics in Prometheus text format.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lastName string
	for _, key := range r.sortedKeys() {
		m := r.metrics[key]
		if m.Name() != lastName {
			fmt.Fprintf(w, "# HELP %s %s\n", m.Name(), m.Help())
			fmt.Fprintf(w, "# TYPE %s %s\n", m.Name(), m.Type())
			lastName = m.Name()
		}

		switch v := m.(type) {
		case *Counter:
			fmt.Fprintf(w, "%s%s %d\n", v.name, v.labels, v.Value())
		case *Gauge:
			fmt.Fprintf(w, "%s%s %g\n", v.name, v.labels, v.Value())
		case *Histogram:
			v.mu.Lock()
			cum := v.cumulative()
			for i, bound := range v.buckets {
				fmt.Fprintf(w, "%s_bucket%s %d\n", v.name, v.labels.render(fmt.Sprintf(`le="%g"`, bound)), cum[i])
			}
			fmt.Fprintf(w, "%s_bucket%s %d\n", v.name, v.labels.render(`le="+Inf"`), cum[len(cum)-1])
			fmt.Fprintf(w, "%s_sum%s %g\n", v.name, v.labels, v.sum)
			fmt.Fprintf(w, "%s_count%s %d\n", v.name, v.labels, v.count)
			v.mu.Unlock()
		}
	}
	return nil
}

// Snapshot returns current values keyed by name and labels. Histograms
// contribute _count and _mean entries.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]any, len(r.metrics))
	for key, m := range r.metrics {
		switch v := m.(type) {
		case *Counter:
			snapshot[key] = v.Value()
		case *Gauge:
			snapshot[key] = v.Value()
		case *Histogram:
			snapshot[key+"_count"] = v.Count()
			snapshot[key+"_mean"] = v.Mean()
		}
	}
	return snapshot
}

// HTTPHandler serves the text format, or JSON when the client asks for it.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			enc.Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}
