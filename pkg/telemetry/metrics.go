package telemetry

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Labels represents a set of dimensional labels for metrics.
type Labels map[string]string

// String returns a string representation of labels for map keys.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := ""
	for i, k := range keys {
		if i > 0 {
			result += ","
		}
		result += fmt.Sprintf("%s=%s", k, l[k])
	}
	return result
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	labels Labels
	value  atomic.Int64
}

// NewCounter creates a new counter with the given name and labels.
func NewCounter(name string, labels Labels) *Counter {
	if labels == nil {
		labels = Labels{}
	}
	return &Counter{name: name, labels: labels}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Type() MetricType { return MetricTypeCounter }
func (c *Counter) Labels() Labels   { return c.labels }

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.value.Add(1)
}

// Add adds the given value to the counter. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if c == nil || delta < 0 {
		return
	}
	c.value.Add(delta)
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	if c == nil {
		return 0
	}
	return c.value.Load()
}

// MarshalJSON implements json.Marshaler.
func (c *Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":   c.name,
		"type":   c.Type(),
		"labels": c.labels,
		"value":  c.Get(),
	})
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	name   string
	labels Labels
	value  atomic.Int64
}

// NewGauge creates a new gauge with the given name and labels.
func NewGauge(name string, labels Labels) *Gauge {
	if labels == nil {
		labels = Labels{}
	}
	return &Gauge{name: name, labels: labels}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Type() MetricType { return MetricTypeGauge }
func (g *Gauge) Labels() Labels   { return g.labels }

// Set sets the gauge to the given value.
func (g *Gauge) Set(value int64) {
	if g == nil {
		return
	}
	g.value.Store(value)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.value.Add(-1)
}

// Get returns the current value.
func (g *Gauge) Get() int64 {
	if g == nil {
		return 0
	}
	return g.value.Load()
}

// MarshalJSON implements json.Marshaler.
func (g *Gauge) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":   g.name,
		"type":   g.Type(),
		"labels": g.labels,
		"value":  g.Get(),
	})
}

// DefaultHistogramBuckets are the default latency buckets in seconds.
var DefaultHistogramBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Histogram samples observations and counts them in buckets.
type Histogram struct {
	name    string
	labels  Labels
	buckets []float64
	counts  []atomic.Int64
	sum     atomic.Int64
	count   atomic.Int64
}

// NewHistogram creates a new histogram. If buckets is nil,
// DefaultHistogramBuckets is used.
func NewHistogram(name string, labels Labels, buckets []float64) *Histogram {
	if labels == nil {
		labels = Labels{}
	}
	if buckets == nil {
		buckets = DefaultHistogramBuckets
	}
	return &Histogram{
		name:    name,
		labels:  labels,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)+1), // +1 for +Inf bucket
	}
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Type() MetricType { return MetricTypeHistogram }
func (h *Histogram) Labels() Labels   { return h.labels }

// Observe records a value in seconds.
func (h *Histogram) Observe(value float64) {
	if h == nil {
		return
	}
	if value < 0 {
		value = 0
	}

	placed := false
	for i, bucket := range h.buckets {
		if value <= bucket {
			h.counts[i].Add(1)
			placed = true
			break
		}
	}
	if !placed {
		h.counts[len(h.buckets)].Add(1)
	}

	// Sum stored as nanoseconds to stay atomic
	h.sum.Add(int64(value * 1e9))
	h.count.Add(1)
}

// ObserveDuration records a duration observation.
func (h *Histogram) ObserveDuration(duration time.Duration) {
	if h == nil {
		return
	}
	h.Observe(duration.Seconds())
}

// GetCount returns the total number of observations.
func (h *Histogram) GetCount() int64 {
	if h == nil {
		return 0
	}
	return h.count.Load()
}

// GetSum returns the sum of all observed values in seconds.
func (h *Histogram) GetSum() float64 {
	if h == nil {
		return 0
	}
	return float64(h.sum.Load()) / 1e9
}

// GetBuckets returns the bucket counts.
func (h *Histogram) GetBuckets() []int64 {
	if h == nil {
		return nil
	}
	result := make([]int64, len(h.counts))
	for i := range h.counts {
		result[i] = h.counts[i].Load()
	}
	return result
}

// Percentile returns the estimated value at the given percentile (0-1).
func (h *Histogram) Percentile(p float64) float64 {
	if h == nil || p < 0 || p > 1 {
		return 0
	}

	count := h.GetCount()
	if count == 0 {
		return 0
	}

	target := int64(float64(count) * p)
	if target == 0 {
		target = 1
	}

	cumulative := int64(0)
	for i := range h.buckets {
		cumulative += h.counts[i].Load()
		if cumulative >= target {
			return h.buckets[i]
		}
	}

	if len(h.buckets) > 0 {
		return h.buckets[len(h.buckets)-1]
	}
	return 0
}

// P50 returns the median.
func (h *Histogram) P50() float64 { return h.Percentile(0.5) }

// P99 returns the 99th percentile.
func (h *Histogram) P99() float64 { return h.Percentile(0.99) }

// MarshalJSON implements json.Marshaler.
func (h *Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":    h.name,
		"type":    h.Type(),
		"labels":  h.labels,
		"count":   h.GetCount(),
		"sum":     h.GetSum(),
		"buckets": h.GetBuckets(),
		"p50":     h.P50(),
		"p99":     h.P99(),
	})
}

// Registry manages all metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a new metric registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// makeKey creates a unique key for a metric with labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	return name + "{" + labels.String() + "}"
}

// RegisterCounter registers a counter, returning the existing one when
// already registered.
func (r *Registry) RegisterCounter(name string, labels Labels) *Counter {
	if r == nil {
		return NewCounter(name, labels)
	}
	key := makeKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[key]; ok {
		return c
	}
	c := NewCounter(name, labels)
	r.counters[key] = c
	return c
}

// RegisterGauge registers a gauge, returning the existing one when
// already registered.
func (r *Registry) RegisterGauge(name string, labels Labels) *Gauge {
	if r == nil {
		return NewGauge(name, labels)
	}
	key := makeKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := NewGauge(name, labels)
	r.gauges[key] = g
	return g
}

// RegisterHistogram registers a histogram, returning the existing one when
// already registered.
func (r *Registry) RegisterHistogram(name string, labels Labels, buckets []float64) *Histogram {
	if r == nil {
		return NewHistogram(name, labels, buckets)
	}
	key := makeKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := NewHistogram(name, labels, buckets)
	r.histograms[key] = h
	return h
}

// GetCounter retrieves a counter by name and labels.
func (r *Registry) GetCounter(name string, labels Labels) (*Counter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[makeKey(name, labels)]
	return c, ok
}

// GetGauge retrieves a gauge by name and labels.
func (r *Registry) GetGauge(name string, labels Labels) (*Gauge, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gauges[makeKey(name, labels)]
	return g, ok
}

// GetHistogram retrieves a histogram by name and labels.
func (r *Registry) GetHistogram(name string, labels Labels) (*Histogram, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.histograms[makeKey(name, labels)]
	return h, ok
}

// Export exports all metrics as a map suitable for JSON serialization.
func (r *Registry) Export() map[string]any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]any{
		"counters":   r.counters,
		"gauges":     r.gauges,
		"histograms": r.histograms,
	}
}

// ExportJSON exports all metrics as JSON.
func (r *Registry) ExportJSON() ([]byte, error) {
	export := r.Export()
	if export == nil {
		return []byte("null"), nil
	}
	return json.MarshalIndent(export, "", "  ")
}

// DefaultRegistry is the default global registry.
var DefaultRegistry = NewRegistry()

// RegisterCounter registers a counter in the default registry.
func RegisterCounter(name string, labels Labels) *Counter {
	return DefaultRegistry.RegisterCounter(name, labels)
}

// RegisterGauge registers a gauge in the default registry.
func RegisterGauge(name string, labels Labels) *Gauge {
	return DefaultRegistry.RegisterGauge(name, labels)
}

// RegisterHistogram registers a histogram in the default registry.
func RegisterHistogram(name string, labels Labels, buckets []float64) *Histogram {
	return DefaultRegistry.RegisterHistogram(name, labels, buckets)
}

// Predefined metric names.
const (
	MetricTurnsTotal            = "turns_total"
	MetricTurnDurationSeconds   = "turn_duration_seconds"
	MetricStreamEventsTotal     = "stream_events_total"
	MetricBackendRequestsTotal  = "backend_requests_total"
	MetricBackendLatencySeconds = "backend_latency_seconds"
	MetricToolExecutionsTotal   = "tool_executions_total"
	MetricToolDurationSeconds   = "tool_duration_seconds"
	MetricApprovalsTotal        = "approvals_total"
	MetricStoreOperationsTotal  = "store_operations_total"
	MetricStoreErrorsTotal      = "store_errors_total"
	MetricActiveTurns           = "active_turns"
	MetricTurnCostDollars       = "turn_cost_dollars"
)

// RecordTurn records a completed turn with its outcome.
func RecordTurn(outcome string) {
	DefaultRegistry.RegisterCounter(MetricTurnsTotal, Labels{"outcome": outcome}).Inc()
}

// RecordTurnDuration records how long a turn took end to end.
func RecordTurnDuration(duration time.Duration) {
	DefaultRegistry.RegisterHistogram(MetricTurnDurationSeconds, nil, nil).ObserveDuration(duration)
}

// RecordStreamEvent records a parsed stream event by type.
func RecordStreamEvent(eventType string) {
	DefaultRegistry.RegisterCounter(MetricStreamEventsTotal, Labels{"event": eventType}).Inc()
}

// RecordBackendRequest records one request to the backend.
func RecordBackendRequest(model string) {
	DefaultRegistry.RegisterCounter(MetricBackendRequestsTotal, Labels{"model": model}).Inc()
}

// RecordBackendLatency records the latency of a backend request.
func RecordBackendLatency(duration time.Duration) {
	DefaultRegistry.RegisterHistogram(MetricBackendLatencySeconds, nil, nil).ObserveDuration(duration)
}

// RecordToolExecution records a tool execution and its status.
func RecordToolExecution(toolName, status string) {
	DefaultRegistry.RegisterCounter(MetricToolExecutionsTotal, Labels{"tool": toolName, "status": status}).Inc()
}

// RecordToolDuration records the duration of a tool execution.
func RecordToolDuration(toolName string, duration time.Duration) {
	DefaultRegistry.RegisterHistogram(MetricToolDurationSeconds, Labels{"tool": toolName}, nil).ObserveDuration(duration)
}

// RecordApproval records an approval decision.
func RecordApproval(decision string) {
	DefaultRegistry.RegisterCounter(MetricApprovalsTotal, Labels{"decision": decision}).Inc()
}

// RecordStoreOperation records a conversation store operation.
func RecordStoreOperation(operation string) {
	DefaultRegistry.RegisterCounter(MetricStoreOperationsTotal, Labels{"operation": operation}).Inc()
}

// RecordStoreError records a conversation store error.
func RecordStoreError(operation string) {
	DefaultRegistry.RegisterCounter(MetricStoreErrorsTotal, Labels{"operation": operation}).Inc()
}

// RecordCost records a cost increment reported by the stream.
func RecordCost(amount float64) {
	DefaultRegistry.RegisterHistogram(MetricTurnCostDollars, nil, nil).Observe(amount)
}

// IncActiveTurns increments the in-flight turn gauge.
func IncActiveTurns() {
	DefaultRegistry.RegisterGauge(MetricActiveTurns, nil).Inc()
}

// DecActiveTurns decrements the in-flight turn gauge.
func DecActiveTurns() {
	DefaultRegistry.RegisterGauge(MetricActiveTurns, nil).Dec()
}

// MemoryStats holds key runtime statistics surfaced by status endpoints.
type MemoryStats struct {
	Alloc       uint64 `json:"alloc"`
	TotalAlloc  uint64 `json:"total_alloc"`
	Sys         uint64 `json:"sys"`
	NumGC       uint32 `json:"num_gc"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	HeapObjects uint64 `json:"heap_objects"`
	Goroutines  int    `json:"goroutines"`
	Timestamp   int64  `json:"timestamp"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		Alloc:       m.Alloc,
		TotalAlloc:  m.TotalAlloc,
		Sys:         m.Sys,
		NumGC:       m.NumGC,
		HeapAlloc:   m.HeapAlloc,
		HeapObjects: m.HeapObjects,
		Goroutines:  runtime.NumGoroutine(),
		Timestamp:   time.Now().Unix(),
	}
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new started timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed time.
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.start)
}

// Observe records the elapsed time in a histogram.
func (t *Timer) Observe(h *Histogram) {
	if t == nil || h == nil {
		return
	}
	h.ObserveDuration(t.Elapsed())
}
