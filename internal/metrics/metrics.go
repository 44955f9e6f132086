package metrics

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Prometheus-compatible Metrics Registry
// ---------------------------------------------------------------------------

// Registry holds counters, gauges and histograms and renders them in the
// Prometheus text exposition format. Metric names are emitted sorted so the
// output is stable between scrapes.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram

	startTime time.Time
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		histos:    make(map[string]*Histogram),
		startTime: time.Now(),
	}
}

// Counter returns or creates a counter metric.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns or creates a gauge metric.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram metric.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[name]; ok {
		return h
	}
	h := NewHistogram(name, help, buckets)
	r.histos[name] = h
	return h
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export returns all metrics in Prometheus text format, runtime series first.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	r.writeRuntime(&b)

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(&b, "%s %d\n", c.name, c.value.Load())
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s %f\n", g.name, g.Get())
	}

	for _, name := range sortedKeys(r.histos) {
		r.histos[name].write(&b)
	}

	return b.String()
}

// writeRuntime emits the Go runtime series the scraper expects from any Go
// process.
func (r *Registry) writeRuntime(b *strings.Builder) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	gauge := func(name, help string, value string) {
		fmt.Fprintf(b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", name)
		fmt.Fprintf(b, "%s %s\n", name, value)
	}

	gauge("go_memstats_alloc_bytes", "Number of bytes allocated and still in use.", fmt.Sprintf("%d", ms.Alloc))
	gauge("go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", fmt.Sprintf("%d", ms.HeapAlloc))
	gauge("go_memstats_heap_sys_bytes", "Number of heap bytes obtained from system.", fmt.Sprintf("%d", ms.HeapSys))
	gauge("go_memstats_heap_inuse_bytes", "Number of heap bytes in use.", fmt.Sprintf("%d", ms.HeapInuse))
	gauge("go_memstats_stack_inuse_bytes", "Number of stack bytes in use.", fmt.Sprintf("%d", ms.StackInuse))
	gauge("go_memstats_sys_bytes", "Number of bytes obtained from system.", fmt.Sprintf("%d", ms.Sys))
	gauge("go_gc_duration_seconds", "Summary of GC pause durations.", fmt.Sprintf("%f", float64(ms.PauseTotalNs)/1e9))
	gauge("go_goroutines", "Number of goroutines.", fmt.Sprintf("%d", runtime.NumGoroutine()))
	gauge("go_threads", "Number of OS threads.", fmt.Sprintf("%d", runtime.GOMAXPROCS(0)))
	gauge("process_uptime_seconds", "Time since process start.", fmt.Sprintf("%f", time.Since(r.startTime).Seconds()))
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	c.value.Add(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a metric that can go up and down. The float value is stored as
// IEEE-754 bits so updates stay lock-free.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
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

// Get returns the current gauge value.
func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks value distributions across fixed buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []atomic.Int64
	sum     atomic.Int64 // microseconds, to keep the sum integral
	count   atomic.Int64
}

// NewHistogram creates a histogram with the given buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i].Add(1)
		}
	}
	h.sum.Add(int64(v * 1e6))
	h.count.Add(1)
}

// Export returns the histogram in Prometheus format.
func (h *Histogram) Export() string {
	var b strings.Builder
	h.write(&b)
	return b.String()
}

func (h *Histogram) write(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", h.name)

	for i, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", h.name, fmt.Sprintf("%g", bound), h.counts[i].Load())
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count.Load())
	fmt.Fprintf(b, "%s_sum %f\n", h.name, float64(h.sum.Load())/1e6)
	fmt.Fprintf(b, "%s_count %d\n", h.name, h.count.Load())
}

// ---------------------------------------------------------------------------
// Default Registry
// ---------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// ---------------------------------------------------------------------------
// Pre-defined Application Metrics
// ---------------------------------------------------------------------------

var (
	// Collector metrics
	IngestionRequests = defaultRegistry.Counter("adsbtool_ingestion_requests_total", "Total number of poll requests")
	IngestionErrors   = defaultRegistry.Counter("adsbtool_ingestion_errors_total", "Total number of poll errors")
	IngestionRecords  = defaultRegistry.Counter("adsbtool_ingestion_records_total", "Total records ingested")
	IngestionLatency  = defaultRegistry.Histogram("adsbtool_ingestion_latency_seconds", "Poll request latency", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10})

	// Store metrics
	StoreRecords      = defaultRegistry.Gauge("adsbtool_store_records", "Records in the active store")
	StoreAircraft     = defaultRegistry.Gauge("adsbtool_store_aircraft", "Unique aircraft in the active store")
	StoreDroppedRows  = defaultRegistry.Counter("adsbtool_store_dropped_rows_total", "Rows dropped during load")
	StoreLoadDuration = defaultRegistry.Histogram("adsbtool_store_load_seconds", "Store rebuild duration", []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5})

	// Synthesis metrics
	SynthRequests = defaultRegistry.Counter("adsbtool_synth_requests_total", "Total view synthesis requests")
	SynthLatency  = defaultRegistry.Histogram("adsbtool_synth_latency_seconds", "View synthesis latency", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25})

	// HTTP metrics
	HTTPRequests = defaultRegistry.Counter("adsbtool_http_requests_total", "Total HTTP requests")
	HTTPLatency  = defaultRegistry.Histogram("adsbtool_http_latency_seconds", "HTTP request latency", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})

	// System metrics
	ActiveConnections = defaultRegistry.Gauge("adsbtool_active_connections", "Number of active connections")
)
