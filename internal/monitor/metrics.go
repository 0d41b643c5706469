package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-console/internal/correlation"
	"trading-console/internal/order"
	"trading-console/pkg/exchanges/ib"
)

// Metrics collects pump, request and ack metrics. It implements
// ib.Observer and correlation.Observer.
type Metrics struct {
	registry *prometheus.Registry

	messagesIn    *prometheus.CounterVec
	messagesOut   *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	handlerPanics *prometheus.CounterVec
	requests      *prometheus.HistogramVec
	connected     prometheus.Gauge

	// AckLatency keeps a sliding window of placement ack latencies.
	AckLatency *LatencyHistogram

	received uint64
	failed   uint64
	panicked uint64
}

// NewMetrics registers the console collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_received_total",
			Help: "Inbound venue messages by type.",
		}, []string{"type"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_sent_total",
			Help: "Outbound venue messages by type.",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_decode_errors_total",
			Help: "Inbound frames that failed to decode, by type.",
		}, []string{"type"}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_handler_panics_total",
			Help: "Recovered panics in inbound handlers, by type.",
		}, []string{"type"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Time from request to completion, by kind and outcome.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connected",
			Help: "1 while the venue session is connected.",
		}),
		AckLatency: NewLatencyHistogram(1000),
	}
	m.registry.MustRegister(
		m.messagesIn,
		m.messagesOut,
		m.decodeErrors,
		m.handlerPanics,
		m.requests,
		m.connected,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPending exposes a pending-count gauge for kind, read from fn at
// scrape time.
func (m *Metrics) RegisterPending(kind string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gateway_pending_requests",
		Help:        "Requests awaiting a venue answer, by kind.",
		ConstLabels: prometheus.Labels{"kind": kind},
	}, fn))
}

func (m *Metrics) MessageReceived(msgID int) {
	atomic.AddUint64(&m.received, 1)
	m.messagesIn.WithLabelValues(ib.InboundName(msgID)).Inc()
}

func (m *Metrics) MessageSent(msgID int) {
	m.messagesOut.WithLabelValues(ib.OutboundName(msgID)).Inc()
}

func (m *Metrics) DecodeFailed(msgID int) {
	atomic.AddUint64(&m.failed, 1)
	m.decodeErrors.WithLabelValues(ib.InboundName(msgID)).Inc()
}

func (m *Metrics) HandlerPanicked(msgID int) {
	atomic.AddUint64(&m.panicked, 1)
	m.handlerPanics.WithLabelValues(ib.InboundName(msgID)).Inc()
}

// ObserveRequest records a registry or ack outcome.
func (m *Metrics) ObserveRequest(kind string, outcome correlation.Outcome, elapsed time.Duration) {
	m.requests.WithLabelValues(kind, string(outcome)).Observe(elapsed.Seconds())
	if kind == order.KindPlaceAck && outcome == correlation.OutcomeCompleted {
		m.AckLatency.RecordDuration(elapsed)
	}
}

// SetConnected flips the connection gauge.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Snapshot is a point-in-time summary for the status endpoint.
type Snapshot struct {
	AckLatency       LatencyStats `json:"ack_latency_ms"`
	MessagesReceived uint64       `json:"messages_received"`
	DecodeErrors     uint64       `json:"decode_errors"`
	HandlerPanics    uint64       `json:"handler_panics"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		AckLatency:       m.AckLatency.Stats(),
		MessagesReceived: atomic.LoadUint64(&m.received),
		DecodeErrors:     atomic.LoadUint64(&m.failed),
		HandlerPanics:    atomic.LoadUint64(&m.panicked),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}
