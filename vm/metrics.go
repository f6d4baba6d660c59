package vm

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks latency distribution with percentile support
type Histogram struct {
	samples []float64 // Latencies in microseconds
	mu      sync.Mutex
	maxSize int
	sorted  bool
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
		sorted:  true,
	}
}

// Record adds a latency sample (in microseconds)
func (h *Histogram) Record(latencyUs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// At capacity the oldest sample goes
	if len(h.samples) >= h.maxSize {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}

	h.samples = append(h.samples, latencyUs)
	h.sorted = false
}

// Percentile calculates the given percentile (0-100)
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.percentileLocked(p)
}

func (h *Histogram) percentileLocked(p float64) float64 {
	if len(h.samples) == 0 {
		return 0
	}

	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}

	rank := (p / 100.0) * float64(len(h.samples)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return h.samples[lower]
	}

	// Linear interpolation between lower and upper
	weight := rank - float64(lower)
	return h.samples[lower]*(1-weight) + h.samples[upper]*weight
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.sorted = true
}

// HistogramSnapshot holds percentile statistics at a point in time
type HistogramSnapshot struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HistogramSnapshot{Count: len(h.samples)}
	if snap.Count == 0 {
		return snap
	}

	snap.P50 = h.percentileLocked(50)
	snap.P95 = h.percentileLocked(95)
	snap.P99 = h.percentileLocked(99)

	// Samples are sorted by now
	snap.Min = h.samples[0]
	snap.Max = h.samples[len(h.samples)-1]
	sum := 0.0
	for _, v := range h.samples {
		sum += v
	}
	snap.Mean = sum / float64(len(h.samples))
	return snap
}

// Metrics tracks virtual memory subsystem counters
type Metrics struct {
	// Fault resolution
	faults        atomic.Uint64
	invalidFaults atomic.Uint64
	stackGrowths  atomic.Uint64

	// Frame table
	frameAllocs atomic.Uint64
	evictions   atomic.Uint64

	// Backing store traffic
	swapIns        atomic.Uint64
	swapOuts       atomic.Uint64
	fileWritebacks atomic.Uint64

	// Compressed swap slots
	compressedSwapOuts atomic.Uint64
	compressionRatio   *Histogram

	// Address space lifecycle
	forkCopies atomic.Uint64

	faultLatency    *Histogram
	evictionLatency *Histogram

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:        time.Now(),
		faultLatency:     NewHistogram(10000),
		evictionLatency:  NewHistogram(10000),
		compressionRatio: NewHistogram(10000),
	}
}

func (m *Metrics) RecordFault() {
	m.faults.Add(1)
}

func (m *Metrics) RecordInvalidFault() {
	m.invalidFaults.Add(1)
}

func (m *Metrics) RecordStackGrowth() {
	m.stackGrowths.Add(1)
}

func (m *Metrics) RecordFrameAlloc() {
	m.frameAllocs.Add(1)
}

func (m *Metrics) RecordEviction() {
	m.evictions.Add(1)
}

func (m *Metrics) RecordSwapIn() {
	m.swapIns.Add(1)
}

func (m *Metrics) RecordSwapOut() {
	m.swapOuts.Add(1)
}

func (m *Metrics) RecordFileWriteback() {
	m.fileWritebacks.Add(1)
}

func (m *Metrics) RecordForkCopy() {
	m.forkCopies.Add(1)
}

// RecordCompressedSwapOut records a page stored compressed, with its
// uncompressed to compressed size ratio
func (m *Metrics) RecordCompressedSwapOut(ratio float64) {
	m.compressedSwapOuts.Add(1)
	m.compressionRatio.Record(ratio)
}

// RecordFaultLatency records the time taken to resolve one fault
func (m *Metrics) RecordFaultLatency(d time.Duration) {
	m.faultLatency.Record(float64(d.Microseconds()))
}

// RecordEvictionLatency records the time taken to reclaim one frame
func (m *Metrics) RecordEvictionLatency(d time.Duration) {
	m.evictionLatency.Record(float64(d.Microseconds()))
}

// Getters

func (m *Metrics) GetFaults() uint64 {
	return m.faults.Load()
}

func (m *Metrics) GetInvalidFaults() uint64 {
	return m.invalidFaults.Load()
}

func (m *Metrics) GetStackGrowths() uint64 {
	return m.stackGrowths.Load()
}

func (m *Metrics) GetFrameAllocs() uint64 {
	return m.frameAllocs.Load()
}

func (m *Metrics) GetEvictions() uint64 {
	return m.evictions.Load()
}

func (m *Metrics) GetSwapIns() uint64 {
	return m.swapIns.Load()
}

func (m *Metrics) GetSwapOuts() uint64 {
	return m.swapOuts.Load()
}

func (m *Metrics) GetFileWritebacks() uint64 {
	return m.fileWritebacks.Load()
}

func (m *Metrics) GetForkCopies() uint64 {
	return m.forkCopies.Load()
}

func (m *Metrics) GetCompressedSwapOuts() uint64 {
	return m.compressedSwapOuts.Load()
}

// GetCompressionRatio returns snapshot of the compression ratio of swapped
// out pages
func (m *Metrics) GetCompressionRatio() HistogramSnapshot {
	return m.compressionRatio.Snapshot()
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// GetFaultLatency returns snapshot of fault resolution latency distribution
func (m *Metrics) GetFaultLatency() HistogramSnapshot {
	return m.faultLatency.Snapshot()
}

// GetEvictionLatency returns snapshot of eviction latency distribution
func (m *Metrics) GetEvictionLatency() HistogramSnapshot {
	return m.evictionLatency.Snapshot()
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	fault := m.GetFaultLatency()
	evict := m.GetEvictionLatency()
	ratio := m.GetCompressionRatio()

	logger.Info("VM Metrics",
		slog.Group("faults",
			slog.Uint64("resolved", m.GetFaults()),
			slog.Uint64("invalid", m.GetInvalidFaults()),
			slog.Uint64("stack_growths", m.GetStackGrowths()),
		),
		slog.Group("frames",
			slog.Uint64("allocated", m.GetFrameAllocs()),
			slog.Uint64("evicted", m.GetEvictions()),
		),
		slog.Group("backing",
			slog.Uint64("swap_ins", m.GetSwapIns()),
			slog.Uint64("swap_outs", m.GetSwapOuts()),
			slog.Uint64("file_writebacks", m.GetFileWritebacks()),
			slog.Uint64("fork_copies", m.GetForkCopies()),
		),
		slog.Group("compression",
			slog.Uint64("swap_outs", m.GetCompressedSwapOuts()),
			slog.Float64("mean_ratio", ratio.Mean),
		),
		slog.Group("latency_us",
			slog.Group("fault",
				slog.Int("count", fault.Count),
				slog.Float64("mean", fault.Mean),
				slog.Float64("p50", fault.P50),
				slog.Float64("p99", fault.P99),
			),
			slog.Group("eviction",
				slog.Int("count", evict.Count),
				slog.Float64("mean", evict.Mean),
				slog.Float64("p99", evict.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.faults.Store(0)
	m.invalidFaults.Store(0)
	m.stackGrowths.Store(0)
	m.frameAllocs.Store(0)
	m.evictions.Store(0)
	m.swapIns.Store(0)
	m.swapOuts.Store(0)
	m.fileWritebacks.Store(0)
	m.forkCopies.Store(0)
	m.compressedSwapOuts.Store(0)

	m.faultLatency.Reset()
	m.evictionLatency.Reset()
	m.compressionRatio.Reset()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
