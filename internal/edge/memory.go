package edge

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Memory Monitor
// ---------------------------------------------------------------------------

// MemoryState represents the current memory pressure level.
type MemoryState int32

const (
	// MemoryStateNormal - heap comfortably below the soft limit
	MemoryStateNormal MemoryState = iota

	// MemoryStateWarning - heap past 80% of the soft limit
	MemoryStateWarning

	// MemoryStateCritical - heap at or past the soft limit
	MemoryStateCritical

	// MemoryStateEmergency - heap within 5% of the hard limit
	MemoryStateEmergency
)

func (s MemoryState) String() string {
	switch s {
	case MemoryStateNormal:
		return "normal"
	case MemoryStateWarning:
		return "warning"
	case MemoryStateCritical:
		return "critical"
	case MemoryStateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MemoryStats is one sample of the runtime's memory picture, exposed on the
// stats endpoint.
type MemoryStats struct {
	AllocMB    float64     `json:"alloc_mb"`
	HeapMB     float64     `json:"heap_mb"`
	SysMB      float64     `json:"sys_mb"`
	NumGC      uint32      `json:"num_gc"`
	State      MemoryState `json:"state"`
	UsageRatio float64     `json:"usage_ratio"` // heap / soft limit
}

// MemoryListener is called when memory state changes.
type MemoryListener func(oldState, newState MemoryState, stats MemoryStats)

// MemoryMonitor samples heap usage on an interval derived from the memory
// mode and fans state transitions out to listeners. The record buffer is the
// only large allocator in this process, so heap state is a direct proxy for
// buffer size.
type MemoryMonitor struct {
	config Config

	state atomic.Int32

	mu        sync.RWMutex
	lastStats MemoryStats
	listeners []MemoryListener

	running atomic.Bool
	cancel  context.CancelFunc
}

// NewMemoryMonitor creates a memory monitor with the given configuration.
func NewMemoryMonitor(cfg Config) *MemoryMonitor {
	return &MemoryMonitor{config: cfg}
}

// AddListener adds a callback for memory state changes.
func (m *MemoryMonitor) AddListener(l MemoryListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start begins sampling. Safe to call once; later calls are no-ops.
func (m *MemoryMonitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go m.sampleLoop(ctx)
}

// Stop halts sampling.
func (m *MemoryMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.running.Store(false)
}

// Stats returns the most recent sample.
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastStats
}

// State returns the current memory state.
func (m *MemoryMonitor) State() MemoryState {
	return MemoryState(m.state.Load())
}

// IsWarning reports elevated memory usage.
func (m *MemoryMonitor) IsWarning() bool {
	return m.State() >= MemoryStateWarning
}

// IsCritical reports critical memory usage.
func (m *MemoryMonitor) IsCritical() bool {
	return m.State() >= MemoryStateCritical
}

// ShouldRejectWrites reports whether incoming records should be refused.
// Only the reject-new degradation action refuses writes; the other actions
// shed load by eviction or archiving instead.
func (m *MemoryMonitor) ShouldRejectWrites() bool {
	if !m.config.EnableDegradation || m.config.DegradationAction != DegradationRejectNew {
		return false
	}
	return m.IsCritical()
}

// sampleInterval picks the check cadence for the configured mode: tighter
// modes watch the heap more closely.
func (m *MemoryMonitor) sampleInterval() time.Duration {
	switch m.config.MemoryMode {
	case MemoryModeAggressive:
		return 2 * time.Second
	case MemoryModeReduced:
		return 3 * time.Second
	default:
		return 5 * time.Second
	}
}

func (m *MemoryMonitor) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sampleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// stateFor classifies a heap size against the configured limits.
func (m *MemoryMonitor) stateFor(heapBytes uint64) MemoryState {
	soft := uint64(m.config.SoftLimitMB) << 20
	hard := uint64(m.config.MemoryLimitMB) << 20

	switch {
	case heapBytes >= hard-hard/20:
		return MemoryStateEmergency
	case heapBytes >= soft:
		return MemoryStateCritical
	case heapBytes >= soft*4/5:
		return MemoryStateWarning
	default:
		return MemoryStateNormal
	}
}

func (m *MemoryMonitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	newState := m.stateFor(ms.HeapAlloc)
	stats := MemoryStats{
		AllocMB:    float64(ms.Alloc) / (1 << 20),
		HeapMB:     float64(ms.HeapAlloc) / (1 << 20),
		SysMB:      float64(ms.Sys) / (1 << 20),
		NumGC:      ms.NumGC,
		State:      newState,
		UsageRatio: float64(ms.HeapAlloc) / float64(uint64(m.config.SoftLimitMB)<<20),
	}

	oldState := MemoryState(m.state.Swap(int32(newState)))

	m.mu.Lock()
	m.lastStats = stats
	listeners := append([]MemoryListener(nil), m.listeners...)
	m.mu.Unlock()

	if oldState == newState {
		return
	}

	log.Printf("Memory state changed: %s -> %s (heap: %.1fMB, ratio: %.2f)",
		oldState, newState, stats.HeapMB, stats.UsageRatio)

	for _, l := range listeners {
		l(oldState, newState, stats)
	}

	if newState == MemoryStateEmergency {
		log.Println("Emergency: triggering GC")
		runtime.GC()
	}
}

// ---------------------------------------------------------------------------
// Memory Pressure Handler
// ---------------------------------------------------------------------------

// PressureHandler turns critical memory states into the configured
// degradation action against the record buffer.
type PressureHandler struct {
	monitor *MemoryMonitor
	config  Config
	onEvict func(count int)
}

// NewPressureHandler creates a pressure handler.
func NewPressureHandler(monitor *MemoryMonitor, cfg Config) *PressureHandler {
	return &PressureHandler{monitor: monitor, config: cfg}
}

// SetEvictCallback sets the function invoked to drop the oldest records.
func (p *PressureHandler) SetEvictCallback(fn func(count int)) {
	p.onEvict = fn
}

// HandlePressure applies the configured degradation action. No-op below the
// critical state or when degradation is disabled.
func (p *PressureHandler) HandlePressure() {
	if !p.config.EnableDegradation || p.monitor.State() < MemoryStateCritical {
		return
	}

	switch p.config.DegradationAction {
	case DegradationDropOldest:
		// Shed 10% of the record cap, at least 100 records.
		evictCount := p.config.MaxRecords / 10
		if evictCount < 100 {
			evictCount = 100
		}
		if p.onEvict != nil {
			p.onEvict(evictCount)
		}

	case DegradationArchive:
		// Archiving runs in the retention loop; reclaim what GC can.
		runtime.GC()

	case DegradationRejectNew:
		// Handled by ShouldRejectWrites()
	}
}
