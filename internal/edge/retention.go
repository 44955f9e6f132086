package edge

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Record Retention Manager
// ---------------------------------------------------------------------------

// TrimFunc drops records older than cutoff from the owning buffer and
// returns how many were removed.
type TrimFunc func(cutoff time.Time) int

// RetentionManager periodically trims records that fall outside the
// configured retention window.
type RetentionManager struct {
	config Config

	mu   sync.RWMutex
	trim TrimFunc

	// Stats
	totalTrimmed atomic.Int64
	lastCleanup  atomic.Int64 // Unix timestamp

	running atomic.Bool
	cancel  context.CancelFunc
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(cfg Config) *RetentionManager {
	return &RetentionManager{config: cfg}
}

// SetTrimFunc sets the function that performs the trim.
func (r *RetentionManager) SetTrimFunc(fn TrimFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trim = fn
}

// Start begins the background trim loop. No-op when retention is unlimited.
func (r *RetentionManager) Start(ctx context.Context) {
	if r.config.RetentionDuration() <= 0 {
		return
	}
	if r.running.Swap(true) {
		return // Already running
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.retentionLoop(ctx)
}

// Stop halts the trim loop.
func (r *RetentionManager) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.running.Store(false)
}

// RunCleanupNow trims immediately and returns the removed count.
func (r *RetentionManager) RunCleanupNow() int {
	return r.cleanup()
}

// Stats returns retention statistics.
func (r *RetentionManager) Stats() RetentionStats {
	return RetentionStats{
		TotalTrimmed:   r.totalTrimmed.Load(),
		LastCleanup:    time.Unix(r.lastCleanup.Load(), 0),
		RetentionHours: r.config.DataRetentionHours,
	}
}

// RetentionStats describes trim activity so far.
type RetentionStats struct {
	TotalTrimmed   int64
	LastCleanup    time.Time
	RetentionHours int
}

func (r *RetentionManager) retentionLoop(ctx context.Context) {
	// Trim every 1/12 of the retention window (e.g. every 30 min for a
	// 6 hour window), clamped to [1min, 30min].
	interval := time.Duration(r.config.DataRetentionHours) * time.Hour / 12
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 30*time.Minute {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *RetentionManager) cleanup() int {
	retention := r.config.RetentionDuration()
	if retention <= 0 {
		return 0
	}

	r.mu.RLock()
	trim := r.trim
	r.mu.RUnlock()
	if trim == nil {
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := trim(cutoff)

	r.totalTrimmed.Add(int64(removed))
	r.lastCleanup.Store(time.Now().Unix())

	if removed > 0 {
		log.Printf("Retention cleanup: trimmed=%d cutoff=%s", removed, cutoff.Format(time.RFC3339))
	}
	return removed
}

// ---------------------------------------------------------------------------
// Record Limit Enforcer
// ---------------------------------------------------------------------------

// RecordLimitEnforcer caps the number of buffered records, evicting oldest
// first through a shrink callback.
type RecordLimitEnforcer struct {
	config Config

	mu       sync.RWMutex
	count    func() int        // Current buffered record count
	onShrink func(max int) int // Shrink the buffer to max records, return removed

	totalEvicted atomic.Int64
}

// NewRecordLimitEnforcer creates a limit enforcer.
func NewRecordLimitEnforcer(cfg Config) *RecordLimitEnforcer {
	return &RecordLimitEnforcer{config: cfg}
}

// Bind wires the enforcer to a buffer's count and shrink operations.
func (n *RecordLimitEnforcer) Bind(count func() int, shrink func(max int) int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count = count
	n.onShrink = shrink
}

// ShouldEvict reports whether the buffer exceeds the configured cap.
func (n *RecordLimitEnforcer) ShouldEvict() bool {
	if n.config.MaxRecords <= 0 {
		return false
	}
	n.mu.RLock()
	count := n.count
	n.mu.RUnlock()
	if count == nil {
		return false
	}
	return count() > n.config.MaxRecords
}

// Enforce shrinks the buffer back under the cap and returns the removed
// count.
func (n *RecordLimitEnforcer) Enforce() int {
	if !n.ShouldEvict() {
		return 0
	}
	n.mu.RLock()
	shrink := n.onShrink
	n.mu.RUnlock()
	if shrink == nil {
		return 0
	}

	removed := shrink(n.config.MaxRecords)
	n.totalEvicted.Add(int64(removed))
	if removed > 0 {
		log.Printf("Record limit: evicted=%d cap=%d", removed, n.config.MaxRecords)
	}
	return removed
}

// TotalEvicted returns how many records the enforcer has dropped.
func (n *RecordLimitEnforcer) TotalEvicted() int64 {
	return n.totalEvicted.Load()
}
