package ingestion

import (
	"sync"
	"time"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

// Buffer accumulates collected records between store rebuilds. Appends come
// from collector workers; snapshots and trims come from the serving and
// retention sides.
type Buffer struct {
	mu      sync.RWMutex
	records []models.TelemetryRecord
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds records to the buffer.
func (b *Buffer) Append(recs []models.TelemetryRecord) {
	if len(recs) == 0 {
		return
	}
	b.mu.Lock()
	b.records = append(b.records, recs...)
	b.mu.Unlock()
}

// Len returns the buffered record count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Snapshot returns a copy of the buffered records.
func (b *Buffer) Snapshot() []models.TelemetryRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.TelemetryRecord, len(b.records))
	copy(out, b.records)
	return out
}

// TrimBefore drops records older than cutoff and returns how many were
// removed.
func (b *Buffer) TrimBefore(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.records[:0]
	for _, r := range b.records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(b.records) - len(kept)
	b.records = kept
	return removed
}

// TrimToSize keeps only the newest max records (by append order) and returns
// how many were removed.
func (b *Buffer) TrimToSize(max int) int {
	if max < 0 {
		max = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) <= max {
		return 0
	}
	removed := len(b.records) - max
	b.records = append(b.records[:0], b.records[removed:]...)
	return removed
}
