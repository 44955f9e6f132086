// Package edge provides configuration and utilities for running the
// telemetry pipeline on constrained hosts (limited memory, CPU, storage):
// memory modes, a pressure monitor, retention trimming and compressed
// archiving of cold records.
package edge

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Memory Mode Configuration
// ---------------------------------------------------------------------------

// MemoryMode defines the memory usage strategy.
type MemoryMode int

const (
	// MemoryModeNormal uses default settings for best performance.
	// Suitable for systems with 1GB+ RAM.
	MemoryModeNormal MemoryMode = iota

	// MemoryModeReduced enables memory-saving optimizations with moderate
	// performance impact. Suitable for 512MB RAM.
	MemoryModeReduced

	// MemoryModeAggressive enables maximum memory savings with significant
	// performance trade-offs. Suitable for 256MB RAM or less.
	MemoryModeAggressive
)

func (m MemoryMode) String() string {
	switch m {
	case MemoryModeNormal:
		return "normal"
	case MemoryModeReduced:
		return "reduced"
	case MemoryModeAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseMemoryMode parses a memory mode string.
func ParseMemoryMode(s string) MemoryMode {
	switch s {
	case "reduced":
		return MemoryModeReduced
	case "aggressive":
		return MemoryModeAggressive
	default:
		return MemoryModeNormal
	}
}

// ---------------------------------------------------------------------------
// Edge Configuration
// ---------------------------------------------------------------------------

// Config holds all edge deployment configuration.
type Config struct {
	// Memory management
	MemoryMode    MemoryMode
	MemoryLimitMB int
	GCPercent     int
	SoftLimitMB   int // Trigger degradation at this threshold

	// Data retention
	DataRetentionHours int  // Keep records for N hours (0 = unlimited)
	MaxRecords         int  // Maximum buffered records (0 = unlimited)
	EnableArchive      bool // Archive cold records compressed

	// Performance
	MaxProcs     int
	SmallBuffers bool // Use smaller pre-allocated buffers

	// Degradation
	EnableDegradation bool // Enable graceful degradation
	DegradationAction DegradationAction
}

// DegradationAction defines what to do when approaching limits.
type DegradationAction int

const (
	// DegradationDropOldest drops oldest records first.
	DegradationDropOldest DegradationAction = iota

	// DegradationRejectNew rejects new records when full.
	DegradationRejectNew

	// DegradationArchive moves cold records into compressed archives.
	DegradationArchive
)

// DefaultConfig returns default edge configuration.
func DefaultConfig() Config {
	return Config{
		MemoryMode:         MemoryModeNormal,
		MemoryLimitMB:      512,
		GCPercent:          100,
		SoftLimitMB:        450,
		DataRetentionHours: 0,
		MaxRecords:         0,
		EnableArchive:      false,
		MaxProcs:           0,
		SmallBuffers:       false,
		EnableDegradation:  false,
		DegradationAction:  DegradationDropOldest,
	}
}

// ReducedMemoryConfig returns configuration optimized for 512MB environments.
func ReducedMemoryConfig() Config {
	return Config{
		MemoryMode:         MemoryModeReduced,
		MemoryLimitMB:      512,
		GCPercent:          50,  // More frequent GC
		SoftLimitMB:        400, // Earlier degradation trigger
		DataRetentionHours: 6,   // Keep 6 hours
		MaxRecords:         200000,
		EnableArchive:      true,
		MaxProcs:           1,
		SmallBuffers:       true,
		EnableDegradation:  true,
		DegradationAction:  DegradationDropOldest,
	}
}

// AggressiveMemoryConfig returns configuration for severely constrained environments.
func AggressiveMemoryConfig() Config {
	return Config{
		MemoryMode:         MemoryModeAggressive,
		MemoryLimitMB:      256,
		GCPercent:          20,  // Very frequent GC
		SoftLimitMB:        200, // Early degradation
		DataRetentionHours: 2,   // Keep only 2 hours
		MaxRecords:         50000,
		EnableArchive:      true,
		MaxProcs:           1,
		SmallBuffers:       true,
		EnableDegradation:  true,
		DegradationAction:  DegradationDropOldest,
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	// Memory mode
	if v := os.Getenv("MEMORY_MODE"); v != "" {
		cfg.MemoryMode = ParseMemoryMode(v)
		// Apply preset
		switch cfg.MemoryMode {
		case MemoryModeReduced:
			cfg = ReducedMemoryConfig()
		case MemoryModeAggressive:
			cfg = AggressiveMemoryConfig()
		}
	}

	// Override individual settings
	if v := os.Getenv("MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemoryLimitMB = n
		}
	}
	if v := os.Getenv("GC_PERCENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GCPercent = n
		}
	}
	if v := os.Getenv("SOFT_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SoftLimitMB = n
		}
	}
	if v := os.Getenv("DATA_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataRetentionHours = n
		}
	}
	if v := os.Getenv("MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRecords = n
		}
	}
	if v := os.Getenv("ENABLE_ARCHIVE"); v == "true" {
		cfg.EnableArchive = true
	}
	if v := os.Getenv("SMALL_BUFFERS"); v == "true" {
		cfg.SmallBuffers = true
	}
	if v := os.Getenv("ENABLE_DEGRADATION"); v == "true" {
		cfg.EnableDegradation = true
	}
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxProcs = n
		}
	}

	return cfg
}

// Apply applies the configuration to the runtime.
func (c Config) Apply() {
	// Set GOMAXPROCS
	if c.MaxProcs > 0 {
		runtime.GOMAXPROCS(c.MaxProcs)
	}

	// Set GC percent
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}

	// Set memory limit (Go 1.19+)
	if c.MemoryLimitMB > 0 {
		limit := int64(c.MemoryLimitMB) * 1024 * 1024
		debug.SetMemoryLimit(limit)
	}
}

// BufferSizes returns appropriate buffer sizes for this configuration.
func (c Config) BufferSizes() BufferSizes {
	switch c.MemoryMode {
	case MemoryModeAggressive:
		return BufferSizes{
			RecordBuffer:   512,
			ResultCapacity: 16,
			BatchSize:      50,
			ChannelBuffer:  10,
		}
	case MemoryModeReduced:
		return BufferSizes{
			RecordBuffer:   2048,
			ResultCapacity: 32,
			BatchSize:      100,
			ChannelBuffer:  50,
		}
	default:
		return BufferSizes{
			RecordBuffer:   8192,
			ResultCapacity: 64,
			BatchSize:      100,
			ChannelBuffer:  100,
		}
	}
}

// BufferSizes holds pre-allocation sizes.
type BufferSizes struct {
	RecordBuffer   int // Initial record buffer capacity
	ResultCapacity int // View-model slice capacity
	BatchSize      int // Batch processing size
	ChannelBuffer  int // Channel buffer sizes
}

// RetentionDuration returns the data retention as a duration.
func (c Config) RetentionDuration() time.Duration {
	if c.DataRetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.DataRetentionHours) * time.Hour
}

// ---------------------------------------------------------------------------
// Trade-off Documentation
// ---------------------------------------------------------------------------

/*
EDGE DEPLOYMENT TRADE-OFFS

┌────────────────────┬────────────────────────────────────────────────────────┐
│ SETTING            │ TRADE-OFF                                              │
├────────────────────┼────────────────────────────────────────────────────────┤
│ GCPercent (low)    │ + Lower memory usage                                   │
│                    │ - Higher CPU usage, more GC pauses                     │
├────────────────────┼────────────────────────────────────────────────────────┤
│ SmallBuffers       │ + Faster startup, lower initial memory                 │
│                    │ - More allocations as the record buffer grows          │
├────────────────────┼────────────────────────────────────────────────────────┤
│ DataRetention      │ + Bounded memory usage                                 │
│ (limited)          │ - Views limited to the retention window                │
│                    │ - Background trimming adds CPU overhead                │
├────────────────────┼────────────────────────────────────────────────────────┤
│ MaxRecords (capped)│ + Guaranteed memory ceiling                            │
│                    │ - Oldest records lost when the cap is reached          │
├────────────────────┼────────────────────────────────────────────────────────┤
│ EnableArchive      │ + Cold records survive trimming at ~20% of their size  │
│                    │ - CPU overhead for compression/decompression           │
├────────────────────┼────────────────────────────────────────────────────────┤
│ EnableDegradation  │ + System remains responsive under pressure             │
│                    │ - May drop records or reject new polls                 │
└────────────────────┴────────────────────────────────────────────────────────┘

RECOMMENDED CONFIGURATIONS BY ENVIRONMENT:

┌─────────────────┬─────────┬─────────┬───────────┬────────────┐
│ Environment     │ RAM     │ Mode    │ Retention │ MaxRecords │
├─────────────────┼─────────┼─────────┼───────────┼────────────┤
│ Cloud/Server    │ 2GB+    │ normal  │ unlimited │ unlimited  │
│ Edge Gateway    │ 512MB   │ reduced │ 6 hours   │ 200,000    │
│ IoT Device      │ 256MB   │ aggress.│ 2 hours   │ 50,000     │
└─────────────────┴─────────┴─────────┴───────────┴────────────┘
*/
