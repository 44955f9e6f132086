package benchmarks

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Bmar04/ADSBtool/internal/stats"
	"github.com/Bmar04/ADSBtool/internal/synth"
	"github.com/Bmar04/ADSBtool/internal/track"
)

var (
	separator    = strings.Repeat("=", 70)
	subseparator = strings.Repeat("-", 70)
)

// ---------------------------------------------------------------------------
// Benchmark Summary - Generates comprehensive performance report
// ---------------------------------------------------------------------------

// TestBenchmarkSummary runs all benchmarks and prints a summary report.
// Run with: go test -v -run TestBenchmarkSummary -timeout=5m ./benchmarks/
func TestBenchmarkSummary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping summary in short mode")
	}

	fmt.Println("\n" + separator)
	fmt.Println("ADSBtool Performance Benchmark Summary")
	fmt.Println(separator + "\n")

	// System info
	fmt.Printf("System Information:\n")
	fmt.Printf("  Go Version: %s\n", runtime.Version())
	fmt.Printf("  GOOS/GOARCH: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  NumCPU: %d\n", runtime.NumCPU())
	fmt.Printf("  GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	// Memory baseline
	runtime.GC()
	baseline := CaptureMemoryProfile()
	fmt.Printf("Memory Baseline:\n")
	fmt.Printf("  Heap: %.2f MB\n", baseline.HeapMB())
	fmt.Printf("  Sys: %.2f MB\n", baseline.SysMB())
	fmt.Println()

	// Run benchmarks
	fmt.Println(subseparator)
	fmt.Println("1. INGESTION PERFORMANCE")
	fmt.Println(subseparator)

	for _, rate := range []int{100, 150, 200} {
		lg := NewLoadGenerator(rate, 3*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		loadStats := lg.Run(ctx)
		cancel()

		fmt.Printf("\n  Target: %d records/sec\n", rate)
		fmt.Printf("    Achieved: %.2f records/sec (%.1f%%)\n", loadStats.RecordsPerSec, loadStats.RecordsPerSec/float64(rate)*100)
		fmt.Printf("    Total records: %d\n", loadStats.TotalRecords)
		fmt.Printf("    Duration: %v\n", loadStats.Duration)
		fmt.Printf("    Status: %s\n", passFailStr(loadStats.RecordsPerSec >= float64(rate)*0.8))
	}

	fmt.Println("\n" + subseparator)
	fmt.Println("2. CONCURRENT VIEW PERFORMANCE")
	fmt.Println(subseparator)

	for _, workers := range []int{10, 25, 50} {
		cvb := NewConcurrentViewBench(10000)
		viewStats := cvb.RunConcurrent(workers, 50)

		fmt.Printf("\n  Workers: %d (50 requests each)\n", workers)
		fmt.Printf("    Requests/sec: %.2f\n", viewStats.RequestsPerSec)
		fmt.Printf("    P50: %v\n", viewStats.P50)
		fmt.Printf("    P95: %v\n", viewStats.P95)
		fmt.Printf("    P99: %v\n", viewStats.P99)
		fmt.Printf("    Max: %v\n", viewStats.Max)
		fmt.Printf("    P99 < 250ms: %s\n", passFailStr(viewStats.P99 < 250*time.Millisecond))
	}

	fmt.Println("\n" + subseparator)
	fmt.Println("3. LATENCY DISTRIBUTION")
	fmt.Println(subseparator)

	cvb := NewConcurrentViewBench(50000)
	latencyStats := cvb.RunConcurrent(20, 100)

	fmt.Printf("\n  Sample size: %d requests\n", latencyStats.TotalRequests)
	fmt.Printf("  Min: %v\n", latencyStats.Min)
	fmt.Printf("  P50 (median): %v\n", latencyStats.P50)
	fmt.Printf("  P95: %v\n", latencyStats.P95)
	fmt.Printf("  P99: %v\n", latencyStats.P99)
	fmt.Printf("  Max: %v\n", latencyStats.Max)
	fmt.Printf("  Avg: %v\n", latencyStats.Avg)

	fmt.Println("\n" + subseparator)
	fmt.Println("4. MEMORY USAGE")
	fmt.Println(subseparator)

	for _, recordCount := range []int{10000, 50000, 100000} {
		runtime.GC()
		before := CaptureMemoryProfile()

		st := benchStore(recordCount)

		runtime.GC()
		after := CaptureMemoryProfile()
		_ = st // keep reference

		heapMB := after.HeapMB()
		deltaMB := after.HeapMB() - before.HeapMB()
		recordsPerMB := float64(recordCount) / deltaMB

		fmt.Printf("\n  Records: %d\n", recordCount)
		fmt.Printf("    Heap: %.2f MB\n", heapMB)
		fmt.Printf("    Delta: %.2f MB\n", deltaMB)
		fmt.Printf("    Records/MB: %.2f\n", recordsPerMB)
		fmt.Printf("    Under 512MB: %s\n", passFailStr(heapMB < 512))
	}

	fmt.Println("\n" + subseparator)
	fmt.Println("5. SCALABILITY")
	fmt.Println(subseparator)

	fmt.Printf("\n  Testing view performance at different scales:\n")
	for _, size := range []int{1000, 10000, 50000} {
		cvb := NewConcurrentViewBench(size)
		viewStats := cvb.RunConcurrent(10, 50)

		fmt.Printf("    %d records: %.2f rps, P99=%v\n", size, viewStats.RequestsPerSec, viewStats.P99)
	}

	// Final summary
	fmt.Println("\n" + separator)
	fmt.Println("SUMMARY")
	fmt.Println(separator)

	// Re-run key metrics for final summary
	lg := NewLoadGenerator(150, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	loadStats := lg.Run(ctx)
	cancel()

	cvb = NewConcurrentViewBench(50000)
	viewStats := cvb.RunConcurrent(20, 100)

	runtime.GC()
	memProfile := CaptureMemoryProfile()

	fmt.Printf("\n")
	fmt.Printf("  %-30s %s\n", "Ingestion Rate (150 target):",
		statusStr(loadStats.RecordsPerSec >= 120, fmt.Sprintf("%.1f records/sec", loadStats.RecordsPerSec)))
	fmt.Printf("  %-30s %s\n", "View P99 (<250ms target):",
		statusStr(viewStats.P99 < 250*time.Millisecond, viewStats.P99.String()))
	fmt.Printf("  %-30s %s\n", "Memory (<512MB target):",
		statusStr(memProfile.HeapMB() < 512, fmt.Sprintf("%.1f MB", memProfile.HeapMB())))
	fmt.Printf("  %-30s %s\n", "Concurrent RPS:",
		fmt.Sprintf("%.0f requests/sec", viewStats.RequestsPerSec))
	fmt.Println()
}

func passFailStr(pass bool) string {
	if pass {
		return "✓ PASS"
	}
	return "✗ FAIL"
}

func statusStr(pass bool, value string) string {
	if pass {
		return fmt.Sprintf("✓ %s", value)
	}
	return fmt.Sprintf("✗ %s", value)
}

// ---------------------------------------------------------------------------
// Individual View Type Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkViewTypes(b *testing.B) {
	st := benchStore(50000)
	sy := synth.New(st, synth.WithTrackCache(8))

	b.Run("Snapshot", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			sy.Snapshot()
		}
	})

	b.Run("Animation", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			sy.Animation()
		}
	})

	b.Run("FlightPaths", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			sy.FlightPaths()
		}
	})

	b.Run("DensityGrid", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			sy.DensityGrid()
		}
	})

	b.Run("TrackBuild", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			track.Build(st, 2)
		}
	})

	b.Run("Summarize", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			stats.Summarize(st)
		}
	})
}
