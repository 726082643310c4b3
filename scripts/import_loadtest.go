//go:build ignore
// +build ignore

// Import Pipeline Load Test
// Drives the full import pipeline in memory against a synthetic source and
// a no-op submitter, to measure what the pipeline itself sustains before
// the audience service becomes the bottleneck.
//
// Usage:
//   go run scripts/import_loadtest.go \
//     --records=1000000 \
//     --batch=1000 \
//     --concurrency=8
//
// Or against a real export:
//   go run scripts/import_loadtest.go \
//     --source-file=/path/to/subscribers.csv \
//     --suppression-size=1000000 \
//     --overlap=0.05

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/progress"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/source"
	"github.com/ignite/list-loader/internal/suppression"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type LoadTestConfig struct {
	Records     int
	BatchSize   int
	Concurrency int
	Rate        float64 // submissions/sec, 0 = unlimited

	// Real file instead of synthetic records (optional)
	SourceFile string

	// Suppression set size and the fraction of it matching the audience
	SuppressionSize int
	Overlap         float64
}

func DefaultLoadTestConfig() *LoadTestConfig {
	return &LoadTestConfig{
		Records:     1_000_000,
		BatchSize:   1_000,
		Concurrency: runtime.NumCPU(),
	}
}

// =============================================================================
// SYNTHETIC SOURCE
// =============================================================================

// syntheticSource emits addresses on the fly so a 50M-record run needs
// no fixture file. Addresses are user%07d@example.com, which lets the
// suppression set be built to overlap a known prefix of them.
type syntheticSource struct {
	total int
	next  int
}

func (s *syntheticSource) Identity() string   { return "synthetic://loadtest" }
func (s *syntheticSource) Total() (int, bool) { return s.total, true }
func (s *syntheticSource) Malformed() int     { return 0 }
func (s *syntheticSource) Close() error       { return nil }

func (s *syntheticSource) Next() (*domain.ImportRecord, error) {
	if s.next >= s.total {
		return nil, io.EOF
	}
	s.next++
	return &domain.ImportRecord{
		LineNumber: s.next,
		Email:      syntheticEmail(s.next),
		FirstName:  "Load",
		LastName:   "Test",
	}, nil
}

func (s *syntheticSource) Skip(n int) error {
	if s.next+n > s.total {
		return fmt.Errorf("synthetic source exhausted skipping %d records", n)
	}
	s.next += n
	return nil
}

func syntheticEmail(i int) string {
	return fmt.Sprintf("user%07d@example.com", i)
}

// =============================================================================
// PROGRESS PRINTER
// =============================================================================

type consolePrinter struct {
	start time.Time
}

func (p *consolePrinter) OnProgressUpdate(ev progress.Event) {
	elapsed := time.Since(p.start).Seconds()
	switch ev.Type {
	case progress.EventPhaseChange:
		fmt.Printf("  [%7.2fs] phase: %s\n", elapsed, ev.Message)
	case progress.EventMilestone:
		rate := float64(ev.State.ProcessedRecords) / elapsed
		fmt.Printf("  [%7.2fs] %s (%.0f records/sec)\n", elapsed, ev.Message, rate)
	}
}

// =============================================================================
// LOAD TEST RUNNER
// =============================================================================

func run(cfg *LoadTestConfig) error {
	fmt.Println("================================================================================")
	fmt.Println("                      IMPORT PIPELINE LOAD TEST")
	fmt.Println("================================================================================")
	fmt.Printf("\nConfiguration:\n")
	if cfg.SourceFile != "" {
		fmt.Printf("  Source:          %s\n", cfg.SourceFile)
	} else {
		fmt.Printf("  Source:          synthetic (%d records)\n", cfg.Records)
	}
	fmt.Printf("  Batch Size:      %d\n", cfg.BatchSize)
	fmt.Printf("  Concurrency:     %d\n", cfg.Concurrency)
	if cfg.Rate > 0 {
		fmt.Printf("  Rate Limit:      %.0f/sec\n", cfg.Rate)
	} else {
		fmt.Printf("  Rate Limit:      unlimited\n")
	}
	if cfg.SuppressionSize > 0 {
		fmt.Printf("  Suppression:     %d entries, %.1f%% overlapping\n",
			cfg.SuppressionSize, cfg.Overlap*100)
	}
	fmt.Println()

	// Phase 1: source
	var src source.Source
	if cfg.SourceFile != "" {
		fileSrc, err := source.OpenCSVFile(cfg.SourceFile)
		if err != nil {
			return err
		}
		src = fileSrc
	} else {
		src = &syntheticSource{total: cfg.Records}
	}
	defer src.Close()

	// Phase 2: suppression set
	var checker suppression.Checker
	var expected int
	if cfg.SuppressionSize > 0 {
		fmt.Println("BUILDING SUPPRESSION SET")
		fmt.Println("-" + strings.Repeat("-", 78))
		start := time.Now()

		expected = int(float64(cfg.SuppressionSize) * cfg.Overlap)
		if expected > cfg.Records {
			expected = cfg.Records
		}
		entries := make([]string, 0, cfg.SuppressionSize)
		for i := 1; i <= expected; i++ {
			entries = append(entries, syntheticEmail(i))
		}
		for i := len(entries); i < cfg.SuppressionSize; i++ {
			entries = append(entries, fmt.Sprintf("other%07d@example.net", i))
		}

		mem := suppression.NewMemoryChecker(entries)
		checker = mem
		fmt.Printf("  ✓ Loaded %d entries in %v\n", mem.Count(), time.Since(start))
		fmt.Println()
	}

	// Phase 3: pipeline
	var submitted int64
	submitter := importer.SubmitterFunc(func(_ context.Context, _ domain.ImportRecord) error {
		atomic.AddInt64(&submitted, 1)
		return nil
	})

	limiter := ratelimit.NewLimiter(1e9, 1<<30)
	if cfg.Rate > 0 {
		limiter = ratelimit.NewLimiter(cfg.Rate, int(cfg.Rate))
	}

	sess, err := importer.NewSession(importer.Deps{
		Source:      src,
		Submitter:   submitter,
		Limiter:     limiter,
		Suppression: checker,
	}, importer.Options{
		SessionID:      "sess-loadtest",
		BatchSize:      cfg.BatchSize,
		Concurrency:    cfg.Concurrency,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		return err
	}

	printer := &consolePrinter{start: time.Now()}
	sess.Tracker().Register("console", printer)

	fmt.Println("RUNNING PIPELINE")
	fmt.Println("-" + strings.Repeat("-", 78))

	summary, err := sess.Run(context.Background())
	if err != nil {
		return err
	}

	printResults(cfg, summary, atomic.LoadInt64(&submitted), expected)
	return nil
}

func printResults(cfg *LoadTestConfig, summary *importer.Summary, submitted int64, expectedSuppressed int) {
	perSec := float64(summary.Processed) / summary.Duration.Seconds()

	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("                          LOAD TEST RESULTS")
	fmt.Println("================================================================================")
	fmt.Println()

	fmt.Println("SUMMARY")
	fmt.Println("-" + strings.Repeat("-", 78))
	fmt.Printf("  Status:           %s\n", summary.Status)
	fmt.Printf("  Total Records:    %d\n", summary.Total)
	fmt.Printf("  Processed:        %d\n", summary.Processed)
	fmt.Printf("  Succeeded:        %d\n", summary.Succeeded)
	fmt.Printf("  Failed:           %d\n", summary.Failed)
	fmt.Printf("  Duplicates:       %d\n", summary.Duplicates)
	fmt.Printf("  Invalid:          %d\n", summary.Invalid)
	if cfg.SuppressionSize > 0 {
		fmt.Printf("  Suppressed:       %d (expected %d)\n", summary.Suppressed, expectedSuppressed)
	}
	fmt.Printf("  Batches:          %d\n", summary.Batches)
	fmt.Printf("  Submitter Calls:  %d\n", submitted)
	fmt.Println()

	fmt.Println("PERFORMANCE")
	fmt.Println("-" + strings.Repeat("-", 78))
	fmt.Printf("  Duration:         %v\n", summary.Duration)
	fmt.Printf("  Records/Second:   %.0f\n", perSec)
	fmt.Printf("  Time Per Record:  %.2f µs\n", summary.Duration.Seconds()*1e6/float64(summary.Processed))
	fmt.Println()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Println("MEMORY USAGE")
	fmt.Println("-" + strings.Repeat("-", 78))
	fmt.Printf("  Heap In Use:      %.2f MB\n", float64(mem.HeapInuse)/(1024*1024))
	fmt.Printf("  Total Allocated:  %.2f MB\n", float64(mem.TotalAlloc)/(1024*1024))
	fmt.Println()

	fmt.Println("THROUGHPUT PROJECTIONS")
	fmt.Println("-" + strings.Repeat("-", 78))
	listSizes := []struct {
		name string
		size int64
	}{
		{"1 Million", 1_000_000},
		{"10 Million", 10_000_000},
		{"50 Million", 50_000_000},
		{"100 Million", 100_000_000},
	}
	fmt.Printf("  At %.0f records/sec:\n\n", perSec)
	for _, l := range listSizes {
		seconds := float64(l.size) / perSec
		var timeStr string
		if seconds < 60 {
			timeStr = fmt.Sprintf("%.1f seconds", seconds)
		} else if seconds < 3600 {
			timeStr = fmt.Sprintf("%.1f minutes", seconds/60)
		} else {
			timeStr = fmt.Sprintf("%.1f hours", seconds/3600)
		}
		fmt.Printf("    %15s list: %s\n", l.name, timeStr)
	}
	fmt.Println()

	fmt.Println("================================================================================")
	switch {
	case perSec >= 100_000:
		fmt.Println("  RESULT: EXCELLENT - Pipeline sustains 100K+ records per second")
	case perSec >= 25_000:
		fmt.Println("  RESULT: GOOD - Pipeline sustains 25K+ records per second")
	case perSec >= 5_000:
		fmt.Println("  RESULT: ACCEPTABLE - Pipeline sustains 5K+ records per second")
	default:
		fmt.Println("  RESULT: NEEDS OPTIMIZATION - Below 5K records per second")
	}
	fmt.Println("================================================================================")
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	cfg := DefaultLoadTestConfig()

	flag.IntVar(&cfg.Records, "records", cfg.Records, "Number of synthetic records")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Batch size")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Parallel batch submitters")
	flag.Float64Var(&cfg.Rate, "rate", 0, "Submission rate limit per second (0 = unlimited)")
	flag.StringVar(&cfg.SourceFile, "source-file", "", "CSV file to import instead of synthetic records")
	flag.IntVar(&cfg.SuppressionSize, "suppression-size", 0, "Suppression set size (0 = no suppression)")
	flag.Float64Var(&cfg.Overlap, "overlap", 0.05, "Fraction of the suppression set matching the audience (0.0-1.0)")

	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("Load test failed: %v", err)
	}
}
