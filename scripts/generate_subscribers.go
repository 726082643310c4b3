//go:build ignore
// +build ignore

// Subscriber Fixture Generator
// Produces synthetic subscriber CSVs for exercising the import pipeline,
// with tunable rates of invalid addresses and duplicate rows.
//
// Usage:
//   go run scripts/generate_subscribers.go \
//     --count=1000000 \
//     --out=subscribers.csv \
//     --invalid=0.01 \
//     --duplicates=0.02

package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type GeneratorConfig struct {
	Count int64
	Out   string
	Seed  int64

	// Dirty-data rates (0.0-1.0)
	InvalidRate   float64
	DuplicateRate float64
}

func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Count:         100_000,
		Out:           "subscribers.csv",
		InvalidRate:   0.01,
		DuplicateRate: 0.02,
	}
}

// =============================================================================
// SYNTHETIC DATA
// =============================================================================

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
	"Linda", "David", "Elizabeth", "William", "Barbara", "Richard", "Susan",
	"Joseph", "Jessica", "Thomas", "Sarah", "Chris", "Karen",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
	"Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
}

var domains = []string{
	"gmail.com", "yahoo.com", "outlook.com", "hotmail.com", "aol.com",
	"icloud.com", "comcast.net", "verizon.net",
}

var cities = []string{
	"New York", "Los Angeles", "Chicago", "Houston", "Phoenix",
	"Philadelphia", "San Antonio", "San Diego", "Dallas", "Austin",
}

var states = []string{"NY", "CA", "IL", "TX", "AZ", "PA", "FL", "OH", "GA", "NC"}

func emailFor(i int64, rng *rand.Rand) string {
	return fmt.Sprintf("user%07d@%s", i, domains[rng.Intn(len(domains))])
}

// mangle breaks an address the way real exports break them: a dropped
// @, an empty cell, or stray whitespace garbage.
func mangle(email string, rng *rand.Rand) string {
	switch rng.Intn(3) {
	case 0:
		out := make([]byte, 0, len(email))
		for j := 0; j < len(email); j++ {
			if email[j] != '@' {
				out = append(out, email[j])
			}
		}
		return string(out)
	case 1:
		return ""
	default:
		return "n/a"
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

func run(cfg *GeneratorConfig) error {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	file, err := os.Create(cfg.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriterSize(file, 1<<20)
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"email", "first_name", "last_name", "city", "state", "zip"}); err != nil {
		return err
	}

	fmt.Println("================================================================================")
	fmt.Println("                     SUBSCRIBER FIXTURE GENERATOR")
	fmt.Println("================================================================================")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Rows:            %d\n", cfg.Count)
	fmt.Printf("  Output:          %s\n", cfg.Out)
	fmt.Printf("  Invalid Rate:    %.2f%%\n", cfg.InvalidRate*100)
	fmt.Printf("  Duplicate Rate:  %.2f%%\n", cfg.DuplicateRate*100)
	fmt.Printf("  Seed:            %d\n", seed)
	fmt.Println()

	start := time.Now()
	var invalid, duplicates int64
	var nextID int64 = 1

	for i := int64(0); i < cfg.Count; i++ {
		var email string
		roll := rng.Float64()

		switch {
		case roll < cfg.DuplicateRate && nextID > 1:
			// Re-emit an address already in the file.
			email = emailFor(rng.Int63n(nextID-1)+1, rng)
			duplicates++
		case roll < cfg.DuplicateRate+cfg.InvalidRate:
			email = mangle(emailFor(nextID, rng), rng)
			nextID++
			invalid++
		default:
			email = emailFor(nextID, rng)
			nextID++
		}

		row := []string{
			email,
			firstNames[rng.Intn(len(firstNames))],
			lastNames[rng.Intn(len(lastNames))],
			cities[rng.Intn(len(cities))],
			states[rng.Intn(len(states))],
			strconv.Itoa(10000 + rng.Intn(89999)),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}

		if (i+1)%1_000_000 == 0 {
			fmt.Printf("  ... %d rows written (%.0f rows/sec)\n",
				i+1, float64(i+1)/time.Since(start).Seconds())
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Println("\nRESULTS")
	fmt.Println("--------------------------------------------------------------------------------")
	fmt.Printf("  Rows Written:    %d\n", cfg.Count)
	fmt.Printf("  Invalid Rows:    %d\n", invalid)
	fmt.Printf("  Duplicate Rows:  %d\n", duplicates)
	fmt.Printf("  File Size:       %.2f MB\n", float64(info.Size())/(1024*1024))
	fmt.Printf("  Elapsed:         %v\n", elapsed)
	fmt.Printf("  Rate:            %.0f rows/second\n", float64(cfg.Count)/elapsed.Seconds())
	fmt.Println("================================================================================")

	return nil
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	cfg := DefaultGeneratorConfig()

	flag.Int64Var(&cfg.Count, "count", cfg.Count, "Number of rows to generate")
	flag.StringVar(&cfg.Out, "out", cfg.Out, "Output CSV path")
	flag.Float64Var(&cfg.InvalidRate, "invalid", cfg.InvalidRate, "Fraction of rows with broken addresses (0.0-1.0)")
	flag.Float64Var(&cfg.DuplicateRate, "duplicates", cfg.DuplicateRate, "Fraction of rows repeating an earlier address (0.0-1.0)")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time-based)")

	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("Generation failed: %v", err)
	}
}
