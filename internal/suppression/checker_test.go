package suppression

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHashEmail(t *testing.T) {
	// Known MD5 of the normalized address.
	if got := HashEmail("test@example.com"); got != "55502f40dc8b7c769880b10874abc9d0" {
		t.Errorf("HashEmail = %s", got)
	}
	// Case and whitespace never change the hash.
	if HashEmail("  Test@Example.COM  ") != HashEmail("test@example.com") {
		t.Error("Expected normalization before hashing")
	}
}

func TestMemoryCheckerSuppression(t *testing.T) {
	c := NewMemoryChecker([]string{
		"blocked@example.com",
		"optout@example.com",
	})
	ctx := context.Background()

	suppressed, err := c.IsSuppressed(ctx, "blocked@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if !suppressed {
		t.Error("Expected blocked@example.com suppressed")
	}

	suppressed, err = c.IsSuppressed(ctx, "fresh@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if suppressed {
		t.Error("Expected fresh@example.com not suppressed")
	}
}

func TestMemoryCheckerHexEntries(t *testing.T) {
	// Suppression exports often carry hashes, not addresses.
	c := NewMemoryChecker([]string{"55502f40dc8b7c769880b10874abc9d0"})

	suppressed, _ := c.IsSuppressed(context.Background(), "test@example.com")
	if !suppressed {
		t.Error("Expected hex entry to suppress the matching address")
	}
}

func TestMemoryCheckerNormalizesCase(t *testing.T) {
	c := NewMemoryChecker([]string{"Blocked@Example.COM"})

	suppressed, _ := c.IsSuppressed(context.Background(), "blocked@example.com")
	if !suppressed {
		t.Error("Expected case-insensitive match")
	}
}

func TestMemoryCheckerDeduplicates(t *testing.T) {
	c := NewMemoryChecker([]string{
		"a@example.com", "a@example.com",
		HashEmail("a@example.com"),
		"b@example.com",
	})
	if c.Count() != 2 {
		t.Errorf("Count = %d, want 2 distinct entries", c.Count())
	}
}

func TestMemoryCheckerEmpty(t *testing.T) {
	c := NewMemoryChecker(nil)
	suppressed, err := c.IsSuppressed(context.Background(), "anyone@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if suppressed {
		t.Error("Empty set should suppress nothing")
	}
}

// A bloom filter may produce false positives but never false
// negatives; every loaded address must be found.
func TestMemoryCheckerNoFalseNegatives(t *testing.T) {
	var entries []string
	for i := 0; i < 5000; i++ {
		entries = append(entries, fmt.Sprintf("user%04d@example.com", i))
	}
	c := NewMemoryChecker(entries)
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		email := fmt.Sprintf("user%04d@example.com", i)
		suppressed, _ := c.IsSuppressed(ctx, email)
		if !suppressed {
			t.Fatalf("False negative for %s", email)
		}
	}
}

func TestMemoryCheckerFromReader(t *testing.T) {
	export := strings.Join([]string{
		"# complaint export 2025-11-03",
		"blocked@example.com",
		"",
		"55502f40dc8b7c769880b10874abc9d0",
		"  spaced@example.com  ",
	}, "\n")

	c, err := NewMemoryCheckerFromReader(strings.NewReader(export))
	if err != nil {
		t.Fatalf("NewMemoryCheckerFromReader failed: %v", err)
	}
	if c.Count() != 3 {
		t.Errorf("Count = %d, want 3 (comment and blank skipped)", c.Count())
	}

	ctx := context.Background()
	for _, email := range []string{"blocked@example.com", "test@example.com", "spaced@example.com"} {
		suppressed, _ := c.IsSuppressed(ctx, email)
		if !suppressed {
			t.Errorf("Expected %s suppressed", email)
		}
	}
}

func TestMemoryCheckerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppression.txt")
	if err := os.WriteFile(path, []byte("blocked@example.com\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := NewMemoryCheckerFromFile(path)
	if err != nil {
		t.Fatalf("NewMemoryCheckerFromFile failed: %v", err)
	}
	suppressed, _ := c.IsSuppressed(context.Background(), "blocked@example.com")
	if !suppressed {
		t.Error("Expected file entry suppressed")
	}

	if _, err := NewMemoryCheckerFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestMemoryCheckerBatch(t *testing.T) {
	c := NewMemoryChecker([]string{"blocked@example.com"})

	verdicts, err := c.CheckBatch(context.Background(), []string{
		"blocked@example.com", "fresh@example.com",
	})
	if err != nil {
		t.Fatalf("CheckBatch failed: %v", err)
	}
	if !verdicts["blocked@example.com"] {
		t.Error("Expected blocked@example.com suppressed in batch")
	}
	if verdicts["fresh@example.com"] {
		t.Error("Expected fresh@example.com clear in batch")
	}
}

func newTestRedisChecker(t *testing.T) *RedisChecker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisChecker(client, "test:suppression")
}

func TestRedisCheckerSuppression(t *testing.T) {
	c := newTestRedisChecker(t)
	ctx := context.Background()

	if err := c.Seed(ctx, "blocked@example.com", "optout@example.com"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	suppressed, err := c.IsSuppressed(ctx, "blocked@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if !suppressed {
		t.Error("Expected blocked@example.com suppressed")
	}

	suppressed, err = c.IsSuppressed(ctx, "BLOCKED@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if !suppressed {
		t.Error("Expected case-normalized match")
	}

	suppressed, err = c.IsSuppressed(ctx, "fresh@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed failed: %v", err)
	}
	if suppressed {
		t.Error("Expected fresh@example.com not suppressed")
	}
}

func TestRedisCheckerBatch(t *testing.T) {
	c := newTestRedisChecker(t)
	ctx := context.Background()

	if err := c.Seed(ctx, "a@example.com", "c@example.com"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	verdicts, err := c.CheckBatch(ctx, []string{"a@example.com", "b@example.com", "c@example.com"})
	if err != nil {
		t.Fatalf("CheckBatch failed: %v", err)
	}
	want := map[string]bool{"a@example.com": true, "b@example.com": false, "c@example.com": true}
	for email, expected := range want {
		if verdicts[email] != expected {
			t.Errorf("CheckBatch[%s] = %v, want %v", email, verdicts[email], expected)
		}
	}
}

func TestRedisCheckerEmptyBatch(t *testing.T) {
	c := newTestRedisChecker(t)
	verdicts, err := c.CheckBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("CheckBatch failed: %v", err)
	}
	if len(verdicts) != 0 {
		t.Errorf("Expected empty verdict map, got %v", verdicts)
	}
}
