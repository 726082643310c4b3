package suppression

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// MemoryChecker holds a suppression set in RAM with a two-layer
// lookup: a bloom filter resolves almost every negative in O(1), and
// a sorted binary MD5 array verifies the positives. Binary digests
// instead of hex strings keep 10M entries near 160MB.
type MemoryChecker struct {
	filter *bloom
	hashes []digest
}

// NewMemoryChecker builds a checker from entries that are either
// plain addresses or 32-character MD5 hex strings. The set is
// immutable once built; rebuild to refresh.
func NewMemoryChecker(entries []string) *MemoryChecker {
	hashes := make([]digest, 0, len(entries))
	for _, e := range entries {
		if d, ok := digestFromHex(e); ok {
			hashes = append(hashes, d)
			continue
		}
		hashes = append(hashes, digestOf(e))
	}
	hashes = dedupeAndSort(hashes)

	filter := newBloom(uint64(len(hashes)))
	for _, d := range hashes {
		filter.add(d)
	}

	return &MemoryChecker{filter: filter, hashes: hashes}
}

// NewMemoryCheckerFromFile loads a suppression export from disk. These
// files are distributed as one address or MD5 hex per line; blank lines
// and # comments are skipped.
func NewMemoryCheckerFromFile(path string) (*MemoryChecker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open suppression file: %w", err)
	}
	defer f.Close()
	return NewMemoryCheckerFromReader(f)
}

// NewMemoryCheckerFromReader reads one entry per line from r.
func NewMemoryCheckerFromReader(r io.Reader) (*MemoryChecker, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read suppression file: %w", err)
	}
	return NewMemoryChecker(entries), nil
}

func (c *MemoryChecker) IsSuppressed(_ context.Context, email string) (bool, error) {
	return c.contains(digestOf(email)), nil
}

func (c *MemoryChecker) CheckBatch(_ context.Context, emails []string) (map[string]bool, error) {
	out := make(map[string]bool, len(emails))
	for _, e := range emails {
		out[e] = c.contains(digestOf(e))
	}
	return out, nil
}

// Count returns the number of distinct suppressed addresses.
func (c *MemoryChecker) Count() int { return len(c.hashes) }

func (c *MemoryChecker) contains(d digest) bool {
	// Bloom filter can only produce false positives, so a miss here is
	// a definitive "not suppressed".
	if !c.filter.mayContain(d) {
		return false
	}
	i := sort.Search(len(c.hashes), func(i int) bool {
		return bytes.Compare(c.hashes[i][:], d[:]) >= 0
	})
	return i < len(c.hashes) && c.hashes[i] == d
}

func dedupeAndSort(hashes []digest) []digest {
	if len(hashes) == 0 {
		return hashes
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	out := hashes[:1]
	for _, d := range hashes[1:] {
		if d != out[len(out)-1] {
			out = append(out, d)
		}
	}
	return out
}

// bloom is a fixed-rate (0.1% false positive) bloom filter over MD5
// digests. The digest's own bytes feed the double-hashing scheme, so
// no extra hashing of the key is needed.
type bloom struct {
	bits      []uint64
	size      uint64
	hashCount uint
}

func newBloom(n uint64) *bloom {
	if n == 0 {
		n = 1
	}

	// m = -n * ln(p) / (ln 2)^2, k = (m/n) * ln 2
	m := uint64(-float64(n) * math.Log(0.001) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	m = ((m + 63) / 64) * 64

	k := uint((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}

	return &bloom{
		bits:      make([]uint64, m/64),
		size:      m,
		hashCount: k,
	}
}

func (b *bloom) add(d digest) {
	h1 := binary.LittleEndian.Uint64(d[:8])
	h2 := binary.LittleEndian.Uint64(d[8:])
	for i := uint(0); i < b.hashCount; i++ {
		pos := (h1 + uint64(i)*h2) % b.size
		b.bits[pos/64] |= 1 << (pos % 64)
	}
}

func (b *bloom) mayContain(d digest) bool {
	h1 := binary.LittleEndian.Uint64(d[:8])
	h2 := binary.LittleEndian.Uint64(d[8:])
	for i := uint(0); i < b.hashCount; i++ {
		pos := (h1 + uint64(i)*h2) % b.size
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}
