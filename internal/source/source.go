// Package source turns raw tabular inputs (CSV files, S3 objects,
// Postgres staging tables, Snowflake queries) into a stream of
// normalized import records. All sources map vendor headers onto the
// same canonical fields so the rest of the pipeline never sees a raw
// column name.
package source

import (
	"io"
	"strings"

	"github.com/ignite/list-loader/internal/domain"
)

// Source is a forward-only stream of records. Implementations are not
// safe for concurrent use; the importer drains a source from a single
// goroutine.
type Source interface {
	// Identity names the input (path, object URL, or query tag). It is
	// persisted with checkpoints so a resume can refuse a different input.
	Identity() string

	// Total returns the record count when the source knows it up front
	// (counted tables); streaming sources return (0, false).
	Total() (int, bool)

	// Next returns the next record, or io.EOF when the source is
	// exhausted. Rows that cannot be parsed at all are skipped and
	// counted, not returned as errors.
	Next() (*domain.ImportRecord, error)

	// Skip discards the first n records so a resumed session continues
	// where the last checkpoint left off.
	Skip(n int) error

	// Malformed reports how many rows were dropped as unparseable so far.
	Malformed() int

	Close() error
}

// stripBOM wraps a reader to strip a UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	if err != nil || n < 3 {
		return io.MultiReader(strings.NewReader(string(buf[:n])), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
