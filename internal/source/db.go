package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/lib/pq"

	"github.com/ignite/list-loader/internal/domain"
)

// QuerySource streams records out of a database result set. Column
// names from the result set drive the same alias mapping as CSV
// headers, so a staging table with a "fname" column behaves exactly
// like a CSV with that header.
type QuerySource struct {
	identity string
	rows     *sql.Rows
	mapping  *ColumnMapping

	norm      rowNormalizer
	total     int
	hasTotal  bool
	line      int
	malformed int
}

// NewPostgresSource reads an entire staging table. The row count is
// taken up front so the tracker can report percentages immediately.
func NewPostgresSource(ctx context.Context, db *sql.DB, table string) (*QuerySource, error) {
	quoted := pq.QuoteIdentifier(table)

	var total int
	hasTotal := false
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoted).Scan(&total); err == nil {
		hasTotal = true
	}

	rows, err := db.QueryContext(ctx, `SELECT * FROM `+quoted)
	if err != nil {
		return nil, fmt.Errorf("source: query %s: %w", table, err)
	}
	return newQuerySource(rows, "postgres://"+table, total, hasTotal)
}

// NewSnowflakeSource runs an arbitrary warehouse query. label names
// the input in checkpoints; pass something stable like the saved
// query's name, not the SQL text.
func NewSnowflakeSource(ctx context.Context, db *sql.DB, query, label string) (*QuerySource, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("source: snowflake query %s: %w", label, err)
	}
	return newQuerySource(rows, "snowflake://"+label, 0, false)
}

func newQuerySource(rows *sql.Rows, identity string, total int, hasTotal bool) (*QuerySource, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("source %s: columns: %w", identity, err)
	}
	mapping := MapColumns(cols)
	if mapping == nil {
		rows.Close()
		return nil, fmt.Errorf("source %s: no email column in result set: %v", identity, cols)
	}
	return &QuerySource{
		identity: identity,
		rows:     rows,
		mapping:  mapping,
		norm:     newRowNormalizer(),
		total:    total,
		hasTotal: hasTotal,
	}, nil
}

func (s *QuerySource) Identity() string   { return s.identity }
func (s *QuerySource) Total() (int, bool) { return s.total, s.hasTotal }
func (s *QuerySource) Malformed() int     { return s.malformed }

func (s *QuerySource) Next() (*domain.ImportRecord, error) {
	for {
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return nil, fmt.Errorf("source %s: %w", s.identity, err)
			}
			return nil, io.EOF
		}

		vals := make([]sql.NullString, len(s.mapping.RawNames))
		ptrs := make([]interface{}, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			s.malformed++
			continue
		}

		row := make([]string, len(vals))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		s.line++
		return s.norm.record(row, s.mapping, s.line), nil
	}
}

func (s *QuerySource) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.Next(); err != nil {
			if err == io.EOF {
				return fmt.Errorf("source %s: exhausted after skipping %d of %d records", s.identity, i, n)
			}
			return err
		}
	}
	return nil
}

func (s *QuerySource) Close() error { return s.rows.Close() }
