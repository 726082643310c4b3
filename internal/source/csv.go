package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
)

// CSVSource streams records out of a CSV document. Header aliases are
// resolved once up front; a file whose first row holds an email-shaped
// value is treated as headerless and that row becomes the first record.
type CSVSource struct {
	identity string
	closer   io.Closer
	reader   *csv.Reader
	mapping  *ColumnMapping

	// pending holds the first data row of a headerless file until the
	// first Next call claims it.
	pending []string

	norm      rowNormalizer
	line      int
	malformed int
}

// NewCSVSource wraps an already-open stream. identity names the input
// in checkpoints and logs.
func NewCSVSource(r io.Reader, identity string) (*CSVSource, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	firstRow, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("source %s: empty input", identity)
		}
		return nil, fmt.Errorf("source %s: read header: %w", identity, err)
	}

	s := &CSVSource{
		identity: identity,
		reader:   reader,
		norm:     newRowNormalizer(),
	}

	s.mapping = MapColumns(firstRow)
	if s.mapping == nil {
		s.mapping = MapColumnsHeaderless(firstRow)
		if s.mapping == nil {
			return nil, fmt.Errorf("source %s: no email column detected in header or first row", identity)
		}
		s.pending = firstRow
		logger.With("source").Debug("headerless csv detected",
			"identity", identity, "email_column", s.mapping.EmailIdx)
	}

	return s, nil
}

// OpenCSVFile opens a CSV file on disk; the path doubles as identity.
func OpenCSVFile(path string) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	s, err := NewCSVSource(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.closer = file
	return s, nil
}

func (s *CSVSource) Identity() string { return s.identity }

// Total is unknown for a stream; the importer counts while loading.
func (s *CSVSource) Total() (int, bool) { return 0, false }

func (s *CSVSource) Malformed() int { return s.malformed }

func (s *CSVSource) Next() (*domain.ImportRecord, error) {
	for {
		var row []string
		if s.pending != nil {
			row, s.pending = s.pending, nil
		} else {
			var err error
			row, err = s.reader.Read()
			if err == io.EOF {
				return nil, io.EOF
			}
			if err != nil {
				s.malformed++
				continue
			}
		}
		s.line++
		return s.norm.record(row, s.mapping, s.line), nil
	}
}

func (s *CSVSource) Skip(n int) error {
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

func (s *CSVSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
