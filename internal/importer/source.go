package importer

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Source yields the rows of a decoded file. Each row is a slice of raw
// scalars by column position: nil, string, float64, bool, or Formula.
type Source interface {
	// Next returns the next row, or io.EOF after the last one.
	Next() ([]any, error)

	// Progress returns the fraction of the input consumed so far.
	Progress() float64

	// Width returns the column count the source declares, or 0.
	Width() int

	// Size returns the input size in bytes, or 0 when unknown.
	Size() int64

	Close() error
}

// Formula is a cell that carries formula source and its cached result.
type Formula struct {
	Source string
	Cached any
}

// OpenFile opens a source chosen by file extension.
func OpenFile(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		return NewCSVSource(f, info.Size(), true), nil
	case ".xlsx":
		return OpenXLSX(path)
	case ".jsonl":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		return NewJSONLSource(f, info.Size()), nil
	}
	return nil, fmt.Errorf("%s: %w", filepath.Ext(path), types.ErrUnsupportedFile)
}

// countingReader tracks how many bytes have been read.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return min(1, float64(done)/float64(total))
}

// CSVSource reads comma-separated rows. Blank lines are skipped and rows
// may have differing field counts.
type CSVSource struct {
	in     *countingReader
	closer io.Closer
	r      *csv.Reader
	size   int64
	width  int
	header bool
}

// NewCSVSource reads CSV from r. When header is true the first record
// names the columns and is not imported. r is closed by Close if it is an
// io.Closer.
func NewCSVSource(r io.Reader, size int64, header bool) *CSVSource {
	in := &countingReader{r: r}
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	s := &CSVSource{in: in, r: cr, size: size, header: header}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *CSVSource) Next() ([]any, error) {
	if s.header {
		s.header = false
		rec, err := s.r.Read()
		if err != nil {
			return nil, err
		}
		s.width = len(rec)
	}
	rec, err := s.r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rec))
	for i, f := range rec {
		out[i] = f
	}
	return out, nil
}

func (s *CSVSource) Progress() float64 { return fraction(s.in.n, s.size) }
func (s *CSVSource) Width() int        { return s.width }
func (s *CSVSource) Size() int64       { return s.size }

func (s *CSVSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// JSONLSource reads one JSON array of scalars per line, the format written
// by the JSONL exporter. Blank and malformed lines are skipped.
type JSONLSource struct {
	in      *countingReader
	closer  io.Closer
	scanner *bufio.Scanner
	size    int64
}

// NewJSONLSource reads JSONL from r.
func NewJSONLSource(r io.Reader, size int64) *JSONLSource {
	in := &countingReader{r: r}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	s := &JSONLSource{in: in, scanner: sc, size: size}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *JSONLSource) Next() ([]any, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row []any
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		return row, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning jsonl: %w", err)
	}
	return nil, io.EOF
}

func (s *JSONLSource) Progress() float64 { return fraction(s.in.n, s.size) }
func (s *JSONLSource) Width() int        { return 0 }
func (s *JSONLSource) Size() int64       { return s.size }

func (s *JSONLSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
