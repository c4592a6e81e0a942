package importer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXSource streams the first worksheet of a workbook. Every row from the
// first one is imported; formula cells keep their source.
type XLSXSource struct {
	file  *excelize.File
	sheet string
	rows  *excelize.Rows
	row   int
	total int
	width int
	size  int64
}

// OpenXLSX opens a workbook file.
func OpenXLSX(path string) (*XLSXSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	src, err := newXLSXSource(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewXLSXSource reads a workbook from r.
func NewXLSXSource(r io.Reader, size int64) (*XLSXSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	src, err := newXLSXSource(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func newXLSXSource(f *excelize.File, size int64) (*XLSXSource, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	s := &XLSXSource{file: f, sheet: sheets[0], size: size}
	if dim, err := f.GetSheetDimension(s.sheet); err == nil && dim != "" {
		corner := dim[strings.LastIndex(dim, ":")+1:]
		if col, row, err := excelize.CellNameToCoordinates(corner); err == nil {
			s.width, s.total = col, row
		}
	}
	rows, err := f.Rows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", s.sheet, err)
	}
	s.rows = rows
	return s, nil
}

func (s *XLSXSource) Next() ([]any, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.sheet, err)
		}
		return nil, io.EOF
	}
	s.row++
	cols, err := s.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading %s row %d: %w", s.sheet, s.row, err)
	}
	out := make([]any, len(cols))
	for i, v := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, s.row)
		if err != nil {
			return nil, err
		}
		formula, err := s.file.GetCellFormula(s.sheet, cell)
		if err == nil && formula != "" {
			out[i] = Formula{Source: "=" + formula, Cached: v}
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (s *XLSXSource) Progress() float64 { return fraction(int64(s.row), int64(s.total)) }
func (s *XLSXSource) Width() int        { return s.width }
func (s *XLSXSource) Size() int64       { return s.size }

// Sheet returns the name of the worksheet being read.
func (s *XLSXSource) Sheet() string {
	return s.sheet
}

func (s *XLSXSource) Close() error {
	if err := s.rows.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
