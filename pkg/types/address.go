package types

import (
	"strconv"
	"strings"
)

// ChunkSize is the number of row slots in every chunk. It is part of the
// persisted format and must not change for existing data.
const ChunkSize = 1000

// DefaultColumnWidth is the pixel width given to new columns.
const DefaultColumnWidth = 100

// ChunkIndex returns the index of the chunk that owns row.
func ChunkIndex(row int) int {
	return row / ChunkSize
}

// RowOffset returns the slot of row inside its chunk.
func RowOffset(row int) int {
	return row % ChunkSize
}

// ChunkRange returns the first and last chunk indices covering the
// inclusive row range [start, end].
func ChunkRange(start, end int) (first, last int) {
	return ChunkIndex(start), ChunkIndex(end)
}

// ChunkID returns the storage identity of a chunk.
func ChunkID(sheetID string, index int) string {
	return sheetID + ":" + strconv.Itoa(index)
}

// ColumnIndexToID converts a zero-based column index to its letter
// identifier: 0 is "A", 25 is "Z", 26 is "AA".
func ColumnIndexToID(index int) string {
	if index < 0 {
		return ""
	}
	var buf []byte
	for n := index; n >= 0; n = n/26 - 1 {
		buf = append(buf, byte('A'+n%26))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnIDToIndex is the inverse of ColumnIndexToID. It returns -1 when id
// is not a non-empty run of upper-case letters.
func ColumnIDToIndex(id string) int {
	if !IsColumnID(id) {
		return -1
	}
	index := 0
	for i := 0; i < len(id); i++ {
		index = index*26 + int(id[i]-'A'+1)
	}
	return index - 1
}

// IsColumnID reports whether id is a well-formed column identifier.
func IsColumnID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return false
		}
	}
	return true
}

// CellRef names a single cell. Row is zero-based.
type CellRef struct {
	Col string
	Row int
}

// String renders the reference in A1 notation with a one-based row.
func (r CellRef) String() string {
	return r.Col + strconv.Itoa(r.Row+1)
}

// ParseCellRef parses an A1-style reference such as "B12". The row in A1
// notation is one-based; the returned CellRef is zero-based. Lower-case
// letters are accepted.
func ParseCellRef(s string) (CellRef, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(s) {
		return CellRef{}, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil || n < 1 || s[i] == '+' || s[i] == '-' {
		return CellRef{}, false
	}
	return CellRef{Col: s[:i], Row: n - 1}, true
}

// DefaultColumns returns n columns A, B, ... with default widths and
// display order matching their position.
func DefaultColumns(n int) []Column {
	cols := make([]Column, n)
	for i := range cols {
		cols[i] = Column{ID: ColumnIndexToID(i), Width: DefaultColumnWidth, Order: i}
	}
	return cols
}
