package types

import (
	"fmt"
	"sort"
	"time"
)

// Column describes one sheet column. ID is a stable letter identifier; Order
// is the display position and may change without renaming the column.
type Column struct {
	ID    string `json:"id" cbor:"id" validate:"required,colid"`
	Width int    `json:"width" cbor:"width" validate:"gt=0"`
	Order int    `json:"order" cbor:"order" validate:"gte=0"`
}

// Sheet is the metadata record of one spreadsheet. Its rows live in chunks
// and its history in patches, both keyed by ID.
type Sheet struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
	Columns     []Column `json:"columns"`

	// NextColumnIndex is the index used for the next new column ID. It
	// only grows, so IDs of deleted columns are never reused.
	NextColumnIndex int `json:"next_column_index"`

	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the sheet.
func (s *Sheet) Clone() *Sheet {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Columns = append([]Column(nil), s.Columns...)
	return &cp
}

// OrderedColumns returns the columns sorted by display order.
func (s *Sheet) OrderedColumns() []Column {
	cols := append([]Column(nil), s.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	return cols
}

// OrderedColumnIDs returns column IDs in display order.
func (s *Sheet) OrderedColumnIDs() []string {
	cols := s.OrderedColumns()
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

// Column returns the column with the given ID.
func (s *Sheet) Column(id string) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnAt returns the column displayed at position order.
func (s *Sheet) ColumnAt(order int) (Column, bool) {
	for _, c := range s.Columns {
		if c.Order == order {
			return c, true
		}
	}
	return Column{}, false
}

// ValidateColumns checks that column IDs are unique and well formed, that
// ColumnCount matches, and that the orders form a permutation of
// 0..ColumnCount-1.
func (s *Sheet) ValidateColumns() error {
	if len(s.Columns) != s.ColumnCount {
		return fmt.Errorf("column count %d with %d columns: %w", s.ColumnCount, len(s.Columns), ErrInvalidColumn)
	}
	ids := make(map[string]bool, len(s.Columns))
	orders := make([]bool, len(s.Columns))
	for _, c := range s.Columns {
		if !IsColumnID(c.ID) || ids[c.ID] {
			return fmt.Errorf("column %q: %w", c.ID, ErrInvalidColumn)
		}
		ids[c.ID] = true
		if c.Order < 0 || c.Order >= len(orders) || orders[c.Order] {
			return fmt.Errorf("column %s order %d: %w", c.ID, c.Order, ErrInvalidPermutation)
		}
		orders[c.Order] = true
	}
	return nil
}

// NextColumnID returns the ID the next inserted column will get.
func (s *Sheet) NextColumnID() string {
	return ColumnIndexToID(s.NextColumnIndex)
}
