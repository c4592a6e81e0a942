package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnIndexToID(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{-1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ColumnIndexToID(tt.index))
		})
	}
}

func TestColumnIDToIndex_RoundTrip(t *testing.T) {
	for i := 0; i < 2000; i++ {
		id := ColumnIndexToID(i)
		assert.Equal(t, i, ColumnIDToIndex(id), "column %s", id)
	}
}

func TestColumnIDToIndex_Invalid(t *testing.T) {
	for _, id := range []string{"", "a", "A1", "Ä", "-"} {
		assert.Equal(t, -1, ColumnIDToIndex(id), "id %q", id)
	}
}

func TestChunkAddressing(t *testing.T) {
	assert.Equal(t, 0, ChunkIndex(0))
	assert.Equal(t, 0, ChunkIndex(999))
	assert.Equal(t, 1, ChunkIndex(1000))
	assert.Equal(t, 5, ChunkIndex(5050))
	assert.Equal(t, 50, RowOffset(5050))

	first, last := ChunkRange(950, 2100)
	assert.Equal(t, 0, first)
	assert.Equal(t, 2, last)

	assert.Equal(t, "sheet-1:4", ChunkID("sheet-1", 4))
}

func TestParseCellRef(t *testing.T) {
	tests := []struct {
		in     string
		want   CellRef
		wantOK bool
	}{
		{"A1", CellRef{Col: "A", Row: 0}, true},
		{"b12", CellRef{Col: "B", Row: 11}, true},
		{"AA100", CellRef{Col: "AA", Row: 99}, true},
		{"A0", CellRef{}, false},
		{"A", CellRef{}, false},
		{"12", CellRef{}, false},
		{"A-1", CellRef{}, false},
		{"A1B", CellRef{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCellRef(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "C7", CellRef{Col: "C", Row: 6}.String())
}

func TestDefaultColumns(t *testing.T) {
	cols := DefaultColumns(3)
	assert.Equal(t, []Column{
		{ID: "A", Width: DefaultColumnWidth, Order: 0},
		{ID: "B", Width: DefaultColumnWidth, Order: 1},
		{ID: "C", Width: DefaultColumnWidth, Order: 2},
	}, cols)
}
