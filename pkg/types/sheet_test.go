package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSheet_ValidateColumns(t *testing.T) {
	s := &Sheet{ColumnCount: 3, Columns: DefaultColumns(3)}
	require.NoError(t, s.ValidateColumns())

	s.Columns[1].Order = 0
	assert.ErrorIs(t, s.ValidateColumns(), ErrInvalidPermutation)

	s = &Sheet{ColumnCount: 2, Columns: []Column{{ID: "A", Width: 1}, {ID: "A", Width: 1, Order: 1}}}
	assert.ErrorIs(t, s.ValidateColumns(), ErrInvalidColumn)

	s = &Sheet{ColumnCount: 4, Columns: DefaultColumns(3)}
	assert.ErrorIs(t, s.ValidateColumns(), ErrInvalidColumn)
}

func TestSheet_OrderedColumns(t *testing.T) {
	s := &Sheet{ColumnCount: 3, Columns: []Column{
		{ID: "A", Width: 100, Order: 2},
		{ID: "B", Width: 100, Order: 0},
		{ID: "C", Width: 100, Order: 1},
	}}
	assert.Equal(t, []string{"B", "C", "A"}, s.OrderedColumnIDs())

	c, ok := s.ColumnAt(1)
	require.True(t, ok)
	assert.Equal(t, "C", c.ID)

	_, ok = s.Column("Z")
	assert.False(t, ok)
}

func TestSheet_Clone(t *testing.T) {
	s := &Sheet{ID: "s1", ColumnCount: 2, Columns: DefaultColumns(2), NextColumnIndex: 2}
	cp := s.Clone()
	cp.Columns[0].Width = 5
	assert.Equal(t, DefaultColumnWidth, s.Columns[0].Width)
	assert.Equal(t, "C", s.NextColumnID())
}

func TestChunk_SetCell(t *testing.T) {
	c := NewChunk("s1", 2)
	assert.Len(t, c.Rows, ChunkSize)
	assert.Equal(t, 2000, c.FirstRow())

	c.SetCell(2005, "A", NumberValue(1))
	assert.Equal(t, NumberValue(1), c.Row(2005)["A"])
	assert.Equal(t, 1, c.Populated())
	assert.Nil(t, c.Row(5))

	c.SetCell(2005, "A", CellValue{})
	assert.Nil(t, c.Row(2005))
	assert.Equal(t, 0, c.Populated())
}

func TestChunk_CloneIsDeep(t *testing.T) {
	c := NewChunk("s1", 0)
	c.SetCell(1, "A", StringValue("x"))
	cp := c.Clone()
	cp.SetCell(1, "A", StringValue("y"))
	assert.Equal(t, StringValue("x"), c.Row(1)["A"])
}
