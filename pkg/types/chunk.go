package types

// Chunk is a fixed-capacity partition of a sheet's rows. Rows always has
// ChunkSize slots; a nil slot is an empty row.
type Chunk struct {
	SheetID string
	Index   int
	Rows    []RowData

	// Version counts successful writes. PutChunks uses it as an
	// optimistic concurrency token.
	Version int64
}

// NewChunk returns an empty, never-written chunk.
func NewChunk(sheetID string, index int) *Chunk {
	return &Chunk{
		SheetID: sheetID,
		Index:   index,
		Rows:    make([]RowData, ChunkSize),
	}
}

// ID returns the storage identity of the chunk.
func (c *Chunk) ID() string {
	return ChunkID(c.SheetID, c.Index)
}

// FirstRow returns the sheet row stored in slot 0.
func (c *Chunk) FirstRow() int {
	return c.Index * ChunkSize
}

// Row returns the row stored for sheet row r, or nil.
func (c *Chunk) Row(r int) RowData {
	if ChunkIndex(r) != c.Index {
		return nil
	}
	return c.Rows[RowOffset(r)]
}

// SetRow replaces the row for sheet row r. Empty rows are stored as nil.
func (c *Chunk) SetRow(r int, row RowData) {
	if len(row) == 0 {
		row = nil
	}
	c.Rows[RowOffset(r)] = row
}

// SetCell writes one cell into the chunk. An empty value deletes the cell
// and a row left without cells becomes nil.
func (c *Chunk) SetCell(r int, col string, v CellValue) {
	off := RowOffset(r)
	row := c.Rows[off]
	if v.IsEmpty() {
		if row == nil {
			return
		}
		row = row.Clone()
		delete(row, col)
		if len(row) == 0 {
			row = nil
		}
		c.Rows[off] = row
		return
	}
	row = row.Clone()
	if row == nil {
		row = make(RowData, 1)
	}
	row[col] = v
	c.Rows[off] = row
}

// Populated returns the number of non-empty row slots.
func (c *Chunk) Populated() int {
	n := 0
	for _, r := range c.Rows {
		if len(r) > 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	cp := &Chunk{SheetID: c.SheetID, Index: c.Index, Version: c.Version, Rows: make([]RowData, len(c.Rows))}
	for i, r := range c.Rows {
		cp.Rows[i] = r.Clone()
	}
	return cp
}
