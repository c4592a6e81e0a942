package types

import "time"

// OpKind names an operation variant. The values are part of the persisted
// patch format.
type OpKind string

// Operation kinds.
const (
	OpSetCell        OpKind = "SET_CELL"
	OpSetCells       OpKind = "SET_CELLS"
	OpInsertRows     OpKind = "INSERT_ROW"
	OpDeleteRows     OpKind = "DELETE_ROW"
	OpInsertColumns  OpKind = "INSERT_COLUMN"
	OpDeleteColumns  OpKind = "DELETE_COLUMN"
	OpResizeColumn   OpKind = "RESIZE_COLUMN"
	OpReorderColumns OpKind = "REORDER_COLUMNS"
)

// Operation is a mutation descriptor. The set of variants is closed; use a
// type switch to dispatch.
type Operation interface {
	Kind() OpKind
	operation()
}

// SetCell writes one cell. An empty Value clears it.
type SetCell struct {
	Row   int       `json:"row" cbor:"row" validate:"gte=0"`
	Col   string    `json:"col" cbor:"col" validate:"required,colid"`
	Value CellValue `json:"value" cbor:"value"`
}

// SetCells writes a batch of cells in order.
type SetCells struct {
	Cells []SetCell `json:"cells" cbor:"cells" validate:"required,min=1,dive"`
}

// InsertRows inserts Count rows before AtIndex, shifting later rows down.
// Rows optionally carries the content of the inserted rows, which is how
// the inverse of a row delete restores deleted data.
type InsertRows struct {
	AtIndex int       `json:"at_index" cbor:"at_index" validate:"gte=0"`
	Count   int       `json:"count" cbor:"count" validate:"gt=0"`
	Rows    []RowData `json:"rows,omitempty" cbor:"rows,omitempty"`
}

// DeleteRows removes Count rows starting at AtIndex, shifting later rows up.
type DeleteRows struct {
	AtIndex int `json:"at_index" cbor:"at_index" validate:"gte=0"`
	Count   int `json:"count" cbor:"count" validate:"gt=0"`
}

// InsertColumns adds columns at their Order positions, inserted in ascending
// order. Data holds cell content for the new columns keyed by row.
type InsertColumns struct {
	Columns []Column        `json:"columns" cbor:"columns" validate:"required,min=1,dive"`
	Data    map[int]RowData `json:"data,omitempty" cbor:"data,omitempty"`
}

// DeleteColumns removes columns and erases their cells. Remaining columns
// keep their relative display order.
type DeleteColumns struct {
	ColumnIDs []string `json:"column_ids" cbor:"column_ids" validate:"required,min=1,dive,colid"`
}

// ResizeColumn sets a column's pixel width.
type ResizeColumn struct {
	ColumnID string `json:"column_id" cbor:"column_id" validate:"required,colid"`
	Width    int    `json:"width" cbor:"width" validate:"gt=0"`
}

// ReorderColumns sets the display order. Order lists every column ID once,
// leftmost first.
type ReorderColumns struct {
	Order []string `json:"order" cbor:"order" validate:"required,min=1,dive,colid"`
}

func (SetCell) Kind() OpKind        { return OpSetCell }
func (SetCells) Kind() OpKind       { return OpSetCells }
func (InsertRows) Kind() OpKind     { return OpInsertRows }
func (DeleteRows) Kind() OpKind     { return OpDeleteRows }
func (InsertColumns) Kind() OpKind  { return OpInsertColumns }
func (DeleteColumns) Kind() OpKind  { return OpDeleteColumns }
func (ResizeColumn) Kind() OpKind   { return OpResizeColumn }
func (ReorderColumns) Kind() OpKind { return OpReorderColumns }

func (SetCell) operation()        {}
func (SetCells) operation()       {}
func (InsertRows) operation()     {}
func (DeleteRows) operation()     {}
func (InsertColumns) operation()  {}
func (DeleteColumns) operation()  {}
func (ResizeColumn) operation()   {}
func (ReorderColumns) operation() {}

// IsCellLevel reports whether op only writes cell content. Cell-level
// patches are the ones compaction folds into chunks.
func IsCellLevel(op Operation) bool {
	switch op.(type) {
	case SetCell, SetCells:
		return true
	}
	return false
}

// CellWrites flattens a cell-level operation into its individual writes.
// It returns nil for structural operations.
func CellWrites(op Operation) []SetCell {
	switch o := op.(type) {
	case SetCell:
		return []SetCell{o}
	case SetCells:
		return o.Cells
	}
	return nil
}

// PatchRecord is one entry of a sheet's patch log. Applying Operation then
// Inverse to the same base state leaves the state unchanged.
type PatchRecord struct {
	ID        int64     `json:"id"`
	SheetID   string    `json:"sheet_id"`
	Operation Operation `json:"-"`
	Inverse   Operation `json:"-"`

	// Undone is set while the inverse is the applied state, which is when
	// the patch ID sits on the redo stack.
	Undone bool `json:"undone"`

	Timestamp time.Time `json:"timestamp"`
}
