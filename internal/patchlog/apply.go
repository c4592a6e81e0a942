package patchlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Apply performs op against the durable state of a sheet and returns the
// updated sheet record. Cell writes go through the row store; structural
// operations move chunk data first and then rewrite the sheet record.
//
// If the sheet record cannot be saved after chunk data changed, the change
// is reverted with the inverse of op before the error is returned.
func (l *Log) Apply(ctx context.Context, sheetID string, op types.Operation) (*types.Sheet, error) {
	return l.ApplyReversible(ctx, sheetID, op, nil)
}

// ApplyReversible is Apply with the inverse of op already known, as it is
// for a recorded patch. A nil inverse is computed from the stored state
// when op touches chunk data.
func (l *Log) ApplyReversible(ctx context.Context, sheetID string, op, inverse types.Operation) (*types.Sheet, error) {
	if err := types.ValidateOperation(op); err != nil {
		return nil, err
	}
	sheet, err := l.store.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if inverse == nil && touchesChunks(op) {
		if inverse, err = l.Invert(ctx, sheet, op); err != nil {
			return nil, fmt.Errorf("applying %s to sheet %s: %w", op.Kind(), sheetID, err)
		}
	}

	next := sheet.Clone()
	if err := l.mutate(ctx, next, op); err != nil {
		return nil, fmt.Errorf("applying %s to sheet %s: %w", op.Kind(), sheetID, err)
	}

	next.UpdatedAt = l.now().UTC()
	if err := l.store.PutSheet(ctx, next); err != nil {
		if touchesChunks(op) {
			l.revert(ctx, next, inverse)
		}
		return nil, fmt.Errorf("saving sheet %s: %w", sheetID, err)
	}
	return next, nil
}

// revert undoes the chunk changes of an operation whose sheet record was
// never saved. next is the unsaved record the operation produced.
func (l *Log) revert(ctx context.Context, next *types.Sheet, inverse types.Operation) {
	if err := l.mutate(ctx, next.Clone(), inverse); err != nil {
		l.logger.Error("reverting chunk changes of an unsaved operation",
			slog.String("sheet_id", next.ID),
			slog.String("kind", string(inverse.Kind())),
			slog.Any("error", err))
	}
}

// mutate applies op to the chunks of sheet and to sheet itself, which is
// not saved.
func (l *Log) mutate(ctx context.Context, sheet *types.Sheet, op types.Operation) error {
	switch o := op.(type) {
	case types.SetCell:
		return l.setCells(ctx, sheet, []types.SetCell{o})
	case types.SetCells:
		return l.setCells(ctx, sheet, o.Cells)
	case types.InsertRows:
		if err := l.rows.InsertRows(ctx, sheet.ID, o.AtIndex, o.Count, sheet.RowCount, o.Rows); err != nil {
			return err
		}
		sheet.RowCount += o.Count
		return nil
	case types.DeleteRows:
		if _, err := l.rows.DeleteRows(ctx, sheet.ID, o.AtIndex, o.Count, sheet.RowCount); err != nil {
			return err
		}
		sheet.RowCount -= o.Count
		return nil
	case types.InsertColumns:
		return l.insertColumns(ctx, sheet, o)
	case types.DeleteColumns:
		return l.deleteColumns(ctx, sheet, o)
	case types.ResizeColumn:
		return resizeColumn(sheet, o)
	case types.ReorderColumns:
		return reorderColumns(sheet, o)
	}
	return fmt.Errorf("%T: %w", op, types.ErrUnknownOperation)
}

// touchesChunks reports whether op writes chunk data as well as the sheet
// record.
func touchesChunks(op types.Operation) bool {
	switch op.(type) {
	case types.ResizeColumn, types.ReorderColumns:
		return false
	}
	return true
}

func (l *Log) setCells(ctx context.Context, sheet *types.Sheet, writes []types.SetCell) error {
	for _, w := range writes {
		if err := checkCellTarget(sheet, w); err != nil {
			return err
		}
	}
	return l.rows.SetCells(ctx, sheet.ID, writes)
}

func checkCellTarget(sheet *types.Sheet, w types.SetCell) error {
	if w.Row >= sheet.RowCount {
		return fmt.Errorf("row %d of %d: %w", w.Row, sheet.RowCount, types.ErrRowOutOfRange)
	}
	if _, ok := sheet.Column(w.Col); !ok {
		return fmt.Errorf("column %s: %w", w.Col, types.ErrInvalidColumn)
	}
	return nil
}

// insertColumns places the new columns in ascending Order. Each one takes
// its position and pushes the columns at or after it one to the right.
func (l *Log) insertColumns(ctx context.Context, sheet *types.Sheet, op types.InsertColumns) error {
	cols := append([]types.Column(nil), op.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	for _, c := range cols {
		if _, ok := sheet.Column(c.ID); ok {
			return fmt.Errorf("column %s exists: %w", c.ID, types.ErrInvalidColumn)
		}
		c.Order = min(c.Order, len(sheet.Columns))
		for i := range sheet.Columns {
			if sheet.Columns[i].Order >= c.Order {
				sheet.Columns[i].Order++
			}
		}
		sheet.Columns = append(sheet.Columns, c)
		if idx := types.ColumnIDToIndex(c.ID); idx >= sheet.NextColumnIndex {
			sheet.NextColumnIndex = idx + 1
		}
	}
	sheet.ColumnCount = len(sheet.Columns)

	for r := range op.Data {
		if r >= sheet.RowCount {
			return fmt.Errorf("row %d of %d: %w", r, sheet.RowCount, types.ErrRowOutOfRange)
		}
	}
	return l.rows.RestoreCells(ctx, sheet.ID, op.Data)
}

func (l *Log) deleteColumns(ctx context.Context, sheet *types.Sheet, op types.DeleteColumns) error {
	drop := make(map[string]bool, len(op.ColumnIDs))
	for _, id := range op.ColumnIDs {
		if _, ok := sheet.Column(id); !ok {
			return fmt.Errorf("column %s: %w", id, types.ErrInvalidColumn)
		}
		drop[id] = true
	}
	if err := l.rows.EraseColumns(ctx, sheet.ID, sheet.RowCount, op.ColumnIDs); err != nil {
		return err
	}
	kept := make([]types.Column, 0, len(sheet.Columns)-len(drop))
	for _, c := range sheet.OrderedColumns() {
		if drop[c.ID] {
			continue
		}
		c.Order = len(kept)
		kept = append(kept, c)
	}
	sheet.Columns = kept
	sheet.ColumnCount = len(kept)
	return nil
}

func resizeColumn(sheet *types.Sheet, op types.ResizeColumn) error {
	for i := range sheet.Columns {
		if sheet.Columns[i].ID == op.ColumnID {
			sheet.Columns[i].Width = op.Width
			return nil
		}
	}
	return fmt.Errorf("column %s: %w", op.ColumnID, types.ErrInvalidColumn)
}

func reorderColumns(sheet *types.Sheet, op types.ReorderColumns) error {
	if len(op.Order) != len(sheet.Columns) {
		return fmt.Errorf("%d ids for %d columns: %w", len(op.Order), len(sheet.Columns), types.ErrInvalidPermutation)
	}
	pos := make(map[string]int, len(op.Order))
	for i, id := range op.Order {
		pos[id] = i
	}
	for i := range sheet.Columns {
		p, ok := pos[sheet.Columns[i].ID]
		if !ok {
			return fmt.Errorf("column %s missing: %w", sheet.Columns[i].ID, types.ErrInvalidPermutation)
		}
		sheet.Columns[i].Order = p
	}
	return nil
}
