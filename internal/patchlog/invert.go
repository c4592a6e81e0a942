package patchlog

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Invert computes the inverse of op from the persisted state of sheet,
// which must be the state op will be applied to.
func (l *Log) Invert(ctx context.Context, sheet *types.Sheet, op types.Operation) (types.Operation, error) {
	switch o := op.(type) {
	case types.SetCell:
		prev, err := l.previousCells(ctx, sheet.ID, []types.SetCell{o})
		if err != nil {
			return nil, err
		}
		return prev[0], nil

	case types.SetCells:
		prev, err := l.previousCells(ctx, sheet.ID, o.Cells)
		if err != nil {
			return nil, err
		}
		return types.SetCells{Cells: prev}, nil

	case types.InsertRows:
		return types.DeleteRows{AtIndex: o.AtIndex, Count: o.Count}, nil

	case types.DeleteRows:
		if o.AtIndex+o.Count > sheet.RowCount {
			return nil, fmt.Errorf("delete %d rows at %d of %d: %w", o.Count, o.AtIndex, sheet.RowCount, types.ErrRowOutOfRange)
		}
		rows, err := l.rows.GetRows(ctx, sheet.ID, o.AtIndex, o.AtIndex+o.Count-1)
		if err != nil {
			return nil, err
		}
		inv := types.InsertRows{AtIndex: o.AtIndex, Count: o.Count}
		if len(rows) > 0 {
			inv.Rows = make([]types.RowData, o.Count)
			for r, row := range rows {
				inv.Rows[r-o.AtIndex] = row
			}
		}
		return inv, nil

	case types.InsertColumns:
		ids := make([]string, len(o.Columns))
		for i, c := range o.Columns {
			ids[i] = c.ID
		}
		return types.DeleteColumns{ColumnIDs: ids}, nil

	case types.DeleteColumns:
		cols := make([]types.Column, 0, len(o.ColumnIDs))
		for _, id := range o.ColumnIDs {
			c, ok := sheet.Column(id)
			if !ok {
				return nil, fmt.Errorf("column %s: %w", id, types.ErrInvalidColumn)
			}
			cols = append(cols, c)
		}
		data, err := l.rows.ColumnCells(ctx, sheet.ID, sheet.RowCount, o.ColumnIDs)
		if err != nil {
			return nil, err
		}
		inv := types.InsertColumns{Columns: cols}
		if len(data) > 0 {
			inv.Data = data
		}
		return inv, nil

	case types.ResizeColumn:
		c, ok := sheet.Column(o.ColumnID)
		if !ok {
			return nil, fmt.Errorf("column %s: %w", o.ColumnID, types.ErrInvalidColumn)
		}
		return types.ResizeColumn{ColumnID: c.ID, Width: c.Width}, nil

	case types.ReorderColumns:
		return types.ReorderColumns{Order: sheet.OrderedColumnIDs()}, nil
	}
	return nil, fmt.Errorf("%T: %w", op, types.ErrUnknownOperation)
}

func (l *Log) previousCells(ctx context.Context, sheetID string, writes []types.SetCell) ([]types.SetCell, error) {
	lo, hi := writes[0].Row, writes[0].Row
	for _, w := range writes[1:] {
		lo, hi = min(lo, w.Row), max(hi, w.Row)
	}
	rows, err := l.rows.GetRows(ctx, sheetID, lo, hi)
	if err != nil {
		return nil, err
	}
	prev := make([]types.SetCell, len(writes))
	for i, w := range writes {
		prev[i] = types.SetCell{Row: w.Row, Col: w.Col, Value: rows[w.Row][w.Col]}
	}
	return prev, nil
}
