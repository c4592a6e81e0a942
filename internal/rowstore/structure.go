package rowstore

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// InsertRows opens count empty rows at index at in a sheet of rowCount
// rows. Rows at or after at move down by count. When fill is non-empty
// its rows populate the opened range.
func (s *Store) InsertRows(ctx context.Context, sheetID string, at, count, rowCount int, fill []types.RowData) error {
	if at < 0 || at > rowCount || count <= 0 {
		return fmt.Errorf("insert %d rows at %d of %d: %w", count, at, rowCount, types.ErrRowOutOfRange)
	}
	return s.mutate(ctx, sheetID, func(w *window) error {
		if err := w.preload(types.ChunkIndex(at), types.ChunkIndex(rowCount+count-1)); err != nil {
			return err
		}
		for r := rowCount - 1; r >= at; r-- {
			w.setRow(r+count, w.row(r))
		}
		for i := 0; i < count; i++ {
			var row types.RowData
			if i < len(fill) {
				row = fill[i].Clone()
			}
			w.setRow(at+i, row)
		}
		return nil
	})
}

// DeleteRows removes count rows starting at index at and moves later rows
// up. It returns the removed rows in order, nil for empty ones.
func (s *Store) DeleteRows(ctx context.Context, sheetID string, at, count, rowCount int) ([]types.RowData, error) {
	if at < 0 || count <= 0 || at+count > rowCount {
		return nil, fmt.Errorf("delete %d rows at %d of %d: %w", count, at, rowCount, types.ErrRowOutOfRange)
	}
	var removed []types.RowData
	err := s.mutate(ctx, sheetID, func(w *window) error {
		if err := w.preload(types.ChunkIndex(at), types.ChunkIndex(rowCount-1)); err != nil {
			return err
		}
		removed = make([]types.RowData, count)
		for i := range removed {
			removed[i] = w.row(at + i).Clone()
		}
		for r := at; r+count < rowCount; r++ {
			w.setRow(r, w.row(r+count))
		}
		for r := max(at, rowCount-count); r < rowCount; r++ {
			w.setRow(r, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ColumnCells collects the cells of the given columns over the first
// rowCount rows, keyed by row.
func (s *Store) ColumnCells(ctx context.Context, sheetID string, rowCount int, colIDs []string) (map[int]types.RowData, error) {
	rows, err := s.GetRows(ctx, sheetID, 0, rowCount-1)
	if err != nil {
		return nil, err
	}
	out := make(map[int]types.RowData)
	for r, row := range rows {
		for _, id := range colIDs {
			v, ok := row[id]
			if !ok {
				continue
			}
			if out[r] == nil {
				out[r] = make(types.RowData)
			}
			out[r][id] = v
		}
	}
	return out, nil
}

// EraseColumns deletes every cell of the given columns over the first
// rowCount rows.
func (s *Store) EraseColumns(ctx context.Context, sheetID string, rowCount int, colIDs []string) error {
	if rowCount <= 0 || len(colIDs) == 0 {
		return nil
	}
	return s.mutate(ctx, sheetID, func(w *window) error {
		if err := w.preload(0, types.ChunkIndex(rowCount-1)); err != nil {
			return err
		}
		for _, c := range w.chunks {
			for off, row := range c.Rows {
				if len(row) == 0 {
					continue
				}
				for _, id := range colIDs {
					if _, ok := row[id]; ok {
						c.SetCell(c.FirstRow()+off, id, types.CellValue{})
						w.touch(c.Index)
					}
				}
			}
		}
		return nil
	})
}

// RestoreCells writes back cells captured by ColumnCells.
func (s *Store) RestoreCells(ctx context.Context, sheetID string, data map[int]types.RowData) error {
	var writes []types.SetCell
	for r, row := range data {
		for col, v := range row {
			writes = append(writes, types.SetCell{Row: r, Col: col, Value: v})
		}
	}
	if len(writes) == 0 {
		return nil
	}
	return s.SetCells(ctx, sheetID, writes)
}
