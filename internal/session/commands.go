package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/gridstore/internal/formula"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridstore",
	Subsystem: "session",
	Name:      "commands_total",
	Help:      "Session commands by operation kind and outcome.",
}, []string{"kind", "outcome"})

// UpdateCell writes one cell. An empty value clears it.
func (s *Session) UpdateCell(ctx context.Context, row int, col string, value types.CellValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.SetCell{Row: row, Col: col, Value: value})
}

// UpdateCells writes a batch of cells as one undoable patch.
func (s *Session) UpdateCells(ctx context.Context, writes []types.SetCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.SetCells{Cells: writes})
}

// InsertRows inserts count empty rows before row at.
func (s *Session) InsertRows(ctx context.Context, at, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.InsertRows{AtIndex: at, Count: count})
}

// DeleteRows removes count rows starting at row at.
func (s *Session) DeleteRows(ctx context.Context, at, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.DeleteRows{AtIndex: at, Count: count})
}

// InsertColumn adds an empty column at display position at and returns its
// ID.
func (s *Session) InsertColumn(ctx context.Context, at int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet == nil {
		return "", types.ErrNoSheetLoaded
	}
	id := s.sheet.NextColumnID()
	col := types.Column{ID: id, Width: types.DefaultColumnWidth, Order: at}
	if err := s.commit(ctx, types.InsertColumns{Columns: []types.Column{col}}); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteColumns removes columns and their cells.
func (s *Session) DeleteColumns(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.DeleteColumns{ColumnIDs: ids})
}

// ResizeColumn sets a column width in pixels.
func (s *Session) ResizeColumn(ctx context.Context, id string, width int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.ResizeColumn{ColumnID: id, Width: width})
}

// ReorderColumns sets the display order, leftmost first.
func (s *Session) ReorderColumns(ctx context.Context, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, types.ReorderColumns{Order: append([]string(nil), order...)})
}

// commit runs op as a new history entry. The inverse is computed from the
// persisted state before anything changes.
func (s *Session) commit(ctx context.Context, op types.Operation) error {
	if s.sheet == nil {
		return types.ErrNoSheetLoaded
	}
	sheetID := s.sheet.ID
	kind := string(op.Kind())

	var (
		sheet *types.Sheet
		rec   *types.PatchRecord
	)
	err := s.log.Commit(func() error {
		var err error
		sheet, rec, err = s.persist(ctx, sheetID, op)
		return err
	})
	if err != nil {
		commandsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}

	commandsTotal.WithLabelValues(kind, "ok").Inc()
	s.undo = append(s.undo, rec.ID)
	s.redo = nil
	return s.settle(ctx, sheet, op)
}

// persist applies op to the store and records it as a patch. Cell writes
// show up in the viewport first and are rolled back on any failure.
func (s *Session) persist(ctx context.Context, sheetID string, op types.Operation) (*types.Sheet, *types.PatchRecord, error) {
	kind := string(op.Kind())
	base, err := s.rows.Backend().GetSheet(ctx, sheetID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading sheet %s: %w", sheetID, err)
	}
	inverse, err := s.log.Invert(ctx, base, op)
	if err != nil {
		return nil, nil, fmt.Errorf("inverting %s: %w", op.Kind(), err)
	}

	writes := types.CellWrites(op)
	prev := make([]types.CellValue, len(writes))
	for i, w := range writes {
		prev[i] = s.view.Set(w.Row, w.Col, w.Value)
	}
	rollback := func() {
		for i := len(writes) - 1; i >= 0; i-- {
			s.view.Restore(writes[i].Row, writes[i].Col, prev[i])
		}
	}

	sheet, err := s.log.ApplyReversible(ctx, sheetID, op, inverse)
	if err != nil {
		rollback()
		s.logger.Error("command failed",
			slog.String("sheet_id", sheetID),
			slog.String("kind", kind),
			slog.Any("error", err))
		return nil, nil, err
	}
	rec, err := s.log.Append(ctx, sheetID, op, inverse)
	if err != nil {
		if _, uerr := s.log.ApplyReversible(ctx, sheetID, inverse, op); uerr != nil {
			s.logger.Error("reverting unrecorded command",
				slog.String("sheet_id", sheetID),
				slog.String("kind", kind),
				slog.Any("error", uerr))
		}
		rollback()
		s.logger.Error("recording patch failed",
			slog.String("sheet_id", sheetID),
			slog.String("kind", kind),
			slog.Any("error", err))
		return nil, nil, fmt.Errorf("recording %s: %w", op.Kind(), err)
	}
	return sheet, rec, nil
}

// settle adopts the sheet returned by an applied operation. Structural
// changes reload the viewport; cell writes only recompute formulas that
// read a written cell.
func (s *Session) settle(ctx context.Context, sheet *types.Sheet, op types.Operation) error {
	if !types.IsCellLevel(op) {
		s.fixActive(sheet)
		return s.refresh(ctx, sheet)
	}
	s.sheet = sheet
	if needsRecompute(s.view.Rows(), types.CellWrites(op)) {
		formula.Recompute(s.view.Rows())
	}
	return nil
}

// fixActive clears the cursor when its cell no longer exists.
func (s *Session) fixActive(sheet *types.Sheet) {
	if s.active == nil {
		return
	}
	if _, ok := sheet.Column(s.active.Col); ok && s.active.Row < sheet.RowCount {
		return
	}
	s.active, s.editing, s.editText = nil, false, ""
}

func needsRecompute(rows map[int]types.RowData, writes []types.SetCell) bool {
	refs := make([]types.CellRef, len(writes))
	for i, w := range writes {
		if w.Value.IsFormula() {
			return true
		}
		refs[i] = types.CellRef{Row: w.Row, Col: w.Col}
	}
	for _, row := range rows {
		for _, cell := range row {
			if cell.IsFormula() && formula.DependsOn(cell.F, refs...) {
				return true
			}
		}
	}
	return false
}
