package session

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/gridstore/internal/formula"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// SetActiveCell moves the cursor. A pending edit is committed first; if the
// commit fails the cursor stays put.
func (s *Session) SetActiveCell(ctx context.Context, row int, col string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet == nil {
		return types.ErrNoSheetLoaded
	}
	if _, ok := s.sheet.Column(col); !ok {
		return fmt.Errorf("column %q: %w", col, types.ErrInvalidColumn)
	}
	if row < 0 || row >= s.sheet.RowCount {
		return fmt.Errorf("row %d of %d: %w", row, s.sheet.RowCount, types.ErrRowOutOfRange)
	}
	if s.editing {
		if err := s.commitEdit(ctx); err != nil {
			return err
		}
	}
	s.active = &types.CellRef{Row: row, Col: col}
	return nil
}

// StartEditing opens the editor on the active cell, seeded with its formula
// source or its displayed value.
func (s *Session) StartEditing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet == nil {
		return types.ErrNoSheetLoaded
	}
	if s.active == nil {
		return types.ErrNotEditing
	}
	cell, _ := s.view.Cell(s.active.Row, s.active.Col)
	s.editing = true
	if cell.IsFormula() {
		s.editText = cell.F
	} else {
		s.editText = types.FormatScalar(cell.V)
	}
	return nil
}

// SetEditValue replaces the editor text.
func (s *Session) SetEditValue(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return types.ErrNotEditing
	}
	s.editText = text
	return nil
}

// CancelEditing discards the editor text.
func (s *Session) CancelEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing, s.editText = false, ""
}

// CommitEdit writes the editor text to the active cell. Formulas are
// evaluated against the resident rows before the write.
func (s *Session) CommitEdit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.editing {
		return types.ErrNotEditing
	}
	return s.commitEdit(ctx)
}

func (s *Session) commitEdit(ctx context.Context) error {
	ref := *s.active
	val := types.ParseInput(s.editText)
	if val.IsFormula() {
		val = formula.Evaluate(val.F, s.view.Cell)
	}
	if err := s.commit(ctx, types.SetCell{Row: ref.Row, Col: ref.Col, Value: val}); err != nil {
		return err
	}
	s.editing, s.editText = false, ""
	return nil
}
