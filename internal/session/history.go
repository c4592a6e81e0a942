package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Undo reverts the most recent patch on the undo stack.
func (s *Session) Undo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step(ctx, true)
}

// Redo reapplies the most recently undone patch.
func (s *Session) Redo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step(ctx, false)
}

// CanUndo reports whether the undo stack is non-empty.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// step moves one patch between the stacks. A patch that no longer exists is
// dropped without touching the sheet.
func (s *Session) step(ctx context.Context, undo bool) error {
	if s.sheet == nil {
		return types.ErrNoSheetLoaded
	}
	from, to := &s.undo, &s.redo
	empty := types.ErrNothingToUndo
	if !undo {
		from, to = &s.redo, &s.undo
		empty = types.ErrNothingToRedo
	}
	if len(*from) == 0 {
		return empty
	}
	id := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]

	rec, err := s.log.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Warn("patch missing from log, dropping it from history",
			slog.String("sheet_id", s.sheet.ID),
			slog.Int64("patch_id", id))
		return nil
	}
	if err != nil {
		*from = append(*from, id)
		return fmt.Errorf("loading patch %d: %w", id, err)
	}

	op := rec.Operation
	if undo {
		op = rec.Inverse
	}
	var (
		sheet   *types.Sheet
		markErr error
	)
	err = s.log.Commit(func() error {
		var err error
		if sheet, err = s.log.Apply(ctx, s.sheet.ID, op); err != nil {
			return err
		}
		markErr = s.log.MarkUndone(ctx, id, undo)
		return nil
	})
	if err != nil {
		*from = append(*from, id)
		s.logger.Error("history step failed",
			slog.String("sheet_id", s.sheet.ID),
			slog.Int64("patch_id", id),
			slog.Bool("undo", undo),
			slog.Any("error", err))
		return err
	}
	*to = append(*to, id)
	if markErr != nil {
		s.logger.Error("marking patch failed",
			slog.Int64("patch_id", id),
			slog.Any("error", markErr))
	}
	s.fixActive(sheet)
	if err := s.refresh(ctx, sheet); err != nil {
		return err
	}
	if markErr != nil {
		return fmt.Errorf("marking patch %d: %w", id, markErr)
	}
	return nil
}
