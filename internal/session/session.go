// Package session is the editing session for one open sheet.
//
// A Session owns the loaded sheet's metadata, its viewport, the active and
// editing cell, and the undo and redo stacks. Every command computes an
// operation and its inverse from persisted state, applies the operation,
// and records both as a patch. Methods are safe for concurrent use; they
// are serialized by one mutex.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mesh-intelligence/gridstore/internal/compaction"
	"github.com/mesh-intelligence/gridstore/internal/formula"
	"github.com/mesh-intelligence/gridstore/internal/patchlog"
	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/internal/viewport"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Session edits one sheet at a time.
type Session struct {
	mu     sync.Mutex
	cfg    types.Config
	rows   *rowstore.Store
	log    *patchlog.Log
	engine *compaction.Engine
	logger *slog.Logger

	sheet *types.Sheet
	view  *viewport.Viewport

	active   *types.CellRef
	editing  bool
	editText string

	undo []int64
	redo []int64
}

// New returns a session with no sheet loaded.
func New(rows *rowstore.Store, cfg types.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	log := patchlog.New(rows, logger)
	return &Session{
		cfg:    cfg,
		rows:   rows,
		log:    log,
		engine: compaction.NewEngine(log, cfg, logger),
		logger: logger,
	}
}

// LoadSheet makes id the current sheet with empty history and an empty
// viewport.
func (s *Session) LoadSheet(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheet, err := s.rows.Backend().GetSheet(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			s.logger.Warn("sheet not found", slog.String("sheet_id", id))
		}
		return err
	}
	s.sheet = sheet
	s.view = viewport.New(s.rows, id, sheet.RowCount, s.cfg, s.logger)
	s.active, s.editing, s.editText = nil, false, ""
	s.undo, s.redo = nil, nil
	return nil
}

// UnloadSheet drops the current sheet and its history.
func (s *Session) UnloadSheet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheet, s.view = nil, nil
	s.active, s.editing, s.editText = nil, false, ""
	s.undo, s.redo = nil, nil
}

// Sheet returns a copy of the current sheet metadata, or nil.
func (s *Session) Sheet() *types.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet.Clone()
}

// LoadViewport loads rows [start, end] and recomputes resident formulas.
func (s *Session) LoadViewport(ctx context.Context, start, end int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet == nil {
		return types.ErrNoSheetLoaded
	}
	if err := s.view.Load(ctx, start, end); err != nil {
		return fmt.Errorf("loading rows %d-%d: %w", start, end, err)
	}
	formula.Recompute(s.view.Rows())
	return nil
}

// Cell returns a resident cell of the current sheet.
func (s *Session) Cell(row int, col string) (types.CellValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return types.CellValue{}, false
	}
	return s.view.Cell(row, col)
}

// Snapshot is a read-only copy of session state for rendering.
type Snapshot struct {
	Sheet       *types.Sheet
	Rows        map[int]types.RowData
	WindowStart int
	WindowEnd   int
	Active      *types.CellRef
	Editing     bool
	EditText    string
	CanUndo     bool
	CanRedo     bool
	UndoDepth   int
	RedoDepth   int
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Sheet:     s.sheet.Clone(),
		Rows:      make(map[int]types.RowData),
		Editing:   s.editing,
		EditText:  s.editText,
		CanUndo:   len(s.undo) > 0,
		CanRedo:   len(s.redo) > 0,
		UndoDepth: len(s.undo),
		RedoDepth: len(s.redo),
	}
	if s.active != nil {
		a := *s.active
		snap.Active = &a
	}
	if s.view != nil {
		for r, row := range s.view.Rows() {
			snap.Rows[r] = row.Clone()
		}
		snap.WindowStart, snap.WindowEnd = s.view.Window()
	}
	return snap
}

// refresh adopts sheet as current and reloads the viewport from the store.
func (s *Session) refresh(ctx context.Context, sheet *types.Sheet) error {
	s.sheet = sheet
	s.view.SetRowCount(sheet.RowCount)
	if err := s.view.Reload(ctx); err != nil {
		return fmt.Errorf("reloading viewport: %w", err)
	}
	formula.Recompute(s.view.Rows())
	return nil
}
