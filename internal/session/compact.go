package session

import (
	"context"
	"log/slog"
	"slices"

	"github.com/mesh-intelligence/gridstore/internal/compaction"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// CompactionDue reports whether the current sheet's patch log has reached
// the compaction threshold.
func (s *Session) CompactionDue(ctx context.Context) (bool, int, error) {
	s.mu.Lock()
	if s.sheet == nil {
		s.mu.Unlock()
		return false, 0, types.ErrNoSheetLoaded
	}
	id := s.sheet.ID
	s.mu.Unlock()
	return s.engine.Check(ctx, id)
}

// Compact compacts the current sheet and prunes the removed patches from
// history. The session stays usable while the run is in progress.
func (s *Session) Compact(ctx context.Context, progress func(compaction.Message)) (compaction.Result, error) {
	s.mu.Lock()
	if s.sheet == nil {
		s.mu.Unlock()
		return compaction.Result{}, types.ErrNoSheetLoaded
	}
	id := s.sheet.ID
	s.mu.Unlock()

	res, err := s.engine.Compact(ctx, id, progress)
	if err != nil {
		return res, err
	}
	return res, s.ApplyCompaction(ctx, res)
}

// StartCompaction compacts the current sheet in the background. Messages
// are forwarded from the engine; the history is pruned before the done
// message is delivered.
func (s *Session) StartCompaction(ctx context.Context) (<-chan compaction.Message, error) {
	s.mu.Lock()
	if s.sheet == nil {
		s.mu.Unlock()
		return nil, types.ErrNoSheetLoaded
	}
	id := s.sheet.ID
	s.mu.Unlock()

	in := s.engine.Start(ctx, id)
	out := make(chan compaction.Message, cap(in))
	go func() {
		defer close(out)
		for m := range in {
			if m.Type == compaction.MessageDone && m.Result != nil {
				if err := s.ApplyCompaction(ctx, *m.Result); err != nil {
					m = compaction.Message{Type: compaction.MessageError, SheetID: id, Err: err}
				}
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ApplyCompaction removes the patch IDs a compaction deleted from both
// stacks and reloads the viewport. Results for another sheet are ignored.
func (s *Session) ApplyCompaction(ctx context.Context, res compaction.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sheet == nil || s.sheet.ID != res.SheetID {
		return nil
	}
	removed := make(map[int64]bool, len(res.RemovedIDs))
	for _, id := range res.RemovedIDs {
		removed[id] = true
	}
	drop := func(id int64) bool { return removed[id] }
	before := len(s.undo) + len(s.redo)
	s.undo = slices.DeleteFunc(s.undo, drop)
	s.redo = slices.DeleteFunc(s.redo, drop)
	s.logger.Info("compaction applied",
		slog.String("sheet_id", res.SheetID),
		slog.Int("patches_removed", res.PatchesRemoved),
		slog.Int("history_pruned", before-len(s.undo)-len(s.redo)))

	sheet, err := s.rows.Backend().GetSheet(ctx, res.SheetID)
	if err != nil {
		return err
	}
	return s.refresh(ctx, sheet)
}
