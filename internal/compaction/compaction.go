// Package compaction folds a sheet's cell-level patches into its chunks
// and removes them from the patch log.
//
// Structural patches are never removed. Cell patches are replayed into an
// in-memory chunk cache, the touched chunks are written with a version
// check, and only then are the replayed patch IDs deleted. A version
// conflict with a concurrent edit restarts the run.
//
// Writers that go through patchlog.Log.Commit are held off while a run
// reads its chunks and patches.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mesh-intelligence/gridstore/internal/patchlog"
	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Progress milestones reported by Compact.
const (
	ProgressReplayed = 80
	ProgressWritten  = 90
	ProgressDone     = 100

	// replayReportEvery is how many patches pass between replay progress
	// reports.
	replayReportEvery = 100
)

// Result summarizes one compaction run.
type Result struct {
	SheetID        string  `json:"sheet_id"`
	PatchesRemoved int     `json:"patches_removed"`
	ChunksWritten  int     `json:"chunks_written"`
	Attempts       int     `json:"attempts"`
	RemovedIDs     []int64 `json:"removed_ids,omitempty"`
}

// Engine runs compactions against one store.
type Engine struct {
	log       *patchlog.Log
	rows      *rowstore.Store
	threshold int
	retries   int
	logger    *slog.Logger
}

// NewEngine returns an engine using the compaction settings of cfg. Zero
// settings fall back to the defaults.
func NewEngine(log *patchlog.Log, cfg types.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	return &Engine{
		log:       log,
		rows:      log.Rows(),
		threshold: cfg.CompactionThreshold,
		retries:   cfg.CompactionRetries,
		logger:    logger,
	}
}

// Threshold returns the patch count at which compaction is due.
func (e *Engine) Threshold() int {
	return e.threshold
}

// Check reports whether the sheet's patch count has reached the threshold.
func (e *Engine) Check(ctx context.Context, sheetID string) (bool, int, error) {
	n, err := e.log.Count(ctx, sheetID)
	if err != nil {
		return false, 0, fmt.Errorf("counting patches of %s: %w", sheetID, err)
	}
	return n >= e.threshold, n, nil
}

// Compact runs one compaction of sheetID. progress, when non-nil, receives
// progress messages synchronously.
func (e *Engine) Compact(ctx context.Context, sheetID string, progress func(Message)) (Result, error) {
	report := func(pct int) {
		if progress != nil {
			progress(Message{Type: MessageProgress, SheetID: sheetID, Progress: pct})
		}
	}

	res := Result{SheetID: sheetID}
	var err error
	for res.Attempts < e.retries+1 {
		res.Attempts++
		var chunks []*types.Chunk
		var ids []int64
		chunks, ids, err = e.replay(ctx, sheetID, report)
		if errors.Is(err, types.ErrVersionConflict) {
			e.restart(sheetID, res.Attempts)
			continue
		}
		if err != nil {
			break
		}
		report(ProgressReplayed)

		if len(chunks) > 0 {
			err = e.rows.WriteChunks(ctx, chunks...)
			if errors.Is(err, types.ErrVersionConflict) {
				e.restart(sheetID, res.Attempts)
				continue
			}
			if err != nil {
				err = fmt.Errorf("writing compacted chunks: %w", err)
				break
			}
		}
		report(ProgressWritten)

		if len(ids) > 0 {
			if err = e.log.Delete(ctx, ids...); err != nil {
				err = fmt.Errorf("deleting compacted patches: %w", err)
				break
			}
		}
		report(ProgressDone)

		res.ChunksWritten = len(chunks)
		res.PatchesRemoved = len(ids)
		res.RemovedIDs = ids
		runs.WithLabelValues(outcomeOK).Inc()
		patchesRemoved.Add(float64(len(ids)))
		chunksWritten.Add(float64(len(chunks)))
		e.logger.Info("compaction finished",
			slog.String("sheet_id", sheetID),
			slog.Int("patches_removed", res.PatchesRemoved),
			slog.Int("chunks_written", res.ChunksWritten))
		return res, nil
	}

	if errors.Is(err, types.ErrVersionConflict) {
		err = fmt.Errorf("compacting %s after %d attempts: %w", sheetID, res.Attempts, types.ErrVersionConflict)
	}
	runs.WithLabelValues(outcomeError).Inc()
	e.logger.Error("compaction failed", slog.String("sheet_id", sheetID), slog.Any("error", err))
	return res, err
}

func (e *Engine) restart(sheetID string, attempt int) {
	conflicts.Inc()
	e.logger.Info("compaction hit a concurrent edit, restarting",
		slog.String("sheet_id", sheetID), slog.Int("attempt", attempt))
}

// replay folds the live cell patches into chunks and returns the touched
// chunks plus the IDs of every cell-level patch.
//
// Cell patches that precede the last structural patch are not replayed:
// their effect is already persisted and structural changes may have moved
// their rows. Undone patches are not replayed either.
//
// The chunks are read before the patch list they are replayed from, both
// inside one log snapshot. An edit committed after the chunks were read
// changes their version and fails the write; an edit committed before is
// in the list. A list that needs a chunk the first pass did not predict
// restarts the run.
func (e *Engine) replay(ctx context.Context, sheetID string, report func(int)) ([]*types.Chunk, []int64, error) {
	planned, err := e.log.List(ctx, sheetID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing patches of %s: %w", sheetID, err)
	}

	cache := make(map[int]*types.Chunk)
	var patches []*types.PatchRecord
	err = e.log.Snapshot(func() error {
		for _, idx := range replayedChunks(planned) {
			c, err := e.rows.GetOrCreateChunk(ctx, sheetID, idx)
			if err != nil {
				return fmt.Errorf("loading chunk %d: %w", idx, err)
			}
			cache[idx] = c
		}
		patches, err = e.log.List(ctx, sheetID)
		if err != nil {
			return fmt.Errorf("listing patches of %s: %w", sheetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	lastStructural := lastStructuralIndex(patches)
	var ids []int64
	for i, p := range patches {
		if i > 0 && i%replayReportEvery == 0 {
			report(i * ProgressReplayed / len(patches))
		}
		if !types.IsCellLevel(p.Operation) {
			continue
		}
		ids = append(ids, p.ID)
		if p.Undone || i < lastStructural {
			continue
		}
		for _, w := range types.CellWrites(p.Operation) {
			c, ok := cache[types.ChunkIndex(w.Row)]
			if !ok {
				return nil, nil, fmt.Errorf("patch %d writes unread chunk %d: %w",
					p.ID, types.ChunkIndex(w.Row), types.ErrVersionConflict)
			}
			c.SetCell(w.Row, w.Col, w.Value)
		}
	}

	chunks := make([]*types.Chunk, 0, len(cache))
	for _, c := range cache {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, ids, nil
}

// replayedChunks returns the chunk indexes the replayable patches write,
// ascending.
func replayedChunks(patches []*types.PatchRecord) []int {
	lastStructural := lastStructuralIndex(patches)
	seen := make(map[int]bool)
	var out []int
	for i, p := range patches {
		if !types.IsCellLevel(p.Operation) || p.Undone || i < lastStructural {
			continue
		}
		for _, w := range types.CellWrites(p.Operation) {
			if idx := types.ChunkIndex(w.Row); !seen[idx] {
				seen[idx] = true
				out = append(out, idx)
			}
		}
	}
	sort.Ints(out)
	return out
}

func lastStructuralIndex(patches []*types.PatchRecord) int {
	last := -1
	for i, p := range patches {
		if !types.IsCellLevel(p.Operation) {
			last = i
		}
	}
	return last
}
