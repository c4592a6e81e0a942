// Package patchlog records sheet mutations as reversible patches and
// applies operations to the durable store.
//
// A patch pairs an operation with its inverse. Applying the operation and
// then the inverse to the same state leaves rows, columns, and counts
// unchanged, which is what undo and redo rely on.
package patchlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Log is the patch log and operation applier for all sheets of a store.
type Log struct {
	store  types.Store
	rows   *rowstore.Store
	logger *slog.Logger
	now    func() time.Time

	// gate orders multi-step commits against compaction snapshots.
	gate sync.RWMutex
}

// New returns a Log over rows and the store behind it.
func New(rows *rowstore.Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: rows.Backend(), rows: rows, logger: logger, now: time.Now}
}

// Rows returns the row store the log writes through.
func (l *Log) Rows() *rowstore.Store {
	return l.rows
}

// Commit runs fn while no Snapshot is in progress. A caller whose change
// spans several store writes, such as apply followed by append, wraps them
// in one Commit so a compaction never reads the change half done.
// Commits run concurrently with each other.
func (l *Log) Commit(fn func() error) error {
	l.gate.RLock()
	defer l.gate.RUnlock()
	return fn()
}

// Snapshot runs fn while no Commit is in progress.
func (l *Log) Snapshot(fn func() error) error {
	l.gate.Lock()
	defer l.gate.Unlock()
	return fn()
}

// Append validates op and inverse and records them as a new patch.
func (l *Log) Append(ctx context.Context, sheetID string, op, inverse types.Operation) (*types.PatchRecord, error) {
	if err := types.ValidateOperation(op); err != nil {
		return nil, err
	}
	if err := types.ValidateOperation(inverse); err != nil {
		return nil, fmt.Errorf("inverse: %w", err)
	}
	rec := &types.PatchRecord{
		SheetID:   sheetID,
		Operation: op,
		Inverse:   inverse,
		Timestamp: l.now().UTC(),
	}
	id, err := l.store.AppendPatch(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("appending %s patch: %w", op.Kind(), err)
	}
	rec.ID = id
	l.logger.Debug("patch appended",
		slog.String("sheet_id", sheetID), slog.Int64("patch_id", id), slog.String("kind", string(op.Kind())))
	return rec, nil
}

// Get returns one patch.
func (l *Log) Get(ctx context.Context, id int64) (*types.PatchRecord, error) {
	return l.store.GetPatch(ctx, id)
}

// List returns the patches of a sheet, oldest first.
func (l *Log) List(ctx context.Context, sheetID string) ([]*types.PatchRecord, error) {
	return l.store.ListPatches(ctx, sheetID)
}

// Count returns the number of patches stored for a sheet.
func (l *Log) Count(ctx context.Context, sheetID string) (int, error) {
	return l.store.CountPatches(ctx, sheetID)
}

// MarkUndone flags whether the patch's inverse is the applied state.
func (l *Log) MarkUndone(ctx context.Context, id int64, undone bool) error {
	return l.store.SetPatchUndone(ctx, id, undone)
}

// Delete removes patches by ID.
func (l *Log) Delete(ctx context.Context, ids ...int64) error {
	return l.store.DeletePatches(ctx, ids...)
}
