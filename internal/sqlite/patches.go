// This file implements the patch log tables for the SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const patchColumns = "patch_id, sheet_id, operation, inverse, undone, created_at"

// AppendPatch stores a patch and assigns its ID from the autoincrement key.
func (b *Backend) AppendPatch(ctx context.Context, p *types.PatchRecord) (int64, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.mu.RUnlock()

	op, err := b.codec.EncodeOperation(p.Operation)
	if err != nil {
		return 0, fmt.Errorf("encoding operation: %w", err)
	}
	inv, err := b.codec.EncodeOperation(p.Inverse)
	if err != nil {
		return 0, fmt.Errorf("encoding inverse: %w", err)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	res, err := b.db.ExecContext(ctx,
		"INSERT INTO patches (sheet_id, operation, inverse, undone, created_at) VALUES (?, ?, ?, ?, ?)",
		p.SheetID, op, inv, p.Undone, formatTime(p.Timestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting patch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading patch id: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetPatch returns the patch with the given ID.
func (b *Backend) GetPatch(ctx context.Context, id int64) (*types.PatchRecord, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx, "SELECT "+patchColumns+" FROM patches WHERE patch_id = ?", id)
	p, err := b.hydratePatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrPatchNotFound
		}
		return nil, fmt.Errorf("getting patch %d: %w", id, err)
	}
	return p, nil
}

// ListPatches returns a sheet's patches ordered by ID.
func (b *Backend) ListPatches(ctx context.Context, sheetID string) ([]*types.PatchRecord, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx,
		"SELECT "+patchColumns+" FROM patches WHERE sheet_id = ? ORDER BY patch_id", sheetID)
	if err != nil {
		return nil, fmt.Errorf("listing patches of %s: %w", sheetID, err)
	}
	defer rows.Close()

	var patches []*types.PatchRecord
	for rows.Next() {
		p, err := b.hydratePatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patch: %w", err)
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patches: %w", err)
	}
	return patches, nil
}

// CountPatches returns the number of patches stored for a sheet.
func (b *Backend) CountPatches(ctx context.Context, sheetID string) (int, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.mu.RUnlock()

	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patches WHERE sheet_id = ?", sheetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting patches of %s: %w", sheetID, err)
	}
	return n, nil
}

// SetPatchUndone updates the undone flag of a patch.
func (b *Backend) SetPatchUndone(ctx context.Context, id int64, undone bool) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	res, err := b.db.ExecContext(ctx, "UPDATE patches SET undone = ? WHERE patch_id = ?", undone, id)
	if err != nil {
		return fmt.Errorf("updating patch %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating patch %d: %w", id, err)
	}
	if n == 0 {
		return types.ErrPatchNotFound
	}
	return nil
}

// DeletePatches removes the given patches in one transaction.
func (b *Backend) DeletePatches(ctx context.Context, ids ...int64) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM patches WHERE patch_id = ?")
	if err != nil {
		return fmt.Errorf("preparing patch delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("deleting patch %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing patch delete: %w", err)
	}
	return nil
}

func (b *Backend) hydratePatch(row scanner) (*types.PatchRecord, error) {
	var (
		p         types.PatchRecord
		op, inv   []byte
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.SheetID, &op, &inv, &p.Undone, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.Operation, err = b.codec.DecodeOperation(op); err != nil {
		return nil, fmt.Errorf("patch %d operation: %w", p.ID, err)
	}
	if p.Inverse, err = b.codec.DecodeOperation(inv); err != nil {
		return nil, fmt.Errorf("patch %d inverse: %w", p.ID, err)
	}
	if p.Timestamp, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("patch %d timestamp: %w", p.ID, err)
	}
	return &p, nil
}
