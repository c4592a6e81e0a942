// This file implements sheet records for the SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const sheetColumns = "sheet_id, name, row_count, column_count, columns, next_column_index, file_size, created_at, updated_at"

// GetSheet returns the sheet with the given ID.
func (b *Backend) GetSheet(ctx context.Context, id string) (*types.Sheet, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	if id == "" {
		return nil, types.ErrInvalidID
	}
	row := b.db.QueryRowContext(ctx, "SELECT "+sheetColumns+" FROM sheets WHERE sheet_id = ?", id)
	s, err := b.hydrateSheet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSheetNotFound
		}
		return nil, fmt.Errorf("getting sheet %s: %w", id, err)
	}
	return s, nil
}

// PutSheet inserts or replaces a sheet record.
func (b *Backend) PutSheet(ctx context.Context, s *types.Sheet) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if s == nil || s.ID == "" {
		return types.ErrInvalidID
	}
	cols, err := b.codec.EncodeColumns(s.Columns)
	if err != nil {
		return fmt.Errorf("encoding columns for sheet %s: %w", s.ID, err)
	}
	_, err = b.db.ExecContext(ctx,
		"INSERT INTO sheets ("+sheetColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(sheet_id) DO UPDATE SET name = excluded.name, row_count = excluded.row_count, "+
			"column_count = excluded.column_count, columns = excluded.columns, "+
			"next_column_index = excluded.next_column_index, file_size = excluded.file_size, "+
			"updated_at = excluded.updated_at",
		s.ID, s.Name, s.RowCount, s.ColumnCount, cols, s.NextColumnIndex, s.FileSize,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("persisting sheet %s: %w", s.ID, err)
	}
	return nil
}

// ListSheets returns all sheets, oldest first.
func (b *Backend) ListSheets(ctx context.Context) ([]*types.Sheet, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, "SELECT "+sheetColumns+" FROM sheets ORDER BY created_at, sheet_id")
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w", err)
	}
	defer rows.Close()

	var sheets []*types.Sheet
	for rows.Next() {
		s, err := b.hydrateSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sheet: %w", err)
		}
		sheets = append(sheets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sheets: %w", err)
	}
	return sheets, nil
}

// DeleteSheet removes a sheet with its chunks and patches in one
// transaction.
func (b *Backend) DeleteSheet(ctx context.Context, id string) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM sheets WHERE sheet_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting sheet %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting sheet %s: %w", id, err)
	}
	if n == 0 {
		return types.ErrSheetNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE sheet_id = ?", id); err != nil {
		return fmt.Errorf("deleting chunks of sheet %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM patches WHERE sheet_id = ?", id); err != nil {
		return fmt.Errorf("deleting patches of sheet %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sheet delete: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (b *Backend) hydrateSheet(row scanner) (*types.Sheet, error) {
	var (
		s                    types.Sheet
		cols                 []byte
		createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.Name, &s.RowCount, &s.ColumnCount, &cols,
		&s.NextColumnIndex, &s.FileSize, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if s.Columns, err = b.codec.DecodeColumns(cols); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}
