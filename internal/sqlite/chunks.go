// This file implements chunk storage for the SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// GetChunk returns a stored chunk or ErrChunkNotFound.
func (b *Backend) GetChunk(ctx context.Context, sheetID string, index int) (*types.Chunk, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var (
		data    []byte
		version int64
	)
	err := b.db.QueryRowContext(ctx,
		"SELECT rows, version FROM chunks WHERE sheet_id = ? AND chunk_index = ?",
		sheetID, index,
	).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrChunkNotFound
		}
		return nil, fmt.Errorf("getting chunk %s: %w", types.ChunkID(sheetID, index), err)
	}
	rows, err := b.codec.DecodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", types.ChunkID(sheetID, index), err)
	}
	return &types.Chunk{SheetID: sheetID, Index: index, Rows: rows, Version: version}, nil
}

// GetChunksInRange returns stored chunks with first <= index <= last in
// index order.
func (b *Backend) GetChunksInRange(ctx context.Context, sheetID string, first, last int) ([]*types.Chunk, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx,
		"SELECT chunk_index, rows, version FROM chunks WHERE sheet_id = ? AND chunk_index BETWEEN ? AND ? ORDER BY chunk_index",
		sheetID, first, last,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunks %d-%d of %s: %w", first, last, sheetID, err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		var (
			index   int
			data    []byte
			version int64
		)
		if err := rows.Scan(&index, &data, &version); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		decoded, err := b.codec.DecodeRows(data)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", types.ChunkID(sheetID, index), err)
		}
		chunks = append(chunks, &types.Chunk{SheetID: sheetID, Index: index, Rows: decoded, Version: version})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// PutChunks writes all chunks in one transaction after checking that each
// stored version still matches the chunk's Version.
func (b *Backend) PutChunks(ctx context.Context, chunks ...*types.Chunk) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if len(chunks) == 0 {
		return nil
	}

	payloads := make([][]byte, len(chunks))
	for i, c := range chunks {
		data, err := b.codec.EncodeRows(c.Rows)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID(), err)
		}
		payloads[i] = data
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		var stored int64
		err := tx.QueryRowContext(ctx,
			"SELECT version FROM chunks WHERE sheet_id = ? AND chunk_index = ?",
			c.SheetID, c.Index,
		).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading version of chunk %s: %w", c.ID(), err)
		}
		if stored != c.Version {
			return fmt.Errorf("chunk %s stored version %d, have %d: %w", c.ID(), stored, c.Version, types.ErrVersionConflict)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO chunks (sheet_id, chunk_index, rows, version) VALUES (?, ?, ?, ?) "+
				"ON CONFLICT(sheet_id, chunk_index) DO UPDATE SET rows = excluded.rows, version = excluded.version",
			c.SheetID, c.Index, payloads[i], c.Version+1,
		)
		if err != nil {
			return fmt.Errorf("writing chunk %s: %w", c.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	for _, c := range chunks {
		c.Version++
	}
	return nil
}
