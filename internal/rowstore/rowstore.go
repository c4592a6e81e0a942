// Package rowstore maps sheet rows onto fixed-size chunks in a types.Store.
//
// Reads resolve a row range to the minimal covering set of chunks. Writes
// read-modify-write whole chunks and rely on the store's per-chunk version
// check: a write that loses a race re-reads the chunk and re-applies the
// mutation.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// MaxWriteRetries bounds how often a mutation is re-applied after a version
// conflict.
const MaxWriteRetries = 5

var (
	chunkWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "rowstore",
		Name:      "chunk_writes_total",
		Help:      "Chunks persisted by row store mutations.",
	})
	writeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "rowstore",
		Name:      "write_conflicts_total",
		Help:      "Row store mutations retried after a chunk version conflict.",
	})
)

// Store reads and writes rows of sheets held in a types.Store.
type Store struct {
	store  types.Store
	logger *slog.Logger
}

// New wraps store. A nil logger uses slog.Default().
func New(store types.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{store: store, logger: logger}
}

// Backend returns the underlying durable store.
func (s *Store) Backend() types.Store {
	return s.store
}

// GetRows returns the populated rows in [start, end]. Empty rows are
// absent from the map.
func (s *Store) GetRows(ctx context.Context, sheetID string, start, end int) (map[int]types.RowData, error) {
	out := make(map[int]types.RowData)
	if start < 0 {
		start = 0
	}
	if end < start {
		return out, nil
	}
	first, last := types.ChunkRange(start, end)
	chunks, err := s.store.GetChunksInRange(ctx, sheetID, first, last)
	if err != nil {
		return nil, fmt.Errorf("reading rows %d-%d: %w", start, end, err)
	}
	for _, c := range chunks {
		lo := max(start, c.FirstRow())
		hi := min(end, c.FirstRow()+types.ChunkSize-1)
		for r := lo; r <= hi; r++ {
			if row := c.Rows[types.RowOffset(r)]; len(row) > 0 {
				out[r] = row
			}
		}
	}
	return out, nil
}

// GetOrCreateChunk returns the stored chunk or a new empty one with
// version 0.
func (s *Store) GetOrCreateChunk(ctx context.Context, sheetID string, index int) (*types.Chunk, error) {
	c, err := s.store.GetChunk(ctx, sheetID, index)
	if errors.Is(err, types.ErrChunkNotFound) {
		return types.NewChunk(sheetID, index), nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WriteChunk persists one chunk.
func (s *Store) WriteChunk(ctx context.Context, c *types.Chunk) error {
	return s.WriteChunks(ctx, c)
}

// WriteChunks persists chunks atomically.
func (s *Store) WriteChunks(ctx context.Context, chunks ...*types.Chunk) error {
	if err := s.store.PutChunks(ctx, chunks...); err != nil {
		return err
	}
	chunkWrites.Add(float64(len(chunks)))
	return nil
}

// SetCell writes one cell. An empty value clears the cell.
func (s *Store) SetCell(ctx context.Context, sheetID string, row int, col string, v types.CellValue) error {
	return s.SetCells(ctx, sheetID, []types.SetCell{{Row: row, Col: col, Value: v}})
}

// SetCells applies writes in order. All touched chunks are committed
// together.
func (s *Store) SetCells(ctx context.Context, sheetID string, writes []types.SetCell) error {
	for _, w := range writes {
		if w.Row < 0 {
			return fmt.Errorf("row %d: %w", w.Row, types.ErrRowOutOfRange)
		}
	}
	return s.mutate(ctx, sheetID, func(w *window) error {
		for _, cw := range writes {
			c, err := w.chunk(types.ChunkIndex(cw.Row))
			if err != nil {
				return err
			}
			c.SetCell(cw.Row, cw.Col, cw.Value)
			w.touch(c.Index)
		}
		return nil
	})
}

// mutate runs fn against a fresh window and commits the dirty chunks,
// retrying from scratch when the commit hits a version conflict.
func (s *Store) mutate(ctx context.Context, sheetID string, fn func(w *window) error) error {
	var err error
	for attempt := 0; attempt <= MaxWriteRetries; attempt++ {
		w := newWindow(ctx, s.store, sheetID)
		if err = fn(w); err != nil {
			return err
		}
		dirty := w.dirtyChunks()
		if len(dirty) == 0 {
			return nil
		}
		err = s.WriteChunks(ctx, dirty...)
		if !errors.Is(err, types.ErrVersionConflict) {
			return err
		}
		writeConflicts.Inc()
		s.logger.Debug("chunk version conflict, retrying",
			slog.String("sheet_id", sheetID), slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("giving up after %d retries: %w", MaxWriteRetries, err)
}
