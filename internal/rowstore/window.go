package rowstore

import (
	"context"
	"errors"
	"sort"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// window is the set of chunks loaded for one mutation attempt.
type window struct {
	ctx     context.Context
	store   types.Store
	sheetID string
	chunks  map[int]*types.Chunk
	dirty   map[int]bool
}

func newWindow(ctx context.Context, store types.Store, sheetID string) *window {
	return &window{
		ctx:     ctx,
		store:   store,
		sheetID: sheetID,
		chunks:  make(map[int]*types.Chunk),
		dirty:   make(map[int]bool),
	}
}

// preload fetches chunks first..last in one range scan. Chunks that do not
// exist yet are materialized empty.
func (w *window) preload(first, last int) error {
	if last < first {
		return nil
	}
	stored, err := w.store.GetChunksInRange(w.ctx, w.sheetID, first, last)
	if err != nil {
		return err
	}
	for _, c := range stored {
		w.chunks[c.Index] = c
	}
	for i := first; i <= last; i++ {
		if _, ok := w.chunks[i]; !ok {
			w.chunks[i] = types.NewChunk(w.sheetID, i)
		}
	}
	return nil
}

func (w *window) chunk(index int) (*types.Chunk, error) {
	if c, ok := w.chunks[index]; ok {
		return c, nil
	}
	c, err := w.store.GetChunk(w.ctx, w.sheetID, index)
	if errors.Is(err, types.ErrChunkNotFound) {
		c, err = types.NewChunk(w.sheetID, index), nil
	}
	if err != nil {
		return nil, err
	}
	w.chunks[index] = c
	return c, nil
}

func (w *window) touch(index int) {
	w.dirty[index] = true
}

// row returns the content of sheet row r. The chunk must be loaded.
func (w *window) row(r int) types.RowData {
	return w.chunks[types.ChunkIndex(r)].Rows[types.RowOffset(r)]
}

// setRow replaces sheet row r. The chunk must be loaded.
func (w *window) setRow(r int, row types.RowData) {
	c := w.chunks[types.ChunkIndex(r)]
	old := c.Rows[types.RowOffset(r)]
	if len(old) == 0 && len(row) == 0 {
		return
	}
	c.SetRow(r, row)
	w.touch(c.Index)
}

func (w *window) dirtyChunks() []*types.Chunk {
	idx := make([]int, 0, len(w.dirty))
	for i := range w.dirty {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]*types.Chunk, len(idx))
	for i, k := range idx {
		out[i] = w.chunks[k]
	}
	return out
}
