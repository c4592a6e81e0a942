// Package storetest is a conformance suite for types.Store backends.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Factory returns a freshly attached, empty store. The suite detaches it.
type Factory func(t *testing.T) types.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s types.Store)
	}{
		{"SheetCRUD", testSheetCRUD},
		{"ListSheetsOrdered", testListSheetsOrdered},
		{"ChunkRoundTrip", testChunkRoundTrip},
		{"ChunkRange", testChunkRange},
		{"ChunkVersionConflict", testChunkVersionConflict},
		{"PutChunksAtomic", testPutChunksAtomic},
		{"PatchLog", testPatchLog},
		{"DeleteSheetCascades", testDeleteSheetCascades},
		{"Detached", testDetached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Detach() })
			tt.fn(t, s)
		})
	}
}

func sheet(id string, created time.Time) *types.Sheet {
	return &types.Sheet{
		ID:              id,
		Name:            "sheet " + id,
		RowCount:        10,
		ColumnCount:     2,
		Columns:         types.DefaultColumns(2),
		NextColumnIndex: 2,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func testSheetCRUD(t *testing.T, s types.Store) {
	ctx := context.Background()
	_, err := s.GetSheet(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrSheetNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	sh := sheet("s1", time.Now().UTC())
	require.NoError(t, s.PutSheet(ctx, sh))

	got, err := s.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sh.Name, got.Name)
	assert.Equal(t, sh.Columns, got.Columns)
	assert.Equal(t, 10, got.RowCount)
	assert.True(t, sh.CreatedAt.Equal(got.CreatedAt))

	sh.RowCount = 11
	sh.Columns[0].Width = 300
	require.NoError(t, s.PutSheet(ctx, sh))
	got, err = s.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 11, got.RowCount)
	assert.Equal(t, 300, got.Columns[0].Width)
}

func testListSheetsOrdered(t *testing.T, s types.Store) {
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, s.PutSheet(ctx, sheet("b", base.Add(time.Second))))
	require.NoError(t, s.PutSheet(ctx, sheet("a", base.Add(2*time.Second))))
	require.NoError(t, s.PutSheet(ctx, sheet("c", base)))

	sheets, err := s.ListSheets(ctx)
	require.NoError(t, err)
	require.Len(t, sheets, 3)
	assert.Equal(t, "c", sheets[0].ID)
	assert.Equal(t, "b", sheets[1].ID)
	assert.Equal(t, "a", sheets[2].ID)
}

func testChunkRoundTrip(t *testing.T, s types.Store) {
	ctx := context.Background()
	_, err := s.GetChunk(ctx, "s1", 0)
	assert.ErrorIs(t, err, types.ErrChunkNotFound)

	c := types.NewChunk("s1", 0)
	c.SetCell(0, "A", types.NumberValue(1))
	c.SetCell(999, "B", types.StringValue("last"))
	require.NoError(t, s.PutChunks(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := s.GetChunk(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Len(t, got.Rows, types.ChunkSize)
	assert.Equal(t, types.NumberValue(1), got.Rows[0]["A"])
	assert.Equal(t, types.StringValue("last"), got.Rows[999]["B"])
	assert.Nil(t, got.Rows[500])
}

func testChunkRange(t *testing.T, s types.Store) {
	ctx := context.Background()
	for _, idx := range []int{0, 2, 3, 7} {
		c := types.NewChunk("s1", idx)
		c.SetCell(idx*types.ChunkSize, "A", types.NumberValue(float64(idx)))
		require.NoError(t, s.PutChunks(ctx, c))
	}
	other := types.NewChunk("s2", 2)
	other.SetCell(2000, "A", types.NumberValue(99))
	require.NoError(t, s.PutChunks(ctx, other))

	chunks, err := s.GetChunksInRange(ctx, "s1", 1, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, chunks[0].Index)
	assert.Equal(t, 3, chunks[1].Index)
	assert.Equal(t, types.NumberValue(2), chunks[0].Rows[0]["A"])

	chunks, err = s.GetChunksInRange(ctx, "s1", 4, 6)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func testChunkVersionConflict(t *testing.T, s types.Store) {
	ctx := context.Background()
	c := types.NewChunk("s1", 0)
	require.NoError(t, s.PutChunks(ctx, c))

	stale := types.NewChunk("s1", 0)
	stale.SetCell(1, "A", types.NumberValue(5))
	err := s.PutChunks(ctx, stale)
	assert.ErrorIs(t, err, types.ErrVersionConflict)
	assert.Equal(t, int64(0), stale.Version)

	fresh, err := s.GetChunk(ctx, "s1", 0)
	require.NoError(t, err)
	fresh.SetCell(1, "A", types.NumberValue(5))
	require.NoError(t, s.PutChunks(ctx, fresh))
	assert.Equal(t, int64(2), fresh.Version)
}

func testPutChunksAtomic(t *testing.T, s types.Store) {
	ctx := context.Background()
	existing := types.NewChunk("s1", 1)
	require.NoError(t, s.PutChunks(ctx, existing))

	a := types.NewChunk("s1", 0)
	a.SetCell(0, "A", types.NumberValue(1))
	stale := types.NewChunk("s1", 1)
	err := s.PutChunks(ctx, a, stale)
	require.ErrorIs(t, err, types.ErrVersionConflict)

	_, err = s.GetChunk(ctx, "s1", 0)
	assert.ErrorIs(t, err, types.ErrChunkNotFound, "first chunk must not be written when a later one conflicts")
}

func testPatchLog(t *testing.T, s types.Store) {
	ctx := context.Background()
	ops := []types.Operation{
		types.SetCell{Row: 0, Col: "A", Value: types.NumberValue(1)},
		types.ResizeColumn{ColumnID: "A", Width: 200},
		types.SetCells{Cells: []types.SetCell{{Row: 1, Col: "B", Value: types.StringValue("x")}}},
	}
	var ids []int64
	for i, op := range ops {
		p := &types.PatchRecord{SheetID: "s1", Operation: op, Inverse: op}
		id, err := s.AppendPatch(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
		if i > 0 {
			assert.Greater(t, id, ids[i-1])
		}
		ids = append(ids, id)
	}
	_, err := s.AppendPatch(ctx, &types.PatchRecord{SheetID: "s2", Operation: ops[0], Inverse: ops[0]})
	require.NoError(t, err)

	n, err := s.CountPatches(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.ListPatches(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, p := range list {
		assert.Equal(t, ids[i], p.ID)
		assert.Equal(t, ops[i], p.Operation)
		assert.False(t, p.Undone)
	}

	require.NoError(t, s.SetPatchUndone(ctx, ids[1], true))
	got, err := s.GetPatch(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, got.Undone)
	assert.Equal(t, ops[1], got.Inverse)

	assert.ErrorIs(t, s.SetPatchUndone(ctx, 999999, true), types.ErrPatchNotFound)

	require.NoError(t, s.DeletePatches(ctx, ids[0], ids[2], 999999))
	list, err = s.ListPatches(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[1], list[0].ID)

	_, err = s.GetPatch(ctx, ids[0])
	assert.ErrorIs(t, err, types.ErrPatchNotFound)
}

func testDeleteSheetCascades(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutSheet(ctx, sheet("s1", time.Now().UTC())))
	require.NoError(t, s.PutSheet(ctx, sheet("s2", time.Now().UTC())))
	for _, id := range []string{"s1", "s2"} {
		c := types.NewChunk(id, 0)
		c.SetCell(0, "A", types.NumberValue(1))
		require.NoError(t, s.PutChunks(ctx, c))
		op := types.SetCell{Row: 0, Col: "A", Value: types.NumberValue(1)}
		_, err := s.AppendPatch(ctx, &types.PatchRecord{SheetID: id, Operation: op, Inverse: op})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteSheet(ctx, "s1"))

	_, err := s.GetSheet(ctx, "s1")
	assert.ErrorIs(t, err, types.ErrSheetNotFound)
	_, err = s.GetChunk(ctx, "s1", 0)
	assert.ErrorIs(t, err, types.ErrChunkNotFound)
	n, err := s.CountPatches(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetChunk(ctx, "s2", 0)
	assert.NoError(t, err)
	n, err = s.CountPatches(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.DeleteSheet(ctx, "s1"), types.ErrSheetNotFound)
}

func testDetached(t *testing.T, s types.Store) {
	ctx := context.Background()
	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach(), "Detach is idempotent")

	_, err := s.GetSheet(ctx, "s1")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	assert.ErrorIs(t, s.PutChunks(ctx, types.NewChunk("s1", 0)), types.ErrStoreDetached)
	_, err = s.AppendPatch(ctx, &types.PatchRecord{})
	assert.ErrorIs(t, err, types.ErrStoreDetached)
}
