package rowstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/internal/storage"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	backend, err := storage.Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Detach() })
	return New(backend, nil)
}

func num(f float64) types.CellValue { return types.NumberValue(f) }

func row(kv ...any) types.RowData {
	r := make(types.RowData)
	for i := 0; i < len(kv); i += 2 {
		r[kv[i].(string)] = kv[i+1].(types.CellValue)
	}
	return r
}

func TestSetCellAndGetRows(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetCell(ctx, "s1", 0, "A", num(1)))
	require.NoError(t, s.SetCell(ctx, "s1", 999, "B", types.StringValue("end")))
	require.NoError(t, s.SetCell(ctx, "s1", 1000, "A", num(2)))

	rows, err := s.GetRows(ctx, "s1", 0, 1500)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, num(1), rows[0]["A"])
	assert.Equal(t, types.StringValue("end"), rows[999]["B"])
	assert.Equal(t, num(2), rows[1000]["A"])

	rows, err = s.GetRows(ctx, "s1", 1, 999)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.GetRows(ctx, "s1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSetCellEmptyDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetCell(ctx, "s1", 5, "A", num(1)))
	require.NoError(t, s.SetCell(ctx, "s1", 5, "A", types.CellValue{}))

	rows, err := s.GetRows(ctx, "s1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSetCellsNegativeRow(t *testing.T) {
	s := newStore(t)
	err := s.SetCell(context.Background(), "s1", -1, "A", num(1))
	assert.ErrorIs(t, err, types.ErrRowOutOfRange)
}

func TestGetOrCreateChunk(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	c, err := s.GetOrCreateChunk(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Version)
	assert.Equal(t, 0, c.Populated())

	c.SetCell(3000, "A", num(7))
	require.NoError(t, s.WriteChunk(ctx, c))

	got, err := s.GetOrCreateChunk(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, num(7), got.Row(3000)["A"])
}

func TestConcurrentWritesRetry(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	cols := []string{"A", "B", "C", "D"}
	for i, col := range cols {
		i, col := i, col
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SetCell(ctx, "s1", 0, col, num(float64(i))))
		}()
	}
	wg.Wait()

	rows, err := s.GetRows(ctx, "s1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows[0], len(cols))
}

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	writes := make([]types.SetCell, n)
	for i := range writes {
		writes[i] = types.SetCell{Row: i, Col: "A", Value: num(float64(i))}
	}
	require.NoError(t, s.SetCells(context.Background(), "s1", writes))
}

func TestInsertRows(t *testing.T) {
	tests := []struct {
		name     string
		rowCount int
		at       int
		count    int
		fill     []types.RowData
	}{
		{"at start", 5, 0, 2, nil},
		{"in middle", 5, 2, 1, []types.RowData{row("A", num(-1))}},
		{"at end", 5, 5, 3, nil},
		{"across chunk boundary", 1002, 998, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			seed(t, s, tt.rowCount)

			require.NoError(t, s.InsertRows(ctx, "s1", tt.at, tt.count, tt.rowCount, tt.fill))

			rows, err := s.GetRows(ctx, "s1", 0, tt.rowCount+tt.count)
			require.NoError(t, err)
			for r := 0; r < tt.at; r++ {
				assert.Equal(t, num(float64(r)), rows[r]["A"], "row %d", r)
			}
			for i := 0; i < tt.count; i++ {
				if i < len(tt.fill) {
					assert.Equal(t, tt.fill[i], rows[tt.at+i])
				} else {
					assert.NotContains(t, rows, tt.at+i)
				}
			}
			for r := tt.at; r < tt.rowCount; r++ {
				assert.Equal(t, num(float64(r)), rows[r+tt.count]["A"], "row %d", r)
			}
		})
	}
}

func TestInsertRowsOutOfRange(t *testing.T) {
	s := newStore(t)
	err := s.InsertRows(context.Background(), "s1", 6, 1, 5, nil)
	assert.ErrorIs(t, err, types.ErrRowOutOfRange)
	err = s.InsertRows(context.Background(), "s1", 0, 0, 5, nil)
	assert.ErrorIs(t, err, types.ErrRowOutOfRange)
}

func TestDeleteRows(t *testing.T) {
	tests := []struct {
		name     string
		rowCount int
		at       int
		count    int
	}{
		{"first", 5, 0, 1},
		{"middle", 5, 1, 3},
		{"tail", 5, 3, 2},
		{"across chunk boundary", 1005, 998, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			seed(t, s, tt.rowCount)

			removed, err := s.DeleteRows(ctx, "s1", tt.at, tt.count, tt.rowCount)
			require.NoError(t, err)
			require.Len(t, removed, tt.count)
			for i, r := range removed {
				assert.Equal(t, num(float64(tt.at+i)), r["A"])
			}

			rows, err := s.GetRows(ctx, "s1", 0, tt.rowCount)
			require.NoError(t, err)
			assert.Len(t, rows, tt.rowCount-tt.count)
			for r := 0; r < tt.rowCount-tt.count; r++ {
				want := r
				if r >= tt.at {
					want = r + tt.count
				}
				assert.Equal(t, num(float64(want)), rows[r]["A"], "row %d", r)
			}
		})
	}
}

func TestDeleteThenInsertRestores(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, 10)
	before, err := s.GetRows(ctx, "s1", 0, 9)
	require.NoError(t, err)

	removed, err := s.DeleteRows(ctx, "s1", 3, 4, 10)
	require.NoError(t, err)
	require.NoError(t, s.InsertRows(ctx, "s1", 3, 4, 6, removed))

	after, err := s.GetRows(ctx, "s1", 0, 9)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestColumnCellsEraseRestore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetCells(ctx, "s1", []types.SetCell{
		{Row: 0, Col: "A", Value: num(1)},
		{Row: 0, Col: "B", Value: num(2)},
		{Row: 1500, Col: "B", Value: num(3)},
		{Row: 1500, Col: "C", Value: num(4)},
	}))

	cells, err := s.ColumnCells(ctx, "s1", 2000, []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, map[int]types.RowData{0: row("B", num(2)), 1500: row("B", num(3))}, cells)

	require.NoError(t, s.EraseColumns(ctx, "s1", 2000, []string{"B"}))
	rows, err := s.GetRows(ctx, "s1", 0, 1999)
	require.NoError(t, err)
	assert.Equal(t, row("A", num(1)), rows[0])
	assert.Equal(t, row("C", num(4)), rows[1500])

	require.NoError(t, s.RestoreCells(ctx, "s1", cells))
	rows, err = s.GetRows(ctx, "s1", 0, 1999)
	require.NoError(t, err)
	assert.Equal(t, row("A", num(1), "B", num(2)), rows[0])
	assert.Equal(t, row("B", num(3), "C", num(4)), rows[1500])
}
