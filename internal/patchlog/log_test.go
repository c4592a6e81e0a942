package patchlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/internal/storage"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const sheetID = "s1"

func newLog(t *testing.T) *Log {
	t.Helper()
	backend, err := storage.Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Detach() })
	return New(rowstore.New(backend, nil), nil)
}

// seedSheet creates a 5x3 sheet where cell (r, c) holds r*10+c.
func seedSheet(t *testing.T, l *Log) *types.Sheet {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	sheet := &types.Sheet{
		ID:              sheetID,
		Name:            "seed",
		RowCount:        5,
		ColumnCount:     3,
		Columns:         types.DefaultColumns(3),
		NextColumnIndex: 3,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, l.store.PutSheet(ctx, sheet))
	var writes []types.SetCell
	for r := 0; r < 5; r++ {
		for c := 0; c < 3; c++ {
			writes = append(writes, types.SetCell{
				Row: r, Col: types.ColumnIndexToID(c), Value: types.NumberValue(float64(r*10 + c)),
			})
		}
	}
	require.NoError(t, l.rows.SetCells(ctx, sheetID, writes))
	return sheet
}

type observed struct {
	RowCount    int
	ColumnCount int
	Columns     []types.Column
	Rows        map[int]types.RowData
}

func observe(t *testing.T, l *Log) observed {
	t.Helper()
	ctx := context.Background()
	sheet, err := l.store.GetSheet(ctx, sheetID)
	require.NoError(t, err)
	rows, err := l.rows.GetRows(ctx, sheetID, 0, sheet.RowCount+types.ChunkSize)
	require.NoError(t, err)
	return observed{
		RowCount:    sheet.RowCount,
		ColumnCount: sheet.ColumnCount,
		Columns:     sheet.OrderedColumns(),
		Rows:        rows,
	}
}

func TestInverseLaw(t *testing.T) {
	tests := []struct {
		name string
		op   types.Operation
	}{
		{"set cell", types.SetCell{Row: 1, Col: "B", Value: types.StringValue("x")}},
		{"clear cell", types.SetCell{Row: 1, Col: "B"}},
		{"set empty cell", types.SetCell{Row: 4, Col: "C", Value: types.BoolValue(true)}},
		{"set cells", types.SetCells{Cells: []types.SetCell{
			{Row: 0, Col: "A", Value: types.NumberValue(-1)},
			{Row: 0, Col: "A", Value: types.NumberValue(-2)},
			{Row: 3, Col: "C", Value: types.CellValue{V: 6.0, F: "=A1+B1", T: types.TypeNumber}},
		}}},
		{"insert rows", types.InsertRows{AtIndex: 2, Count: 3}},
		{"insert rows at end", types.InsertRows{AtIndex: 5, Count: 1}},
		{"delete rows", types.DeleteRows{AtIndex: 1, Count: 2}},
		{"delete last row", types.DeleteRows{AtIndex: 4, Count: 1}},
		{"insert column", types.InsertColumns{Columns: []types.Column{{ID: "D", Width: 80, Order: 1}}}},
		{"insert column with data", types.InsertColumns{
			Columns: []types.Column{{ID: "D", Width: 80, Order: 0}},
			Data:    map[int]types.RowData{2: {"D": types.StringValue("d")}},
		}},
		{"delete column", types.DeleteColumns{ColumnIDs: []string{"B"}}},
		{"delete columns", types.DeleteColumns{ColumnIDs: []string{"C", "A"}}},
		{"resize column", types.ResizeColumn{ColumnID: "A", Width: 250}},
		{"reorder columns", types.ReorderColumns{Order: []string{"C", "A", "B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)
			sheet := seedSheet(t, l)
			before := observe(t, l)

			inv, err := l.Invert(ctx, sheet, tt.op)
			require.NoError(t, err)
			require.NoError(t, types.ValidateOperation(inv))

			_, err = l.Apply(ctx, sheetID, tt.op)
			require.NoError(t, err)
			assert.NotEqual(t, before, observe(t, l))

			_, err = l.Apply(ctx, sheetID, inv)
			require.NoError(t, err)
			assert.Equal(t, before, observe(t, l))
		})
	}
}

func TestApplyStructural(t *testing.T) {
	ctx := context.Background()
	l := newLog(t)
	seedSheet(t, l)

	sheet, err := l.Apply(ctx, sheetID, types.InsertColumns{Columns: []types.Column{{ID: "D", Width: 100, Order: 1}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D", "B", "C"}, sheet.OrderedColumnIDs())
	assert.Equal(t, 4, sheet.ColumnCount)
	assert.Equal(t, 4, sheet.NextColumnIndex)
	require.NoError(t, sheet.ValidateColumns())

	sheet, err = l.Apply(ctx, sheetID, types.DeleteColumns{ColumnIDs: []string{"D"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, sheet.OrderedColumnIDs())
	assert.Equal(t, 4, sheet.NextColumnIndex, "column ids are never reused")
	assert.Equal(t, "E", sheet.NextColumnID())

	sheet, err = l.Apply(ctx, sheetID, types.DeleteRows{AtIndex: 0, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, sheet.RowCount)
	rows, err := l.rows.GetRows(ctx, sheetID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, types.NumberValue(10), rows[0]["A"])
}

func TestApplyRejects(t *testing.T) {
	tests := []struct {
		name string
		op   types.Operation
		want error
	}{
		{"row past end", types.SetCell{Row: 5, Col: "A", Value: types.NumberValue(1)}, types.ErrRowOutOfRange},
		{"unknown column", types.SetCell{Row: 0, Col: "Z", Value: types.NumberValue(1)}, types.ErrInvalidColumn},
		{"delete past end", types.DeleteRows{AtIndex: 4, Count: 2}, types.ErrRowOutOfRange},
		{"insert existing column", types.InsertColumns{Columns: []types.Column{{ID: "A", Width: 10}}}, types.ErrInvalidColumn},
		{"delete unknown column", types.DeleteColumns{ColumnIDs: []string{"Q"}}, types.ErrInvalidColumn},
		{"resize unknown column", types.ResizeColumn{ColumnID: "Q", Width: 10}, types.ErrInvalidColumn},
		{"reorder short", types.ReorderColumns{Order: []string{"A", "B"}}, types.ErrInvalidPermutation},
		{"reorder foreign", types.ReorderColumns{Order: []string{"A", "B", "Q"}}, types.ErrInvalidPermutation},
		{"invalid payload", types.ResizeColumn{ColumnID: "A", Width: 0}, types.ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLog(t)
			seedSheet(t, l)
			before := observe(t, l)

			_, err := l.Apply(context.Background(), sheetID, tt.op)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, observe(t, l))
		})
	}
}

var errDiskFull = errors.New("disk full")

// sheetFailStore fails sheet record writes while fail is set.
type sheetFailStore struct {
	types.Store
	fail bool
}

func (s *sheetFailStore) PutSheet(ctx context.Context, sheet *types.Sheet) error {
	if s.fail {
		return errDiskFull
	}
	return s.Store.PutSheet(ctx, sheet)
}

func TestApplyRevertsWhenSheetSaveFails(t *testing.T) {
	tests := []struct {
		name string
		op   types.Operation
	}{
		{"delete rows", types.DeleteRows{AtIndex: 0, Count: 1}},
		{"insert rows", types.InsertRows{AtIndex: 1, Count: 2}},
		{"delete column", types.DeleteColumns{ColumnIDs: []string{"B"}}},
		{"insert column with data", types.InsertColumns{
			Columns: []types.Column{{ID: "D", Width: 100, Order: 0}},
			Data:    map[int]types.RowData{2: {"D": types.NumberValue(7)}},
		}},
		{"set cells", types.SetCells{Cells: []types.SetCell{
			{Row: 0, Col: "A", Value: types.NumberValue(-1)},
			{Row: 4, Col: "C"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend, err := storage.Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = backend.Detach() })
			fs := &sheetFailStore{Store: backend}
			l := New(rowstore.New(fs, nil), nil)
			seedSheet(t, l)
			before := observe(t, l)

			fs.fail = true
			_, err = l.Apply(ctx, sheetID, tt.op)
			require.ErrorIs(t, err, errDiskFull)
			fs.fail = false

			assert.Equal(t, before, observe(t, l))
		})
	}
}

func TestSnapshotHoldsOffCommits(t *testing.T) {
	ctx := context.Background()
	l := newLog(t)
	seedSheet(t, l)

	committed := make(chan error, 1)
	var early bool
	require.NoError(t, l.Snapshot(func() error {
		go func() {
			committed <- l.Commit(func() error {
				_, err := l.Apply(ctx, sheetID, types.SetCell{Row: 0, Col: "A", Value: types.NumberValue(-1)})
				return err
			})
		}()
		select {
		case <-committed:
			early = true
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	}))
	require.False(t, early, "commit ran inside a snapshot")
	require.NoError(t, <-committed)
	assert.Equal(t, types.NumberValue(-1), observe(t, l).Rows[0]["A"])
}

func TestApplyMissingSheet(t *testing.T) {
	l := newLog(t)
	_, err := l.Apply(context.Background(), "nope", types.ResizeColumn{ColumnID: "A", Width: 10})
	assert.ErrorIs(t, err, types.ErrSheetNotFound)
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := newLog(t)

	op := types.SetCell{Row: 0, Col: "A", Value: types.NumberValue(1)}
	inv := types.SetCell{Row: 0, Col: "A"}
	first, err := l.Append(ctx, sheetID, op, inv)
	require.NoError(t, err)
	second, err := l.Append(ctx, sheetID, types.ResizeColumn{ColumnID: "A", Width: 5}, types.ResizeColumn{ColumnID: "A", Width: 100})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	got, err := l.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, op, got.Operation)
	assert.Equal(t, inv, got.Inverse)
	assert.False(t, got.Undone)

	require.NoError(t, l.MarkUndone(ctx, first.ID, true))
	got, err = l.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Undone)

	n, err := l.Count(ctx, sheetID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, l.Delete(ctx, first.ID))
	list, err := l.List(ctx, sheetID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = l.Get(ctx, first.ID)
	assert.ErrorIs(t, err, types.ErrPatchNotFound)
}

func TestAppendValidates(t *testing.T) {
	l := newLog(t)
	_, err := l.Append(context.Background(), sheetID,
		types.SetCell{Row: -1, Col: "A"}, types.SetCell{Row: 0, Col: "A"})
	assert.ErrorIs(t, err, types.ErrInvalidOperation)

	_, err = l.Append(context.Background(), sheetID,
		types.SetCell{Row: 0, Col: "A"}, types.SetCell{Row: 0, Col: "a1"})
	assert.ErrorIs(t, err, types.ErrInvalidOperation)
}
