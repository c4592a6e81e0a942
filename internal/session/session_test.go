package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/internal/compaction"
	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/internal/storage"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const sheetID = "s1"

var errInjected = errors.New("injected failure")

// faultyStore fails chunk writes or patch appends on request.
type faultyStore struct {
	types.Store
	mu         sync.Mutex
	failPut    bool
	failAppend bool
}

func (f *faultyStore) PutChunks(ctx context.Context, chunks ...*types.Chunk) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.PutChunks(ctx, chunks...)
}

func (f *faultyStore) AppendPatch(ctx context.Context, p *types.PatchRecord) (int64, error) {
	f.mu.Lock()
	fail := f.failAppend
	f.mu.Unlock()
	if fail {
		return 0, errInjected
	}
	return f.Store.AppendPatch(ctx, p)
}

func (f *faultyStore) set(put, appendPatch bool) {
	f.mu.Lock()
	f.failPut, f.failAppend = put, appendPatch
	f.mu.Unlock()
}

type fixture struct {
	store   *faultyStore
	rows    *rowstore.Store
	session *Session
}

func newFixture(t *testing.T, cfg types.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	backend, err := storage.Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Detach() })

	fs := &faultyStore{Store: backend}
	rows := rowstore.New(fs, nil)
	now := time.Now().UTC()
	require.NoError(t, backend.PutSheet(ctx, &types.Sheet{
		ID:              sheetID,
		Name:            "session",
		RowCount:        10,
		ColumnCount:     3,
		Columns:         types.DefaultColumns(3),
		NextColumnIndex: 3,
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
	require.NoError(t, rows.SetCells(ctx, sheetID, []types.SetCell{
		{Row: 0, Col: "A", Value: types.NumberValue(2)},
		{Row: 0, Col: "B", Value: types.NumberValue(3)},
		{Row: 1, Col: "A", Value: types.StringValue("x")},
		{Row: 5, Col: "C", Value: types.BoolValue(true)},
	}))

	s := New(rows, cfg, nil)
	require.NoError(t, s.LoadSheet(ctx, sheetID))
	require.NoError(t, s.LoadViewport(ctx, 0, 9))
	return &fixture{store: fs, rows: rows, session: s}
}

type observed struct {
	RowCount    int
	ColumnCount int
	Columns     []types.Column
	Rows        map[int]types.RowData
}

func (f *fixture) observe(t *testing.T) observed {
	t.Helper()
	ctx := context.Background()
	sheet, err := f.store.GetSheet(ctx, sheetID)
	require.NoError(t, err)
	rows, err := f.rows.GetRows(ctx, sheetID, 0, 100)
	require.NoError(t, err)
	return observed{
		RowCount:    sheet.RowCount,
		ColumnCount: sheet.ColumnCount,
		Columns:     sheet.OrderedColumns(),
		Rows:        rows,
	}
}

func TestUpdateCellUndoRedo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.UpdateCell(ctx, 3, "B", types.NumberValue(7)))
	got, ok := s.Cell(3, "B")
	require.True(t, ok)
	assert.Equal(t, 7.0, got.V)
	assert.True(t, s.CanUndo())
	assert.False(t, s.CanRedo())

	require.NoError(t, s.Undo(ctx))
	_, ok = s.Cell(3, "B")
	assert.False(t, ok)
	assert.False(t, s.CanUndo())
	assert.True(t, s.CanRedo())

	require.NoError(t, s.Redo(ctx))
	got, ok = s.Cell(3, "B")
	require.True(t, ok)
	assert.Equal(t, 7.0, got.V)

	stored, err := f.rows.GetRows(ctx, sheetID, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 7.0, stored[3]["B"].V)
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	commands := []struct {
		name string
		run  func() error
	}{
		{"update cell", func() error { return s.UpdateCell(ctx, 0, "A", types.StringValue("hello")) }},
		{"clear cell", func() error { return s.UpdateCell(ctx, 1, "A", types.CellValue{}) }},
		{"update cells", func() error {
			return s.UpdateCells(ctx, []types.SetCell{
				{Row: 2, Col: "C", Value: types.NumberValue(1)},
				{Row: 2, Col: "C", Value: types.NumberValue(2)},
				{Row: 9, Col: "A", Value: types.BoolValue(false)},
			})
		}},
		{"insert rows", func() error { return s.InsertRows(ctx, 2, 3) }},
		{"delete rows", func() error { return s.DeleteRows(ctx, 0, 1) }},
		{"insert column", func() error {
			id, err := s.InsertColumn(ctx, 1)
			if err == nil && id != "D" {
				return errors.New("unexpected column id " + id)
			}
			return err
		}},
		{"resize column", func() error { return s.ResizeColumn(ctx, "A", 150) }},
		{"reorder columns", func() error { return s.ReorderColumns(ctx, []string{"C", "B", "D", "A"}) }},
		{"delete column", func() error { return s.DeleteColumns(ctx, "B") }},
	}

	states := []observed{f.observe(t)}
	for _, c := range commands {
		require.NoError(t, c.run(), c.name)
		states = append(states, f.observe(t))
	}
	n := len(commands)

	for i := n; i > 0; i-- {
		require.NoError(t, s.Undo(ctx))
		assert.Equal(t, states[i-1], f.observe(t), "after undoing %s", commands[i-1].name)
	}
	assert.False(t, s.CanUndo())

	for i := 1; i <= n; i++ {
		require.NoError(t, s.Redo(ctx))
		assert.Equal(t, states[i], f.observe(t), "after redoing %s", commands[i-1].name)
	}
	assert.False(t, s.CanRedo())
}

func TestStackDepthConserved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpdateCell(ctx, i, "A", types.NumberValue(float64(i))))
	}
	steps := []struct {
		undo bool
	}{{true}, {true}, {true}, {false}, {true}, {false}, {false}}
	for _, st := range steps {
		if st.undo {
			require.NoError(t, s.Undo(ctx))
		} else {
			require.NoError(t, s.Redo(ctx))
		}
		snap := s.Snapshot()
		assert.Equal(t, 5, snap.UndoDepth+snap.RedoDepth)
	}

	snap := s.Snapshot()
	require.Equal(t, 1, snap.RedoDepth)
	require.NoError(t, s.UpdateCell(ctx, 8, "B", types.NumberValue(1)))
	snap = s.Snapshot()
	assert.Equal(t, 0, snap.RedoDepth)
	assert.Equal(t, 5, snap.UndoDepth)
}

func TestHistoryEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	assert.ErrorIs(t, f.session.Undo(ctx), types.ErrNothingToUndo)
	assert.ErrorIs(t, f.session.Redo(ctx), types.ErrNothingToRedo)
}

func TestUndoMissingPatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.UpdateCell(ctx, 4, "A", types.NumberValue(4)))
	require.NoError(t, s.log.Delete(ctx, s.undo[0]))

	require.NoError(t, s.Undo(ctx))
	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())
	got, ok := s.Cell(4, "A")
	require.True(t, ok)
	assert.Equal(t, 4.0, got.V)
}

func TestPersistFailureRollsBack(t *testing.T) {
	tests := []struct {
		name       string
		failPut    bool
		failAppend bool
	}{
		{"chunk write fails", true, false},
		{"patch append fails", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, types.Config{})
			s := f.session

			f.store.set(tt.failPut, tt.failAppend)
			err := s.UpdateCell(ctx, 0, "A", types.NumberValue(99))
			require.ErrorIs(t, err, errInjected)
			f.store.set(false, false)

			got, ok := s.Cell(0, "A")
			require.True(t, ok)
			assert.Equal(t, 2.0, got.V)
			assert.False(t, s.CanUndo())

			stored, err := f.rows.GetRows(ctx, sheetID, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, 2.0, stored[0]["A"].V)
			n, err := s.log.Count(ctx, sheetID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCommandRejectsBadTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	assert.ErrorIs(t, s.UpdateCell(ctx, 10, "A", types.NumberValue(1)), types.ErrRowOutOfRange)
	assert.ErrorIs(t, s.UpdateCell(ctx, 0, "Z", types.NumberValue(1)), types.ErrInvalidColumn)
	_, ok := s.Cell(10, "A")
	assert.False(t, ok)
	assert.False(t, s.CanUndo())
}

func TestEditFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.SetActiveCell(ctx, 0, "C"))
	require.NoError(t, s.StartEditing())
	assert.Equal(t, "", s.Snapshot().EditText)
	require.NoError(t, s.SetEditValue("=A1+B1"))
	require.NoError(t, s.CommitEdit(ctx))

	got, ok := s.Cell(0, "C")
	require.True(t, ok)
	assert.Equal(t, 5.0, got.V)
	assert.Equal(t, "=A1+B1", got.F)
	assert.False(t, s.Snapshot().Editing)

	// A write to a referenced cell recomputes the formula.
	require.NoError(t, s.UpdateCell(ctx, 0, "A", types.NumberValue(10)))
	got, _ = s.Cell(0, "C")
	assert.Equal(t, 13.0, got.V)

	require.NoError(t, s.StartEditing())
	assert.Equal(t, "=A1+B1", s.Snapshot().EditText)
	s.CancelEditing()
	assert.False(t, s.Snapshot().Editing)

	require.NoError(t, s.SetActiveCell(ctx, 0, "B"))
	require.NoError(t, s.StartEditing())
	assert.Equal(t, "3", s.Snapshot().EditText)
}

func TestEditParsing(t *testing.T) {
	tests := []struct {
		input string
		want  types.CellValue
	}{
		{"42", types.NumberValue(42)},
		{"-1.5", types.NumberValue(-1.5)},
		{"TRUE", types.BoolValue(true)},
		{"false", types.BoolValue(false)},
		{"hello", types.StringValue("hello")},
		{"=1/0", types.CellValue{V: "#DIV/0!", F: "=1/0", T: types.TypeError}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, types.Config{})
			s := f.session
			require.NoError(t, s.SetActiveCell(ctx, 7, "B"))
			require.NoError(t, s.StartEditing())
			require.NoError(t, s.SetEditValue(tt.input))
			require.NoError(t, s.CommitEdit(ctx))
			got, ok := s.Cell(7, "B")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEditEmptyClears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.SetActiveCell(ctx, 1, "A"))
	require.NoError(t, s.StartEditing())
	require.NoError(t, s.SetEditValue(""))
	require.NoError(t, s.CommitEdit(ctx))
	_, ok := s.Cell(1, "A")
	assert.False(t, ok)
}

func TestSetActiveCellCommitsPendingEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.SetActiveCell(ctx, 3, "A"))
	require.NoError(t, s.StartEditing())
	require.NoError(t, s.SetEditValue("pending"))
	require.NoError(t, s.SetActiveCell(ctx, 4, "A"))

	got, ok := s.Cell(3, "A")
	require.True(t, ok)
	assert.Equal(t, "pending", got.V)
	snap := s.Snapshot()
	assert.False(t, snap.Editing)
	require.NotNil(t, snap.Active)
	assert.Equal(t, types.CellRef{Row: 4, Col: "A"}, *snap.Active)
}

func TestEditErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	assert.ErrorIs(t, s.StartEditing(), types.ErrNotEditing)
	assert.ErrorIs(t, s.CommitEdit(ctx), types.ErrNotEditing)
	assert.ErrorIs(t, s.SetEditValue("x"), types.ErrNotEditing)
	assert.ErrorIs(t, s.SetActiveCell(ctx, 0, "Q"), types.ErrInvalidColumn)
	assert.ErrorIs(t, s.SetActiveCell(ctx, 10, "A"), types.ErrRowOutOfRange)

	s.UnloadSheet()
	assert.ErrorIs(t, s.StartEditing(), types.ErrNoSheetLoaded)
	assert.ErrorIs(t, s.UpdateCell(ctx, 0, "A", types.NumberValue(1)), types.ErrNoSheetLoaded)
	assert.ErrorIs(t, s.LoadViewport(ctx, 0, 9), types.ErrNoSheetLoaded)
	assert.Nil(t, s.Sheet())
}

func TestLoadSheetMissing(t *testing.T) {
	f := newFixture(t, types.Config{})
	err := f.session.LoadSheet(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrSheetNotFound)
	assert.Equal(t, sheetID, f.session.Sheet().ID)
}

func TestStructuralChangeClearsStaleCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.SetActiveCell(ctx, 9, "A"))
	require.NoError(t, s.DeleteRows(ctx, 5, 5))
	snap := s.Snapshot()
	assert.Nil(t, snap.Active)
	assert.Equal(t, 5, snap.Sheet.RowCount)
	_, ok := snap.Rows[5]
	assert.False(t, ok, "row 5 was deleted")

	require.NoError(t, s.SetActiveCell(ctx, 0, "C"))
	require.NoError(t, s.DeleteColumns(ctx, "C"))
	assert.Nil(t, s.Snapshot().Active)
}

func TestCompactionPrunesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{CompactionThreshold: 3})
	s := f.session

	require.NoError(t, s.UpdateCell(ctx, 0, "C", types.NumberValue(1)))
	require.NoError(t, s.UpdateCell(ctx, 1, "C", types.NumberValue(2)))
	due, _, err := s.CompactionDue(ctx)
	require.NoError(t, err)
	assert.False(t, due)

	require.NoError(t, s.UpdateCell(ctx, 2, "C", types.NumberValue(3)))
	require.NoError(t, s.Undo(ctx))
	due, n, err := s.CompactionDue(ctx)
	require.NoError(t, err)
	assert.True(t, due)
	assert.Equal(t, 3, n)

	res, err := s.Compact(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, res.RemovedIDs, 3)
	assert.False(t, s.CanUndo())
	assert.False(t, s.CanRedo())

	stored, err := f.rows.GetRows(ctx, sheetID, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored[0]["C"].V)
	assert.Equal(t, 2.0, stored[1]["C"].V)
	_, ok := stored[2]["C"]
	assert.False(t, ok)

	got, ok := s.Cell(1, "C")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.V)
}

func TestStartCompaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{CompactionThreshold: 1})
	s := f.session

	require.NoError(t, s.UpdateCell(ctx, 0, "C", types.NumberValue(1)))
	require.NoError(t, s.InsertRows(ctx, 0, 1))

	ch, err := s.StartCompaction(ctx)
	require.NoError(t, err)
	var last compaction.Message
	for m := range ch {
		last = m
	}
	require.Equal(t, compaction.MessageDone, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, 1, last.Result.PatchesRemoved)

	// The structural patch stays undoable.
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.UndoDepth)
	require.NoError(t, s.Undo(ctx))
	assert.Equal(t, 10, s.Sheet().RowCount)
}

func TestApplyCompactionIgnoresOtherSheet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.Config{})
	s := f.session

	require.NoError(t, s.UpdateCell(ctx, 0, "C", types.NumberValue(1)))
	id := s.undo[0]
	require.NoError(t, s.ApplyCompaction(ctx, compaction.Result{SheetID: "other", RemovedIDs: []int64{id}}))
	assert.True(t, s.CanUndo())
}
