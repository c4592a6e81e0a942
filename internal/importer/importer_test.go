package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/internal/storage"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

func newImporter(t *testing.T) (*Importer, types.Store) {
	t.Helper()
	backend, err := storage.Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Detach() })
	return New(rowstore.New(backend, nil), nil), backend
}

func TestRunThreeByTwo(t *testing.T) {
	ctx := context.Background()
	im, store := newImporter(t)
	data := "name,score\nalpha,1\nbeta,2.5\ngamma,TRUE\n"

	sheet, err := im.Run(ctx, "scores", NewCSVSource(strings.NewReader(data), int64(len(data)), true), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sheet.RowCount)
	assert.Equal(t, 2, sheet.ColumnCount)
	assert.Equal(t, []string{"A", "B"}, sheet.OrderedColumnIDs())
	assert.Equal(t, 2, sheet.NextColumnIndex)
	assert.Equal(t, int64(len(data)), sheet.FileSize)

	chunk, err := store.GetChunk(ctx, sheet.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, chunk.Populated())
	assert.Equal(t, types.StringValue("alpha"), chunk.Rows[0]["A"])
	assert.Equal(t, types.NumberValue(1), chunk.Rows[0]["B"])
	assert.Equal(t, types.NumberValue(2.5), chunk.Rows[1]["B"])
	assert.Equal(t, types.BoolValue(true), chunk.Rows[2]["B"])

	stored, err := store.GetSheet(ctx, sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, "scores", stored.Name)
}

func TestRunSparseRows(t *testing.T) {
	ctx := context.Background()
	im, store := newImporter(t)
	data := "a,b,c\n1,,\n,,\n,,3\n"

	sheet, err := im.Run(ctx, "sparse", NewCSVSource(strings.NewReader(data), 0, true), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sheet.RowCount)
	assert.Equal(t, 3, sheet.ColumnCount)

	chunk, err := store.GetChunk(ctx, sheet.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, types.RowData{"A": types.NumberValue(1)}, chunk.Rows[0])
	assert.Nil(t, chunk.Rows[1])
	assert.Equal(t, types.RowData{"C": types.NumberValue(3)}, chunk.Rows[2])
}

func TestRunFlushesEachChunk(t *testing.T) {
	ctx := context.Background()
	im, store := newImporter(t)

	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 2500; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	data := b.String()

	var progress []int
	sheet, err := im.Run(ctx, "big", NewCSVSource(strings.NewReader(data), int64(len(data)), true), func(m Message) {
		progress = append(progress, m.Progress)
	})
	require.NoError(t, err)
	assert.Equal(t, 2500, sheet.RowCount)

	chunks, err := store.GetChunksInRange(ctx, sheet.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, chunks[0].Populated())
	assert.Equal(t, 500, chunks[2].Populated())
	assert.Equal(t, types.NumberValue(2499), chunks[2].Rows[499]["A"])

	require.GreaterOrEqual(t, len(progress), 5)
	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress)-1; i++ {
		assert.LessOrEqual(t, progress[i], ProgressCap)
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

// failingSource returns rows until it runs out, then a read error.
type failingSource struct {
	rows int
}

func (f *failingSource) Next() ([]any, error) {
	if f.rows == 0 {
		return nil, errors.New("disk on fire")
	}
	f.rows--
	return []any{"x"}, nil
}

func (f *failingSource) Progress() float64 { return 0 }
func (f *failingSource) Width() int        { return 1 }
func (f *failingSource) Size() int64       { return 0 }
func (f *failingSource) Close() error      { return nil }

func TestRunFailureLeavesChunksWithoutSheet(t *testing.T) {
	ctx := context.Background()
	im, store := newImporter(t)
	im.newID = func() string { return "fixed" }

	_, err := im.Run(ctx, "broken", &failingSource{rows: 1200}, nil)
	require.Error(t, err)

	sheets, err := store.ListSheets(ctx)
	require.NoError(t, err)
	assert.Empty(t, sheets)

	chunk, err := store.GetChunk(ctx, "fixed", 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, chunk.Populated())
}

func TestStart(t *testing.T) {
	im, _ := newImporter(t)
	data := "a\n1\n"

	var msgs []Message
	for m := range im.Start(context.Background(), "s", NewCSVSource(strings.NewReader(data), 0, true)) {
		msgs = append(msgs, m)
	}
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, MessageDone, last.Type)
	require.NotNil(t, last.Sheet)
	assert.Equal(t, 1, last.Sheet.RowCount)
	for _, m := range msgs[:len(msgs)-1] {
		assert.Equal(t, MessageProgress, m.Type)
	}
}

func TestStartReportsError(t *testing.T) {
	im, _ := newImporter(t)

	var last Message
	for m := range im.Start(context.Background(), "s", &failingSource{rows: 2}) {
		last = m
	}
	assert.Equal(t, MessageError, last.Type)
	assert.ErrorContains(t, last.Err, "disk on fire")
}

func TestImportFileXLSX(t *testing.T) {
	ctx := context.Background()
	im, store := newImporter(t)

	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 1))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", 2))
	require.NoError(t, f.SetCellFormula("Sheet1", "C1", "A1+B1"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "text"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", true))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	sheet, err := im.ImportFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "book", sheet.Name)
	assert.Equal(t, 2, sheet.RowCount)
	assert.Equal(t, 3, sheet.ColumnCount)

	rows, err := rowstore.New(store, nil).GetRows(ctx, sheet.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, types.NumberValue(1), rows[0]["A"])
	assert.Equal(t, "=A1+B1", rows[0]["C"].F)
	assert.Equal(t, types.StringValue("text"), rows[1]["A"])
	assert.Equal(t, types.BoolValue(true), rows[1]["B"])
}

func TestImportFileJSONL(t *testing.T) {
	ctx := context.Background()
	im, _ := newImporter(t)

	path := filepath.Join(t.TempDir(), "rows.jsonl")
	content := "[1,\"a\",true]\n\nnot json\n[null,\"\",2]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sheet, err := im.ImportFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "rows", sheet.Name)
	assert.Equal(t, 2, sheet.RowCount)
	assert.Equal(t, 3, sheet.ColumnCount)
}

func TestImportFileUnsupported(t *testing.T) {
	im, _ := newImporter(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	_, err := im.ImportFile(context.Background(), path, nil)
	assert.ErrorIs(t, err, types.ErrUnsupportedFile)
}

func TestCSVSourceHeaderOnly(t *testing.T) {
	src := NewCSVSource(strings.NewReader("a,b,c\n"), 6, true)
	_, err := src.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, src.Width())
	assert.Equal(t, 1.0, src.Progress())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "data", SheetName("/tmp/data.csv"))
	assert.Equal(t, "report.2024", SheetName("report.2024.xlsx"))
}
