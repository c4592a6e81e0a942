// Package export reads whole sheets back out of the store.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Table is a sheet with its columns in display order and all of its
// populated rows.
type Table struct {
	Sheet   *types.Sheet
	Columns []types.Column
	Rows    map[int]types.RowData
}

// Rows loads every row of a sheet.
func Rows(ctx context.Context, rows *rowstore.Store, sheetID string) (*Table, error) {
	sheet, err := rows.Backend().GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	data, err := rows.GetRows(ctx, sheetID, 0, sheet.RowCount-1)
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", sheetID, err)
	}
	return &Table{Sheet: sheet, Columns: sheet.OrderedColumns(), Rows: data}, nil
}

// Records flattens the table to text, one record per row in display
// column order. Absent cells are empty strings. When header is true the
// first record holds the column IDs.
func (t *Table) Records(header bool) [][]string {
	out := make([][]string, 0, t.Sheet.RowCount+1)
	if header {
		ids := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			ids[i] = c.ID
		}
		out = append(out, ids)
	}
	for r := 0; r < t.Sheet.RowCount; r++ {
		rec := make([]string, len(t.Columns))
		row := t.Rows[r]
		for i, c := range t.Columns {
			rec[i] = row[c.ID].String()
		}
		out = append(out, rec)
	}
	return out
}

// values returns row r as raw scalars in display column order.
func (t *Table) values(r int) []any {
	row := t.Rows[r]
	out := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = row[c.ID].V
	}
	return out
}

// WriteJSONL writes one JSON array of raw values per row to path. The file
// is replaced atomically: rows go to a temp file that is synced and then
// renamed over path.
func (t *Table) WriteJSONL(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for r := 0; r < t.Sheet.RowCount; r++ {
		if err := enc.Encode(t.values(r)); err != nil {
			return fail(fmt.Errorf("writing row %d: %w", r, err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing buffer: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
