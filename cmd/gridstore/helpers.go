package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/internal/storage"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// openRows attaches the configured backend. The returned close func
// detaches it.
func openRows() (*rowstore.Store, func(), error) {
	store, err := storage.Open(cfg, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Detach(); err != nil {
			slog.Warn("detaching store", slog.Any("error", err))
		}
	}
	return rowstore.New(store, slog.Default()), closeFn, nil
}

// findSheet looks a sheet up by ID, then by exact name. A name shared by
// several sheets is an error.
func findSheet(ctx context.Context, store types.Store, ref string) (*types.Sheet, error) {
	sheet, err := store.GetSheet(ctx, ref)
	if err == nil {
		return sheet, nil
	}
	sheets, lerr := store.ListSheets(ctx)
	if lerr != nil {
		return nil, fmt.Errorf("listing sheets: %w", lerr)
	}
	var match *types.Sheet
	for _, s := range sheets {
		if s.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("name %q matches more than one sheet, use the ID: %w", ref, errUsage)
		}
		match = s
	}
	if match == nil {
		return nil, fmt.Errorf("%q: %w", ref, types.ErrSheetNotFound)
	}
	return match, nil
}

// parseRef parses an A1 reference.
func parseRef(s string) (types.CellRef, error) {
	ref, ok := types.ParseCellRef(s)
	if !ok {
		return types.CellRef{}, fmt.Errorf("cell reference %q: %w", s, errUsage)
	}
	return ref, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// formatCell renders a cell for terminal output. Formula cells show their
// value followed by the source.
func formatCell(c types.CellValue) string {
	s := c.String()
	if c.IsFormula() {
		s += " [" + c.F + "]"
	}
	return strings.ReplaceAll(s, "\t", " ")
}
