package formula

import (
	"slices"
	"sort"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Getter returns a CellGetter reading from rows.
func Getter(rows map[int]types.RowData) CellGetter {
	return func(row int, col string) (types.CellValue, bool) {
		c, ok := rows[row][col]
		return c, ok
	}
}

// Recompute re-evaluates every formula cell in rows, in row order and then
// column order, writing results back into rows. References to rows not in
// the map read as empty. It returns how many cells changed.
//
// A formula that reads a cell recomputed later in the same pass sees the
// older value; there is no dependency ordering.
func Recompute(rows map[int]types.RowData) int {
	get := Getter(rows)
	indices := make([]int, 0, len(rows))
	for r := range rows {
		indices = append(indices, r)
	}
	sort.Ints(indices)

	changed := 0
	for _, r := range indices {
		row := rows[r]
		cols := make([]string, 0, len(row))
		for col, c := range row {
			if c.IsFormula() {
				cols = append(cols, col)
			}
		}
		sort.Slice(cols, func(i, j int) bool {
			return types.ColumnIDToIndex(cols[i]) < types.ColumnIDToIndex(cols[j])
		})
		for _, col := range cols {
			old := row[col]
			next := Evaluate(old.F, get)
			if !next.Equal(old) {
				row[col] = next
				changed++
			}
		}
	}
	return changed
}

// Dependencies lists the cells a formula reads, with ranges expanded. It
// returns nil when the formula does not tokenize.
func Dependencies(formula string) []types.CellRef {
	tokens, err := Tokenize(formula)
	if err != nil {
		return nil
	}
	var deps []types.CellRef
	collectDeps(tokens, &deps)
	return deps
}

func collectDeps(tokens []Token, deps *[]types.CellRef) {
	for _, t := range tokens {
		switch t.Type {
		case TokenCell:
			*deps = append(*deps, t.Ref)
		case TokenRange:
			r0, r1 := min(t.Ref.Row, t.End.Row), max(t.Ref.Row, t.End.Row)
			c0 := min(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
			c1 := max(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
			for r := r0; r <= r1; r++ {
				for c := c0; c <= c1; c++ {
					*deps = append(*deps, types.CellRef{Col: types.ColumnIndexToID(c), Row: r})
				}
			}
		case TokenFunction:
			for _, arg := range t.Args {
				collectDeps(arg, deps)
			}
		}
	}
}

// DependsOn reports whether formula reads any of refs. Ranges are matched
// by their bounds without being expanded.
func DependsOn(formula string, refs ...types.CellRef) bool {
	if len(refs) == 0 {
		return false
	}
	tokens, err := Tokenize(formula)
	if err != nil {
		return false
	}
	return reads(tokens, refs)
}

func reads(tokens []Token, refs []types.CellRef) bool {
	for _, t := range tokens {
		switch t.Type {
		case TokenCell:
			if slices.Contains(refs, t.Ref) {
				return true
			}
		case TokenRange:
			for _, ref := range refs {
				if inRange(t, ref) {
					return true
				}
			}
		case TokenFunction:
			for _, arg := range t.Args {
				if reads(arg, refs) {
					return true
				}
			}
		}
	}
	return false
}

// inRange reports whether ref lies inside the range token t, whose corners
// may be given in any order.
func inRange(t Token, ref types.CellRef) bool {
	c := types.ColumnIDToIndex(ref.Col)
	c0 := min(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
	c1 := max(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
	return ref.Row >= min(t.Ref.Row, t.End.Row) && ref.Row <= max(t.Ref.Row, t.End.Row) &&
		c >= c0 && c <= c1
}
