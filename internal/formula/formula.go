// Package formula evaluates spreadsheet formulas against a cell accessor.
//
// Expressions are reduced strictly left to right with no operator
// precedence: "=1+2*3" is 9. Failures never escape as Go errors; they
// become sentinel error values such as "#DIV/0!".
package formula

import (
	"strings"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Code is a sentinel error result.
type Code string

// Error codes.
const (
	ErrDivZero Code = "#DIV/0!"
	ErrValue   Code = "#VALUE!"
	ErrRef     Code = "#REF!"
	ErrName    Code = "#NAME?"
	ErrGeneric Code = "#ERROR!"
)

var knownCodes = map[string]Code{
	string(ErrDivZero): ErrDivZero,
	string(ErrValue):   ErrValue,
	string(ErrRef):     ErrRef,
	string(ErrName):    ErrName,
	string(ErrGeneric): ErrGeneric,
}

// CellGetter returns the cell at a zero-based row and column ID. Cells the
// caller does not hold read as absent.
type CellGetter func(row int, col string) (types.CellValue, bool)

// IsFormula reports whether text is formula source.
func IsFormula(text string) bool {
	return strings.HasPrefix(text, "=")
}

// Evaluate computes formula and returns the cell to store: the formula
// source with its computed value and type hint.
func Evaluate(formula string, get CellGetter) (out types.CellValue) {
	defer func() {
		if recover() != nil {
			out = types.CellValue{V: string(ErrGeneric), F: formula, T: types.TypeError}
		}
	}()

	tokens, err := Tokenize(formula)
	if err != nil {
		return types.CellValue{V: string(ErrGeneric), F: formula, T: types.TypeError}
	}
	e := &evaluator{get: get}
	return result(formula, e.expr(tokens))
}

func result(formula string, v any) types.CellValue {
	cv := types.CellValue{F: formula}
	switch x := v.(type) {
	case Code:
		cv.V, cv.T = string(x), types.TypeError
	case float64:
		cv.V, cv.T = x, types.TypeNumber
	case bool:
		cv.V, cv.T = x, types.TypeBool
	case string:
		cv.V, cv.T = x, types.TypeString
	}
	return cv
}

type evaluator struct {
	get CellGetter
}

// expr reduces tokens left to right. Each term may carry a leading sign.
// Reduction stops at the first token that is not an operator followed by
// a term.
func (e *evaluator) expr(tokens []Token) any {
	if len(tokens) == 0 {
		return nil
	}
	acc, i := e.term(tokens, 0)
	for i < len(tokens) {
		op := tokens[i]
		if op.Type != TokenOperator || i+1 >= len(tokens) {
			break
		}
		var right any
		right, i = e.term(tokens, i+1)
		acc = apply(acc, op.Text, right)
	}
	return acc
}

// term evaluates the term at i, applying any sign operators before it,
// and returns the index after it.
func (e *evaluator) term(tokens []Token, i int) (any, int) {
	negate := false
	for i < len(tokens) && tokens[i].Type == TokenOperator && (tokens[i].Text == "-" || tokens[i].Text == "+") {
		if tokens[i].Text == "-" {
			negate = !negate
		}
		i++
	}
	if i >= len(tokens) {
		return ErrValue, i
	}
	v := e.token(tokens[i])
	if negate {
		v = apply(0.0, "-", v)
	}
	return v, i + 1
}

func (e *evaluator) token(t Token) any {
	switch t.Type {
	case TokenNumber:
		return t.Num
	case TokenString:
		return t.Text
	case TokenBool:
		return t.Bool
	case TokenCell:
		return e.cell(t.Ref)
	case TokenRange:
		return ErrRef
	case TokenFunction:
		return e.call(t.Text, t.Args)
	}
	return nil
}

// cell returns the scalar stored at ref. Error cells read as their code.
func (e *evaluator) cell(ref types.CellRef) any {
	c, ok := e.get(ref.Row, ref.Col)
	if !ok {
		return nil
	}
	if s, isStr := c.V.(string); isStr && c.IsError() {
		if code, known := knownCodes[s]; known {
			return code
		}
		return ErrGeneric
	}
	return c.V
}

// cells flattens a range row by row, then column by column. The corners
// may be given in any order.
func (e *evaluator) cells(t Token) []any {
	r0, r1 := min(t.Ref.Row, t.End.Row), max(t.Ref.Row, t.End.Row)
	c0 := min(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
	c1 := max(types.ColumnIDToIndex(t.Ref.Col), types.ColumnIDToIndex(t.End.Col))
	out := make([]any, 0, (r1-r0+1)*(c1-c0+1))
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			out = append(out, e.cell(types.CellRef{Col: types.ColumnIndexToID(c), Row: r}))
		}
	}
	return out
}

// apply combines two operands. Error operands win. A "+" with a
// non-numeric operand concatenates; other operators yield #VALUE!.
func apply(left any, op string, right any) any {
	if c, ok := left.(Code); ok {
		return c
	}
	if c, ok := right.(Code); ok {
		return c
	}
	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		if op == "+" {
			return types.FormatScalar(left) + types.FormatScalar(right)
		}
		return ErrValue
	}
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return ErrDivZero
		}
		return l / r
	}
	return ErrValue
}

// toNumber coerces an operand for arithmetic. Empty is 0, booleans are 1
// and 0, and strings convert only in plain numeric form.
func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		return types.ParseNumber(x)
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case float64:
		return x != 0
	case bool:
		return x
	case string:
		return x != ""
	}
	return false
}
