package formula

import (
	"strings"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// call dispatches a function by its upper-cased name.
func (e *evaluator) call(name string, args [][]Token) any {
	switch name {
	case "SUM":
		return e.sum(args)
	case "AVG", "AVERAGE":
		return e.average(args)
	case "COUNT":
		return e.count(args)
	case "MIN":
		return e.extreme(args, func(a, b float64) bool { return a < b })
	case "MAX":
		return e.extreme(args, func(a, b float64) bool { return a > b })
	case "IF":
		return e.ifFn(args)
	case "CONCAT", "CONCATENATE":
		return e.concat(args)
	}
	return ErrName
}

// operands expands function arguments into scalars.
func (e *evaluator) operands(args [][]Token) []any {
	var out []any
	for _, arg := range args {
		vals, _ := e.argValues(arg)
		out = append(out, vals...)
	}
	return out
}

// argValues expands one function argument. A lone cell or range yields its
// stored values and reports stored; any other argument is evaluated as an
// expression.
func (e *evaluator) argValues(arg []Token) (vals []any, stored bool) {
	if len(arg) == 1 {
		switch arg[0].Type {
		case TokenRange:
			return e.cells(arg[0]), true
		case TokenCell:
			return []any{e.cell(arg[0].Ref)}, true
		}
	}
	return []any{e.expr(arg)}, false
}

// numbers collects the numeric operands. Numbers and strings in numeric
// form count; empty cells, booleans, other text, and error cells are
// skipped. An error computed by an expression argument is returned.
func (e *evaluator) numbers(args [][]Token) ([]float64, Code) {
	var out []float64
	for _, arg := range args {
		vals, stored := e.argValues(arg)
		for _, v := range vals {
			switch x := v.(type) {
			case Code:
				if !stored {
					return nil, x
				}
			case float64:
				out = append(out, x)
			case string:
				if f, ok := types.ParseNumber(x); ok {
					out = append(out, f)
				}
			}
		}
	}
	return out, ""
}

func (e *evaluator) sum(args [][]Token) any {
	nums, code := e.numbers(args)
	if code != "" {
		return code
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

func (e *evaluator) average(args [][]Token) any {
	nums, code := e.numbers(args)
	if code != "" {
		return code
	}
	if len(nums) == 0 {
		return ErrDivZero
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums))
}

// count counts numeric values only; numeric text does not count.
func (e *evaluator) count(args [][]Token) any {
	var n float64
	for _, v := range e.operands(args) {
		if _, ok := v.(float64); ok {
			n++
		}
	}
	return n
}

func (e *evaluator) extreme(args [][]Token, better func(a, b float64) bool) any {
	nums, code := e.numbers(args)
	if code != "" {
		return code
	}
	if len(nums) == 0 {
		return ErrValue
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if better(n, best) {
			best = n
		}
	}
	return best
}

func (e *evaluator) ifFn(args [][]Token) any {
	if len(args) < 2 {
		return ErrValue
	}
	cond := e.expr(args[0])
	if c, ok := cond.(Code); ok {
		return c
	}
	if truthy(cond) {
		return e.expr(args[1])
	}
	if len(args) > 2 {
		return e.expr(args[2])
	}
	return false
}

func (e *evaluator) concat(args [][]Token) any {
	var b strings.Builder
	for _, v := range e.operands(args) {
		if c, ok := v.(Code); ok {
			return c
		}
		b.WriteString(types.FormatScalar(v))
	}
	return b.String()
}
