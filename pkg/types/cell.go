package types

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CellType is the type hint stored with a cell value. For formula cells it
// describes the computed result, not the formula text.
type CellType string

// Cell type hints.
const (
	TypeNumber CellType = "n"
	TypeString CellType = "s"
	TypeBool   CellType = "b"
	TypeDate   CellType = "d"
	TypeError  CellType = "e"
)

// Valid reports whether t is empty or one of the known type hints.
func (t CellType) Valid() bool {
	switch t {
	case "", TypeNumber, TypeString, TypeBool, TypeDate, TypeError:
		return true
	}
	return false
}

// CellValue is the content of one cell. V is nil, a float64, a string, or a
// bool. F holds formula source including the leading "=".
type CellValue struct {
	V any      `json:"v" cbor:"v"`
	F string   `json:"f,omitempty" cbor:"f,omitempty"`
	T CellType `json:"t,omitempty" cbor:"t,omitempty" validate:"celltype"`
}

// NumberValue returns a numeric cell.
func NumberValue(f float64) CellValue {
	return CellValue{V: f, T: TypeNumber}
}

// StringValue returns a text cell.
func StringValue(s string) CellValue {
	return CellValue{V: s, T: TypeString}
}

// BoolValue returns a boolean cell.
func BoolValue(b bool) CellValue {
	return CellValue{V: b, T: TypeBool}
}

// ErrorValue returns an error cell carrying a sentinel code such as "#REF!".
func ErrorValue(code string) CellValue {
	return CellValue{V: code, T: TypeError}
}

// IsEmpty reports whether the cell holds neither a value nor a formula.
// Empty cells are never stored.
func (c CellValue) IsEmpty() bool {
	return c.V == nil && c.F == ""
}

// IsFormula reports whether the cell carries formula source.
func (c CellValue) IsFormula() bool {
	return c.F != ""
}

// IsError reports whether the cell holds a sentinel error value.
func (c CellValue) IsError() bool {
	return c.T == TypeError
}

// Equal compares two cells by value, formula, and type hint.
func (c CellValue) Equal(o CellValue) bool {
	return c.F == o.F && c.T == o.T && c.V == o.V
}

// String renders the value for display and export. Absent values render as
// the empty string.
func (c CellValue) String() string {
	return FormatScalar(c.V)
}

// FormatScalar renders a raw cell value as text.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// RowData is a sparse row: column ID to cell value.
type RowData map[string]CellValue

// Clone returns an independent copy of r. A nil row clones to nil.
func (r RowData) Clone() RowData {
	if r == nil {
		return nil
	}
	out := make(RowData, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether two rows hold the same cells. A nil row equals an
// empty one.
func (r RowData) Equal(o RowData) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

var numericForm = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ParseNumber parses s when it is in plain decimal numeric form, allowing
// surrounding spaces, a sign, a fraction, and an exponent. Hex, NaN, and
// Inf spellings are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericForm.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ClassifyScalar converts a raw decoded value into a cell. The second result
// is false for empty input, which must be omitted from sparse rows.
func ClassifyScalar(v any) (CellValue, bool) {
	switch x := v.(type) {
	case nil:
		return CellValue{}, false
	case bool:
		return BoolValue(x), true
	case float64:
		return NumberValue(x), true
	case float32:
		return NumberValue(float64(x)), true
	case int:
		return NumberValue(float64(x)), true
	case int64:
		return NumberValue(float64(x)), true
	case string:
		return classifyText(x)
	default:
		return CellValue{}, false
	}
}

func classifyText(s string) (CellValue, bool) {
	if s == "" {
		return CellValue{}, false
	}
	if f, ok := ParseNumber(s); ok {
		return NumberValue(f), true
	}
	switch strings.ToLower(s) {
	case "true":
		return BoolValue(true), true
	case "false":
		return BoolValue(false), true
	}
	return StringValue(s), true
}

// ParseInput interprets text typed into a cell editor. Text starting with
// "=" becomes an unevaluated formula cell; empty text clears the cell.
func ParseInput(text string) CellValue {
	if strings.HasPrefix(text, "=") {
		return CellValue{F: text}
	}
	cv, _ := classifyText(text)
	return cv
}
