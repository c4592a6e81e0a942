package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// opValidate checks operation payloads before they reach the patch log.
var opValidate *validator.Validate

func init() {
	opValidate = validator.New()
	_ = opValidate.RegisterValidation("colid", validateColumnID)
	_ = opValidate.RegisterValidation("celltype", validateCellType)
}

func validateColumnID(fl validator.FieldLevel) bool {
	return IsColumnID(fl.Field().String())
}

func validateCellType(fl validator.FieldLevel) bool {
	return CellType(fl.Field().String()).Valid()
}

// ValidateOperation checks that op is well formed. It does not check op
// against any sheet state. Failures wrap ErrInvalidOperation.
func ValidateOperation(op Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	if err := opValidate.Struct(op); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOperation, op.Kind(), err)
	}
	if err := checkOperation(op); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOperation, op.Kind(), err)
	}
	return nil
}

func checkOperation(op Operation) error {
	switch o := op.(type) {
	case SetCell:
		return checkCell(o.Value)
	case SetCells:
		for _, c := range o.Cells {
			if err := checkCell(c.Value); err != nil {
				return err
			}
		}
	case InsertRows:
		if len(o.Rows) != 0 && len(o.Rows) != o.Count {
			return fmt.Errorf("%d rows supplied for count %d", len(o.Rows), o.Count)
		}
		for _, row := range o.Rows {
			if err := checkRow(row, nil); err != nil {
				return err
			}
		}
	case InsertColumns:
		ids := make(map[string]bool, len(o.Columns))
		for _, c := range o.Columns {
			if ids[c.ID] {
				return fmt.Errorf("duplicate column %s", c.ID)
			}
			ids[c.ID] = true
		}
		for r, row := range o.Data {
			if r < 0 {
				return fmt.Errorf("negative row %d", r)
			}
			if err := checkRow(row, ids); err != nil {
				return err
			}
		}
	case DeleteColumns:
		return checkUnique(o.ColumnIDs)
	case ReorderColumns:
		return checkUnique(o.Order)
	}
	return nil
}

func checkCell(v CellValue) error {
	if !v.T.Valid() {
		return fmt.Errorf("unknown type hint %q", v.T)
	}
	switch v.V.(type) {
	case nil, float64, string, bool:
		return nil
	}
	return fmt.Errorf("unsupported value type %T", v.V)
}

// checkRow validates every cell of row. When allowed is non-nil the row may
// only reference those columns.
func checkRow(row RowData, allowed map[string]bool) error {
	for col, v := range row {
		if !IsColumnID(col) {
			return fmt.Errorf("bad column id %q", col)
		}
		if allowed != nil && !allowed[col] {
			return fmt.Errorf("column %s is not being inserted", col)
		}
		if err := checkCell(v); err != nil {
			return err
		}
	}
	return nil
}

func checkUnique(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("duplicate column %s", id)
		}
		seen[id] = true
	}
	return nil
}
