package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/export"
	"github.com/mesh-intelligence/gridstore/internal/formula"
)

var exportCmd = &cobra.Command{
	Use:   "export <sheet> <file.jsonl>",
	Short: "Write every row as a JSON array with formulas evaluated",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rows, closeFn, err := openRows()
		if err != nil {
			return err
		}
		defer closeFn()

		sheet, err := findSheet(ctx, rows.Backend(), args[0])
		if err != nil {
			return err
		}
		table, err := export.Rows(ctx, rows, sheet.ID)
		if err != nil {
			return err
		}
		formula.Recompute(table.Rows)
		if err := table.WriteJSONL(args[1]); err != nil {
			return fmt.Errorf("exporting %s: %w", sheet.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", sheet.RowCount, args[1])
		return nil
	},
}
