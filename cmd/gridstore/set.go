package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/session"
)

var setCmd = &cobra.Command{
	Use:   "set <sheet> <cell> <value>",
	Short: "Write one cell; values starting with = are formulas",
	Example: `  gridstore set budget B4 1250
  gridstore set budget B10 "=SUM(B1:B9)"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ref, err := parseRef(args[1])
		if err != nil {
			return err
		}
		rows, closeFn, err := openRows()
		if err != nil {
			return err
		}
		defer closeFn()

		sheet, err := findSheet(ctx, rows.Backend(), args[0])
		if err != nil {
			return err
		}
		s := session.New(rows, cfg, slog.Default())
		if err := s.LoadSheet(ctx, sheet.ID); err != nil {
			return err
		}
		if err := s.LoadViewport(ctx, ref.Row, ref.Row); err != nil {
			return err
		}
		if err := editCell(ctx, s, ref.Row, ref.Col, args[2]); err != nil {
			return err
		}

		cell, _ := s.Cell(ref.Row, ref.Col)
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), cell)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", ref, formatCell(cell))
		return nil
	},
}
