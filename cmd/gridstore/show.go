package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/formula"
	"github.com/mesh-intelligence/gridstore/internal/viewport"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

var (
	flagShowFrom int
	flagShowRows int
)

var showCmd = &cobra.Command{
	Use:   "show <sheet>",
	Short: "Print a window of rows with formulas evaluated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagShowFrom < 1 || flagShowRows < 1 {
			return fmt.Errorf("--from and --rows must be positive: %w", errUsage)
		}
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
		start := flagShowFrom - 1
		end := min(start+flagShowRows, sheet.RowCount) - 1

		v := viewport.New(rows, sheet.ID, sheet.RowCount, cfg, slog.Default())
		if err := v.Load(ctx, start, end); err != nil {
			return err
		}
		formula.Recompute(v.Rows())

		if flagJSON {
			window := make(map[string]types.RowData)
			for r := start; r <= end; r++ {
				if row := v.Row(r); row != nil {
					window[strconv.Itoa(r+1)] = row
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"sheet": sheet, "rows": window})
		}
		return writeGrid(cmd.OutOrStdout(), sheet, v.Row, start, end)
	},
}

func init() {
	showCmd.Flags().IntVar(&flagShowFrom, "from", 1, "first row to print (1-based)")
	showCmd.Flags().IntVar(&flagShowRows, "rows", 20, "number of rows to print")
}

// writeGrid prints rows [start, end] as a table with columns in display
// order.
func writeGrid(w io.Writer, sheet *types.Sheet, rowAt func(int) types.RowData, start, end int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	cols := sheet.OrderedColumns()
	fmt.Fprint(tw, "#")
	for _, c := range cols {
		fmt.Fprint(tw, "\t", c.ID)
	}
	fmt.Fprintln(tw)
	for r := start; r <= end; r++ {
		fmt.Fprint(tw, r+1)
		row := rowAt(r)
		for _, c := range cols {
			fmt.Fprint(tw, "\t", formatCell(row[c.ID]))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
