package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "List stored sheets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, closeFn, err := openRows()
		if err != nil {
			return err
		}
		defer closeFn()

		sheets, err := rows.Backend().ListSheets(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing sheets: %w", err)
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), sheets)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tROWS\tCOLUMNS\tUPDATED")
		for _, s := range sheets {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				s.ID, s.Name, s.RowCount, s.ColumnCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}
