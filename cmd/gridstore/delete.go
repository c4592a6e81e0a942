package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <sheet>",
	Short: "Delete a sheet with its rows and history",
	Args:  cobra.ExactArgs(1),
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
		if err := rows.Backend().DeleteSheet(ctx, sheet.ID); err != nil {
			return fmt.Errorf("deleting %s: %w", sheet.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", sheet.Name, sheet.ID)
		return nil
	},
}
