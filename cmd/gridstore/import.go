package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/importer"
)

var flagImportName string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a .csv, .xlsx, or .jsonl file as a new sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		src, err := importer.OpenFile(path)
		if err != nil {
			return err
		}
		name := flagImportName
		if name == "" {
			name = importer.SheetName(path)
		}

		rows, closeFn, err := openRows()
		if err != nil {
			src.Close()
			return err
		}
		defer closeFn()

		im := importer.New(rows, slog.Default())
		for m := range im.Start(cmd.Context(), name, src) {
			switch m.Type {
			case importer.MessageProgress:
				slog.Info("importing", slog.String("file", path), slog.Int("progress", m.Progress))
			case importer.MessageError:
				return fmt.Errorf("importing %s: %w", path, m.Err)
			case importer.MessageDone:
				if flagJSON {
					return printJSON(cmd.OutOrStdout(), m.Sheet)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s as %s (%d rows, %d columns)\n",
					path, m.Sheet.ID, m.Sheet.RowCount, m.Sheet.ColumnCount)
			}
		}
		return cmd.Context().Err()
	},
}

func init() {
	importCmd.Flags().StringVar(&flagImportName, "name", "", "sheet name (default: file name without extension)")
}
