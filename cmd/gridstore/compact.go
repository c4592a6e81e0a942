package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/gridstore/internal/compaction"
	"github.com/mesh-intelligence/gridstore/internal/patchlog"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

var (
	flagCompactAll  bool
	flagCompactJobs int
	flagCompactDue  bool
)

var compactCmd = &cobra.Command{
	Use:   "compact [sheet...]",
	Short: "Fold cell patches into chunks",
	Long: `Compact replays the cell-level patches of each sheet into its chunks and
deletes them from the patch log. Structural patches are kept. Sheets are
compacted in parallel, at most --jobs at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCompactAll == (len(args) > 0) {
			return fmt.Errorf("name sheets or pass --all: %w", errUsage)
		}
		if flagCompactJobs < 1 {
			return fmt.Errorf("--jobs must be positive: %w", errUsage)
		}
		ctx := cmd.Context()
		rows, closeFn, err := openRows()
		if err != nil {
			return err
		}
		defer closeFn()

		var sheets []*types.Sheet
		if flagCompactAll {
			sheets, err = rows.Backend().ListSheets(ctx)
			if err != nil {
				return fmt.Errorf("listing sheets: %w", err)
			}
		} else {
			for _, ref := range args {
				s, err := findSheet(ctx, rows.Backend(), ref)
				if err != nil {
					return err
				}
				sheets = append(sheets, s)
			}
		}

		engine := compaction.NewEngine(patchlog.New(rows, slog.Default()), cfg, slog.Default())
		results := make([]compaction.Result, len(sheets))
		skipped := make([]bool, len(sheets))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(flagCompactJobs)
		for i, s := range sheets {
			i, s := i, s
			g.Go(func() error {
				if flagCompactDue {
					due, n, err := engine.Check(gctx, s.ID)
					if err != nil {
						return err
					}
					if !due {
						slog.Debug("compaction not due", slog.String("sheet_id", s.ID), slog.Int("patches", n))
						skipped[i] = true
						return nil
					}
				}
				res, err := engine.Compact(gctx, s.ID, func(m compaction.Message) {
					slog.Debug("compacting", slog.String("sheet_id", m.SheetID), slog.Int("progress", m.Progress))
				})
				if err != nil {
					return fmt.Errorf("compacting %s: %w", s.ID, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return reportCompaction(cmd, sheets, results, skipped)
	},
}

func init() {
	compactCmd.Flags().BoolVar(&flagCompactAll, "all", false, "compact every sheet")
	compactCmd.Flags().IntVar(&flagCompactJobs, "jobs", 4, "sheets compacted concurrently")
	compactCmd.Flags().BoolVar(&flagCompactDue, "due", false, "only compact sheets at or over the patch threshold")
}

func reportCompaction(cmd *cobra.Command, sheets []*types.Sheet, results []compaction.Result, skipped []bool) error {
	if flagJSON {
		var out []compaction.Result
		for i, r := range results {
			if !skipped[i] {
				out = append(out, r)
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	for i, s := range sheets {
		if skipped[i] {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not due\n", s.Name)
			continue
		}
		r := results[i]
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d patches, wrote %d chunks\n",
			s.Name, r.PatchesRemoved, r.ChunksWritten)
	}
	return nil
}
