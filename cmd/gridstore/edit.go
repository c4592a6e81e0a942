package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/compaction"
	"github.com/mesh-intelligence/gridstore/internal/session"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const editHelp = `commands (rows are 1-based):
  view <row> [count]        print rows
  goto <cell>               move the cursor
  set <cell> <text>         write a cell; text starting with = is a formula
  clear <cell>              empty a cell
  insert-rows <row> [n]     insert n empty rows before row
  delete-rows <row> [n]     delete n rows starting at row
  insert-col <position>     insert a column at a 1-based display position
  delete-col <id>...        delete columns
  resize <id> <width>       set a column width
  reorder <id,id,...>       set the column display order
  undo | redo
  compact                   compact now
  status
  quit`

var editCmd = &cobra.Command{
	Use:   "edit <sheet>",
	Short: "Edit a sheet interactively with undo and redo",
	Long: `Edit opens a sheet in an editing session and reads commands from stdin.
History lasts for the session. Compaction starts in the background once the
patch log reaches the configured threshold.

` + editHelp,
	Args: cobra.ExactArgs(1),
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
		s := session.New(rows, cfg, slog.Default())
		if err := s.LoadSheet(ctx, sheet.ID); err != nil {
			return err
		}
		if err := s.LoadViewport(ctx, 0, cfg.ViewportBuffer); err != nil {
			return err
		}

		r := &repl{s: s, out: cmd.OutOrStdout()}
		defer r.wait()
		return r.run(ctx, cmd.InOrStdin())
	},
}

// repl drives a session from line commands.
type repl struct {
	s          *session.Session
	out        io.Writer
	compacting atomic.Bool
	wg         sync.WaitGroup
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintf(r.out, "editing %s, type help for commands\n", r.s.Sheet().Name)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, rest, _ := strings.Cut(line, " ")
		if name == "quit" || name == "exit" {
			return nil
		}
		mutated, err := r.exec(ctx, name, strings.TrimSpace(rest))
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
			continue
		}
		if mutated {
			r.maybeCompact(ctx)
		}
	}
}

// exec runs one command and reports whether it changed the sheet.
func (r *repl) exec(ctx context.Context, name, rest string) (bool, error) {
	args := strings.Fields(rest)
	switch name {
	case "help":
		fmt.Fprintln(r.out, editHelp)
		return false, nil

	case "status":
		snap := r.s.Snapshot()
		fmt.Fprintf(r.out, "%s: %d rows, %d columns, undo %d, redo %d\n",
			snap.Sheet.Name, snap.Sheet.RowCount, snap.Sheet.ColumnCount, snap.UndoDepth, snap.RedoDepth)
		if snap.Active != nil {
			fmt.Fprintln(r.out, "cursor:", snap.Active)
		}
		return false, nil

	case "view":
		row, count, err := rowArgs(args, 20)
		if err != nil {
			return false, err
		}
		return false, r.view(ctx, row, count)

	case "goto":
		if len(args) != 1 {
			return false, errUsage
		}
		ref, err := parseRef(args[0])
		if err != nil {
			return false, err
		}
		if err := r.s.LoadViewport(ctx, ref.Row, ref.Row); err != nil {
			return false, err
		}
		return false, r.s.SetActiveCell(ctx, ref.Row, ref.Col)

	case "set", "clear":
		cell, text, _ := strings.Cut(rest, " ")
		ref, err := parseRef(cell)
		if err != nil {
			return false, err
		}
		if name == "clear" {
			text = ""
		}
		if err := r.s.LoadViewport(ctx, ref.Row, ref.Row); err != nil {
			return false, err
		}
		if err := editCell(ctx, r.s, ref.Row, ref.Col, text); err != nil {
			return false, err
		}
		got, _ := r.s.Cell(ref.Row, ref.Col)
		fmt.Fprintf(r.out, "%s = %s\n", ref, formatCell(got))
		return true, nil

	case "insert-rows", "delete-rows":
		row, count, err := rowArgs(args, 1)
		if err != nil {
			return false, err
		}
		if name == "insert-rows" {
			return true, r.s.InsertRows(ctx, row, count)
		}
		return true, r.s.DeleteRows(ctx, row, count)

	case "insert-col":
		if len(args) != 1 {
			return false, errUsage
		}
		pos, err := strconv.Atoi(args[0])
		if err != nil || pos < 1 {
			return false, fmt.Errorf("position %q: %w", args[0], errUsage)
		}
		id, err := r.s.InsertColumn(ctx, pos-1)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "inserted column", id)
		return true, nil

	case "delete-col":
		if len(args) == 0 {
			return false, errUsage
		}
		return true, r.s.DeleteColumns(ctx, upper(args)...)

	case "resize":
		if len(args) != 2 {
			return false, errUsage
		}
		width, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("width %q: %w", args[1], errUsage)
		}
		return true, r.s.ResizeColumn(ctx, strings.ToUpper(args[0]), width)

	case "reorder":
		if len(args) != 1 {
			return false, errUsage
		}
		return true, r.s.ReorderColumns(ctx, upper(strings.Split(args[0], ",")))

	case "undo":
		return true, r.s.Undo(ctx)

	case "redo":
		return true, r.s.Redo(ctx)

	case "compact":
		res, err := r.s.Compact(ctx, nil)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "removed %d patches, wrote %d chunks\n", res.PatchesRemoved, res.ChunksWritten)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q: %w", name, errUsage)
}

func (r *repl) view(ctx context.Context, row, count int) error {
	end := row + count - 1
	if err := r.s.LoadViewport(ctx, row, end); err != nil {
		return err
	}
	snap := r.s.Snapshot()
	end = min(end, snap.Sheet.RowCount-1)
	return writeGrid(r.out, snap.Sheet, func(i int) types.RowData { return snap.Rows[i] }, row, end)
}

// maybeCompact starts a background compaction when one is due and none is
// running.
func (r *repl) maybeCompact(ctx context.Context) {
	due, n, err := r.s.CompactionDue(ctx)
	if err != nil || !due || !r.compacting.CompareAndSwap(false, true) {
		return
	}
	ch, err := r.s.StartCompaction(ctx)
	if err != nil {
		r.compacting.Store(false)
		return
	}
	slog.Info("starting background compaction", slog.Int("patches", n))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.compacting.Store(false)
		for m := range ch {
			switch m.Type {
			case compaction.MessageProgress:
				slog.Debug("compacting", slog.Int("progress", m.Progress))
			case compaction.MessageError:
				slog.Error("background compaction failed", slog.Any("error", m.Err))
			case compaction.MessageDone:
				slog.Info("background compaction done", slog.Int("patches_removed", m.Result.PatchesRemoved))
			}
		}
	}()
}

func (r *repl) wait() {
	r.wg.Wait()
}

// editCell writes text to a cell through the session's editor so formulas
// are evaluated the same way an interactive edit would.
func editCell(ctx context.Context, s *session.Session, row int, col, text string) error {
	if err := s.SetActiveCell(ctx, row, col); err != nil {
		return err
	}
	if err := s.StartEditing(); err != nil {
		return err
	}
	if err := s.SetEditValue(text); err != nil {
		return err
	}
	if err := s.CommitEdit(ctx); err != nil {
		s.CancelEditing()
		return err
	}
	return nil
}

// rowArgs parses "<row> [count]" with a 1-based row.
func rowArgs(args []string, defCount int) (row, count int, err error) {
	if len(args) == 0 || len(args) > 2 {
		return 0, 0, errUsage
	}
	row, err = strconv.Atoi(args[0])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("row %q: %w", args[0], errUsage)
	}
	count = defCount
	if len(args) == 2 {
		count, err = strconv.Atoi(args[1])
		if err != nil || count < 1 {
			return 0, 0, fmt.Errorf("count %q: %w", args[1], errUsage)
		}
	}
	return row - 1, count, nil
}

func upper(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.ToUpper(strings.TrimSpace(id))
	}
	return out
}
