// Package importer decodes tabular files into a new sheet.
//
// Rows are classified into cells, packed into chunks in row order, and
// each full chunk is written before more rows are read. The sheet record
// is written last, so a sheet is only visible once all of its chunks are
// durable.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// ProgressCap is the highest progress reported before the sheet record is
// written.
const ProgressCap = 95

var rowsImported = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gridstore",
	Subsystem: "importer",
	Name:      "rows_total",
	Help:      "Rows read from imported files.",
})

// MessageType names an import event.
type MessageType string

// Message types.
const (
	MessageProgress MessageType = "progress"
	MessageDone     MessageType = "done"
	MessageError    MessageType = "error"
)

// Message is one import event. Sheet is set on done and Err on error.
type Message struct {
	Type     MessageType
	Progress int
	Sheet    *types.Sheet
	Err      error
}

// Importer writes imported sheets through a row store.
type Importer struct {
	rows   *rowstore.Store
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New returns an importer. A nil logger uses slog.Default().
func New(rows *rowstore.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		rows:   rows,
		logger: logger,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
	}
}

// Run imports every row of src into a new sheet named name. progress, when
// non-nil, receives progress messages. On failure the chunks already
// written are left in place and no sheet record is created.
func (im *Importer) Run(ctx context.Context, name string, src Source, progress func(Message)) (*types.Sheet, error) {
	report := func(pct int) {
		if progress != nil {
			progress(Message{Type: MessageProgress, Progress: pct})
		}
	}
	report(0)

	id := im.newID()
	log := im.logger.With(slog.String("sheet_id", id))
	chunk := types.NewChunk(id, 0)
	rowCount, colCount := 0, src.Width()

	for {
		vals, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", rowCount+1, err)
		}

		if rowCount > 0 && types.RowOffset(rowCount) == 0 {
			if err := im.flush(ctx, chunk); err != nil {
				return nil, err
			}
			report(min(ProgressCap, int(src.Progress()*100)))
			chunk = types.NewChunk(id, types.ChunkIndex(rowCount))
		}

		colCount = max(colCount, len(vals))
		chunk.SetRow(rowCount, classifyRow(vals))
		rowCount++
	}
	if rowCount > 0 {
		if err := im.flush(ctx, chunk); err != nil {
			return nil, err
		}
	}
	report(ProgressCap)
	rowsImported.Add(float64(rowCount))

	now := im.now().UTC()
	sheet := &types.Sheet{
		ID:              id,
		Name:            name,
		RowCount:        rowCount,
		ColumnCount:     colCount,
		Columns:         types.DefaultColumns(colCount),
		NextColumnIndex: colCount,
		FileSize:        src.Size(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := im.rows.Backend().PutSheet(ctx, sheet); err != nil {
		return nil, fmt.Errorf("saving sheet %s: %w", id, err)
	}
	report(100)
	log.Info("sheet imported", slog.String("name", name), slog.Int("rows", rowCount), slog.Int("columns", colCount))
	return sheet, nil
}

func (im *Importer) flush(ctx context.Context, c *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := im.rows.WriteChunk(ctx, c); err != nil {
		return fmt.Errorf("writing chunk %d: %w", c.Index, err)
	}
	return nil
}

// classifyRow builds a sparse row from positional scalars. Empty values
// are dropped.
func classifyRow(vals []any) types.RowData {
	var row types.RowData
	for i, v := range vals {
		cv, ok := classify(v)
		if !ok {
			continue
		}
		if row == nil {
			row = make(types.RowData, len(vals))
		}
		row[types.ColumnIndexToID(i)] = cv
	}
	return row
}

func classify(v any) (types.CellValue, bool) {
	f, ok := v.(Formula)
	if !ok {
		return types.ClassifyScalar(v)
	}
	cv, _ := types.ClassifyScalar(f.Cached)
	cv.F = f.Source
	return cv, true
}

// Start runs Run in a goroutine and closes the returned channel after the
// final done or error message. src is closed when the run ends.
func (im *Importer) Start(ctx context.Context, name string, src Source) <-chan Message {
	out := make(chan Message, 8)
	go func() {
		defer close(out)
		defer src.Close()
		send := func(m Message) {
			select {
			case out <- m:
			case <-ctx.Done():
			}
		}
		sheet, err := im.Run(ctx, name, src, send)
		if err != nil {
			send(Message{Type: MessageError, Err: err})
			return
		}
		send(Message{Type: MessageDone, Progress: 100, Sheet: sheet})
	}()
	return out
}

// ImportFile imports a .csv, .xlsx, or .jsonl file. The sheet is named
// after the file without its extension.
func (im *Importer) ImportFile(ctx context.Context, path string, progress func(Message)) (*types.Sheet, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return im.Run(ctx, SheetName(path), src, progress)
}

// SheetName derives a sheet name from a file path.
func SheetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
