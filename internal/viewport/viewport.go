// Package viewport keeps the rows around the visible window of a sheet in
// memory.
//
// Rows are fetched a whole chunk at a time and tracked by chunk index. A
// load widens the requested window by a buffer, fetches only chunks that
// are not resident, and evicts chunks far outside the window.
package viewport

import (
	"context"
	"log/slog"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/gridstore/internal/rowstore"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

var (
	chunksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "viewport",
		Name:      "chunks_fetched_total",
		Help:      "Chunks loaded into viewports.",
	})
	chunksEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridstore",
		Subsystem: "viewport",
		Name:      "chunks_evicted_total",
		Help:      "Chunks dropped from viewports.",
	})
)

// Viewport is the resident row window of one sheet. It is not safe for
// concurrent use; the owning session serializes access.
type Viewport struct {
	rows        *rowstore.Store
	sheetID     string
	rowCount    int
	buffer      int
	maxResident int
	logger      *slog.Logger

	data     map[int]types.RowData
	resident map[int]bool

	// start and end are the last requested window, before buffering.
	start, end int
}

// New returns an empty viewport over a sheet of rowCount rows. Buffer and
// resident row ceiling come from cfg.
func New(rows *rowstore.Store, sheetID string, rowCount int, cfg types.Config, logger *slog.Logger) *Viewport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	return &Viewport{
		rows:        rows,
		sheetID:     sheetID,
		rowCount:    rowCount,
		buffer:      cfg.ViewportBuffer,
		maxResident: cfg.MaxResidentRows,
		logger:      logger,
		data:        make(map[int]types.RowData),
		resident:    make(map[int]bool),
		end:         -1,
	}
}

// Load makes rows [start, end] plus the buffer resident and evicts chunks
// more than twice the buffer outside that buffered window.
func (v *Viewport) Load(ctx context.Context, start, end int) error {
	if end < start {
		start, end = end, start
	}
	v.start, v.end = start, end
	if v.rowCount == 0 {
		v.Evict(start, end)
		return nil
	}

	lo := max(0, start-v.buffer)
	hi := min(v.rowCount-1, end+v.buffer)
	if lo <= hi {
		if err := v.fetch(ctx, lo, hi); err != nil {
			return err
		}
	}

	v.Evict(lo, hi)
	if n := len(v.data); n > v.maxResident {
		v.logger.Warn("viewport above resident row ceiling",
			slog.String("sheet_id", v.sheetID), slog.Int("rows", n), slog.Int("ceiling", v.maxResident))
	}
	return nil
}

// fetch loads the non-resident chunks covering [lo, hi] with one range
// read and merges their rows.
func (v *Viewport) fetch(ctx context.Context, lo, hi int) error {
	first, last := types.ChunkRange(lo, hi)
	var missing []int
	for i := first; i <= last; i++ {
		if !v.resident[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	from := missing[0] * types.ChunkSize
	to := (missing[len(missing)-1]+1)*types.ChunkSize - 1
	rows, err := v.rows.GetRows(ctx, v.sheetID, from, to)
	if err != nil {
		return err
	}
	for r, row := range rows {
		if !v.resident[types.ChunkIndex(r)] {
			v.data[r] = row
		}
	}
	for _, i := range missing {
		v.resident[i] = true
	}
	chunksFetched.Add(float64(len(missing)))
	v.logger.Debug("viewport chunks loaded",
		slog.String("sheet_id", v.sheetID), slog.Int("first", missing[0]), slog.Int("count", len(missing)))
	return nil
}

// Evict drops resident chunks outside
// [ChunkIndex(start-2*buffer), ChunkIndex(end+2*buffer)] and returns how
// many were dropped.
func (v *Viewport) Evict(start, end int) int {
	keepFirst := types.ChunkIndex(max(0, start-2*v.buffer))
	keepLast := types.ChunkIndex(max(0, end+2*v.buffer))
	var dropped int
	for i := range v.resident {
		if i >= keepFirst && i <= keepLast {
			continue
		}
		delete(v.resident, i)
		dropped++
	}
	if dropped == 0 {
		return 0
	}
	for r := range v.data {
		if !v.resident[types.ChunkIndex(r)] {
			delete(v.data, r)
		}
	}
	chunksEvicted.Add(float64(dropped))
	return dropped
}

// Cell returns a resident cell.
func (v *Viewport) Cell(row int, col string) (types.CellValue, bool) {
	c, ok := v.data[row][col]
	return c, ok
}

// Row returns a resident row or nil.
func (v *Viewport) Row(row int) types.RowData {
	return v.data[row]
}

// Set writes a cell locally and returns the value it replaced. An empty
// value removes the cell.
func (v *Viewport) Set(row int, col string, val types.CellValue) types.CellValue {
	prev := v.data[row][col]
	v.Restore(row, col, val)
	return prev
}

// Restore puts back a value returned by Set.
func (v *Viewport) Restore(row int, col string, val types.CellValue) {
	r := v.data[row]
	if val.IsEmpty() {
		if r == nil {
			return
		}
		delete(r, col)
		if len(r) == 0 {
			delete(v.data, row)
		}
		return
	}
	if r == nil {
		r = make(types.RowData)
		v.data[row] = r
	}
	r[col] = val
}

// Rows returns the live resident row map. Callers may update cells in
// place.
func (v *Viewport) Rows() map[int]types.RowData {
	return v.data
}

// Resident returns the resident chunk indices in ascending order.
func (v *Viewport) Resident() []int {
	out := make([]int, 0, len(v.resident))
	for i := range v.resident {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Window returns the last requested window.
func (v *Viewport) Window() (start, end int) {
	return v.start, v.end
}

// Size returns the number of resident non-empty rows.
func (v *Viewport) Size() int {
	return len(v.data)
}

// RowCount returns the sheet row count the viewport clamps to.
func (v *Viewport) RowCount() int {
	return v.rowCount
}

// SetRowCount updates the row count after rows are inserted or deleted.
func (v *Viewport) SetRowCount(n int) {
	v.rowCount = n
}

// Reset drops every resident row.
func (v *Viewport) Reset() {
	v.data = make(map[int]types.RowData)
	v.resident = make(map[int]bool)
}

// Reload drops all resident rows and loads the last window again.
func (v *Viewport) Reload(ctx context.Context) error {
	v.Reset()
	if v.end < v.start {
		return nil
	}
	return v.Load(ctx, v.start, v.end)
}
