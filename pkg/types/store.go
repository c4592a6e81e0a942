package types

import (
	"context"
	"errors"
	"fmt"
)

// Store is the durable substrate for sheets, chunks, and patches. Backends
// implement it on top of an embedded database; every data method takes a
// context and returns ErrStoreDetached once Detach has been called.
type Store interface {
	// Attach opens the backend described by config.
	// Returns ErrAlreadyAttached if the store is already attached.
	Attach(config Config) error

	// Detach releases all resources. Detach is idempotent.
	Detach() error

	// GetSheet returns the sheet with the given ID or ErrSheetNotFound.
	GetSheet(ctx context.Context, id string) (*Sheet, error)

	// PutSheet creates or replaces a sheet record.
	PutSheet(ctx context.Context, sheet *Sheet) error

	// ListSheets returns all sheets ordered by creation time.
	ListSheets(ctx context.Context) ([]*Sheet, error)

	// DeleteSheet removes the sheet, all of its chunks, and all of its
	// patches in one transaction. Returns ErrSheetNotFound if absent.
	DeleteSheet(ctx context.Context, id string) error

	// GetChunk returns a stored chunk or ErrChunkNotFound.
	GetChunk(ctx context.Context, sheetID string, index int) (*Chunk, error)

	// GetChunksInRange returns the stored chunks with first <= index <= last,
	// ordered by index. Absent chunks are simply missing from the result.
	GetChunksInRange(ctx context.Context, sheetID string, first, last int) ([]*Chunk, error)

	// PutChunks writes all chunks atomically. A chunk is written only if
	// the stored version still equals chunk.Version (0 for a chunk that
	// does not exist yet); otherwise nothing is written and the error wraps
	// ErrVersionConflict. On success every chunk's Version is incremented.
	PutChunks(ctx context.Context, chunks ...*Chunk) error

	// AppendPatch stores a patch and returns its assigned monotonic ID.
	AppendPatch(ctx context.Context, patch *PatchRecord) (int64, error)

	// GetPatch returns the patch with the given ID or ErrPatchNotFound.
	GetPatch(ctx context.Context, id int64) (*PatchRecord, error)

	// ListPatches returns all patches of a sheet ordered by ID.
	ListPatches(ctx context.Context, sheetID string) ([]*PatchRecord, error)

	// CountPatches returns the number of patches stored for a sheet.
	CountPatches(ctx context.Context, sheetID string) (int, error)

	// SetPatchUndone flags whether a patch's inverse is the applied state.
	SetPatchUndone(ctx context.Context, id int64, undone bool) error

	// DeletePatches removes the given patch IDs atomically. Unknown IDs are
	// ignored.
	DeletePatches(ctx context.Context, ids ...int64) error
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// Lookup errors. The specific errors wrap ErrNotFound so callers can check
// either.
var (
	ErrNotFound      = errors.New("not found")
	ErrSheetNotFound = fmt.Errorf("sheet %w", ErrNotFound)
	ErrChunkNotFound = fmt.Errorf("chunk %w", ErrNotFound)
	ErrPatchNotFound = fmt.Errorf("patch %w", ErrNotFound)
)

// Mutation errors.
var (
	ErrVersionConflict    = errors.New("chunk version conflict")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrInvalidID          = errors.New("invalid ID")
	ErrInvalidColumn      = errors.New("invalid column")
	ErrRowOutOfRange      = errors.New("row out of range")
	ErrUnknownOperation   = errors.New("unknown operation kind")
	ErrCorruptRecord      = errors.New("corrupt record")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrNothingToRedo      = errors.New("nothing to redo")
	ErrNoSheetLoaded      = errors.New("no sheet loaded")
	ErrNotEditing         = errors.New("no cell is being edited")
	ErrInvalidPermutation = errors.New("column order is not a permutation")
)
