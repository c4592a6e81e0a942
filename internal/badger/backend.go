package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/mesh-intelligence/gridstore/internal/codec"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// DirName is the directory created inside Config.DataDir.
const DirName = "badger"

var patchSeqKey = []byte("seq/patch")

// Compile-time interface check: Backend must implement Store.
var _ types.Store = (*Backend)(nil)

// Backend implements the Store interface on BadgerDB.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	db       *badger.DB
	seq      *badger.Sequence
	gc       *gcRunner
	codec    *codec.Codec
	logger   *slog.Logger
}

// patchValue is the stored form of a PatchRecord.
type patchValue struct {
	SheetID   string `cbor:"s"`
	Operation []byte `cbor:"o"`
	Inverse   []byte `cbor:"i"`
	Undone    bool   `cbor:"u"`
	Timestamp int64  `cbor:"t"`
}

// NewBackend creates a detached badger backend. A nil logger uses
// slog.Default().
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With(slog.String("backend", types.BackendBadger))}
}

// Attach opens the database under config.DataDir, or in memory when
// config.InMemory is set.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	cfg := DefaultConfig()
	if config.InMemory {
		cfg = InMemoryConfig()
	} else {
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		cfg.Path = filepath.Join(dataDir, DirName)
		cfg.SyncWrites = config.SyncWrites
	}
	cfg.Logger = b.logger

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	seq, err := db.GetSequence(patchSeqKey, 100)
	if err != nil {
		db.Close()
		return fmt.Errorf("opening patch sequence: %w", err)
	}
	c, err := codec.New(codec.Options{Compress: config.CompressChunks})
	if err != nil {
		_ = seq.Release()
		db.Close()
		return err
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, b.logger)
		if err != nil {
			c.Close()
			_ = seq.Release()
			db.Close()
			return fmt.Errorf("create GC runner: %w", err)
		}
		b.gc = runner
		runner.start()
	}

	b.db = db
	b.seq = seq
	b.codec = c
	b.attached = true
	return nil
}

// Detach stops background GC and closes the database. Detach is
// idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	if b.gc != nil {
		b.gc.stop()
		b.gc = nil
	}
	var errs []error
	if err := b.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("releasing patch sequence: %w", err))
	}
	b.codec.Close()
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	b.db, b.seq, b.codec = nil, nil, nil
	return errors.Join(errs...)
}

func (b *Backend) acquire() error {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return types.ErrStoreDetached
	}
	return nil
}

func sheetKey(id string) []byte {
	return []byte("s/" + id)
}

func chunkPrefix(sheetID string) []byte {
	return []byte("c/" + sheetID + "/")
}

func chunkKey(sheetID string, index int) []byte {
	return binary.BigEndian.AppendUint32(chunkPrefix(sheetID), uint32(index))
}

func patchKey(id int64) []byte {
	return binary.BigEndian.AppendUint64([]byte("p/"), uint64(id))
}

func sheetPatchPrefix(sheetID string) []byte {
	return []byte("ps/" + sheetID + "/")
}

func sheetPatchKey(sheetID string, id int64) []byte {
	return binary.BigEndian.AppendUint64(sheetPatchPrefix(sheetID), uint64(id))
}

func validID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return types.ErrInvalidID
	}
	return nil
}

// GetSheet returns the sheet with the given ID.
func (b *Backend) GetSheet(ctx context.Context, id string) (*types.Sheet, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	if err := validID(id); err != nil {
		return nil, err
	}
	var s *types.Sheet
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		item, err := txn.Get(sheetKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			s, derr = b.codec.DecodeSheet(val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrSheetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting sheet %s: %w", id, err)
	}
	return s, nil
}

// PutSheet inserts or replaces a sheet record.
func (b *Backend) PutSheet(ctx context.Context, s *types.Sheet) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if s == nil {
		return types.ErrInvalidID
	}
	if err := validID(s.ID); err != nil {
		return err
	}
	data, err := b.codec.EncodeSheet(s)
	if err != nil {
		return err
	}
	return withTxn(ctx, b.db, func(txn *badger.Txn) error {
		return txn.Set(sheetKey(s.ID), data)
	})
}

// ListSheets returns all sheets, oldest first.
func (b *Backend) ListSheets(ctx context.Context) ([]*types.Sheet, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var sheets []*types.Sheet
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		prefix := []byte("s/")
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 16, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				s, err := b.codec.DecodeSheet(val)
				if err != nil {
					return err
				}
				sheets = append(sheets, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w", err)
	}
	sort.SliceStable(sheets, func(i, j int) bool {
		if !sheets[i].CreatedAt.Equal(sheets[j].CreatedAt) {
			return sheets[i].CreatedAt.Before(sheets[j].CreatedAt)
		}
		return sheets[i].ID < sheets[j].ID
	})
	return sheets, nil
}

// DeleteSheet removes the sheet, its chunks, and its patches in one
// transaction.
func (b *Backend) DeleteSheet(ctx context.Context, id string) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if err := validID(id); err != nil {
		return err
	}
	err := withTxn(ctx, b.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(sheetKey(id)); err != nil {
			return err
		}
		var doomed [][]byte
		for _, prefix := range [][]byte{chunkPrefix(id), sheetPatchPrefix(id)} {
			keys, err := collectKeys(txn, prefix)
			if err != nil {
				return err
			}
			doomed = append(doomed, keys...)
		}
		for _, k := range doomed {
			if pid, ok := patchIDFromIndexKey(k, id); ok {
				if err := txn.Delete(patchKey(pid)); err != nil {
					return err
				}
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(sheetKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.ErrSheetNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting sheet %s: %w", id, err)
	}
	return nil
}

// collectKeys returns copies of all keys under prefix.
func collectKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func patchIDFromIndexKey(key []byte, sheetID string) (int64, bool) {
	prefix := sheetPatchPrefix(sheetID)
	if len(key) != len(prefix)+8 || string(key[:len(prefix)]) != string(prefix) {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(prefix):])), true
}

// GetChunk returns a stored chunk or ErrChunkNotFound.
func (b *Backend) GetChunk(ctx context.Context, sheetID string, index int) (*types.Chunk, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var c *types.Chunk
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(sheetID, index))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			c, derr = b.decodeChunk(sheetID, index, val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk %s: %w", types.ChunkID(sheetID, index), err)
	}
	return c, nil
}

// GetChunksInRange returns stored chunks with first <= index <= last.
func (b *Backend) GetChunksInRange(ctx context.Context, sheetID string, first, last int) ([]*types.Chunk, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	if first < 0 {
		first = 0
	}
	var chunks []*types.Chunk
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		prefix := chunkPrefix(sheetID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 8, Prefix: prefix})
		defer it.Close()
		for it.Seek(chunkKey(sheetID, first)); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			index := int(binary.BigEndian.Uint32(key[len(prefix):]))
			if index > last {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				c, err := b.decodeChunk(sheetID, index, val)
				if err != nil {
					return err
				}
				chunks = append(chunks, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning chunks %d-%d of %s: %w", first, last, sheetID, err)
	}
	return chunks, nil
}

// PutChunks writes all chunks in one transaction after checking versions.
// A concurrent transaction touching the same keys surfaces as a version
// conflict.
func (b *Backend) PutChunks(ctx context.Context, chunks ...*types.Chunk) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if len(chunks) == 0 {
		return nil
	}
	err := withTxn(ctx, b.db, func(txn *badger.Txn) error {
		for _, c := range chunks {
			stored, err := storedVersion(txn, chunkKey(c.SheetID, c.Index))
			if err != nil {
				return err
			}
			if stored != c.Version {
				return fmt.Errorf("chunk %s stored version %d, have %d: %w", c.ID(), stored, c.Version, types.ErrVersionConflict)
			}
			payload, err := b.codec.EncodeRows(c.Rows)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID(), err)
			}
			val := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(payload)), uint64(c.Version+1))
			if err := txn.Set(chunkKey(c.SheetID, c.Index), append(val, payload...)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("writing chunks: %w", types.ErrVersionConflict)
	}
	if err != nil {
		return err
	}
	for _, c := range chunks {
		c.Version++
	}
	return nil
}

func storedVersion(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) < 8 {
			return types.ErrCorruptRecord
		}
		v = int64(binary.BigEndian.Uint64(val[:8]))
		return nil
	})
	return v, err
}

func (b *Backend) decodeChunk(sheetID string, index int, val []byte) (*types.Chunk, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("chunk %s: %w", types.ChunkID(sheetID, index), types.ErrCorruptRecord)
	}
	rows, err := b.codec.DecodeRows(val[8:])
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", types.ChunkID(sheetID, index), err)
	}
	return &types.Chunk{
		SheetID: sheetID,
		Index:   index,
		Rows:    rows,
		Version: int64(binary.BigEndian.Uint64(val[:8])),
	}, nil
}

// AppendPatch stores a patch under the next sequence ID.
func (b *Backend) AppendPatch(ctx context.Context, p *types.PatchRecord) (int64, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.mu.RUnlock()

	if err := validID(p.SheetID); err != nil {
		return 0, err
	}
	op, err := b.codec.EncodeOperation(p.Operation)
	if err != nil {
		return 0, fmt.Errorf("encoding operation: %w", err)
	}
	inv, err := b.codec.EncodeOperation(p.Inverse)
	if err != nil {
		return 0, fmt.Errorf("encoding inverse: %w", err)
	}
	n, err := b.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("allocating patch id: %w", err)
	}
	id := int64(n) + 1
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	val, err := cbor.Marshal(patchValue{
		SheetID:   p.SheetID,
		Operation: op,
		Inverse:   inv,
		Undone:    p.Undone,
		Timestamp: p.Timestamp.UnixNano(),
	})
	if err != nil {
		return 0, fmt.Errorf("encoding patch: %w", err)
	}
	err = withTxn(ctx, b.db, func(txn *badger.Txn) error {
		if err := txn.Set(patchKey(id), val); err != nil {
			return err
		}
		return txn.Set(sheetPatchKey(p.SheetID, id), nil)
	})
	if err != nil {
		return 0, fmt.Errorf("inserting patch: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetPatch returns the patch with the given ID.
func (b *Backend) GetPatch(ctx context.Context, id int64) (*types.PatchRecord, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var p *types.PatchRecord
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		var err error
		p, err = b.readPatch(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrPatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patch %d: %w", id, err)
	}
	return p, nil
}

// ListPatches returns a sheet's patches ordered by ID.
func (b *Backend) ListPatches(ctx context.Context, sheetID string) ([]*types.PatchRecord, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	var patches []*types.PatchRecord
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		keys, err := collectKeys(txn, sheetPatchPrefix(sheetID))
		if err != nil {
			return err
		}
		for _, k := range keys {
			id, ok := patchIDFromIndexKey(k, sheetID)
			if !ok {
				continue
			}
			p, err := b.readPatch(txn, id)
			if err != nil {
				return err
			}
			patches = append(patches, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing patches of %s: %w", sheetID, err)
	}
	return patches, nil
}

// CountPatches returns the number of patches stored for a sheet.
func (b *Backend) CountPatches(ctx context.Context, sheetID string) (int, error) {
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.mu.RUnlock()

	n := 0
	err := withReadTxn(ctx, b.db, func(txn *badger.Txn) error {
		prefix := sheetPatchPrefix(sheetID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting patches of %s: %w", sheetID, err)
	}
	return n, nil
}

// SetPatchUndone updates the undone flag of a patch.
func (b *Backend) SetPatchUndone(ctx context.Context, id int64, undone bool) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	err := withTxn(ctx, b.db, func(txn *badger.Txn) error {
		pv, err := readPatchValue(txn, id)
		if err != nil {
			return err
		}
		pv.Undone = undone
		val, err := cbor.Marshal(pv)
		if err != nil {
			return err
		}
		return txn.Set(patchKey(id), val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.ErrPatchNotFound
	}
	if err != nil {
		return fmt.Errorf("updating patch %d: %w", id, err)
	}
	return nil
}

// DeletePatches removes the given patches in one transaction.
func (b *Backend) DeletePatches(ctx context.Context, ids ...int64) error {
	if err := b.acquire(); err != nil {
		return err
	}
	defer b.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	err := withTxn(ctx, b.db, func(txn *badger.Txn) error {
		for _, id := range ids {
			pv, err := readPatchValue(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete(patchKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(sheetPatchKey(pv.SheetID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting patches: %w", err)
	}
	return nil
}

func readPatchValue(txn *badger.Txn, id int64) (patchValue, error) {
	var pv patchValue
	item, err := txn.Get(patchKey(id))
	if err != nil {
		return pv, err
	}
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &pv)
	})
	return pv, err
}

func (b *Backend) readPatch(txn *badger.Txn, id int64) (*types.PatchRecord, error) {
	pv, err := readPatchValue(txn, id)
	if err != nil {
		return nil, err
	}
	op, err := b.codec.DecodeOperation(pv.Operation)
	if err != nil {
		return nil, fmt.Errorf("patch %d operation: %w", id, err)
	}
	inv, err := b.codec.DecodeOperation(pv.Inverse)
	if err != nil {
		return nil, fmt.Errorf("patch %d inverse: %w", id, err)
	}
	return &types.PatchRecord{
		ID:        id,
		SheetID:   pv.SheetID,
		Operation: op,
		Inverse:   inv,
		Undone:    pv.Undone,
		Timestamp: time.Unix(0, pv.Timestamp).UTC(),
	}, nil
}
