// This file implements the store lifecycle for the SQLite backend.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/gridstore/internal/codec"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// DBFileName is the database file created inside Config.DataDir.
const DBFileName = "gridstore.db"

// Compile-time interface check: Backend must implement Store.
var _ types.Store = (*Backend)(nil)

// Backend implements the Store interface on a single SQLite database file.
// Sheets, chunks, and patches each live in their own table; chunk rows and
// patch operations are stored as codec payloads.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	codec    *codec.Codec
	logger   *slog.Logger
}

// NewBackend creates a new SQLite backend instance. The backend is not
// attached; call Attach with a Config to open the database. A nil logger
// uses slog.Default().
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger.With(slog.String("backend", types.BackendSQLite))}
}

// Attach opens (creating if needed) the database under config.DataDir and
// ensures the schema exists. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One connection serializes writers so version checks and commits
	// cannot interleave.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return err
	}

	c, err := codec.New(codec.Options{Compress: config.CompressChunks})
	if err != nil {
		db.Close()
		return err
	}

	b.db = db
	b.codec = c
	b.config = config
	b.attached = true
	b.logger.Debug("sqlite store attached", slog.String("path", dbPath))
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.codec.Close()
	b.codec = nil
	if err := b.db.Close(); err != nil {
		b.db = nil
		return fmt.Errorf("closing database: %w", err)
	}
	b.db = nil
	return nil
}

// createSchema executes every table and index statement.
func createSchema(db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, ddl := range indexDDL {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// acquire read-locks the backend and returns ErrStoreDetached when it is
// not attached. The caller must call b.mu.RUnlock when err is nil.
func (b *Backend) acquire() error {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return types.ErrStoreDetached
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
