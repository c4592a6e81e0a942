// Package sqlite implements the SQLite storage backend for gridstore.
package sqlite

// Schema DDL. Chunks carry no foreign key to sheets because an import writes
// every chunk before the sheet record exists.
const (
	createSheets = `CREATE TABLE IF NOT EXISTS sheets (
    sheet_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    column_count INTEGER NOT NULL,
    columns BLOB NOT NULL,
    next_column_index INTEGER NOT NULL,
    file_size INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createChunks = `CREATE TABLE IF NOT EXISTS chunks (
    sheet_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    rows BLOB NOT NULL,
    version INTEGER NOT NULL,
    PRIMARY KEY (sheet_id, chunk_index)
);`

	createPatches = `CREATE TABLE IF NOT EXISTS patches (
    patch_id INTEGER PRIMARY KEY AUTOINCREMENT,
    sheet_id TEXT NOT NULL,
    operation BLOB NOT NULL,
    inverse BLOB NOT NULL,
    undone INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);`
)

// Index DDL for the per-sheet scans.
const (
	idxPatchesSheet  = `CREATE INDEX IF NOT EXISTS idx_patches_sheet ON patches(sheet_id, patch_id);`
	idxSheetsCreated = `CREATE INDEX IF NOT EXISTS idx_sheets_created ON sheets(created_at);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createSheets,
	createChunks,
	createPatches,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxPatchesSheet,
	idxSheetsCreated,
}
