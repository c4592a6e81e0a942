// Package types defines the Store interface, the sheet, chunk, cell, and
// patch entity types, the addressing helpers, and the standard errors for
// the gridstore spreadsheet engine.
//
// Rows are stored in fixed-size chunks of ChunkSize row slots. Every
// mutation is described by an Operation value and persisted together with
// its exact inverse in a PatchRecord.
package types
