// Package storage selects and attaches a Store backend from a Config.
package storage

import (
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/gridstore/internal/badger"
	"github.com/mesh-intelligence/gridstore/internal/sqlite"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// New returns a detached store for cfg.Backend.
func New(cfg types.Config, logger *slog.Logger) (types.Store, error) {
	switch cfg.Backend {
	case types.BackendSQLite:
		return sqlite.NewBackend(logger), nil
	case types.BackendBadger:
		return badger.NewBackend(logger), nil
	case "":
		return nil, types.ErrBackendEmpty
	}
	return nil, fmt.Errorf("%q: %w", cfg.Backend, types.ErrBackendUnknown)
}

// Open builds the configured backend and attaches it. The caller must
// Detach the returned store.
func Open(cfg types.Config, logger *slog.Logger) (types.Store, error) {
	s, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attaching %s store: %w", cfg.Backend, err)
	}
	return s, nil
}
