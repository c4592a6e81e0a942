package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/gridstore/internal/badger"
	"github.com/mesh-intelligence/gridstore/internal/sqlite"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

func TestNew(t *testing.T) {
	s, err := New(types.Config{Backend: types.BackendSQLite}, nil)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Backend{}, s)

	s, err = New(types.Config{Backend: types.BackendBadger}, nil)
	require.NoError(t, err)
	assert.IsType(t, &badger.Backend{}, s)

	_, err = New(types.Config{}, nil)
	assert.ErrorIs(t, err, types.ErrBackendEmpty)

	_, err = New(types.Config{Backend: "postgres"}, nil)
	assert.ErrorIs(t, err, types.ErrBackendUnknown)
}

func TestOpen(t *testing.T) {
	s, err := Open(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	s, err = Open(types.Config{Backend: types.BackendBadger, InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Detach())
}
