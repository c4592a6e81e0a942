package types

import (
	"errors"
	"fmt"
)

// Config holds backend selection and engine tuning for Store.Attach and the
// components built on top of a store.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// InMemory keeps all data in memory. Only the badger backend honors it.
	InMemory bool `json:"in_memory" yaml:"in_memory" mapstructure:"in_memory"`

	// SyncWrites forces an fsync on every badger commit.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes" mapstructure:"sync_writes"`

	// CompressChunks stores chunk payloads zstd-compressed.
	CompressChunks bool `json:"compress_chunks" yaml:"compress_chunks" mapstructure:"compress_chunks"`

	CompactionThreshold int    `json:"compaction_threshold" yaml:"compaction_threshold" mapstructure:"compaction_threshold"`
	CompactionRetries   int    `json:"compaction_retries" yaml:"compaction_retries" mapstructure:"compaction_retries"`
	ViewportBuffer      int    `json:"viewport_buffer" yaml:"viewport_buffer" mapstructure:"viewport_buffer"`
	MaxResidentRows     int    `json:"max_resident_rows" yaml:"max_resident_rows" mapstructure:"max_resident_rows"`
	LogLevel            string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Engine defaults applied by WithDefaults.
const (
	DefaultCompactionThreshold = 1000
	DefaultCompactionRetries   = 3
	DefaultViewportBuffer      = 50
	DefaultMaxResidentRows     = 2000
	DefaultLogLevel            = "info"
)

// Config validation errors.
var (
	ErrBackendEmpty    = errors.New("backend must not be empty")
	ErrBackendUnknown  = errors.New("unknown backend")
	ErrConfigInvalid   = errors.New("invalid configuration value")
	ErrLogLevelUnknown = errors.New("unknown log level")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendBadger: true,
}

var knownLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.CompactionThreshold < 0 {
		return fmt.Errorf("compaction_threshold %d: %w", c.CompactionThreshold, ErrConfigInvalid)
	}
	if c.CompactionRetries < 0 {
		return fmt.Errorf("compaction_retries %d: %w", c.CompactionRetries, ErrConfigInvalid)
	}
	if c.ViewportBuffer < 0 {
		return fmt.Errorf("viewport_buffer %d: %w", c.ViewportBuffer, ErrConfigInvalid)
	}
	if c.MaxResidentRows < 0 {
		return fmt.Errorf("max_resident_rows %d: %w", c.MaxResidentRows, ErrConfigInvalid)
	}
	if !knownLogLevels[c.LogLevel] {
		return ErrLogLevelUnknown
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued tuning fields replaced by
// the engine defaults.
func (c Config) WithDefaults() Config {
	if c.CompactionThreshold == 0 {
		c.CompactionThreshold = DefaultCompactionThreshold
	}
	if c.CompactionRetries == 0 {
		c.CompactionRetries = DefaultCompactionRetries
	}
	if c.ViewportBuffer == 0 {
		c.ViewportBuffer = DefaultViewportBuffer
	}
	if c.MaxResidentRows == 0 {
		c.MaxResidentRows = DefaultMaxResidentRows
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return c
}
