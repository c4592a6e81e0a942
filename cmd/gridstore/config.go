package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/gridstore/internal/paths"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "GRIDSTORE"
)

// configKeys are bound to GRIDSTORE_<KEY> environment variables. data_dir
// is left out; paths.ResolveDataDir reads GRIDSTORE_DATA_DIR itself, after
// the config file.
var configKeys = []string{
	"backend",
	"in_memory",
	"sync_writes",
	"compress_chunks",
	"compaction_threshold",
	"compaction_retries",
	"viewport_buffer",
	"max_resident_rows",
	"log_level",
}

// defaultConfig is written to config.yaml by init.
func defaultConfig() types.Config {
	return types.Config{Backend: types.BackendSQLite}.WithDefaults()
}

// loadConfig reads config.yaml from configDir. A missing file yields the
// defaults.
func loadConfig(configDir string) (types.Config, error) {
	v := viper.New()
	def := defaultConfig()
	v.SetDefault("backend", def.Backend)
	v.SetDefault("in_memory", false)
	v.SetDefault("sync_writes", false)
	v.SetDefault("compress_chunks", false)
	v.SetDefault("compaction_threshold", def.CompactionThreshold)
	v.SetDefault("compaction_retries", def.CompactionRetries)
	v.SetDefault("viewport_buffer", def.ViewportBuffer)
	v.SetDefault("max_resident_rows", def.MaxResidentRows)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix(envPrefix)
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return types.Config{}, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var c types.Config
	if err := v.Unmarshal(&c); err != nil {
		return types.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

// writeConfigIfMissing creates config.yaml with the defaults unless it
// already exists. It reports whether a file was written.
func writeConfigIfMissing(configDir, dataDir string) (bool, error) {
	path := paths.ConfigFile(configDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := paths.Ensure(configDir); err != nil {
		return false, err
	}

	c := defaultConfig()
	c.DataDir = dataDir
	data, err := yaml.Marshal(&c)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# gridstore configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
