// Package paths resolves where gridstore keeps its config file and its
// database.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under platform config locations.
const AppName = "gridstore"

// ConfigFileName is the name of the YAML config file inside the config
// directory.
const ConfigFileName = "config.yaml"

// DefaultDataDirName is the working-directory database location used when
// nothing overrides it.
const DefaultDataDirName = ".gridstore-db"

// Environment overrides.
const (
	EnvConfigDir = "GRIDSTORE_CONFIG_DIR"
	EnvDataDir   = "GRIDSTORE_DATA_DIR"
)

// platform is swapped out in tests.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform config directory for gridstore:
// $XDG_CONFIG_HOME/gridstore or ~/.config/gridstore on Linux, and
// os.UserConfigDir()/gridstore elsewhere.
func DefaultConfigDir() (string, error) {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory for gridstore:
// $XDG_DATA_HOME/gridstore or ~/.local/share/gridstore on Linux, and
// os.UserConfigDir()/gridstore elsewhere.
func DefaultDataDir() (string, error) {
	return platformDir("XDG_DATA_HOME", ".local", "share")
}

func platformDir(xdgVar string, homeRel ...string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", fmt.Errorf("locating user config dir: %w", err)
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", fmt.Errorf("locating home dir: %w", err)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), AppName)...), nil
}

// ResolveConfigDir picks the config directory: flag, then
// GRIDSTORE_CONFIG_DIR, then DefaultConfigDir. Overrides are made absolute.
func ResolveConfigDir(flag string) (string, error) {
	if dir := firstSet(flag, os.Getenv(EnvConfigDir)); dir != "" {
		return filepath.Abs(dir)
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the database directory: flag, then the config file
// value, then GRIDSTORE_DATA_DIR, then .gridstore-db in the working
// directory.
func ResolveDataDir(flag, configured string) (string, error) {
	if dir := firstSet(flag, configured, os.Getenv(EnvDataDir)); dir != "" {
		return filepath.Abs(dir)
	}
	return filepath.Abs(DefaultDataDirName)
}

// ConfigFile returns the config file path inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// Ensure creates dir and its parents.
func Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
