package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/paths"
	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// Global flag values.
var (
	flagConfigDir string
	flagDataDir   string
	flagBackend   string
	flagLogLevel  string
	flagJSON      bool
)

// cfg is the resolved configuration, set by PersistentPreRunE.
var cfg types.Config

var rootCmd = &cobra.Command{
	Use:           "gridstore",
	Short:         "gridstore is an offline spreadsheet engine for very large sheets",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		configDir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return fmt.Errorf("resolving config dir: %w", err)
		}
		loaded, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		if flagBackend != "" {
			loaded.Backend = flagBackend
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		loaded.DataDir, err = paths.ResolveDataDir(flagDataDir, loaded.DataDir)
		if err != nil {
			return fmt.Errorf("resolving data dir: %w", err)
		}
		loaded = loaded.WithDefaults()
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
		slog.SetDefault(newLogger(cfg.LogLevel))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "database directory (default: $(CWD)/.gridstore-db)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "storage backend: sqlite or badger")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sheetsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
}

// newLogger returns a text logger on stderr at the named level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
