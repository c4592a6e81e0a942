package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/gridstore/internal/paths"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config file and the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, err := paths.ResolveConfigDir(flagConfigDir)
		if err != nil {
			return err
		}
		wrote, err := writeConfigIfMissing(configDir, cfg.DataDir)
		if err != nil {
			return err
		}
		_, closeFn, err := openRows()
		if err != nil {
			return fmt.Errorf("initializing storage: %w", err)
		}
		closeFn()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "gridstore initialized")
		if wrote {
			fmt.Fprintln(out, "  config: ", paths.ConfigFile(configDir), "(created)")
		} else {
			fmt.Fprintln(out, "  config: ", paths.ConfigFile(configDir))
		}
		fmt.Fprintln(out, "  data:   ", cfg.DataDir)
		fmt.Fprintln(out, "  backend:", cfg.Backend)
		return nil
	},
}
