package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the gridstore release version.
const Version = "0.3.0"

const modulePath = "github.com/mesh-intelligence/gridstore"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gridstore version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gridstore v%s\nmodule: %s\n", Version, modulePath)
	},
}
