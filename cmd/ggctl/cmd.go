// cmd.go - root CLI setup
package main

import (
	"github.com/spf13/cobra"
)

// NewCLI builds the ggctl root command: a thin cobra wrapper around the
// graph export/import and dump facilities of fs/ggml, for inspecting a
// graph file without wiring up a full backend.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "ggctl",
		Short:         "Inspect and validate graph export files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newDumpCmd(),
		newDotCmd(),
		newCheckCmd(),
		newPeekCmd(),
		newEnvCmd(),
	)

	return rootCmd
}
