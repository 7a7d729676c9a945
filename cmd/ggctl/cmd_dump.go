// cmd_dump.go - graph_print subcommand
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nnforge/ggoe/fs/ggml"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <graph-file>",
		Short: "Print a graph export file's nodes as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			g, err := ggml.DecodeGraph(f)
			if err != nil {
				return err
			}

			ggml.PrintGraph(cmd.OutOrStdout(), g, nil)
			return nil
		},
	}
	return cmd
}
