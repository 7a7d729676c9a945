// cmd_check.go - validate a graph export file without rendering it
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnforge/ggoe/fs/ggml"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <graph-file>",
		Short: "Decode a graph export file and report leaf/node counts",
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

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d leafs, %d nodes, size_eval=%d\n",
				len(g.Leafs), len(g.Nodes), g.SizeEval)
			return nil
		},
	}
}
