// cmd_dot.go - graph_dump_dot subcommand
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nnforge/ggoe/fs/ggml"
)

func newDotCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "dot <graph-file>",
		Short: "Render a graph export file as Graphviz dot",
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

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}

			// No separate gradient subgraph is tracked in an exported
			// file, so every node is rendered as a plain forward node.
			return ggml.DumpDot(w, g, nil)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write dot source to this file instead of stdout")
	return cmd
}
