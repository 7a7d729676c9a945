// cmd_peek.go - execute a graph file and print one tensor's values
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
	"github.com/nnforge/ggoe/ml/backend/cpu"
)

func newPeekCmd() *cobra.Command {
	var precision, edgeItems int

	cmd := &cobra.Command{
		Use:   "peek <graph-file> <tensor-name>",
		Short: "Import a graph file, execute it, and print the named tensor's values",
		Args:  cobra.ExactArgs(2),
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

			b, err := ml.NewBackend("cpu", ml.BackendParams{})
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, err := cpu.ImportGraph(b.(*cpu.Backend), g)
			if err != nil {
				return err
			}
			defer ctx.Close()
			ctx.Compute()

			t := ctx.TensorByName(args[1])
			if t == nil {
				return fmt.Errorf("no tensor named %q in %s", args[1], args[0])
			}

			fmt.Fprintln(cmd.OutOrStdout(), ml.Dump(ctx, t,
				ml.DumpWithPrecision(precision),
				ml.DumpWithEdgeItems(edgeItems)))
			return nil
		},
	}
	cmd.Flags().IntVar(&precision, "precision", 4, "decimal places for float values")
	cmd.Flags().IntVar(&edgeItems, "edge-items", 3, "entries kept at each end of an elided dimension")
	return cmd
}
