package ggml

import (
	"fmt"
	"io"

	"github.com/awalterschulze/gographviz"
	"github.com/olekukonko/tablewriter"
)

// NodeTiming is the optional per-node wall time the executor records
// for graph_print; zero when no profiling pass has run.
type NodeTiming map[int]int64 // node index -> nanoseconds

// PrintGraph writes a newline-delimited table of g's nodes (spec §6
// graph_print): index, op, type, shape, and timing when t is non-nil.
func PrintGraph(w io.Writer, g *Graph, t NodeTiming) {
	table := tablewriter.NewWriter(w)
	header := []string{"IDX", "OP", "TYPE", "SHAPE", "NAME"}
	if t != nil {
		header = append(header, "TIME")
	}
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for i := range g.Nodes {
		n := &g.Nodes[i]
		row := []string{
			fmt.Sprintf("%d", i),
			n.Op.String(),
			n.Type.String(),
			n.Shape().String(),
			n.Name,
		}
		if t != nil {
			row = append(row, fmt.Sprintf("%dns", t[i]))
		}
		table.Append(row)
	}
	table.Render()
}

// nodeColor returns the graph_dump_dot fill color for a record: yellow
// for parameters (leaves with a name), green for gradient outputs,
// pink for every other leaf (spec §6).
func nodeColor(r *Record, isLeaf, isGrad bool) string {
	switch {
	case isGrad:
		return "lightgreen"
	case isLeaf && r.Name != "":
		return "lightyellow"
	case isLeaf:
		return "lightpink"
	default:
		return "white"
	}
}

// DumpDot renders g as GraphViz DOT (spec §6 graph_dump_dot). gradOf
// maps a node's index to the index of the node holding its gradient,
// when one exists; pass nil if the graph carries no gradients.
func DumpDot(w io.Writer, g *Graph, gradOf map[int]int) error {
	gv := gographviz.NewGraph()
	if err := gv.SetName("G"); err != nil {
		return fmt.Errorf("ggml: dot set name: %w", err)
	}
	if err := gv.SetDir(true); err != nil {
		return fmt.Errorf("ggml: dot set directed: %w", err)
	}

	isGradTarget := make(map[int]bool)
	for _, g := range gradOf {
		isGradTarget[g] = true
	}

	leafID := func(i int) string { return fmt.Sprintf("leaf_%d", i) }
	nodeID := func(i int) string { return fmt.Sprintf("node_%d", i) }

	for i := range g.Leafs {
		r := &g.Leafs[i]
		label := fmt.Sprintf("\"%s\\n%s %s\"", displayName(r.Name, leafID(i)), r.Type, r.Shape())
		attrs := map[string]string{
			"label":     label,
			"style":     "filled",
			"fillcolor": nodeColor(r, true, false),
		}
		if err := gv.AddNode("G", leafID(i), attrs); err != nil {
			return fmt.Errorf("ggml: dot add leaf %d: %w", i, err)
		}
	}

	for i := range g.Nodes {
		r := &g.Nodes[i]
		label := fmt.Sprintf("\"%s\\n%s %s\"", displayName(r.Name, nodeID(i)), r.Op, r.Shape())
		attrs := map[string]string{
			"label":     label,
			"style":     "filled",
			"fillcolor": nodeColor(r, false, isGradTarget[i]),
		}
		if err := gv.AddNode("G", nodeID(i), attrs); err != nil {
			return fmt.Errorf("ggml: dot add node %d: %w", i, err)
		}

		for _, a := range r.Args {
			idx, isNode, present := DecodeArgIndex(a)
			if !present {
				continue
			}
			src := leafID(idx)
			if isNode {
				src = nodeID(idx)
			}
			if err := gv.AddEdge(src, nodeID(i), true, nil); err != nil {
				return fmt.Errorf("ggml: dot add edge: %w", err)
			}
		}
	}

	_, err := io.WriteString(w, gv.String())
	return err
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
