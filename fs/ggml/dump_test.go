package ggml

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintGraph(t *testing.T) {
	g := buildAddGraph(t)

	var buf bytes.Buffer
	PrintGraph(&buf, g, nil)

	out := buf.String()
	if !strings.Contains(out, "ADD") {
		t.Errorf("PrintGraph output missing op name:\n%s", out)
	}
	if !strings.Contains(out, "y") {
		t.Errorf("PrintGraph output missing node name:\n%s", out)
	}
}

func TestPrintGraphWithTiming(t *testing.T) {
	g := buildAddGraph(t)

	var buf bytes.Buffer
	PrintGraph(&buf, g, NodeTiming{0: 1500})

	if !strings.Contains(buf.String(), "1500ns") {
		t.Errorf("PrintGraph with timing missing duration:\n%s", buf.String())
	}
}

func TestDumpDot(t *testing.T) {
	g := buildAddGraph(t)

	var buf bytes.Buffer
	if err := DumpDot(&buf, g, nil); err != nil {
		t.Fatalf("DumpDot: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"digraph", "leaf_0", "leaf_1", "node_0", "lightyellow"} {
		if !strings.Contains(out, want) {
			t.Errorf("DumpDot output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpDotMarksGradient(t *testing.T) {
	g := buildAddGraph(t)

	var buf bytes.Buffer
	if err := DumpDot(&buf, g, map[int]int{0: 0}); err != nil {
		t.Fatalf("DumpDot: %v", err)
	}
	if !strings.Contains(buf.String(), "lightgreen") {
		t.Errorf("DumpDot output missing gradient color:\n%s", buf.String())
	}
}
