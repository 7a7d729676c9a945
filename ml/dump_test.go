package ml_test

import (
	"strings"
	"testing"

	"github.com/nnforge/ggoe/ml"
	_ "github.com/nnforge/ggoe/ml/backend/cpu"
)

func dumpTestContext(t *testing.T) ml.Context {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 1})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	ctx := b.NewContextSize(1 << 20)
	t.Cleanup(ctx.Close)
	return ctx
}

func TestDumpFloats(t *testing.T) {
	ctx := dumpTestContext(t)

	x := ctx.FromFloats([]float32{1.5, -2.25, 3, 4}, 2, 2)
	out := ml.Dump(ctx, x)

	if !strings.HasPrefix(out, "[[") {
		t.Errorf("Dump of a matrix should nest brackets, got:\n%s", out)
	}
	for _, want := range []string{"1.5000", "-2.2500", "3.0000", "4.0000"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpInts(t *testing.T) {
	ctx := dumpTestContext(t)

	x := ctx.FromInts([]int32{7, -8, 9}, 3)
	if got, want := ml.Dump(ctx, x), "[7, -8, 9]"; got != want {
		t.Errorf("Dump = %q, want %q", got, want)
	}
}

func TestDumpElision(t *testing.T) {
	ctx := dumpTestContext(t)

	vals := make([]float32, 100)
	for i := range vals {
		vals[i] = float32(i)
	}
	x := ctx.FromFloats(vals, 100)

	out := ml.Dump(ctx, x, ml.DumpWithThreshold(10), ml.DumpWithEdgeItems(2))
	if !strings.Contains(out, "...") {
		t.Errorf("Dump of 100 elements with threshold 10 should elide, got:\n%s", out)
	}
	if !strings.Contains(out, "99.0000") {
		t.Errorf("Dump should keep trailing edge items, got:\n%s", out)
	}
}
