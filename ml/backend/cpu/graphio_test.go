package cpu

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
	"github.com/nnforge/ggoe/quant"
)

// TestGraphExportImportExecute is spec §8 scenario 5 end to end: build
// y = gelu(add(x, b)), execute it, export the graph, import it into a
// fresh context, execute again, and require bit-identical outputs.
func TestGraphExportImportExecute(t *testing.T) {
	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 2})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	ctx := b.NewContextSize(1 << 20)
	defer ctx.Close()

	x := ctx.FromFloats([]float32{0.5, -0.5}, 2).SetName("x")
	bias := ctx.FromFloats([]float32{1.0, 1.0}, 2).SetName("b")
	y := x.Add(ctx, bias).Gelu(ctx).SetName("y")

	ctx.Forward(y)
	ctx.Compute(y)
	want := append([]float32(nil), y.Floats()...)

	gf, err := ExportGraph(ctx.(*Context))
	if err != nil {
		t.Fatalf("ExportGraph: %v", err)
	}

	var buf bytes.Buffer
	if err := ggml.EncodeGraph(&buf, gf); err != nil {
		t.Fatalf("EncodeGraph: %v", err)
	}
	decoded, err := ggml.DecodeGraph(&buf)
	if err != nil {
		t.Fatalf("DecodeGraph: %v", err)
	}

	ctx2, err := ImportGraph(b.(*Backend), decoded)
	if err != nil {
		t.Fatalf("ImportGraph: %v", err)
	}
	defer ctx2.Close()

	ctx2.Compute()

	y2 := ctx2.TensorByName("y")
	if y2 == nil {
		t.Fatal("imported graph has no tensor named \"y\"")
	}
	got := y2.Floats()
	if len(got) != len(want) {
		t.Fatalf("imported output has %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Float32bits(got[i]) != math.Float32bits(want[i]) {
			t.Fatalf("imported output[%d] = %v, want bit-identical %v", i, got[i], want[i])
		}
	}
}

// TestConcurrentImportExecute imports the same encoded graph into
// several independent contexts at once and executes each: imports
// share no mutable state beyond the slot pool, so the results must all
// agree with the original.
func TestConcurrentImportExecute(t *testing.T) {
	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 2})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	ctx := b.NewContextSize(1 << 20)
	defer ctx.Close()

	x := ctx.FromFloats([]float32{0.5, -0.5}, 2)
	bias := ctx.FromFloats([]float32{1.0, 1.0}, 2)
	y := x.Add(ctx, bias).Gelu(ctx).SetName("y")
	ctx.Forward(y)
	ctx.Compute(y)
	want := append([]float32(nil), y.Floats()...)

	gf, err := ExportGraph(ctx.(*Context))
	if err != nil {
		t.Fatalf("ExportGraph: %v", err)
	}
	var buf bytes.Buffer
	if err := ggml.EncodeGraph(&buf, gf); err != nil {
		t.Fatalf("EncodeGraph: %v", err)
	}
	encoded := buf.Bytes()

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			decoded, err := ggml.DecodeGraph(bytes.NewReader(encoded))
			if err != nil {
				return err
			}
			c, err := ImportGraph(b.(*Backend), decoded)
			if err != nil {
				return err
			}
			defer c.Close()
			c.Compute()
			got := c.TensorByName("y").Floats()
			for j := range want {
				if math.Float32bits(got[j]) != math.Float32bits(want[j]) {
					return fmt.Errorf("concurrent import output[%d] = %v, want %v", j, got[j], want[j])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// TestExportRejectsClosures: MAP_* parameters are Go closures with no
// file representation.
func TestExportRejectsClosures(t *testing.T) {
	ctx := newTestContext(t, 1)

	a := ctx.FromFloats([]float32{1, 2}, 2)
	m := a.MapUnary(ctx, func(x float32) float32 { return x + 1 })
	ctx.Forward(m)

	if _, err := ExportGraph(ctx.(*Context)); err == nil {
		t.Fatal("ExportGraph of a MAP_UNARY graph succeeded, want error")
	}
}

// TestQuantizedMulMat checks the executor's fused quantized MUL_MAT
// path (weights Q4_0, activations quantized to Q8_0 during INIT)
// against the dequantize-then-F32 reference within spec §8's 1e-3
// relative tolerance.
func TestQuantizedMulMat(t *testing.T) {
	const k, m, n = 64, 3, 2
	wData := make([]float32, k*m)
	for i := range wData {
		wData[i] = float32((i%13)-6) * 0.25
	}
	xData := make([]float32, k*n)
	for i := range xData {
		xData[i] = float32((i%7)-3) * 0.5
	}

	codec, err := quant.Lookup(ggml.TensorTypeQ4_0)
	if err != nil {
		t.Fatalf("Lookup(Q4_0): %v", err)
	}
	dotCodec, err := quant.Lookup(codec.DotType)
	if err != nil {
		t.Fatalf("Lookup(%v): %v", codec.DotType, err)
	}
	wq := codec.QuantizeReference(wData)
	wDeq := codec.Dequantize(wq, k*m)

	ctx := newTestContext(t, 2)
	w := ctx.FromBytes(ml.DTypeQ4_0, wq, k, m)
	x := ctx.FromFloats(xData, k, n)
	out := w.MulMat(ctx, x)
	ctx.Forward(out)
	ctx.Compute(out)
	got := out.Floats()

	// Naive reference per spec §8's dot-product agreement: both
	// operands dequantized, plain FP64-accumulated dot. The executor's
	// INIT phase quantizes the activations to the dot type, so the
	// reference must too.
	for j := 0; j < n; j++ {
		xRow := xData[j*k : (j+1)*k]
		xDeq := dotCodec.Dequantize(dotCodec.QuantizeReference(xRow), k)
		for mi := 0; mi < m; mi++ {
			var want float64
			for i := 0; i < k; i++ {
				want += float64(wDeq[mi*k+i]) * float64(xDeq[i])
			}
			g := float64(got[j*m+mi])
			rel := math.Abs(g-want) / (math.Abs(want) + 1e-6)
			if rel > 1e-3 {
				t.Fatalf("quantized MulMat[%d,%d] = %v, naive dequantize-dot %v (rel err %v)", mi, j, g, want, rel)
			}
		}
	}
}

// TestCpyAliasesDestination: CPY's result shares the destination's
// payload, so the copy is visible through either handle after Compute
// (spec §8 view aliasing).
func TestCpyAliasesDestination(t *testing.T) {
	ctx := newTestContext(t, 1)

	x := ctx.FromFloats([]float32{1, 2, 3, 4}, 4)
	dst := ctx.Zeros(ml.DTypeF32, 4)
	cp := x.Cpy(ctx, dst)

	ctx.Forward(cp)
	ctx.Compute(cp)

	want := []float32{1, 2, 3, 4}
	if got := dst.Floats(); !floatsEqual(got, want) {
		t.Fatalf("Cpy destination = %v, want %v", got, want)
	}
	if got := cp.Floats(); !floatsEqual(got, want) {
		t.Fatalf("Cpy result view = %v, want %v", got, want)
	}
}
