package optimize_test

import (
	"math"
	"testing"

	"github.com/nnforge/ggoe/ml"
	_ "github.com/nnforge/ggoe/ml/backend/cpu"
	"github.com/nnforge/ggoe/ml/backend/cpu/optimize"
)

// quadraticFixture builds the loss Σ(w - target)² over a trainable
// 2-vector, the smallest graph that exercises the full
// forward/backward/update loop.
func quadraticFixture(t *testing.T) (ml.Context, ml.Tensor, func() ml.Tensor) {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: 1})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	ctx := b.NewContextSize(8 << 20)
	t.Cleanup(ctx.Close)

	w := ctx.FromFloats([]float32{0, 0}, 2).SetIsParam(true).SetName("w")
	target := ctx.FromFloats([]float32{3, -2}, 2)
	buildLoss := func() ml.Tensor {
		return w.Sub(ctx, target).Sqr(ctx).Sum(ctx)
	}
	return ctx, w, buildLoss
}

func TestAdamQuadratic(t *testing.T) {
	ctx, w, buildLoss := quadraticFixture(t)

	params := optimize.DefaultAdamParams()
	params.LR = 0.1
	params.MaxIterations = 500
	params.Past = 0

	res, err := optimize.NewAdam(ctx, params).Run([]ml.Tensor{w}, buildLoss)
	if err != nil {
		t.Fatalf("Adam.Run: %v", err)
	}
	if res != optimize.MaximumIterations && res != optimize.Ok {
		t.Fatalf("Adam.Run result = %v", res)
	}

	got := w.Floats()
	want := []float32{3, -2}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.1 {
			t.Fatalf("w[%d] = %v after Adam, want ~%v", i, got[i], want[i])
		}
	}
}

func TestLBFGSQuadratic(t *testing.T) {
	ctx, w, buildLoss := quadraticFixture(t)

	res, err := optimize.NewLBFGS(ctx, optimize.LBFGSParams{
		MaxIterations: 100,
		LineSearch:    optimize.Armijo,
	}).Run([]ml.Tensor{w}, buildLoss)
	if err != nil {
		t.Fatalf("LBFGS.Run: %v", err)
	}
	if res != optimize.Ok && res != optimize.MaximumIterations {
		t.Fatalf("LBFGS.Run result = %v", res)
	}

	got := w.Floats()
	want := []float32{3, -2}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.05 {
			t.Fatalf("w[%d] = %v after LBFGS, want ~%v", i, got[i], want[i])
		}
	}
}

func TestLBFGSRejectsInvalidLineSearch(t *testing.T) {
	ctx, w, buildLoss := quadraticFixture(t)

	res, err := optimize.NewLBFGS(ctx, optimize.LBFGSParams{
		MaxIterations: 1,
		LineSearch:    optimize.LineSearch(99),
	}).Run([]ml.Tensor{w}, buildLoss)
	if err != nil {
		t.Fatalf("LBFGS.Run: %v", err)
	}
	if res != optimize.InvalidWolfe {
		t.Fatalf("LBFGS.Run with bad line search = %v, want InvalidWolfe", res)
	}
}
