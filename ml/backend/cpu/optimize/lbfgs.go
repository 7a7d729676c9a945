package optimize

import (
	"fmt"

	gonumopt "gonum.org/v1/gonum/optimize"

	"github.com/nnforge/ggoe/ml"
)

// LineSearch selects the backtracking condition spec §4.6 names:
// "Armijo / Wolfe / strong Wolfe".
type LineSearch int

const (
	Armijo LineSearch = iota
	Wolfe
	StrongWolfe
)

// LBFGSParams configures the L-BFGS optimizer.
type LBFGSParams struct {
	MaxIterations int
	EpsF          float64
	Past          int
	LineSearch    LineSearch
}

// LBFGS drives gonum's L-BFGS method (SPEC_FULL.md domain stack:
// gonum.org/v1/gonum/optimize) over the flattened parameter vector of
// a set of trainable tensors, rebuilding the forward/backward graph on
// every function/gradient evaluation the line search requests.
type LBFGS struct {
	ctx    ml.Context
	params LBFGSParams
}

func NewLBFGS(ctx ml.Context, params LBFGSParams) *LBFGS {
	return &LBFGS{ctx: ctx, params: params}
}

// layout describes where each parameter's flattened values live in the
// combined state vector gonum optimizes over.
type layout struct {
	tensor ml.Tensor
	offset int
	n      int
}

func buildLayout(params []ml.Tensor) ([]layout, int) {
	layouts := make([]layout, len(params))
	off := 0
	for i, p := range params {
		n := len(p.Floats())
		layouts[i] = layout{tensor: p, offset: off, n: n}
		off += n
	}
	return layouts, off
}

func gather(layouts []layout, x []float64) {
	for _, l := range layouts {
		vals := l.tensor.Floats()
		for i, v := range vals {
			x[l.offset+i] = float64(v)
		}
	}
}

func scatter(layouts []layout, x []float64) {
	for _, l := range layouts {
		vals := make([]float32, l.n)
		for i := range vals {
			vals[i] = float32(x[l.offset+i])
		}
		l.tensor.FromFloats(vals)
	}
}

func gatherGrad(layouts []layout, grad []float64) {
	for _, l := range layouts {
		g := l.tensor.Grad()
		if g == nil {
			for i := 0; i < l.n; i++ {
				grad[l.offset+i] = 0
			}
			continue
		}
		gf := g.Floats()
		for i, v := range gf {
			grad[l.offset+i] = float64(v)
		}
	}
}

func (o *LBFGS) linesearcher() gonumopt.Linesearcher {
	switch o.params.LineSearch {
	case Wolfe, StrongWolfe:
		return &gonumopt.Bisection{}
	default:
		return &gonumopt.Backtracking{}
	}
}

// Run minimizes buildLoss() over params via L-BFGS with backtracking
// line search (spec §4.6). buildLoss is called once per function or
// gradient evaluation, after params have been updated to the trial
// point, so it must construct a fresh forward graph each time (the
// engine's lazily-scheduled dataflow per spec §1 makes this the
// natural evaluation shape).
func (o *LBFGS) Run(params []ml.Tensor, buildLoss func() ml.Tensor) (Result, error) {
	if o.ctx == nil {
		return NoContext, nil
	}
	if o.params.LineSearch != Armijo && o.params.LineSearch != Wolfe && o.params.LineSearch != StrongWolfe {
		return InvalidWolfe, nil
	}

	layouts, n := buildLayout(params)
	x0 := make([]float64, n)
	gather(layouts, x0)

	eval := func(x []float64) ml.Tensor {
		scatter(layouts, x)
		loss := buildLoss()
		o.ctx.Forward(loss).Compute()
		return loss
	}

	problem := gonumopt.Problem{
		Func: func(x []float64) float64 {
			loss := eval(x)
			return float64(loss.Floats()[0])
		},
		Grad: func(grad, x []float64) {
			eval(x)
			gatherGrad(layouts, grad)
		},
	}

	settings := &gonumopt.Settings{
		MajorIterations: o.params.MaxIterations,
	}
	if o.params.Past > 0 && o.params.EpsF > 0 {
		settings.Converger = &gonumopt.FunctionConverge{
			Absolute:   o.params.EpsF,
			Iterations: o.params.Past,
		}
	}

	method := &gonumopt.LBFGS{Linesearcher: o.linesearcher()}

	result, err := gonumopt.Minimize(problem, x0, settings, method)
	if err != nil {
		return Fail, fmt.Errorf("cpu/optimize: lbfgs: %w", err)
	}

	scatter(layouts, result.X)

	switch result.Status {
	case gonumopt.Success, gonumopt.FunctionConvergence, gonumopt.GradientThreshold, gonumopt.StepConvergence:
		return Ok, nil
	case gonumopt.IterationLimit:
		return MaximumIterations, nil
	default:
		return DidNotConverge, nil
	}
}
