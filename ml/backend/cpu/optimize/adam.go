package optimize

import (
	"math"

	"github.com/nnforge/ggoe/envconfig"
	"github.com/nnforge/ggoe/ml"
)

// AdamParams configures the ADAM optimizer (spec §4.6).
type AdamParams struct {
	LR            float64
	Beta1, Beta2  float64
	Eps           float64
	MaxIterations int

	// EpsF and Past implement the rolling-delta convergence test: stop
	// once |Δf|/|f| over the last Past iterations falls under EpsF.
	// Past == 0 disables the check (run exactly MaxIterations steps).
	EpsF float64
	Past int
}

// DefaultAdamParams mirrors the reference optimizer's usual defaults;
// the rolling convergence window can be widened process-wide via
// GGOE_OPTIMIZER_PAST.
func DefaultAdamParams() AdamParams {
	return AdamParams{
		LR: 0.001, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8,
		MaxIterations: 100,
		EpsF:          1e-6,
		Past:          int(envconfig.OptimizerPast()),
	}
}

// moment is one parameter's first/second moment accumulators, both
// allocated in the owning Context's arena (spec §4.6: "stores its
// state ... in the arena so optimization can resume across calls").
type moment struct {
	m, v ml.Tensor
}

// Adam is a stateful optimizer instance: create one per training run
// (or keep it across calls to resume with warm moment estimates).
type Adam struct {
	ctx    ml.Context
	params AdamParams

	moments map[string]*moment
	past    ml.Tensor
	pastN   int
	step    int
}

// NewAdam allocates an Adam optimizer against ctx, whose arena also
// backs the per-parameter moment tensors and the past-loss ring buffer.
func NewAdam(ctx ml.Context, params AdamParams) *Adam {
	o := &Adam{ctx: ctx, params: params, moments: make(map[string]*moment)}
	if params.Past > 0 {
		o.past = ctx.Zeros(ml.DTypeF32, params.Past)
	}
	return o
}

func (o *Adam) momentFor(p ml.Tensor) *moment {
	mm, ok := o.moments[p.Name()]
	if !ok {
		mm = &moment{
			m: o.ctx.Zeros(p.DType(), p.Shape()...),
			v: o.ctx.Zeros(p.DType(), p.Shape()...),
		}
		o.moments[p.Name()] = mm
	}
	return mm
}

// Run iterates ADAM against params, rebuilding and recomputing the
// loss graph buildLoss returns each step (the engine's dataflow is
// lazily scheduled per spec §1, so a fresh forward/backward pass each
// iteration is the natural fit rather than caching node state across
// steps).
func (o *Adam) Run(params []ml.Tensor, buildLoss func() ml.Tensor) (Result, error) {
	if o.ctx == nil {
		return NoContext, nil
	}
	for iter := 0; iter < o.params.MaxIterations; iter++ {
		loss := buildLoss()
		o.ctx.Forward(loss).Compute()
		lossVal := float64(loss.Floats()[0])

		o.step++
		for _, p := range params {
			g := p.Grad()
			if g == nil {
				continue
			}
			o.applyOne(p, g)
		}

		if o.params.Past > 0 && iter >= o.params.Past {
			prev := o.readPast(o.pastN - o.params.Past)
			if math.Abs(prev-lossVal) < o.params.EpsF*math.Max(math.Abs(lossVal), 1e-12) {
				return Ok, nil
			}
		}
		if o.params.Past > 0 {
			o.writePast(lossVal)
		}
	}
	return MaximumIterations, nil
}

func (o *Adam) applyOne(p, g ml.Tensor) {
	mm := o.momentFor(p)
	pf := p.Floats()
	gf := g.Floats()
	mf := mm.m.Floats()
	vf := mm.v.Floats()

	b1, b2, eps, lr := o.params.Beta1, o.params.Beta2, o.params.Eps, o.params.LR
	bc1 := 1 - math.Pow(b1, float64(o.step))
	bc2 := 1 - math.Pow(b2, float64(o.step))

	for i := range pf {
		gi := float64(gf[i])
		mf[i] = float32(b1*float64(mf[i]) + (1-b1)*gi)
		vf[i] = float32(b2*float64(vf[i]) + (1-b2)*gi*gi)
		mhat := float64(mf[i]) / bc1
		vhat := float64(vf[i]) / bc2
		pf[i] -= float32(lr * mhat / (math.Sqrt(vhat) + eps))
	}

	p.FromFloats(pf)
	mm.m.FromFloats(mf)
	mm.v.FromFloats(vf)
}

func (o *Adam) readPast(idx int) float64 {
	return float64(o.past.Floats()[idx%o.params.Past])
}

func (o *Adam) writePast(v float64) {
	buf := o.past.Floats()
	buf[o.pastN%o.params.Past] = float32(v)
	o.past.FromFloats(buf)
	o.pastN++
}
