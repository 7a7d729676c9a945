package cpu

import (
	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

// asCtx/asTensor narrow the ml.Context/ml.Tensor interfaces back to
// their concrete cpu types. Every constructor in this file is reached
// only through the interfaces declared in ml/context.go, and cpu is
// the sole implementation, so the assertions never fail in practice.
func asCtx(ctx ml.Context) *Context   { return ctx.(*Context) }
func asTensor(t ml.Tensor) *Tensor    { return t.(*Tensor) }

// newNode implements spec §4.4 step 2 of constructing a graph node:
// allocate the result (header, and payload unless the context is in
// no-alloc planning mode), record op/src0/src1/params, and allocate a
// gradient buffer if backward derivation will need one.
func (c *Context) newNode(typ ggml.TensorType, shape ggml.Shape, op ggml.Op, src0, src1 *Tensor, params OpParams) *Tensor {
	t, err := c.newTensor(typ, shape, nil)
	if err != nil {
		panic(err)
	}
	t.op = op
	t.src0 = src0
	t.src1 = src1
	t.params = params
	if op.HasBackward() && srcNeedsGrad(src0, src1) {
		t.grad = c.dupTensor(t)
		t.grad.name = t.name + ".grad"
	}
	return t
}

// unary builds a same-shape elementwise unary node.
func (a *Tensor) unary(ctx *Context, op ggml.Op) *Tensor {
	return ctx.newNode(a.typ, a.ne, op, a, nil, OpParams{})
}

func (a *Tensor) Neg(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpNeg) }
func (a *Tensor) Abs(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpAbs) }
func (a *Tensor) Sgn(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpSgn) }
func (a *Tensor) Step(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpStep) }
func (a *Tensor) Tanh(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpTanh) }
func (a *Tensor) Elu(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpElu) }
func (a *Tensor) Relu(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpRelu) }
func (a *Tensor) Gelu(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpGelu) }
func (a *Tensor) GeluQuick(ctx ml.Context) ml.Tensor { return a.unary(asCtx(ctx), ggml.OpGeluQuick) }
func (a *Tensor) Silu(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpSilu) }
func (a *Tensor) Sqr(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpSqr) }
func (a *Tensor) Sqrt(ctx ml.Context) ml.Tensor      { return a.unary(asCtx(ctx), ggml.OpSqrt) }
func (a *Tensor) Log(ctx ml.Context) ml.Tensor       { return a.unary(asCtx(ctx), ggml.OpLog) }

// Dup implements spec §4.3 dup_tensor exposed as a graph op: a
// same-shape copy whose adjoint is identity.
func (a *Tensor) Dup(ctx ml.Context) ml.Tensor {
	return a.unary(asCtx(ctx), ggml.OpDup)
}

// View implements spec §4.4 VIEW: a new header over a's payload at a
// byte offset, with the requested shape's canonical contiguous
// strides (the caller is responsible for requesting a shape that fits
// inside a's remaining bytes).
func (a *Tensor) View(ctx ml.Context, offset int, shape ...int) ml.Tensor {
	c := asCtx(ctx)
	ne := shapeOf(shape...)
	if offset < 0 || offset > len(a.data) {
		shapeMismatch("View offset %d out of [0,%d]", offset, len(a.data))
	}
	v := c.viewTensor(a, offset)
	v.ne = ne
	v.nb = ggml.Strides(a.typ, ne)
	v.op = ggml.OpView
	v.src0 = a
	if srcNeedsGrad(a) {
		v.grad = c.dupTensor(v)
	}
	return v
}

// Reshape implements spec §4.4 RESHAPE: requires a to be contiguous
// and the new shape to hold the same element count, and returns a
// view sharing a's payload.
func (a *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	c := asCtx(ctx)
	if !a.IsContiguous() {
		shapeMismatch("Reshape of non-contiguous tensor %q", a.name)
	}
	ne := shapeOf(shape...)
	if ne.Elements() != a.nelements() {
		shapeMismatch("Reshape %v -> %v changes element count", a.Shape(), shape)
	}
	v := c.viewTensor(a, 0)
	v.ne = ne
	v.nb = ggml.Strides(a.typ, ne)
	v.op = ggml.OpReshape
	v.src0 = a
	if srcNeedsGrad(a) {
		v.grad = c.dupTensor(v)
	}
	return v
}

// Permute implements spec §4.4 PERMUTE: a stride-only reordering of
// axes, producing a (generally non-contiguous) view.
func (a *Tensor) Permute(ctx ml.Context, axes [4]int) ml.Tensor {
	c := asCtx(ctx)
	var seen [4]bool
	for _, ax := range axes {
		if ax < 0 || ax > 3 || seen[ax] {
			shapeMismatch("Permute axes %v is not a permutation of [0,3]", axes)
		}
		seen[ax] = true
	}
	v := c.viewTensor(a, 0)
	for i := 0; i < 4; i++ {
		v.ne[axes[i]] = a.ne[i]
		v.nb[axes[i]] = a.nb[i]
	}
	v.op = ggml.OpPermute
	v.src0 = a
	v.params.PermuteAxes = axes
	if srcNeedsGrad(a) {
		v.grad = c.dupTensor(v)
	}
	return v
}

// Transpose implements spec §4.4 TRANSPOSE as PERMUTE({1,0,2,3}).
func (a *Tensor) Transpose(ctx ml.Context) ml.Tensor {
	return a.Permute(ctx, [4]int{1, 0, 2, 3})
}

// Contiguous implements spec §4.4 CONT: materializes a's logical
// layout into a freshly-allocated contiguous buffer. Always allocates,
// even when a is already contiguous, so the result is a genuine new
// arena object the executor can write into independently of a.
func (a *Tensor) Contiguous(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpCont, a, nil, OpParams{})
}

// Cpy implements spec §4.4 CPY: writes a's values into dst's buffer
// (type-converting if needed) and returns a node aliasing dst's
// payload so the copy is visible through either reference after
// Compute.
func (a *Tensor) Cpy(ctx ml.Context, dst ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	d := asTensor(dst)
	if a.nelements() != d.nelements() {
		shapeMismatch("Cpy element count %d != %d", a.nelements(), d.nelements())
	}
	v := c.viewTensor(d, 0)
	v.name = d.name
	v.op = ggml.OpCpy
	v.src0 = a
	v.src1 = d
	if srcNeedsGrad(a) {
		v.grad = c.dupTensor(v)
	}
	return v
}
