package cpu

import (
	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

// MulMat implements spec §4.4 MUL_MAT: A[K,M,b2,b3] x B[K,N,b2,b3] ->
// C[M,N,b2,b3], contracting axis 0 and broadcasting axes 2-3.
func (a *Tensor) MulMat(ctx ml.Context, b ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	if a.ne[0] != bt.ne[0] {
		shapeMismatch("MulMat: contraction axis %d != %d", a.ne[0], bt.ne[0])
	}
	if bt.ne[2] != 0 && a.ne[2]%bt.ne[2] != 0 || bt.ne[3] != 0 && a.ne[3]%bt.ne[3] != 0 {
		shapeMismatch("MulMat: batch dims %v not broadcastable with %v", a.Shape(), bt.Shape())
	}
	shape := shapeOf(a.ne[1], bt.ne[1], a.ne[2], a.ne[3])
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpMulMat, a, bt, OpParams{})
}

// OutProd implements spec §4.4 OUT_PROD: A[K,M] x B[K,N] -> C[M,N], the
// outer-product contraction used to accumulate MUL_MAT's weight
// gradient.
func (a *Tensor) OutProd(ctx ml.Context, b ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	if a.ne[0] != bt.ne[0] {
		shapeMismatch("OutProd: contracted axis %d != %d", a.ne[0], bt.ne[0])
	}
	shape := shapeOf(a.ne[1], bt.ne[1], a.ne[2], a.ne[3])
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpOutProd, a, bt, OpParams{})
}

// Scale multiplies every element by a compile-time scalar (spec §4.4
// SCALE; the scalar lives in OpParams rather than an arena tensor per
// spec §9's redesign).
func (a *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpScale, a, nil, OpParams{Scale: s})
}

// SoftMax implements spec §4.4 SOFT_MAX: a numerically stable softmax
// along axis 0.
func (a *Tensor) SoftMax(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpSoftMax, a, nil, OpParams{})
}

// Rope implements spec §4.4 ROPE: rotary position embedding, reading
// per-token positions from the I32 tensor pos.
func (a *Tensor) Rope(ctx ml.Context, pos ml.Tensor, opts ml.RopeOptions) ml.Tensor {
	c := asCtx(ctx)
	pt := asTensor(pos)
	if pt.typ != ggml.TensorTypeI32 {
		shapeMismatch("Rope: pos must be I32, got %v", pt.typ)
	}
	return c.newNode(a.typ, a.ne, ggml.OpRope, a, pt, OpParams{Rope: opts})
}

// Alibi implements spec §4.4 ALIBI: adds a head-dependent linear bias
// to attention logits. Non-differentiable (spec: ALIBI has no adjoint
// rule).
func (a *Tensor) Alibi(ctx ml.Context, nHead int, bias float32) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpAlibi, a, nil, OpParams{AlibiNHead: nHead, AlibiBias: bias})
}

// Clamp implements spec §4.4 CLAMP: elementwise min/max clip.
// Non-differentiable, matching DESIGN.md's Open Question decision.
func (a *Tensor) Clamp(ctx ml.Context, min, max float32) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpClamp, a, nil, OpParams{ClampMin: min, ClampMax: max})
}

// conv1DOutLen applies the standard convolution output-length formula.
func conv1DOutLen(l, k, stride, padding, dilation int) int {
	return (l+2*padding-dilation*(k-1)-1)/stride + 1
}

// Conv1D implements spec §4.4 CONV_1D: a is [L, Cin, batch], kernel is
// [K, Cin, Cout].
func (a *Tensor) Conv1D(ctx ml.Context, kernel ml.Tensor, stride, padding, dilation int) ml.Tensor {
	c := asCtx(ctx)
	kt := asTensor(kernel)
	if a.ne[1] != kt.ne[1] {
		shapeMismatch("Conv1D: input channels %d != kernel channels %d", a.ne[1], kt.ne[1])
	}
	outLen := conv1DOutLen(a.ne[0], kt.ne[0], stride, padding, dilation)
	shape := shapeOf(outLen, kt.ne[2], a.ne[2])
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpConv1D, a, kt, OpParams{
		Conv1D: struct{ Stride, Padding, Dilation int }{stride, padding, dilation},
	})
}

// Conv2D implements spec §4.4 CONV_2D: a is [W,H,Cin,batch], kernel is
// [Kw,Kh,Cin,Cout].
func (a *Tensor) Conv2D(ctx ml.Context, kernel ml.Tensor, opts ml.Conv2DOptions) ml.Tensor {
	c := asCtx(ctx)
	kt := asTensor(kernel)
	if a.ne[2] != kt.ne[2] {
		shapeMismatch("Conv2D: input channels %d != kernel channels %d", a.ne[2], kt.ne[2])
	}
	outW := conv1DOutLen(a.ne[0], kt.ne[0], opts.Stride0, opts.Padding0, opts.Dilation0)
	outH := conv1DOutLen(a.ne[1], kt.ne[1], opts.Stride1, opts.Padding1, opts.Dilation1)
	shape := shapeOf(outW, outH, kt.ne[3], a.ne[3])
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpConv2D, a, kt, OpParams{Conv2D: opts})
}

// FlashAttn implements spec §4.4 FLASH_ATTN: fused scaled dot-product
// attention over q=a (receiver), k, v, with an optional additive mask.
// v and mask ride in srcExtra (spec §3 caps primary sources at two;
// see the field comment on Tensor.srcExtra for why FLASH_ATTN needs a
// third and fourth in-memory source).
func (a *Tensor) FlashAttn(ctx ml.Context, k, v, mask ml.Tensor, scale float32, causal bool) ml.Tensor {
	c := asCtx(ctx)
	kt, vt := asTensor(k), asTensor(v)
	if a.ne[0] != kt.ne[0] {
		shapeMismatch("FlashAttn: head dim %d != %d", a.ne[0], kt.ne[0])
	}
	result := c.newNode(ggml.TensorTypeF32, a.ne, ggml.OpFlashAttn, a, kt, OpParams{FlashScale: scale, FlashCausal: causal})
	result.srcExtra = append(result.srcExtra, vt)
	if mask != nil {
		result.srcExtra = append(result.srcExtra, asTensor(mask))
	}
	if !result.needsGrad() && srcNeedsGrad(a, kt, vt) {
		result.grad = c.dupTensor(result)
	}
	return result
}

// FlashFF implements spec §4.4 FLASH_FF: a fused two-layer feed-forward,
// computed as a single kernel rather than decomposed MUL_MAT/GELU/MUL_MAT
// nodes so the hidden activation never materializes in the graph. a is
// [D,N], w1 is [D,H] (the up-projection), w2 is [H,D] (the
// down-projection); the result is gelu(w1^T.a).w2, shape [D,N] like a.
func (a *Tensor) FlashFF(ctx ml.Context, w1, w2 ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	w1t, w2t := asTensor(w1), asTensor(w2)
	if a.ne[0] != w1t.ne[0] {
		shapeMismatch("FlashFF: feature dim %d != w1's %d", a.ne[0], w1t.ne[0])
	}
	if w1t.ne[1] != w2t.ne[0] {
		shapeMismatch("FlashFF: hidden dim %d != w2's %d", w1t.ne[1], w2t.ne[0])
	}
	result := c.newNode(ggml.TensorTypeF32, a.ne, ggml.OpFlashFF, a, w1t, OpParams{})
	result.srcExtra = append(result.srcExtra, w2t)
	return result
}

// WinPart implements spec §4.4 WIN_PART (SAM-style window
// partitioning): splits a [W,H,C] feature map into non-overlapping
// w x w windows, padding the trailing edge with zeros.
func (a *Tensor) WinPart(ctx ml.Context, w int) ml.Tensor {
	c := asCtx(ctx)
	nw := (a.ne[0] + w - 1) / w
	nh := (a.ne[1] + w - 1) / w
	shape := shapeOf(w, w, a.ne[2], nw*nh)
	return c.newNode(a.typ, shape, ggml.OpWinPart, a, nil, OpParams{WinSize: w})
}

// WinUnpart reverses WinPart, cropping back to the original h0 x w0
// feature map.
func (a *Tensor) WinUnpart(ctx ml.Context, w, h0, w0 int) ml.Tensor {
	c := asCtx(ctx)
	shape := shapeOf(w0, h0, a.ne[2])
	return c.newNode(a.typ, shape, ggml.OpWinUnpart, a, nil, OpParams{WinSize: w, WinH0: h0, WinW0: w0})
}

// MapUnary and MapBinary are the escape-hatch operators of spec §4.4:
// an arbitrary Go closure applied elementwise. Like ALIBI/CLAMP they
// have no adjoint rule; callers that need a differentiable pointwise
// function express it with the primitive unary/binary ops instead.
func (a *Tensor) MapUnary(ctx ml.Context, f func(float32) float32) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpMapUnary, a, nil, OpParams{MapUnaryFn: f})
}

func (a *Tensor) MapBinary(ctx ml.Context, b ml.Tensor, f func(x, y float32) float32) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	if !ggml.Broadcastable(a.ne, bt.ne) {
		shapeMismatch("MapBinary: %v not broadcastable onto %v", bt.Shape(), a.Shape())
	}
	return c.newNode(a.typ, a.ne, ggml.OpMapBinary, a, bt, OpParams{MapBinaryFn: f})
}

// MapCustom1, MapCustom2, and MapCustom3 implement spec §4.4's
// MAP_CUSTOM1/2/3: arity-N escape hatches whose closure receives a
// whole row plus the calling worker's (ith, nth) partition, for custom
// kernels that need more than MAP_UNARY/MAP_BINARY's single-element
// view. Like MAP_UNARY/MAP_BINARY they have no adjoint rule.
func (a *Tensor) MapCustom1(ctx ml.Context, f func(dst, a []float32, ith, nth int)) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpMapCustom1, a, nil, OpParams{MapCustom1Fn: f})
}

func (a *Tensor) MapCustom2(ctx ml.Context, b ml.Tensor, f func(dst, a, b []float32, ith, nth int)) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	if !ggml.Broadcastable(a.ne, bt.ne) {
		shapeMismatch("MapCustom2: %v not broadcastable onto %v", bt.Shape(), a.Shape())
	}
	return c.newNode(a.typ, a.ne, ggml.OpMapCustom2, a, bt, OpParams{MapCustom2Fn: f})
}

func (a *Tensor) MapCustom3(ctx ml.Context, b, c2 ml.Tensor, f func(dst, a, b, c []float32, ith, nth int)) ml.Tensor {
	c := asCtx(ctx)
	bt, ct := asTensor(b), asTensor(c2)
	if !ggml.Broadcastable(a.ne, bt.ne) || !ggml.Broadcastable(a.ne, ct.ne) {
		shapeMismatch("MapCustom3: %v/%v not broadcastable onto %v", bt.Shape(), ct.Shape(), a.Shape())
	}
	result := c.newNode(a.typ, a.ne, ggml.OpMapCustom3, a, bt, OpParams{MapCustom3Fn: f})
	result.srcExtra = append(result.srcExtra, ct)
	return result
}

// CrossEntropyLoss implements spec §4.4 CROSS_ENTROPY_LOSS: a is
// per-class logits [C, batch], target is a one-hot/soft distribution
// of the same shape; the result is the scalar mean loss (spec §4.6:
// "the loss tensor must be scalar").
func (a *Tensor) CrossEntropyLoss(ctx ml.Context, target ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	tt := asTensor(target)
	if a.ne != tt.ne {
		shapeMismatch("CrossEntropyLoss: logits shape %v != target shape %v", a.Shape(), tt.Shape())
	}
	return c.newNode(ggml.TensorTypeF32, shapeOf(1), ggml.OpCrossEntropyLoss, a, tt, OpParams{})
}
