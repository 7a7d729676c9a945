package cpu

import (
	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

// binary builds a broadcasting elementwise binary node: b must match
// a on axis 0 and b's shape must divide a's on axes 1-3 (spec §4.4
// shape inference rules for ADD/SUB/MUL/DIV), and the result takes a's
// shape and type.
func (a *Tensor) binary(ctx *Context, b *Tensor, op ggml.Op) *Tensor {
	if !ggml.Broadcastable(a.ne, b.ne) || a.ne[0] != b.ne[0] {
		shapeMismatch("%v: %v not broadcastable onto %v", op, b.Shape(), a.Shape())
	}
	return ctx.newNode(a.typ, a.ne, op, a, b, OpParams{})
}

func (a *Tensor) Add(ctx ml.Context, b ml.Tensor) ml.Tensor {
	return a.binary(asCtx(ctx), asTensor(b), ggml.OpAdd)
}

// Add1 adds scalar tensor b (every axis length 1) to every element of a.
func (a *Tensor) Add1(ctx ml.Context, b ml.Tensor) ml.Tensor {
	bt := asTensor(b)
	if !bt.ne.IsScalar() {
		shapeMismatch("Add1: b must be scalar, got %v", bt.Shape())
	}
	return asCtx(ctx).newNode(a.typ, a.ne, ggml.OpAdd1, a, bt, OpParams{})
}

// Acc writes b additively into a copy of a at byte offset (spec §4.4
// ACC: in-place-shaped accumulate used by the optimizer and by
// backward derivation of VIEW/RESHAPE-sliced parameters).
func (a *Tensor) Acc(ctx ml.Context, b ml.Tensor, offset int) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	return c.newNode(a.typ, a.ne, ggml.OpAcc, a, bt, OpParams{Offset: offset})
}

func (a *Tensor) Sub(ctx ml.Context, b ml.Tensor) ml.Tensor {
	return a.binary(asCtx(ctx), asTensor(b), ggml.OpSub)
}

func (a *Tensor) Mul(ctx ml.Context, b ml.Tensor) ml.Tensor {
	return a.binary(asCtx(ctx), asTensor(b), ggml.OpMul)
}

func (a *Tensor) Div(ctx ml.Context, b ml.Tensor) ml.Tensor {
	return a.binary(asCtx(ctx), asTensor(b), ggml.OpDiv)
}

// Sum reduces every element to a single F32 scalar.
func (a *Tensor) Sum(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(ggml.TensorTypeF32, shapeOf(1), ggml.OpSum, a, nil, OpParams{})
}

// SumRows reduces axis 0, keeping the remaining axes (spec §4.4:
// row-wise reduction used by softmax normalization and loss terms).
func (a *Tensor) SumRows(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	shape := shapeOf(1, a.ne[1], a.ne[2], a.ne[3])
	return c.newNode(a.typ, shape, ggml.OpSumRows, a, nil, OpParams{})
}

// Mean reduces axis 0 to its arithmetic mean, keeping the remaining axes.
func (a *Tensor) Mean(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	shape := shapeOf(1, a.ne[1], a.ne[2], a.ne[3])
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpMean, a, nil, OpParams{})
}

// Argmax returns, for each row along axis 0, the I32 index of its
// largest element (spec §4.4 ARGMAX; non-differentiable).
func (a *Tensor) Argmax(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	shape := shapeOf(a.ne[1], a.ne[2], a.ne[3])
	return c.newNode(ggml.TensorTypeI32, shape, ggml.OpArgmax, a, nil, OpParams{})
}

// Repeat broadcasts a up to shape, which must be an axis-wise integer
// multiple of a's own shape (spec §4.4 REPEAT).
func (a *Tensor) Repeat(ctx ml.Context, shape ...int) ml.Tensor {
	c := asCtx(ctx)
	ne := shapeOf(shape...)
	if !ggml.Broadcastable(ne, a.ne) {
		shapeMismatch("Repeat: %v not an integer multiple of %v", shape, a.Shape())
	}
	return c.newNode(a.typ, ne, ggml.OpRepeat, a, nil, OpParams{})
}

// GetRows gathers rows of embedding matrix a (shape [K,R,...]) at the
// I32 indices in idx (shape [R']), producing [K,R',...] (spec §4.4
// GET_ROWS).
func (a *Tensor) GetRows(ctx ml.Context, idx ml.Tensor) ml.Tensor {
	c := asCtx(ctx)
	it := asTensor(idx)
	if it.typ != ggml.TensorTypeI32 {
		shapeMismatch("GetRows: idx must be I32, got %v", it.typ)
	}
	// Gathered rows are always materialized as F32, whatever the
	// embedding matrix's storage type (spec §4.4: GET_ROWS -> F32).
	shape := shapeOf(a.ne[0], it.nelements())
	return c.newNode(ggml.TensorTypeF32, shape, ggml.OpGetRows, a, it, OpParams{})
}

// Diag embeds vector a (shape [K,1,...]) as the diagonal of a
// [K,K,...] matrix, zero elsewhere (spec §4.4 DIAG).
func (a *Tensor) Diag(ctx ml.Context) ml.Tensor {
	c := asCtx(ctx)
	shape := shapeOf(a.ne[0], a.ne[0], a.ne[2], a.ne[3])
	return c.newNode(a.typ, shape, ggml.OpDiag, a, nil, OpParams{})
}

// DiagMaskInf sets every element above the nPast-th diagonal to -Inf
// (spec §4.4: causal attention masking).
func (a *Tensor) DiagMaskInf(ctx ml.Context, nPast int) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpDiagMaskInf, a, nil, OpParams{NPast: nPast})
}

// DiagMaskZero is DiagMaskInf with 0 in place of -Inf.
func (a *Tensor) DiagMaskZero(ctx ml.Context, nPast int) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpDiagMaskZero, a, nil, OpParams{NPast: nPast})
}

// Set writes b into a copy of a at byte offset (spec §4.4 SET, the
// non-accumulating counterpart of ACC).
func (a *Tensor) Set(ctx ml.Context, b ml.Tensor, offset int) ml.Tensor {
	c := asCtx(ctx)
	bt := asTensor(b)
	return c.newNode(a.typ, a.ne, ggml.OpSet, a, bt, OpParams{Offset: offset})
}

// Norm is mean/variance layer normalization over axis 0 (spec §4.4 NORM).
func (a *Tensor) Norm(ctx ml.Context, eps float32) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpNorm, a, nil, OpParams{Eps: eps})
}

// RMSNorm normalizes axis 0 by its root-mean-square, without centering
// (spec §4.4 RMS_NORM).
func (a *Tensor) RMSNorm(ctx ml.Context, eps float32) ml.Tensor {
	c := asCtx(ctx)
	return c.newNode(a.typ, a.ne, ggml.OpRMSNorm, a, nil, OpParams{Eps: eps})
}
