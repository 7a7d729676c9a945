// context.go - Context und Tensor Interfaces fuer ML-Operationen
// Dieses Modul definiert die Schnittstellen fuer Tensor-Operationen und
// Compute-Kontexte, benannt nach dem vollstaendigen Operator-Satz aus
// spec §4.4 (nicht nach der Modell-Bau-Oberflaeche des Lehrers).
package ml

import "github.com/nnforge/ggoe/fs/ggml"

// Context represents an arena-backed graph-building context (spec
// §4.3/§4.4). One Context owns one bump-allocated memory region; every
// Tensor it returns lives until the Context is closed.
type Context interface {
	// Empty allocates an uninitialized tensor of the given type/shape.
	Empty(dtype DType, shape ...int) Tensor
	// Zeros allocates a tensor and fills its payload with zero bytes.
	Zeros(dtype DType, shape ...int) Tensor
	// FromBytes wraps s as an owned or borrowed tensor payload.
	FromBytes(dtype DType, s []byte, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// NewTensor appends an object to the arena per spec §4.3
	// new_tensor: if data is nil and the context is in no-alloc mode,
	// no payload is reserved.
	NewTensor(dtype DType, shape ...int) Tensor

	// Forward derives the execution graph rooted at each of roots via
	// a post-order visit (spec §4.4 L4) and returns a Context scoped to
	// that graph.
	Forward(roots ...Tensor) Context

	// Compute executes the prepared graph to completion (spec §4.5).
	Compute(...Tensor)

	// Reserve preallocates scratch/work-tensor memory for a worst-case
	// graph without executing it.
	Reserve()

	// NumThreads reports the worker thread count this context's
	// executor will use.
	NumThreads() int

	MaxGraphNodes() int
	Close()

	// ScratchSave/ScratchLoad implement the two-level scratch
	// save/restore stack of spec §4.3.
	ScratchSave()
	ScratchLoad()
}

// Tensor represents a multi-dimensional array with the operator set of
// spec §4.4. Every operator method records its op and sources on the
// result; Forward later applies the adjoint rule of each recorded op
// that has one (spec §4.4 "Backward derivation").
type Tensor interface {
	Name() string
	SetName(s string) Tensor
	DType() DType
	Shape() []int
	Rank() int
	Strides() []int
	IsContiguous() bool
	Op() ggml.Op
	IsParam() bool
	SetIsParam(bool) Tensor

	Bytes() []byte
	Floats() []float32

	FromBytes([]byte)
	FromFloats([]float32)
	FromInts([]int32)

	// Grad returns this tensor's gradient tensor, or nil if it has none
	// (spec §3: "Gradient pointer (null if the tensor has no backward
	// role)").
	Grad() Tensor

	// View/duplicate primitives (spec §4.3).
	View(ctx Context, offset int, shape ...int) Tensor
	Dup(ctx Context) Tensor
	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, axes [4]int) Tensor
	Transpose(ctx Context) Tensor
	Contiguous(ctx Context) Tensor
	Cpy(ctx Context, dst Tensor) Tensor

	// Elementwise unary.
	Neg(ctx Context) Tensor
	Abs(ctx Context) Tensor
	Sgn(ctx Context) Tensor
	Step(ctx Context) Tensor
	Tanh(ctx Context) Tensor
	Elu(ctx Context) Tensor
	Relu(ctx Context) Tensor
	Gelu(ctx Context) Tensor
	GeluQuick(ctx Context) Tensor
	Silu(ctx Context) Tensor
	Sqr(ctx Context) Tensor
	Sqrt(ctx Context) Tensor
	Log(ctx Context) Tensor

	// Elementwise binary (broadcast on axes 1-3).
	Add(ctx Context, b Tensor) Tensor
	Add1(ctx Context, b Tensor) Tensor
	Acc(ctx Context, b Tensor, offset int) Tensor
	Sub(ctx Context, b Tensor) Tensor
	Mul(ctx Context, b Tensor) Tensor
	Div(ctx Context, b Tensor) Tensor

	// Reductions.
	Sum(ctx Context) Tensor
	SumRows(ctx Context) Tensor
	Mean(ctx Context) Tensor
	Argmax(ctx Context) Tensor

	// Shape ops.
	Repeat(ctx Context, shape ...int) Tensor

	// Indexing.
	GetRows(ctx Context, idx Tensor) Tensor
	Diag(ctx Context) Tensor
	DiagMaskInf(ctx Context, nPast int) Tensor
	DiagMaskZero(ctx Context, nPast int) Tensor
	Set(ctx Context, b Tensor, offset int) Tensor

	// Normalization.
	Norm(ctx Context, eps float32) Tensor
	RMSNorm(ctx Context, eps float32) Tensor

	// Linear algebra.
	MulMat(ctx Context, b Tensor) Tensor
	OutProd(ctx Context, b Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	// Softmax family.
	SoftMax(ctx Context) Tensor

	// Positional.
	Rope(ctx Context, pos Tensor, opts RopeOptions) Tensor
	Alibi(ctx Context, nHead int, bias float32) Tensor
	Clamp(ctx Context, min, max float32) Tensor

	// Convolution.
	Conv1D(ctx Context, kernel Tensor, stride, padding, dilation int) Tensor
	Conv2D(ctx Context, kernel Tensor, opts Conv2DOptions) Tensor

	// Attention.
	FlashAttn(ctx Context, k, v, mask Tensor, scale float32, causal bool) Tensor
	FlashFF(ctx Context, w1, w2 Tensor) Tensor

	// Window ops (SAM-style).
	WinPart(ctx Context, w int) Tensor
	WinUnpart(ctx Context, w, h0, w0 int) Tensor

	// Escape hatches.
	MapUnary(ctx Context, f func(float32) float32) Tensor
	MapBinary(ctx Context, b Tensor, f func(x, y float32) float32) Tensor
	MapCustom1(ctx Context, f func(dst, a []float32, ith, nth int)) Tensor
	MapCustom2(ctx Context, b Tensor, f func(dst, a, b []float32, ith, nth int)) Tensor
	MapCustom3(ctx Context, b, c Tensor, f func(dst, a, b, c []float32, ith, nth int)) Tensor

	// Training.
	CrossEntropyLoss(ctx Context, target Tensor) Tensor
}

// RopeOptions packs ROPE's parameters, which the original source
// carries as an I32 option tensor (spec §4.4 ROPE: "mode bit-field:
// bit0=in-place-past-offset, bit1=NeoX-style, bit2=GLM-style"). This
// repo's re-architecture follows spec §9's suggested tagged-union
// OpParams design instead of allocating an arena tensor per call.
type RopeOptions struct {
	NDims     int
	Mode      int
	NCtxOrig  int
	FreqBase  float32
	FreqScale float32
	ExtFactor float32
	AttnFactor float32
	BetaFast  float32
	BetaSlow  float32
}

const (
	RopeModeInPlacePastOffset = 1 << 0
	RopeModeNeoX              = 1 << 1
	RopeModeGLM               = 1 << 2
)

// Conv2DOptions packs CONV_2D's stride/padding/dilation parameters,
// which spec §4.4 says are "packed into an I32 option tensor" in the
// original; this repo carries them as a plain struct per spec §9.
type Conv2DOptions struct {
	Stride0, Stride1     int
	Padding0, Padding1   int
	Dilation0, Dilation1 int
}
