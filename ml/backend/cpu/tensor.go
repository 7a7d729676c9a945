// Package cpu is the single sanctioned backend: an arena-backed
// Context/Tensor pair, the graph builder (operator constructors and
// backward derivation), and the executor's worker pool and kernel
// library (spec §4.3-§4.5). It mirrors the teacher's ml/backend/ggml
// package shape (Context/Tensor types, Backend registration) with pure
// Go kernels in place of every cgo call.
package cpu

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

var _ slog.LogValuer = (*Tensor)(nil)

// OpParams is the tagged-union parameter carrier spec §9 recommends in
// place of the original's I32/F32 "option tensor" encoding: operator
// constructors that need a scalar argument (SCALE's factor, ROPE's mode
// bit-field, CONV_2D's stride/padding/dilation, MAP_*'s closures) store
// it here instead of allocating an auxiliary arena tensor.
type OpParams struct {
	Scale      float64
	Offset     int
	NPast      int
	Eps        float32
	Rope       ml.RopeOptions
	Conv2D     ml.Conv2DOptions
	Conv1D     struct{ Stride, Padding, Dilation int }
	AlibiNHead int
	AlibiBias  float32
	ClampMin   float32
	ClampMax   float32
	WinSize    int
	WinH0      int
	WinW0      int
	FlashScale float32
	FlashCausal bool
	MapUnaryFn  func(float32) float32
	MapBinaryFn func(x, y float32) float32
	PermuteAxes [4]int

	// ActKind records which activation an OpSiluBack node is the local
	// gradient of (SILU, GELU, or GELU_QUICK): the three sigmoid-gated
	// activations share one backward op but not one derivative.
	ActKind ggml.Op

	// MapCustomNFn back MAP_CUSTOM1/2/3 (spec §4.4's arity-N escape
	// hatches): unlike MAP_UNARY/MAP_BINARY's per-scalar closures, these
	// receive a whole row at a time plus the calling worker's (ith, nth)
	// partition indices, matching the spec's "function pointer boxed in
	// an option tensor" description for custom kernels that need more
	// context than a single element (e.g. a row-local running state).
	MapCustom1Fn func(dst, a []float32, ith, nth int)
	MapCustom2Fn func(dst, a, b []float32, ith, nth int)
	MapCustom3Fn func(dst, a, b, c []float32, ith, nth int)
}

// Tensor is a single arena object: a header plus an optional owned or
// scratch-carved payload (spec §3). Source and gradient linkage uses
// plain Go pointers into the owning Context's object list rather than
// u32 arena indices — Go's GC makes the indirection spec §9 recommends
// ("arena indices ... eliminates reference-count cycles") unnecessary,
// since tensors already cannot outlive their Context (it holds the
// only strong references via ctx.objects) and there are no reference
// cycles to break: the DAG only ever points from a node to its
// (already-constructed) sources.
type Tensor struct {
	ctx *Context

	name string
	typ  ggml.TensorType
	ne   ggml.Shape
	nb   [ggml.MaxDims]int

	op       ggml.Op
	src0     *Tensor
	src1     *Tensor
	srcExtra []*Tensor // FLASH_ATTN's v/mask: beyond the two primary sources the on-disk graph format records, kept in-memory only so the executor and the graph walker still see the full dependency set.
	params   OpParams

	grad    *Tensor
	isParam bool

	data []byte // nil when NoAlloc and never populated

	// finalizeAcc holds one slot per worker thread for ops whose
	// FINALIZE phase reduces per-thread partial results (spec §4.5:
	// "FINALIZE ... e.g. CROSS_ENTROPY_LOSS reduces per-thread partial
	// sums"). Sized by the op's INIT hook, written disjointly by
	// COMPUTE (one slot per thread index), combined by FINALIZE.
	finalizeAcc []float64

	taskCount int
	perf      PerfCounters
}

// PerfCounters are the per-run performance counters spec §3 attaches
// to every tensor: cycles, wall time, invocation count.
type PerfCounters struct {
	Cycles  int64
	NanosWall int64
	Calls   int64
}

// LogValue gives slog a compact structured view of a tensor header, so
// diagnostics can attach a tensor without dumping its payload.
func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", t.name),
		slog.String("type", t.typ.String()),
		slog.String("op", t.op.String()),
		slog.Any("shape", t.Shape()),
	)
}

func (t *Tensor) Name() string { return t.name }

func (t *Tensor) SetName(s string) ml.Tensor {
	if len(s) > ggml.MaxNameLen {
		s = s[:ggml.MaxNameLen]
	}
	t.name = s
	if s != "" {
		t.ctx.objects.Set(s, t)
	}
	return t
}

func (t *Tensor) DType() ml.DType { return ml.DTypeFromTensorType(t.typ) }

func (t *Tensor) Shape() []int {
	r := t.ne.Rank()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		out[i] = t.ne[i]
	}
	return out
}

func (t *Tensor) Rank() int { return t.ne.Rank() }

func (t *Tensor) Strides() []int {
	r := t.ne.Rank()
	out := make([]int, r)
	copy(out, t.nb[:r])
	return out
}

func (t *Tensor) IsContiguous() bool {
	return ggml.IsContiguous(t.typ, t.ne, t.nb)
}

func (t *Tensor) Op() ggml.Op { return t.op }

func (t *Tensor) IsParam() bool { return t.isParam }

func (t *Tensor) SetIsParam(v bool) ml.Tensor {
	t.isParam = v
	if v && t.grad == nil {
		t.grad = t.ctx.dupTensor(t)
		t.grad.name = t.name + ".grad"
	}
	return t
}

func (t *Tensor) Grad() ml.Tensor {
	if t.grad == nil {
		return nil
	}
	return t.grad
}

func (t *Tensor) nelements() int { return t.ne.Elements() }

func (t *Tensor) byteSize() int { return ggml.ByteSize(t.typ, t.ne, t.nb) }

func (t *Tensor) Bytes() []byte { return t.data }

// Floats decodes an F32 tensor's payload into a fresh []float32. Panics
// if t is not F32 — callers that need another type's numeric view go
// through quant.Lookup(t.typ).Dequantize instead.
func (t *Tensor) Floats() []float32 {
	if t.typ != ggml.TensorTypeF32 {
		panic(fmt.Sprintf("cpu: Floats() called on non-F32 tensor %q (%v)", t.name, t.typ))
	}
	n := t.nelements()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

func (t *Tensor) FromBytes(b []byte) {
	if len(b) != len(t.data) {
		panic(fmt.Sprintf("cpu: FromBytes length %d, want %d", len(b), len(t.data)))
	}
	copy(t.data, b)
}

func (t *Tensor) FromFloats(s []float32) {
	if t.typ != ggml.TensorTypeF32 {
		panic("cpu: FromFloats called on non-F32 tensor")
	}
	if len(s) != t.nelements() {
		panic(fmt.Sprintf("cpu: FromFloats length %d, want %d", len(s), t.nelements()))
	}
	for i, v := range s {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
	}
}

func (t *Tensor) FromInts(s []int32) {
	if t.typ != ggml.TensorTypeI32 {
		panic("cpu: FromInts called on non-I32 tensor")
	}
	if len(s) != t.nelements() {
		panic(fmt.Sprintf("cpu: FromInts length %d, want %d", len(s), t.nelements()))
	}
	for i, v := range s {
		binary.LittleEndian.PutUint32(t.data[i*4:], uint32(v))
	}
}

func (t *Tensor) ints() []int32 {
	n := t.nelements()
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

// needsGrad reports whether this tensor itself carries a gradient
// tensor (its sources are not inspected; see srcNeedsGrad), per spec
// §4.4 step 2: "Decides
// whether the result can be an in-place view of operand A (only when
// no operand carries a gradient-requirement flag ...)".
func (t *Tensor) needsGrad() bool {
	return t.grad != nil
}

func srcNeedsGrad(srcs ...*Tensor) bool {
	for _, s := range srcs {
		if s != nil && s.grad != nil {
			return true
		}
	}
	return false
}

// sources returns this tensor's primary source tensors (spec §3: "Up
// to two primary source tensors"), skipping nils, followed by every
// srcExtra operand, for the graph walker in graph.go.
func (t *Tensor) sources() []*Tensor {
	var out []*Tensor
	if t.src0 != nil {
		out = append(out, t.src0)
	}
	if t.src1 != nil {
		out = append(out, t.src1)
	}
	out = append(out, t.srcExtra...)
	return out
}
