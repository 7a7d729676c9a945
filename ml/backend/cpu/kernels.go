package cpu

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
	"github.com/nnforge/ggoe/quant"
)

// kernelFunc computes a node's output rows [lo,hi) (spec §4.5: "each
// worker computes a disjoint row range of the output"). Kernels that
// need the whole tensor at once (reductions to a scalar, scatter-style
// backward ops) ignore the range: they do all the work on the task
// whose range starts at 0 and return immediately on every other task.
type kernelFunc func(n *Tensor, tid, lo, hi int)

// kernelInitFunc and kernelFinalizeFunc back the executor's INIT and
// FINALIZE phases (spec §4.5's "only COMPUTE is mandatory"). Ops absent
// from kernelInits/kernelFinalizes get the trait default: a no-op,
// exactly as spec §9's "trait methods with default no-op
// implementations" redesign note describes.
type kernelInitFunc func(n *Tensor, nThreads int)
type kernelFinalizeFunc func(n *Tensor)

var kernels map[ggml.Op]kernelFunc
var kernelInits map[ggml.Op]kernelInitFunc
var kernelFinalizes map[ggml.Op]kernelFinalizeFunc

func init() {
	kernelInits = map[ggml.Op]kernelInitFunc{
		ggml.OpMulMat:           initMulMat,
		ggml.OpCrossEntropyLoss: initCrossEntropyLoss,
	}
	kernelFinalizes = map[ggml.Op]kernelFinalizeFunc{
		ggml.OpCrossEntropyLoss: finalizeCrossEntropyLoss,
	}

	kernels = map[ggml.Op]kernelFunc{
		ggml.OpDup:  kDup,
		ggml.OpView: kNoOp, ggml.OpReshape: kNoOp, ggml.OpPermute: kNoOp, ggml.OpTranspose: kNoOp,
		ggml.OpCont: kCont, ggml.OpCpy: kCpy,

		ggml.OpNeg: unaryVecKernel(numeric.Neg), ggml.OpAbs: unaryVecKernel(numeric.Abs),
		ggml.OpSgn: unaryVecKernel(numeric.Sgn), ggml.OpStep: unaryVecKernel(numeric.Step),
		ggml.OpTanh: unaryVecKernel(numeric.Tanh), ggml.OpElu: unaryVecKernel(numeric.Elu),
		ggml.OpRelu: unaryVecKernel(numeric.Relu), ggml.OpGelu: unaryVecKernel(numeric.Gelu),
		ggml.OpGeluQuick: unaryVecKernel(numeric.GeluQuick), ggml.OpSilu: unaryVecKernel(numeric.Silu),
		ggml.OpSqr: unaryVecKernel(numeric.Sqr), ggml.OpSqrt: unaryVecKernel(numeric.Sqrt),
		ggml.OpLog: unaryVecKernel(numeric.Log),
		ggml.OpSiluBack: kSiluBack,

		ggml.OpAdd: binaryVecKernel(numeric.Add), ggml.OpSub: binaryVecKernel(numeric.Sub),
		ggml.OpMul: binaryVecKernel(numeric.Mul), ggml.OpDiv: binaryVecKernel(numeric.Div),
		ggml.OpAdd1: kAdd1, ggml.OpAcc: kAcc, ggml.OpSet: kSet,

		ggml.OpSum: kSum, ggml.OpSumRows: kSumRows, ggml.OpMean: kMean, ggml.OpArgmax: kArgmax,

		ggml.OpRepeat: kRepeat, ggml.OpRepeatBack: kRepeatBack,

		ggml.OpGetRows: kGetRows, ggml.OpGetRowsBack: kGetRowsBack,
		ggml.OpDiag: kDiag, ggml.OpDiagMaskInf: kDiagMask(math.Inf(-1)), ggml.OpDiagMaskZero: kDiagMask(0),

		ggml.OpNorm: kNorm, ggml.OpRMSNorm: kRMSNorm, ggml.OpRMSNormBack: kRMSNormBack,

		ggml.OpMulMat: kMulMat, ggml.OpOutProd: kOutProd, ggml.OpScale: kScale,

		ggml.OpSoftMax: kSoftMax, ggml.OpSoftMaxBack: kSoftMaxBack,

		ggml.OpRope: kRope, ggml.OpRopeBack: kRopeBack,
		ggml.OpAlibi: kAlibi, ggml.OpClamp: kClamp,

		ggml.OpConv1D: kConv1D, ggml.OpConv2D: kConv2D,

		ggml.OpFlashAttn: kFlashAttn, ggml.OpFlashAttnBack: kFlashAttnBack, ggml.OpFlashFF: kFlashFF,

		ggml.OpWinPart: kWinPart, ggml.OpWinUnpart: kWinUnpart,

		ggml.OpMapUnary: kMapUnary, ggml.OpMapBinary: kMapBinary,
		ggml.OpMapCustom1: kMapCustom1, ggml.OpMapCustom2: kMapCustom2, ggml.OpMapCustom3: kMapCustom3,

		ggml.OpCrossEntropyLoss: kCrossEntropyLoss, ggml.OpCrossEntropyLossBack: kCrossEntropyLossBack,
	}
}

// --- row-level F32 codec ------------------------------------------------

// readRow decodes row (an index into the flattened [ne1*ne2*ne3] space)
// of t into a fresh []float32 of length t.ne[0], dispatching on t's
// type: F32 is read directly, F16 is widened, and quantized types go
// through the L1 codec registry (spec §4.2).
func readRow(t *Tensor, row int) []float32 {
	off := row * t.nb[1]
	n := t.ne[0]
	switch t.typ {
	case ggml.TensorTypeF32:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[off+i*4:]))
		}
		return out
	case ggml.TensorTypeF16:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = numeric.F16Bits(binary.LittleEndian.Uint16(t.data[off+i*2:])).F32()
		}
		return out
	case ggml.TensorTypeI8:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(int8(t.data[off+i]))
		}
		return out
	case ggml.TensorTypeI16:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(int16(binary.LittleEndian.Uint16(t.data[off+i*2:])))
		}
		return out
	case ggml.TensorTypeI32:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(int32(binary.LittleEndian.Uint32(t.data[off+i*4:])))
		}
		return out
	default:
		codec, err := quant.Lookup(t.typ)
		if err != nil {
			panic(err)
		}
		size := t.typ.RowSize(n)
		return codec.Dequantize(t.data[off:off+size], n)
	}
}

// writeRow encodes vals into row of t. F32/F16 and the integer types
// are supported; quantized destinations are not, since kernels never
// materialize quantized activations.
func writeRow(t *Tensor, row int, vals []float32) {
	off := row * t.nb[1]
	switch t.typ {
	case ggml.TensorTypeF32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(t.data[off+i*4:], math.Float32bits(v))
		}
	case ggml.TensorTypeF16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(t.data[off+i*2:], numeric.F16FromF32(v).Bits())
		}
	case ggml.TensorTypeI8:
		for i, v := range vals {
			t.data[off+i] = byte(int8(v))
		}
	case ggml.TensorTypeI16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(t.data[off+i*2:], uint16(int16(v)))
		}
	case ggml.TensorTypeI32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(t.data[off+i*4:], uint32(int32(v)))
		}
	default:
		panic("cpu: writeRow: unsupported destination type " + t.typ.String())
	}
}

func readScalar(t *Tensor) float32 { return readRow(t, 0)[0] }

func rowCoords(t *Tensor, row int) (i1, i2, i3 int) {
	i1 = row % t.ne[1]
	i2 = (row / t.ne[1]) % t.ne[2]
	i3 = row / (t.ne[1] * t.ne[2])
	return
}

func broadcastRow(dst *Tensor, src *Tensor, row int) int {
	i1, i2, i3 := rowCoords(dst, row)
	if src.ne[1] > 1 {
		i1 %= src.ne[1]
	} else {
		i1 = 0
	}
	if src.ne[2] > 1 {
		i2 %= src.ne[2]
	} else {
		i2 = 0
	}
	if src.ne[3] > 1 {
		i3 %= src.ne[3]
	} else {
		i3 = 0
	}
	return i3*src.ne[2]*src.ne[1] + i2*src.ne[1] + i1
}

// --- shape / copy kernels ------------------------------------------------

func kNoOp(n *Tensor, tid, lo, hi int) {}

func kDup(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		writeRow(n, r, readRow(n.src0, r))
	}
}

func kCont(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		writeRow(n, r, readRow(n.src0, r))
	}
}

// kCpy copies through the flat element space: src and dst are only
// required to agree on element count, not shape, so the row spaces may
// differ. Single task (CPY is in the planner's task-count-1 class).
func kCpy(n *Tensor, tid, lo, hi int) {
	if lo > 0 {
		return
	}
	src, dst := n.src0, n.src1
	vals := make([]float32, 0, src.nelements())
	rows := src.ne[1] * src.ne[2] * src.ne[3]
	for r := 0; r < rows; r++ {
		vals = append(vals, readRow(src, r)...)
	}
	dstRows := dst.ne[1] * dst.ne[2] * dst.ne[3]
	k := dst.ne[0]
	for r := 0; r < dstRows; r++ {
		writeRow(dst, r, vals[r*k:(r+1)*k])
	}
}

func kRepeat(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		src := readRow(n.src0, broadcastRow(n, n.src0, r))
		out := make([]float32, n.ne[0])
		for i := range out {
			out[i] = src[i%len(src)]
		}
		writeRow(n, r, out)
	}
}

// kRepeatBack sums gradient contributions from n.src0 (the broadcast
// output's gradient) back down onto the smaller pre-broadcast shape
// n.ne, the adjoint of REPEAT.
func kRepeatBack(n *Tensor, tid, lo, hi int) {
	if lo > 0 {
		return // single task: needs the full sum
	}
	acc := make([][]float32, n.ne[1]*n.ne[2]*n.ne[3])
	for i := range acc {
		acc[i] = make([]float32, n.ne[0])
	}
	src := n.src0
	rows := src.ne[1] * src.ne[2] * src.ne[3]
	for r := 0; r < rows; r++ {
		dstRow := broadcastRow(src, n, r)
		row := readRow(src, r)
		for i, v := range row {
			acc[dstRow][i%n.ne[0]] += v
		}
	}
	for r, row := range acc {
		writeRow(n, r, row)
	}
}

// --- unary / binary elementwise ------------------------------------------

func unaryVecKernel(f func(n int, dst, a []float32)) kernelFunc {
	return func(n *Tensor, tid, lo, hi int) {
		for r := lo; r < hi; r++ {
			a := readRow(n.src0, r)
			out := make([]float32, len(a))
			f(len(a), out, a)
			writeRow(n, r, out)
		}
	}
}

func binaryVecKernel(f func(n int, dst, a, b []float32) ) kernelFunc {
	return func(n *Tensor, tid, lo, hi int) {
		for r := lo; r < hi; r++ {
			a := readRow(n.src0, r)
			b := readRow(n.src1, broadcastRow(n, n.src1, r))
			out := make([]float32, len(a))
			f(len(a), out, a, b)
			writeRow(n, r, out)
		}
	}
}

// kSiluBack is the shared backward kernel of the three sigmoid-gated
// activations; params.ActKind selects which derivative applies.
func kSiluBack(n *Tensor, tid, lo, hi int) {
	back := numeric.SiluBackward
	switch n.params.ActKind {
	case ggml.OpGelu:
		back = numeric.GeluBackward
	case ggml.OpGeluQuick:
		back = numeric.GeluQuickBackward
	}
	for r := lo; r < hi; r++ {
		x := readRow(n.src0, r)
		grad := readRow(n.src1, r)
		out := make([]float32, len(x))
		back(len(x), out, x, grad)
		writeRow(n, r, out)
	}
}

func kAdd1(n *Tensor, tid, lo, hi int) {
	scalar := readScalar(n.src1)
	for r := lo; r < hi; r++ {
		a := readRow(n.src0, r)
		out := make([]float32, len(a))
		for i, v := range a {
			out[i] = v + scalar
		}
		writeRow(n, r, out)
	}
}

func kAcc(n *Tensor, tid, lo, hi int) {
	// ACC writes n.src0's rows through unchanged except where n.src1
	// overlaps at the byte offset, where it adds n.src1's values.
	for r := lo; r < hi; r++ {
		writeRow(n, r, readRow(n.src0, r))
	}
	if lo > 0 {
		return
	}
	off := n.params.Offset
	b := readRow(n.src1, 0)
	base := readAtByteOffset(n, off, len(b))
	for i, v := range b {
		base[i] += v
	}
	writeAtByteOffset(n, off, base)
}

func kSet(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		writeRow(n, r, readRow(n.src0, r))
	}
	if lo > 0 {
		return
	}
	writeAtByteOffset(n, n.params.Offset, readRow(n.src1, 0))
}

func readAtByteOffset(t *Tensor, off, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[off+i*4:]))
	}
	return out
}

func writeAtByteOffset(t *Tensor, off int, vals []float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(t.data[off+i*4:], math.Float32bits(v))
	}
}

// --- reductions ------------------------------------------------------

func kSum(n *Tensor, tid, lo, hi int) {
	if lo > 0 {
		return
	}
	var total float64
	rows := n.src0.ne[1] * n.src0.ne[2] * n.src0.ne[3]
	for r := 0; r < rows; r++ {
		row := readRow(n.src0, r)
		total += float64(numeric.Sum(len(row), row))
	}
	writeRow(n, 0, []float32{float32(total)})
}

func kSumRows(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		writeRow(n, r, []float32{numeric.Sum(len(row), row)})
	}
}

func kMean(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		writeRow(n, r, []float32{numeric.Sum(len(row), row) / float32(len(row))})
	}
}

func kArgmax(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		idx := numeric.Argmax(len(row), row)
		off := r * n.nb[0]
		binary.LittleEndian.PutUint32(n.data[off:], uint32(int32(idx)))
	}
}

// --- indexing ------------------------------------------------------

func kGetRows(n *Tensor, tid, lo, hi int) {
	idx := n.src1.ints()
	for r := lo; r < hi; r++ {
		srcRow := int(idx[r])
		writeRow(n, r, readRow(n.src0, srcRow))
	}
}

func kGetRowsBack(n *Tensor, tid, lo, hi int) {
	if lo > 0 {
		return
	}
	rows := n.ne[1] * n.ne[2] * n.ne[3]
	acc := make([][]float32, rows)
	for i := range acc {
		acc[i] = make([]float32, n.ne[0])
	}
	idx := n.src1.ints()
	gradRows := n.src0.ne[1] * n.src0.ne[2] * n.src0.ne[3]
	for r := 0; r < gradRows; r++ {
		dstRow := int(idx[r%len(idx)])
		row := readRow(n.src0, r)
		for i, v := range row {
			acc[dstRow][i] += v
		}
	}
	for r, row := range acc {
		writeRow(n, r, row)
	}
}

func kDiag(n *Tensor, tid, lo, hi int) {
	if lo > 0 {
		return
	}
	v := readRow(n.src0, 0)
	k := n.ne[0]
	out := make([]float32, k)
	for r := 0; r < k; r++ {
		for i := range out {
			out[i] = 0
		}
		out[r] = v[r]
		writeRow(n, r, out)
	}
}

func kDiagMask(fill float64) kernelFunc {
	f := float32(fill)
	return func(n *Tensor, tid, lo, hi int) {
		nPast := n.params.NPast
		for r := lo; r < hi; r++ {
			i1, _, _ := rowCoords(n, r)
			row := readRow(n.src0, r)
			out := append([]float32(nil), row...)
			for i := range out {
				if i > nPast+i1 {
					out[i] = f
				}
			}
			writeRow(n, r, out)
		}
	}
}

// --- normalization ------------------------------------------------

func kNorm(n *Tensor, tid, lo, hi int) {
	eps := n.params.Eps
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		mean := numeric.Sum(len(row), row) / float32(len(row))
		var variance float32
		centered := make([]float32, len(row))
		for i, v := range row {
			centered[i] = v - mean
			variance += centered[i] * centered[i]
		}
		variance /= float32(len(row))
		inv := float32(1 / math.Sqrt(float64(variance)+float64(eps)))
		for i := range centered {
			centered[i] *= inv
		}
		writeRow(n, r, centered)
	}
}

func kRMSNorm(n *Tensor, tid, lo, hi int) {
	eps := n.params.Eps
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		var ss float32
		for _, v := range row {
			ss += v * v
		}
		ss /= float32(len(row))
		inv := float32(1 / math.Sqrt(float64(ss)+float64(eps)))
		out := make([]float32, len(row))
		for i, v := range row {
			out[i] = v * inv
		}
		writeRow(n, r, out)
	}
}

// kRMSNormBack computes an approximate RMSNorm adjoint: treats inv as
// locally constant, i.e. d/dx ~= grad * inv. This omits the
// second-order term from inv's own dependence on x (spec has no
// original_source/ reference for the exact closed form; DESIGN.md
// records this as an accepted approximation).
func kRMSNormBack(n *Tensor, tid, lo, hi int) {
	eps := n.params.Eps
	for r := lo; r < hi; r++ {
		x := readRow(n.src0, r)
		grad := readRow(n.src1, r)
		var ss float32
		for _, v := range x {
			ss += v * v
		}
		ss /= float32(len(x))
		inv := float32(1 / math.Sqrt(float64(ss)+float64(eps)))
		out := make([]float32, len(x))
		for i := range x {
			out[i] = grad[i] * inv
		}
		writeRow(n, r, out)
	}
}

func kSoftMax(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		mx := numeric.Max(len(row), row)
		out := make([]float32, len(row))
		var sum float32
		for i, v := range row {
			out[i] = float32(math.Exp(float64(v - mx)))
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
		writeRow(n, r, out)
	}
}

// kSoftMaxBack: dx_i = s_i*(dy_i - Σ_j s_j*dy_j), the standard softmax
// Jacobian-vector product.
func kSoftMaxBack(n *Tensor, tid, lo, hi int) {
	for r := lo; r < hi; r++ {
		s := readRow(n.src0, r)
		dy := readRow(n.src1, r)
		var dot float32
		for i := range s {
			dot += s[i] * dy[i]
		}
		out := make([]float32, len(s))
		for i := range s {
			out[i] = s[i] * (dy[i] - dot)
		}
		writeRow(n, r, out)
	}
}

// --- linear algebra ------------------------------------------------

// srcRowIndex maps an output batch coordinate onto src's (possibly
// smaller, broadcast) batch axes and returns src's flattened row index.
func srcRowIndex(src *Tensor, i1, i2, i3 int) int {
	return (i3%src.ne[3])*src.ne[2]*src.ne[1] + (i2%src.ne[2])*src.ne[1] + i1
}

// mulMatFused reports whether this MUL_MAT can run the paired integer
// dot kernels of spec §4.2: quantized lhs with a registered codec, F32
// rhs, and a contraction length satisfying the vec_dot invariants
// (n mod B == 0, block count even).
func mulMatFused(n *Tensor) (*quant.Codec, *quant.Codec, bool) {
	a, b := n.src0, n.src1
	if !a.typ.IsQuantized() || b.typ != ggml.TensorTypeF32 || !a.IsContiguous() {
		return nil, nil, false
	}
	wc, err := quant.Lookup(a.typ)
	if err != nil {
		return nil, nil, false
	}
	dc, err := quant.Lookup(wc.DotType)
	if err != nil {
		return nil, nil, false
	}
	k := a.ne[0]
	bl := a.typ.BlockLen()
	if k%bl != 0 || (k/bl)%2 != 0 {
		return nil, nil, false
	}
	return wc, dc, true
}

// initMulMat is MUL_MAT's INIT phase (spec §4.5: operator categories
// that "pre-quantize inputs"): when the fused path applies, every rhs
// row is quantized once into the shared work buffer, encoded as the
// lhs type's dot type, so COMPUTE can run the paired integer kernel
// instead of dequantizing the weights row by row.
func initMulMat(n *Tensor, nThreads int) {
	wc, dc, ok := mulMatFused(n)
	if !ok {
		return
	}
	c := n.src0.ctx
	rowSize := wc.DotType.RowSize(n.src1.ne[0])
	rows := n.src1.ne[1] * n.src1.ne[2] * n.src1.ne[3]
	if len(c.work) < rows*rowSize {
		return // planner did not size scratch for this node; COMPUTE falls back
	}
	for r := 0; r < rows; r++ {
		q := dc.QuantizeReference(readRow(n.src1, r))
		copy(c.work[r*rowSize:(r+1)*rowSize], q)
	}
}

func kMulMat(n *Tensor, tid, lo, hi int) {
	a, b := n.src0, n.src1 // a:[K,M,...] b:[K,N,...] -> n:[M,N,...]
	K, M := a.ne[0], a.ne[1]

	if wc, _, ok := mulMatFused(n); ok {
		qRowSize := wc.DotType.RowSize(K)
		aRowSize := a.typ.RowSize(K)
		bRows := b.ne[1] * b.ne[2] * b.ne[3]
		if len(a.ctx.work) >= bRows*qRowSize {
			for r := lo; r < hi; r++ {
				j, i2, i3 := rowCoords(n, r)
				bq := a.ctx.work[srcRowIndex(b, j, i2, i3)*qRowSize:]
				out := make([]float32, M)
				for m := 0; m < M; m++ {
					aOff := srcRowIndex(a, m, i2, i3) * a.nb[1]
					out[m] = wc.VecDot(K, a.data[aOff:aOff+aRowSize], bq[:qRowSize])
				}
				writeRow(n, r, out)
			}
			return
		}
	}

	for r := lo; r < hi; r++ {
		j, i2, i3 := rowCoords(n, r) // j in [0,N), i2/i3 the broadcast batch axes
		bRow := readRow(b, srcRowIndex(b, j, i2, i3))
		out := make([]float32, M)
		for m := 0; m < M; m++ {
			aRow := readRow(a, srcRowIndex(a, m, i2, i3))
			out[m] = numeric.Dot(K, aRow, bRow)
		}
		writeRow(n, r, out)
	}
}

// kOutProd contracts A[K,M] and B[K,N] over their shared axis-0 length
// K to produce C[M,N] = A^T.B: C[m,j] = Σ_k A[k,m]·B[k,j]. Under this
// engine's row-major-by-axis-1 convention this is the same dot-product
// shape as MUL_MAT; OUT_PROD exists as a distinct op because its usual
// caller (accumulating a weight gradient from an activation and an
// upstream-gradient matrix) treats K as a batch/sample axis rather
// than MUL_MAT's contracted hidden axis, not because the arithmetic
// differs.
func kOutProd(n *Tensor, tid, lo, hi int) {
	a, b := n.src0, n.src1
	K, M := a.ne[0], a.ne[1]
	for r := lo; r < hi; r++ {
		j, i2, i3 := rowCoords(n, r)
		bRow := readRow(b, srcRowIndex(b, j, i2, i3))
		out := make([]float32, M)
		for m := 0; m < M; m++ {
			aRow := readRow(a, srcRowIndex(a, m, i2, i3))
			out[m] = numeric.Dot(K, aRow, bRow)
		}
		writeRow(n, r, out)
	}
}

func kScale(n *Tensor, tid, lo, hi int) {
	s := float32(n.params.Scale)
	for r := lo; r < hi; r++ {
		row := readRow(n.src0, r)
		out := make([]float32, len(row))
		numeric.Scale(len(row), out, row, s)
		writeRow(n, r, out)
	}
}
