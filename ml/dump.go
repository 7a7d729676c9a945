// dump.go - Textausgabe von Tensor-Werten fuer Diagnosezwecke
// Dieses Modul rendert einen Tensor als geschachtelte Klammerlisten mit
// Rand-Elision fuer grosse Tensoren; Konsument ist `ggctl peek`.
package ml

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// DumpOption adjusts how Dump renders a tensor.
type DumpOption func(*dumpConfig)

type dumpConfig struct {
	precision int
	threshold int
	edgeItems int
}

// DumpWithPrecision sets the decimal places used for float values.
func DumpWithPrecision(n int) DumpOption {
	return func(c *dumpConfig) { c.precision = n }
}

// DumpWithThreshold sets the element count up to which the whole
// tensor is printed; larger tensors elide the middle of every
// dimension down to the edge-item count.
func DumpWithThreshold(n int) DumpOption {
	return func(c *dumpConfig) { c.threshold = n }
}

// DumpWithEdgeItems sets how many leading and trailing entries of each
// dimension survive elision.
func DumpWithEdgeItems(n int) DumpOption {
	return func(c *dumpConfig) { c.edgeItems = n }
}

// Dump renders t's values as nested bracketed lists, outermost
// dimension first. Integer tensors print as integers; every other
// element type is materialized to F32 first (a diagnostics-only path,
// so the conversion cost is acceptable).
func Dump(ctx Context, t Tensor, opts ...DumpOption) string {
	cfg := dumpConfig{precision: 4, threshold: 1000, edgeItems: 3}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.edgeItems < 1 {
		cfg.edgeItems = 1
	}

	if t.Bytes() == nil {
		ctx.Forward(t).Compute(t)
	}

	shape := t.Shape()
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n <= cfg.threshold {
		cfg.edgeItems = n
	}

	switch t.DType() {
	case DTypeI8, DTypeI16, DTypeI32:
		vals := i32Values(asI32(ctx, t), n)
		return renderDims(shape, cfg.edgeItems, func(i int) string {
			return strconv.FormatInt(int64(vals[i]), 10)
		})
	default:
		vals := asF32(ctx, t).Floats()
		return renderDims(shape, cfg.edgeItems, func(i int) string {
			return strconv.FormatFloat(float64(vals[i]), 'f', cfg.precision, 32)
		})
	}
}

// renderDims walks the dimensions outermost first. shape is in the
// engine's innermost-first axis order, so the flat offset of axis k is
// the product of the axes below it.
func renderDims(shape []int, edge int, format func(int) string) string {
	strides := make([]int, len(shape))
	s := 1
	for i := range shape {
		strides[i] = s
		s *= shape[i]
	}

	var sb strings.Builder
	var walk func(axis, base int)
	walk = func(axis, base int) {
		sb.WriteByte('[')
		dim := shape[axis]
		for i := 0; i < dim; i++ {
			if dim > 2*edge && i == edge {
				sb.WriteString("..., ")
				i = dim - edge - 1
				continue
			}
			if axis == 0 {
				sb.WriteString(format(base + i*strides[axis]))
			} else {
				walk(axis-1, base+i*strides[axis])
			}
			if i < dim-1 {
				if axis == 0 {
					sb.WriteString(", ")
				} else {
					sb.WriteString(",\n")
					sb.WriteString(strings.Repeat(" ", len(shape)-axis))
				}
			}
		}
		sb.WriteByte(']')
	}
	walk(len(shape)-1, 0)
	return sb.String()
}

// i32Values decodes an I32 tensor's first n elements.
func i32Values(t Tensor, n int) []int32 {
	b := t.Bytes()
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// asF32 returns t directly if it is already F32, or a materialized F32
// copy otherwise.
func asF32(ctx Context, t Tensor) Tensor {
	if t.DType() == DTypeF32 {
		return t
	}
	dst := ctx.Empty(DTypeF32, t.Shape()...)
	ctx.Forward(t.Cpy(ctx, dst)).Compute(dst)
	return dst
}

// asI32 widens the small integer types to I32 so the printer has one
// integer layout to decode.
func asI32(ctx Context, t Tensor) Tensor {
	if t.DType() == DTypeI32 {
		return t
	}
	dst := ctx.Empty(DTypeI32, t.Shape()...)
	ctx.Forward(t.Cpy(ctx, dst)).Compute(dst)
	return dst
}
