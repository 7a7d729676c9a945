// Package numeric implements the L0 layer: scalar numeric primitives,
// FP16 conversion, and the reference vector routines every quantization
// codec and compute kernel builds on.
package numeric

import "github.com/x448/float16"

// F16 is a 16-bit IEEE-754 half-precision float, stored as its raw bit
// pattern. It backs every quantized block's scale/min fields (spec
// §4.2) and the GELU/SiLU/exp lookup tables (spec §4.1).
type F16 uint16

// F16FromF32 converts f to half precision, rounding to nearest even —
// the rounding mode `x448/float16.Fromfloat32` documents and the one
// this engine commits to for every FP16 scale/table value it produces.
func F16FromF32(f float32) F16 {
	return F16(float16.Fromfloat32(f).Bits())
}

// F32 widens f back to single precision. This is always exact: every
// FP16 value has a corresponding FP32 representation.
func (f F16) F32() float32 {
	return float16.Frombits(uint16(f)).Float32()
}

// F16Bits reinterprets the raw bit pattern b as an F16 without
// conversion, for reading block headers straight off the wire.
func F16Bits(b uint16) F16 {
	return F16(b)
}

// Bits returns f's raw bit pattern, for writing block headers.
func (f F16) Bits() uint16 {
	return uint16(f)
}
