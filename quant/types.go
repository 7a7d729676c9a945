// Package quant implements the L1 quantization codec: reference
// encoders and dequantizers for the thirteen block-quantized tensor
// types, plus the dot-product kernels that operate directly on
// encoded blocks (spec §4.2).
package quant

import (
	"fmt"

	"github.com/nnforge/ggoe/fs/ggml"
)

// Codec is the per-type dispatch record spec §4.2 calls for: "a
// type-indexed record {dequantize, quantize, quantize_reference,
// quantize_dot, vec_dot, vec_dot_type} lets callers pair any quantized
// weight type with the correct activation type without conditionals at
// the call site."
type Codec struct {
	// Type is the weight type T this codec encodes/decodes.
	Type ggml.TensorType
	// DotType is D(T), the activation type VecDot expects in its rhs.
	DotType ggml.TensorType

	// QuantizeReference encodes a row of len(x) (a multiple of
	// Type.BlockLen()) FP32 values into Type's block format.
	QuantizeReference func(x []float32) []byte
	// Dequantize decodes an encoded row back to FP32.
	Dequantize func(blocks []byte, n int) []float32
	// VecDot computes Σ dequantize(lhs)·dequantize(rhs) directly from
	// the encoded bytes of a Type-encoded lhs and a DotType-encoded rhs.
	VecDot func(n int, lhs, rhs []byte) float32
}

var registry = map[ggml.TensorType]*Codec{}

func register(c *Codec) {
	registry[c.Type] = c
}

// Lookup returns the dispatch record for t, or an error if t has no
// quantization codec (e.g. it is F32/F16/an integer type).
func Lookup(t ggml.TensorType) (*Codec, error) {
	c, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("quant: no codec registered for %v", t)
	}
	return c, nil
}

// blockCount asserts n mod B == 0 (spec §4.2 "Block count assert") and
// returns n/B.
func blockCount(t ggml.TensorType, n int) int {
	b := t.BlockLen()
	if n%b != 0 {
		panic(fmt.Sprintf("quant: %v row length %d is not a multiple of block length %d", t, n, b))
	}
	return n / b
}
