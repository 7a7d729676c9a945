// Package ggml holds the tensor metadata shared by the arena, the graph
// builder and the graph export/import format: the closed element-type
// set, per-type block layout, and the stride/byte-size arithmetic that
// follows from it.
package ggml

import "fmt"

// TensorType is the closed element-type set a tensor may carry (spec §3).
type TensorType uint32

const (
	TensorTypeF32 TensorType = iota
	TensorTypeF16
	TensorTypeQ4_0
	TensorTypeQ4_1
	TensorTypeQ5_0
	TensorTypeQ5_1
	TensorTypeQ8_0
	TensorTypeQ8_1
	TensorTypeQ2_K
	TensorTypeQ3_K
	TensorTypeQ4_K
	TensorTypeQ5_K
	TensorTypeQ6_K
	TensorTypeQ8_K
	TensorTypeI8
	TensorTypeI16
	TensorTypeI32
)

// ParseTensorType parses a type name as used in the graph export format
// and diagnostics.
func ParseTensorType(s string) (TensorType, error) {
	switch s {
	case "F32":
		return TensorTypeF32, nil
	case "F16":
		return TensorTypeF16, nil
	case "Q4_0":
		return TensorTypeQ4_0, nil
	case "Q4_1":
		return TensorTypeQ4_1, nil
	case "Q5_0":
		return TensorTypeQ5_0, nil
	case "Q5_1":
		return TensorTypeQ5_1, nil
	case "Q8_0":
		return TensorTypeQ8_0, nil
	case "Q8_1":
		return TensorTypeQ8_1, nil
	case "Q2_K":
		return TensorTypeQ2_K, nil
	case "Q3_K":
		return TensorTypeQ3_K, nil
	case "Q4_K":
		return TensorTypeQ4_K, nil
	case "Q5_K":
		return TensorTypeQ5_K, nil
	case "Q6_K":
		return TensorTypeQ6_K, nil
	case "Q8_K":
		return TensorTypeQ8_K, nil
	case "I8":
		return TensorTypeI8, nil
	case "I16":
		return TensorTypeI16, nil
	case "I32":
		return TensorTypeI32, nil
	default:
		return 0, fmt.Errorf("unsupported tensor type %q", s)
	}
}

// IsQuantized reports whether t is one of the block-quantized formats.
func (t TensorType) IsQuantized() bool {
	switch t {
	case TensorTypeF32, TensorTypeF16, TensorTypeI8, TensorTypeI16, TensorTypeI32:
		return false
	default:
		return true
	}
}

// IsFloat reports whether t is a floating-point format.
func (t TensorType) IsFloat() bool {
	return t == TensorTypeF32 || t == TensorTypeF16
}

// BlockLen is B(T): the number of source elements packed per block.
// Non-quantized types have a block length of 1 (every element is its
// own "block").
func (t TensorType) BlockLen() int {
	switch t {
	case TensorTypeF32, TensorTypeF16, TensorTypeI8, TensorTypeI16, TensorTypeI32:
		return 1
	case TensorTypeQ4_0, TensorTypeQ4_1, TensorTypeQ5_0, TensorTypeQ5_1, TensorTypeQ8_0, TensorTypeQ8_1:
		return 32
	default: // the "K" family
		return 256
	}
}

// BlockSize is S(T): the number of bytes a single block occupies.
func (t TensorType) BlockSize() int {
	b := t.BlockLen()
	switch t {
	case TensorTypeF32:
		return 4
	case TensorTypeF16:
		return 2
	case TensorTypeQ4_0:
		return 2 + b/2
	case TensorTypeQ4_1:
		return 2 + 2 + b/2
	case TensorTypeQ5_0:
		return 2 + 4 + b/2
	case TensorTypeQ5_1:
		return 2 + 2 + 4 + b/2
	case TensorTypeQ8_0:
		return 2 + b
	case TensorTypeQ8_1:
		return 4 + 4 + b
	case TensorTypeQ2_K:
		return b/16 + b/4 + 2 + 2
	case TensorTypeQ3_K:
		return b/8 + b/4 + 12 + 2
	case TensorTypeQ4_K:
		return 2 + 2 + 12 + b/2
	case TensorTypeQ5_K:
		return 2 + 2 + 12 + b/8 + b/2
	case TensorTypeQ6_K:
		return b/2 + b/4 + b/16 + 2
	case TensorTypeQ8_K:
		return 4 + b + 2*b/16
	case TensorTypeI8:
		return 1
	case TensorTypeI16:
		return 2
	case TensorTypeI32:
		return 4
	default:
		return 0
	}
}

// RowSize returns the byte size of a contiguous run of ne elements.
func (t TensorType) RowSize(ne int) int {
	return t.BlockSize() * ne / t.BlockLen()
}

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeQ4_0:
		return "Q4_0"
	case TensorTypeQ4_1:
		return "Q4_1"
	case TensorTypeQ5_0:
		return "Q5_0"
	case TensorTypeQ5_1:
		return "Q5_1"
	case TensorTypeQ8_0:
		return "Q8_0"
	case TensorTypeQ8_1:
		return "Q8_1"
	case TensorTypeQ2_K:
		return "Q2_K"
	case TensorTypeQ3_K:
		return "Q3_K"
	case TensorTypeQ4_K:
		return "Q4_K"
	case TensorTypeQ5_K:
		return "Q5_K"
	case TensorTypeQ6_K:
		return "Q6_K"
	case TensorTypeQ8_K:
		return "Q8_K"
	case TensorTypeI8:
		return "I8"
	case TensorTypeI16:
		return "I16"
	case TensorTypeI32:
		return "I32"
	default:
		return "unknown"
	}
}

// DotType is D(T): the companion activation-quantization type expected
// by T's matrix-vector dot kernel (spec §4.2). Non-quantized and
// integer types have no dot-type pairing and return T itself.
func (t TensorType) DotType() TensorType {
	switch t {
	case TensorTypeQ4_0, TensorTypeQ5_0, TensorTypeQ8_0:
		// no per-block minimum: pairs with the plain-sum activation type.
		return TensorTypeQ8_0
	case TensorTypeQ4_1, TensorTypeQ5_1, TensorTypeQ8_1:
		// carries a per-block minimum m: needs Q8_1's stored Σq (s = d·Σq)
		// to fold m·Σq into the dot product without a second pass.
		return TensorTypeQ8_1
	case TensorTypeQ2_K, TensorTypeQ3_K, TensorTypeQ4_K, TensorTypeQ5_K, TensorTypeQ6_K:
		return TensorTypeQ8_K
	default:
		return t
	}
}
