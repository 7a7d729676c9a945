// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert grundlegende Typen wie DType und Op.
package ml

import "github.com/nnforge/ggoe/fs/ggml"

// DType represents the data type of tensor elements. It mirrors the
// closed element-type set of spec §3 one-to-one with
// fs/ggml.TensorType; ml stays backend-agnostic while fs/ggml owns the
// byte-layout arithmetic.
type DType int

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeQ4_0
	DTypeQ4_1
	DTypeQ5_0
	DTypeQ5_1
	DTypeQ8_0
	DTypeQ8_1
	DTypeQ2_K
	DTypeQ3_K
	DTypeQ4_K
	DTypeQ5_K
	DTypeQ6_K
	DTypeQ8_K
	DTypeI8
	DTypeI16
	DTypeI32
)

var dtypeToTensorType = [...]ggml.TensorType{
	DTypeF32:  ggml.TensorTypeF32,
	DTypeF16:  ggml.TensorTypeF16,
	DTypeQ4_0: ggml.TensorTypeQ4_0,
	DTypeQ4_1: ggml.TensorTypeQ4_1,
	DTypeQ5_0: ggml.TensorTypeQ5_0,
	DTypeQ5_1: ggml.TensorTypeQ5_1,
	DTypeQ8_0: ggml.TensorTypeQ8_0,
	DTypeQ8_1: ggml.TensorTypeQ8_1,
	DTypeQ2_K: ggml.TensorTypeQ2_K,
	DTypeQ3_K: ggml.TensorTypeQ3_K,
	DTypeQ4_K: ggml.TensorTypeQ4_K,
	DTypeQ5_K: ggml.TensorTypeQ5_K,
	DTypeQ6_K: ggml.TensorTypeQ6_K,
	DTypeQ8_K: ggml.TensorTypeQ8_K,
	DTypeI8:   ggml.TensorTypeI8,
	DTypeI16:  ggml.TensorTypeI16,
	DTypeI32:  ggml.TensorTypeI32,
}

// TensorType returns the fs/ggml.TensorType this DType corresponds to.
func (d DType) TensorType() ggml.TensorType {
	return dtypeToTensorType[d]
}

// DTypeFromTensorType is the inverse of DType.TensorType.
func DTypeFromTensorType(t ggml.TensorType) DType {
	for d, tt := range dtypeToTensorType {
		if tt == t {
			return DType(d)
		}
	}
	panic("ml: no DType for tensor type")
}

func (d DType) String() string {
	return d.TensorType().String()
}

// IsQuantized reports whether d is one of the block-quantized formats.
func (d DType) IsQuantized() bool {
	return d.TensorType().IsQuantized()
}

// IsFloat reports whether d is a floating-point format.
func (d DType) IsFloat() bool {
	return d.TensorType().IsFloat()
}
