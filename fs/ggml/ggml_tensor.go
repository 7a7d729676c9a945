package ggml

import "fmt"

// MaxDims is the maximum tensor rank (spec §3: rank ∈ [1,4]).
const MaxDims = 4

// MaxSrc is the number of primary source tensors a node may record.
const MaxSrc = 2

// MaxOpt is the number of auxiliary "option" tensors a node may record.
const MaxOpt = 4

// MaxNameLen bounds the human name capacity (spec §4.3 set_name).
const MaxNameLen = 64

// Shape is a fixed-length-4 element-count vector; unused trailing
// dimensions are 1, per spec §3.
type Shape [MaxDims]int

// Elements returns Π shape[i].
func (s Shape) Elements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of leading dimensions that are not the
// trailing degenerate 1s, clamped to at least 1.
func (s Shape) Rank() int {
	r := MaxDims
	for r > 1 && s[r-1] == 1 {
		r--
	}
	return r
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d %d %d %d]", s[0], s[1], s[2], s[3])
}

// IsScalar reports whether every shape entry is 1 (spec §3 invariant).
func (s Shape) IsScalar() bool {
	return s == Shape{1, 1, 1, 1}
}

// Broadcastable reports whether src can be broadcast onto dst: every
// axis of dst must be an integer multiple of the corresponding axis of
// src (spec §4.4 shape inference rules, ADD/SUB/MUL/DIV).
func Broadcastable(dst, src Shape) bool {
	for i := range dst {
		if src[i] == 0 || dst[i]%src[i] != 0 {
			return false
		}
	}
	return true
}

// Strides computes the byte-stride-per-dimension chain for a
// contiguous tensor of the given type and shape (spec §3):
//
//	stride[0] = S(T)
//	stride[1] = stride[0]*shape[0]/B(T)
//	stride[k>1] = stride[k-1]*shape[k-1]
func Strides(t TensorType, shape Shape) [MaxDims]int {
	var nb [MaxDims]int
	nb[0] = t.BlockSize()
	nb[1] = nb[0] * shape[0] / t.BlockLen()
	for k := 2; k < MaxDims; k++ {
		nb[k] = nb[k-1] * shape[k-1]
	}
	return nb
}

// ByteSize computes the byte size per spec §3:
//
//	max(shape[3]*stride[3], nelements*S(T)/B(T))
func ByteSize(t TensorType, shape Shape, nb [MaxDims]int) int {
	n := shape.Elements()
	packed := n * t.BlockSize() / t.BlockLen()
	return max(shape[3]*nb[3], packed)
}

// IsContiguous reports whether nb follows the canonical chain computed
// by Strides for (t, shape) — i.e. the tensor is not a view, transpose,
// or permutation (spec §3: "non-contiguous tensors ... violate this
// chain but never stride[0]").
func IsContiguous(t TensorType, shape Shape, nb [MaxDims]int) bool {
	return nb == Strides(t, shape)
}
