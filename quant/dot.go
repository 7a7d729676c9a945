package quant

import (
	"fmt"

	"github.com/nnforge/ggoe/fs/ggml"
)

// VecDot looks up t's codec and computes the dot product of n elements
// between a t-encoded lhs and a t.DotType()-encoded rhs (spec §4.2).
func VecDot(t ggml.TensorType, n int, lhs, rhs []byte) (float32, error) {
	c, err := Lookup(t)
	if err != nil {
		return 0, err
	}
	return c.VecDot(n, lhs, rhs), nil
}

// checkDotInvariants enforces spec §4.2's "n mod B == 0; block count
// mod 2 == 0" precondition shared by every paired dot kernel.
func checkDotInvariants(t ggml.TensorType, n int) int {
	b := t.BlockLen()
	if n%b != 0 {
		panic(fmt.Sprintf("quant: vec_dot length %d not a multiple of block length %d", n, b))
	}
	nb := n / b
	if nb%2 != 0 {
		panic(fmt.Sprintf("quant: vec_dot block count %d is not even", nb))
	}
	return nb
}

// VecDotQ4_0Q8_0 computes the dot product of a Q4_0-encoded lhs and a
// Q8_0-encoded rhs: per block, sumi = Σ(q4-8)·q8 over both nibble
// halves, accumulated as d_lhs·d_rhs·sumi across blocks in FP64.
func VecDotQ4_0Q8_0(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ4_0, n)
	lbs := ggml.TensorTypeQ4_0.BlockSize()
	rbs := ggml.TensorTypeQ8_0.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * lbs
		roff := b * rbs

		dl := blockF16(lhs, loff)
		dr := blockF16(rhs, roff)

		var sumi int32
		for j := 0; j < qk/2; j++ {
			packed := lhs[loff+2+j]
			lo := int32(packed&0x0F) - 8
			hi := int32(packed>>4) - 8
			q8lo := int32(int8(rhs[roff+2+j]))
			q8hi := int32(int8(rhs[roff+2+j+qk/2]))
			sumi += lo*q8lo + hi*q8hi
		}

		total += float64(dl) * float64(dr) * float64(sumi)
	}

	return float32(total)
}

// VecDotQ5_0Q8_0 is Q4_0's counterpart for the 5-bit type: the extra
// high-bit plane is unpacked before forming each signed code.
func VecDotQ5_0Q8_0(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ5_0, n)
	lbs := ggml.TensorTypeQ5_0.BlockSize()
	rbs := ggml.TensorTypeQ8_0.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * lbs
		roff := b * rbs

		dl := blockF16(lhs, loff)
		dr := blockF16(rhs, roff)
		qh := blockU32(lhs, loff+2)

		var sumi int32
		for j := 0; j < qk/2; j++ {
			packed := lhs[loff+6+j]
			bit0 := int32((qh >> uint(j)) & 1)
			bit1 := int32((qh >> uint(j+qk/2)) & 1)
			lo := int32(packed&0x0F) | bit0<<4
			hi := int32(packed>>4) | bit1<<4
			lo -= 16
			hi -= 16
			q8lo := int32(int8(rhs[roff+2+j]))
			q8hi := int32(int8(rhs[roff+2+j+qk/2]))
			sumi += lo*q8lo + hi*q8hi
		}

		total += float64(dl) * float64(dr) * float64(sumi)
	}

	return float32(total)
}

// VecDotQ8_0Q8_0 is the plain signed-int8 dot product, used both when
// T=Q8_0 directly and as a building block's sanity check.
func VecDotQ8_0Q8_0(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ8_0, n)
	bs := ggml.TensorTypeQ8_0.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * bs
		roff := b * bs
		dl := blockF16(lhs, loff)
		dr := blockF16(rhs, roff)

		var sumi int32
		for j := 0; j < qk; j++ {
			sumi += int32(int8(lhs[loff+2+j])) * int32(int8(rhs[roff+2+j]))
		}

		total += float64(dl) * float64(dr) * float64(sumi)
	}

	return float32(total)
}

// VecDotQ4_1Q8_1 computes the dot product of a Q4_1-encoded lhs
// (scale d_l, minimum m) and a Q8_1-encoded rhs (scale d_r, sum s_r):
// per block, Σ(q4·q8)·d_l·d_r + m·s_r, where s_r = d_r·Σq8 lets the
// minimum's contribution be folded in without a second pass over rhs.
func VecDotQ4_1Q8_1(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ4_1, n)
	lbs := ggml.TensorTypeQ4_1.BlockSize()
	rbs := ggml.TensorTypeQ8_1.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * lbs
		roff := b * rbs

		dl := blockF16(lhs, loff)
		ml := blockF16(lhs, loff+2)
		dr, sr := q8_1BlockDS(rhs, roff)

		var sumi int32
		for j := 0; j < qk/2; j++ {
			packed := lhs[loff+4+j]
			lo := int32(packed & 0x0F)
			hi := int32(packed >> 4)
			q8lo := int32(int8(rhs[roff+8+j]))
			q8hi := int32(int8(rhs[roff+8+j+qk/2]))
			sumi += lo*q8lo + hi*q8hi
		}

		total += float64(dl)*float64(dr)*float64(sumi) + float64(ml)*float64(sr)
	}

	return float32(total)
}

// VecDotQ5_1Q8_1 is Q4_1's counterpart for the 5-bit type.
func VecDotQ5_1Q8_1(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ5_1, n)
	lbs := ggml.TensorTypeQ5_1.BlockSize()
	rbs := ggml.TensorTypeQ8_1.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * lbs
		roff := b * rbs

		dl := blockF16(lhs, loff)
		ml := blockF16(lhs, loff+2)
		qh := blockU32(lhs, loff+4)
		dr, sr := q8_1BlockDS(rhs, roff)

		var sumi int32
		for j := 0; j < qk/2; j++ {
			packed := lhs[loff+8+j]
			bit0 := int32((qh >> uint(j)) & 1)
			bit1 := int32((qh >> uint(j+qk/2)) & 1)
			lo := int32(packed&0x0F) | bit0<<4
			hi := int32(packed>>4) | bit1<<4
			q8lo := int32(int8(rhs[roff+8+j]))
			q8hi := int32(int8(rhs[roff+8+j+qk/2]))
			sumi += lo*q8lo + hi*q8hi
		}

		total += float64(dl)*float64(dr)*float64(sumi) + float64(ml)*float64(sr)
	}

	return float32(total)
}

// VecDotQ8_1Q8_1 handles the degenerate T=Q8_1 case: both operands
// share the scale-plus-sum layout, but only the scale is needed since
// neither side carries a separate minimum.
func VecDotQ8_1Q8_1(n int, lhs, rhs []byte) float32 {
	const qk = 32
	nb := checkDotInvariants(ggml.TensorTypeQ8_1, n)
	bs := ggml.TensorTypeQ8_1.BlockSize()

	var total float64
	for b := 0; b < nb; b++ {
		loff := b * bs
		roff := b * bs
		dl, _ := q8_1BlockDS(lhs, loff)
		dr, _ := q8_1BlockDS(rhs, roff)

		var sumi int32
		for j := 0; j < qk; j++ {
			sumi += int32(int8(lhs[loff+8+j])) * int32(int8(rhs[roff+8+j]))
		}

		total += float64(dl) * float64(dr) * float64(sumi)
	}

	return float32(total)
}
