package quant

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ4_0,
		DotType:           ggml.TensorTypeQ4_0.DotType(),
		QuantizeReference: QuantizeRowQ4_0,
		Dequantize:        DequantizeRowQ4_0,
		VecDot:            VecDotQ4_0Q8_0,
	})
}

// QuantizeRowQ4_0 implements spec §4.2's Q4_0 reference encoder: per
// block of 32 elements, d = max(|x|)·sign(argmax)/-8, then each value
// is stored as a clamped 4-bit code with an offset of 8, two codes
// packed per byte (low nibble = first half of the block, high nibble
// = second half).
func QuantizeRowQ4_0(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ4_0, len(x))
	bs := ggml.TensorTypeQ4_0.BlockSize()
	out := make([]byte, nb*bs)

	for b := 0; b < nb; b++ {
		xb := x[b*qk : (b+1)*qk]

		var amax, max float32
		for _, v := range xb {
			av := float32(math.Abs(float64(v)))
			if av > amax {
				amax = av
				max = v
			}
		}

		d := max / -8
		var id float32
		if d != 0 {
			id = 1 / d
		}

		off := b * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())

		for j := 0; j < qk/2; j++ {
			x0 := xb[j] * id
			x1 := xb[j+qk/2] * id
			q0 := clampNibble(int32(x0 + 8.5))
			q1 := clampNibble(int32(x1 + 8.5))
			out[off+2+j] = byte(q0) | byte(q1)<<4
		}
	}

	return out
}

func clampNibble(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 15 {
		return 15
	}
	return v
}

// DequantizeRowQ4_0 decodes a Q4_0-encoded row of n elements back to
// FP32: value = (nibble - 8)·d, with positions [0, 16) reading the low
// nibble and [16, 32) the high nibble of each block (spec §4.2).
func DequantizeRowQ4_0(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ4_0, n)
	bs := ggml.TensorTypeQ4_0.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		base := b * qk
		for j := 0; j < qk/2; j++ {
			packed := blocks[off+2+j]
			lo := int32(packed & 0x0F)
			hi := int32(packed >> 4)
			out[base+j] = float32(lo-8) * d
			out[base+j+qk/2] = float32(hi-8) * d
		}
	}

	return out
}
