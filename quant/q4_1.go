package quant

import (
	"encoding/binary"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ4_1,
		DotType:           ggml.TensorTypeQ4_1.DotType(),
		QuantizeReference: QuantizeRowQ4_1,
		Dequantize:        DequantizeRowQ4_1,
		VecDot:            VecDotQ4_1Q8_1,
	})
}

// QuantizeRowQ4_1 implements spec §4.2's Q4_1 reference encoder:
// d = (max-min)/15, code = min(15, (x-min)·id + 0.5), two codes per
// byte in the same nibble layout as Q4_0.
func QuantizeRowQ4_1(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ4_1, len(x))
	bs := ggml.TensorTypeQ4_1.BlockSize()
	out := make([]byte, nb*bs)

	for b := 0; b < nb; b++ {
		xb := x[b*qk : (b+1)*qk]

		min, max := xb[0], xb[0]
		for _, v := range xb {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		d := (max - min) / 15
		var id float32
		if d != 0 {
			id = 1 / d
		}

		off := b * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())
		binary.LittleEndian.PutUint16(out[off+2:off+4], numeric.F16FromF32(min).Bits())

		for j := 0; j < qk/2; j++ {
			x0 := (xb[j] - min) * id
			x1 := (xb[j+qk/2] - min) * id
			q0 := clampNibble(int32(x0 + 0.5))
			q1 := clampNibble(int32(x1 + 0.5))
			out[off+4+j] = byte(q0) | byte(q1)<<4
		}
	}

	return out
}

// DequantizeRowQ4_1 decodes: value = nibble·d + m.
func DequantizeRowQ4_1(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ4_1, n)
	bs := ggml.TensorTypeQ4_1.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		m := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+2 : off+4])).F32()
		base := b * qk
		for j := 0; j < qk/2; j++ {
			packed := blocks[off+4+j]
			lo := int32(packed & 0x0F)
			hi := int32(packed >> 4)
			out[base+j] = float32(lo)*d + m
			out[base+j+qk/2] = float32(hi)*d + m
		}
	}

	return out
}
