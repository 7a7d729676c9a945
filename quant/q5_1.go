package quant

import (
	"encoding/binary"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ5_1,
		DotType:           ggml.TensorTypeQ5_1.DotType(),
		QuantizeReference: QuantizeRowQ5_1,
		Dequantize:        DequantizeRowQ5_1,
		VecDot:            VecDotQ5_1Q8_1,
	})
}

// QuantizeRowQ5_1 is Q5_1: 5-bit codes, symmetric with Q4_1's
// min-offset scheme (spec §4.2: "symmetric with Q4_1 but 5-bit").
func QuantizeRowQ5_1(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ5_1, len(x))
	bs := ggml.TensorTypeQ5_1.BlockSize()
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

		d := (max - min) / 31
		var id float32
		if d != 0 {
			id = 1 / d
		}

		off := b * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())
		binary.LittleEndian.PutUint16(out[off+2:off+4], numeric.F16FromF32(min).Bits())

		var qh uint32
		for j := 0; j < qk/2; j++ {
			x0 := (xb[j] - min) * id
			x1 := (xb[j+qk/2] - min) * id
			xi0 := clamp5(int32(x0 + 0.5))
			xi1 := clamp5(int32(x1 + 0.5))

			out[off+8+j] = byte(xi0&0x0F) | byte(xi1&0x0F)<<4
			qh |= uint32((xi0>>4)&1) << j
			qh |= uint32((xi1>>4)&1) << (j + qk/2)
		}
		binary.LittleEndian.PutUint32(out[off+4:off+8], qh)
	}

	return out
}

// DequantizeRowQ5_1 decodes: value = (nibble | bit4<<4)·d + m.
func DequantizeRowQ5_1(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ5_1, n)
	bs := ggml.TensorTypeQ5_1.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		m := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+2 : off+4])).F32()
		qh := binary.LittleEndian.Uint32(blocks[off+4 : off+8])
		base := b * qk
		for j := 0; j < qk/2; j++ {
			packed := blocks[off+8+j]
			lo := int32(packed & 0x0F)
			hi := int32(packed >> 4)
			bit0 := int32((qh >> uint(j)) & 1)
			bit1 := int32((qh >> uint(j+qk/2)) & 1)
			out[base+j] = float32(lo|bit0<<4)*d + m
			out[base+j+qk/2] = float32(hi|bit1<<4)*d + m
		}
	}

	return out
}
