package quant

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ5_0,
		DotType:           ggml.TensorTypeQ5_0.DotType(),
		QuantizeReference: QuantizeRowQ5_0,
		Dequantize:        DequantizeRowQ5_0,
		VecDot:            VecDotQ5_0Q8_0,
	})
}

// QuantizeRowQ5_0 implements spec §4.2's Q5_0 reference encoder:
// d = max(|x|)/-16, 5-bit codes in [0,31]; the low 4 bits pack like
// Q4_0, and bit 4 of each code is collected into a 32-bit high-bit
// plane with the exact ordering spec §4.2 mandates: bit j of the low
// half of the block lives at position j, bit j of the high half at
// position j+16.
func QuantizeRowQ5_0(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ5_0, len(x))
	bs := ggml.TensorTypeQ5_0.BlockSize()
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

		d := max / -16
		var id float32
		if d != 0 {
			id = 1 / d
		}

		off := b * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())

		var qh uint32
		for j := 0; j < qk/2; j++ {
			x0 := xb[j] * id
			x1 := xb[j+qk/2] * id
			xi0 := clamp5(int32(x0 + 16.5))
			xi1 := clamp5(int32(x1 + 16.5))

			out[off+6+j] = byte(xi0&0x0F) | byte(xi1&0x0F)<<4
			qh |= uint32((xi0>>4)&1) << j
			qh |= uint32((xi1>>4)&1) << (j + qk/2)
		}
		binary.LittleEndian.PutUint32(out[off+2:off+6], qh)
	}

	return out
}

func clamp5(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 31 {
		return 31
	}
	return v
}

// DequantizeRowQ5_0 decodes: value = ((nibble | bit4<<4) - 16)·d.
func DequantizeRowQ5_0(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ5_0, n)
	bs := ggml.TensorTypeQ5_0.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		qh := binary.LittleEndian.Uint32(blocks[off+2 : off+6])
		base := b * qk
		for j := 0; j < qk/2; j++ {
			packed := blocks[off+6+j]
			lo := int32(packed & 0x0F)
			hi := int32(packed >> 4)
			bit0 := int32((qh >> uint(j)) & 1)
			bit1 := int32((qh >> uint(j+qk/2)) & 1)
			out[base+j] = float32((lo|bit0<<4)-16) * d
			out[base+j+qk/2] = float32((hi|bit1<<4)-16) * d
		}
	}

	return out
}
