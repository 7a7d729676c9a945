package quant

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ8_0,
		DotType:           ggml.TensorTypeQ8_0.DotType(),
		QuantizeReference: QuantizeRowQ8_0,
		Dequantize:        DequantizeRowQ8_0,
		VecDot:            VecDotQ8_0Q8_0,
	})
}

// QuantizeRowQ8_0 implements spec §4.2's Q8_0 reference encoder:
// d = max(|x|)/127, q[j] = round(x[j]·id), stored as signed int8.
func QuantizeRowQ8_0(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ8_0, len(x))
	bs := ggml.TensorTypeQ8_0.BlockSize()
	out := make([]byte, nb*bs)

	for b := 0; b < nb; b++ {
		xb := x[b*qk : (b+1)*qk]

		var amax float32
		for _, v := range xb {
			av := float32(math.Abs(float64(v)))
			if av > amax {
				amax = av
			}
		}

		d := amax / 127
		var id float32
		if d != 0 {
			id = 1 / d
		}

		off := b * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())
		for j := 0; j < qk; j++ {
			q := int8(math.Round(float64(xb[j] * id)))
			out[off+2+j] = byte(q)
		}
	}

	return out
}

// DequantizeRowQ8_0 decodes: value = q·d.
func DequantizeRowQ8_0(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ8_0, n)
	bs := ggml.TensorTypeQ8_0.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		base := b * qk
		for j := 0; j < qk; j++ {
			q := int8(blocks[off+2+j])
			out[base+j] = float32(q) * d
		}
	}

	return out
}
