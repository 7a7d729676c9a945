package quant

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
)

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ8_1,
		DotType:           ggml.TensorTypeQ8_1.DotType(),
		QuantizeReference: QuantizeRowQ8_1,
		Dequantize:        DequantizeRowQ8_1,
		VecDot:            VecDotQ8_1Q8_1,
	})
}

// QuantizeRowQ8_1 implements spec §4.2's Q8_1 reference encoder:
// d = max(|x|)/127 like Q8_0, plus s = d·Σq stored alongside so a
// paired Q4_1/Q5_1 dot product can fold in its per-block minimum
// without rescanning the row (spec §9's resolved open question: this
// dequantizer is fully implemented, not a stub).
func QuantizeRowQ8_1(x []float32) []byte {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ8_1, len(x))
	bs := ggml.TensorTypeQ8_1.BlockSize()
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
		var sum int32
		qs := make([]int8, qk)
		for j := 0; j < qk; j++ {
			q := int8(math.Round(float64(xb[j] * id)))
			qs[j] = q
			sum += int32(q)
		}

		s := d * float32(sum)
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(d))
		binary.LittleEndian.PutUint32(out[off+4:off+8], math.Float32bits(s))
		for j := 0; j < qk; j++ {
			out[off+8+j] = byte(qs[j])
		}
	}

	return out
}

// DequantizeRowQ8_1 decodes: value = q·d (s is carried for dot-product
// use and is not needed to recover the plaintext element values).
func DequantizeRowQ8_1(blocks []byte, n int) []float32 {
	const qk = 32
	nb := blockCount(ggml.TensorTypeQ8_1, n)
	bs := ggml.TensorTypeQ8_1.BlockSize()
	out := make([]float32, n)

	for b := 0; b < nb; b++ {
		off := b * bs
		d := math.Float32frombits(binary.LittleEndian.Uint32(blocks[off : off+4]))
		base := b * qk
		for j := 0; j < qk; j++ {
			q := int8(blocks[off+8+j])
			out[base+j] = float32(q) * d
		}
	}

	return out
}

// q8_1BlockDS reads a Q8_1 block's (d, s) header pair, used by the
// Q4_1/Q5_1 dot kernels.
func q8_1BlockDS(blocks []byte, off int) (d, s float32) {
	d = math.Float32frombits(binary.LittleEndian.Uint32(blocks[off : off+4]))
	s = math.Float32frombits(binary.LittleEndian.Uint32(blocks[off+4 : off+8]))
	return d, s
}
