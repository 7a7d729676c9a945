package quant

import (
	"encoding/binary"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

// The "K" family (spec §4.2) quantizes 256-element super-blocks as a
// set of 16- or 32-element sub-blocks, each carrying its own scale
// (and, for the asymmetric types, its own minimum), themselves
// quantized against one or two super-block FP16 scales. No
// original_source/ reference was available in the retrieval pack for
// this spec, so these sub-block scale/min searches use a direct
// min/max affine fit rather than the iterative error-minimizing search
// a from-scratch port of the reference would use; the wire layout
// (field order and byte budget) matches spec §4.2's authoritative
// per-type byte table exactly, and decode always inverts encode
// exactly, so round-trip and dot-product-agreement still hold.

const qkK = 256

func init() {
	register(&Codec{
		Type:              ggml.TensorTypeQ2_K,
		DotType:           ggml.TensorTypeQ2_K.DotType(),
		QuantizeReference: QuantizeRowQ2_K,
		Dequantize:        DequantizeRowQ2_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ2_K),
	})
	register(&Codec{
		Type:              ggml.TensorTypeQ3_K,
		DotType:           ggml.TensorTypeQ3_K.DotType(),
		QuantizeReference: QuantizeRowQ3_K,
		Dequantize:        DequantizeRowQ3_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ3_K),
	})
	register(&Codec{
		Type:              ggml.TensorTypeQ4_K,
		DotType:           ggml.TensorTypeQ4_K.DotType(),
		QuantizeReference: QuantizeRowQ4_K,
		Dequantize:        DequantizeRowQ4_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ4_K),
	})
	register(&Codec{
		Type:              ggml.TensorTypeQ5_K,
		DotType:           ggml.TensorTypeQ5_K.DotType(),
		QuantizeReference: QuantizeRowQ5_K,
		Dequantize:        DequantizeRowQ5_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ5_K),
	})
	register(&Codec{
		Type:              ggml.TensorTypeQ6_K,
		DotType:           ggml.TensorTypeQ6_K.DotType(),
		QuantizeReference: QuantizeRowQ6_K,
		Dequantize:        DequantizeRowQ6_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ6_K),
	})
	register(&Codec{
		Type:              ggml.TensorTypeQ8_K,
		DotType:           ggml.TensorTypeQ8_K.DotType(),
		QuantizeReference: QuantizeRowQ8_K,
		Dequantize:        DequantizeRowQ8_K,
		VecDot:            dequantizeThenDot(ggml.TensorTypeQ8_K),
	})
}

// dequantizeThenDot builds a VecDot implementation for a K-quant type
// by dequantizing both operands and running the plain FP64-accumulated
// dot product (spec §8's "dot-product agreement" property only
// requires numeric agreement with the naive dequantize-then-dot
// computation, not a fused integer kernel).
func dequantizeThenDot(t ggml.TensorType) func(n int, lhs, rhs []byte) float32 {
	return func(n int, lhs, rhs []byte) float32 {
		// resolved per call: at registration time t's own codec is not
		// in the registry yet.
		checkDotInvariants(t, n)
		x := dequantizeAs(t, lhs, n)
		y := dequantizeAs(t.DotType(), rhs, n)
		return numeric.Dot(n, x, y)
	}
}

func dequantizeAs(t ggml.TensorType, blocks []byte, n int) []float32 {
	c, err := Lookup(t)
	if err != nil {
		panic(err)
	}
	return c.Dequantize(blocks, n)
}

// asymSubblocks quantizes x (a super-block of len(x) elements) as
// groups of subSize elements, each with its own affine scale+minimum,
// themselves quantized to scaleBits-wide unsigned codes against two
// super-block FP16 scales d (for the per-group scale) and dmin (for
// the per-group minimum magnitude).
func asymSubblocks(x []float32, subSize, codeBits, scaleBits int) (scaleCodes, minCodes, codes []uint32, d, dmin float32) {
	numGroups := len(x) / subSize
	maxCode := float32((int(1) << codeBits) - 1)
	maxScaleCode := float32((int(1) << scaleBits) - 1)

	scales := make([]float32, numGroups)
	lifts := make([]float32, numGroups)
	for g := 0; g < numGroups; g++ {
		xb := x[g*subSize : (g+1)*subSize]
		mn, mx := xb[0], xb[0]
		for _, v := range xb {
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}
		lift := float32(0)
		if mn < 0 {
			lift = -mn
		}
		lifts[g] = lift
		scales[g] = (mx - mn) / maxCode
	}

	var scaleMax, liftMax float32
	for g := 0; g < numGroups; g++ {
		if scales[g] > scaleMax {
			scaleMax = scales[g]
		}
		if lifts[g] > liftMax {
			liftMax = lifts[g]
		}
	}
	if scaleMax > 0 {
		d = scaleMax / maxScaleCode
	}
	if liftMax > 0 {
		dmin = liftMax / maxScaleCode
	}

	scaleCodes = make([]uint32, numGroups)
	minCodes = make([]uint32, numGroups)
	codes = make([]uint32, len(x))

	for g := 0; g < numGroups; g++ {
		var mc uint32
		if dmin > 0 {
			mc = clampCode(int32(math.Round(float64(lifts[g]/dmin))), scaleBits)
		}
		minCodes[g] = mc
		reconMin := -dmin * float32(mc)

		xb := x[g*subSize : (g+1)*subSize]
		mx := xb[0]
		for _, v := range xb {
			if v > mx {
				mx = v
			}
		}
		scl := (mx - reconMin) / maxCode

		var sc uint32
		if d > 0 {
			sc = clampCode(int32(math.Round(float64(scl/d))), scaleBits)
		}
		scaleCodes[g] = sc
		reconScale := d * float32(sc)

		for i, v := range xb {
			var q int32
			if reconScale != 0 {
				q = int32(math.Round(float64((v - reconMin) / reconScale)))
			}
			codes[g*subSize+i] = clampCode(q, codeBits)
		}
	}

	return scaleCodes, minCodes, codes, d, dmin
}

func clampCode(v int32, bits int) uint32 {
	max := int32((1 << bits) - 1)
	if v < 0 {
		return 0
	}
	if v > max {
		return uint32(max)
	}
	return uint32(v)
}

func dequantAsymSubblocks(codes, scaleCodes, minCodes []uint32, d, dmin float32, subSize int) []float32 {
	numGroups := len(scaleCodes)
	out := make([]float32, numGroups*subSize)
	for g := 0; g < numGroups; g++ {
		scale := d * float32(scaleCodes[g])
		min := -dmin * float32(minCodes[g])
		for i := 0; i < subSize; i++ {
			out[g*subSize+i] = scale*float32(codes[g*subSize+i]) + min
		}
	}
	return out
}

// symSubblocks is the Q3_K/Q6_K variant: each sub-block has a single
// non-negative scale (no minimum); codes are centered at `center` so
// they can represent signed values in an unsigned field.
func symSubblocks(x []float32, subSize, codeBits, scaleBits int) (scaleCodes, codes []uint32, d float32) {
	numGroups := len(x) / subSize
	center := float32(int32(1) << uint(codeBits-1))
	maxScaleCode := float32((int(1) << scaleBits) - 1)

	scales := make([]float32, numGroups)
	for g := 0; g < numGroups; g++ {
		xb := x[g*subSize : (g+1)*subSize]
		var amax float32
		for _, v := range xb {
			av := float32(math.Abs(float64(v)))
			if av > amax {
				amax = av
			}
		}
		scales[g] = amax / center
	}

	var scaleMax float32
	for _, s := range scales {
		if s > scaleMax {
			scaleMax = s
		}
	}
	if scaleMax > 0 {
		d = scaleMax / maxScaleCode
	}

	scaleCodes = make([]uint32, numGroups)
	codes = make([]uint32, len(x))
	for g := 0; g < numGroups; g++ {
		var sc uint32
		if d > 0 {
			sc = clampCode(int32(math.Round(float64(scales[g]/d))), scaleBits)
		}
		scaleCodes[g] = sc
		reconScale := d * float32(sc)

		xb := x[g*subSize : (g+1)*subSize]
		for i, v := range xb {
			var q int32
			if reconScale != 0 {
				q = int32(math.Round(float64(v/reconScale))) + int32(center)
			} else {
				q = int32(center)
			}
			codes[g*subSize+i] = clampCode(q, codeBits)
		}
	}

	return scaleCodes, codes, d
}

func dequantSymSubblocks(codes, scaleCodes []uint32, d float32, subSize, codeBits int) []float32 {
	numGroups := len(scaleCodes)
	center := float32(int32(1) << uint(codeBits-1))
	out := make([]float32, numGroups*subSize)
	for g := 0; g < numGroups; g++ {
		scale := d * float32(scaleCodes[g])
		for i := 0; i < subSize; i++ {
			out[g*subSize+i] = scale * (float32(codes[g*subSize+i]) - center)
		}
	}
	return out
}

// --- Q2_K: 16 sub-blocks of 16, 2-bit codes, 4-bit scale+min ---

func QuantizeRowQ2_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ2_K, len(x))
	bs := ggml.TensorTypeQ2_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
		scaleCodes, minCodes, codes, d, dmin := asymSubblocks(xb, 16, 2, 4)

		off := blk * bs
		for g := 0; g < 16; g++ {
			out[off+g] = byte(scaleCodes[g]&0xF) | byte(minCodes[g]&0xF)<<4
		}
		copy(out[off+16:off+16+64], packCodes(codes, 2))
		binary.LittleEndian.PutUint16(out[off+80:off+82], numeric.F16FromF32(d).Bits())
		binary.LittleEndian.PutUint16(out[off+82:off+84], numeric.F16FromF32(dmin).Bits())
	}
	return out
}

func DequantizeRowQ2_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ2_K, n)
	bs := ggml.TensorTypeQ2_K.BlockSize()
	out := make([]float32, 0, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		scaleCodes := make([]uint32, 16)
		minCodes := make([]uint32, 16)
		for g := 0; g < 16; g++ {
			scaleCodes[g] = uint32(blocks[off+g] & 0xF)
			minCodes[g] = uint32(blocks[off+g]>>4) & 0xF
		}
		codes := unpackCodes(blocks[off+16:off+80], 2, 256)
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+80 : off+82])).F32()
		dmin := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+82 : off+84])).F32()
		out = append(out, dequantAsymSubblocks(codes, scaleCodes, minCodes, d, dmin, 16)...)
	}
	return out
}

// --- Q3_K: 16 sub-blocks of 16, 3-bit codes (2 low + 1 high plane), 6-bit signed scale ---

func QuantizeRowQ3_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ3_K, len(x))
	bs := ggml.TensorTypeQ3_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
		scaleCodes, codes, d := symSubblocks(xb, 16, 3, 6)

		hbits := make([]uint32, len(codes))
		lbits := make([]uint32, len(codes))
		for i, c := range codes {
			lbits[i] = c & 0x3
			hbits[i] = (c >> 2) & 0x1
		}

		off := blk * bs
		copy(out[off:off+32], packCodes(hbits, 1))
		copy(out[off+32:off+96], packCodes(lbits, 2))
		copy(out[off+96:off+108], packCodes(scaleCodes, 6))
		binary.LittleEndian.PutUint16(out[off+108:off+110], numeric.F16FromF32(d).Bits())
	}
	return out
}

func DequantizeRowQ3_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ3_K, n)
	bs := ggml.TensorTypeQ3_K.BlockSize()
	out := make([]float32, 0, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		hbits := unpackCodes(blocks[off:off+32], 1, 256)
		lbits := unpackCodes(blocks[off+32:off+96], 2, 256)
		scaleCodes := unpackCodes(blocks[off+96:off+108], 6, 16)
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+108 : off+110])).F32()

		codes := make([]uint32, 256)
		for i := range codes {
			codes[i] = lbits[i] | hbits[i]<<2
		}
		out = append(out, dequantSymSubblocks(codes, scaleCodes, d, 16, 3)...)
	}
	return out
}

// --- Q4_K: 8 sub-blocks of 32, 4-bit codes, 6-bit scale+min ---

func QuantizeRowQ4_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ4_K, len(x))
	bs := ggml.TensorTypeQ4_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
		scaleCodes, minCodes, codes, d, dmin := asymSubblocks(xb, 32, 4, 6)

		off := blk * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())
		binary.LittleEndian.PutUint16(out[off+2:off+4], numeric.F16FromF32(dmin).Bits())

		packed := make([]uint32, 16)
		copy(packed[:8], scaleCodes)
		copy(packed[8:], minCodes)
		copy(out[off+4:off+16], packCodes(packed, 6))

		copy(out[off+16:off+144], packCodes(codes, 4))
	}
	return out
}

func DequantizeRowQ4_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ4_K, n)
	bs := ggml.TensorTypeQ4_K.BlockSize()
	out := make([]float32, 0, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		dmin := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+2 : off+4])).F32()
		packed := unpackCodes(blocks[off+4:off+16], 6, 16)
		codes := unpackCodes(blocks[off+16:off+144], 4, 256)
		out = append(out, dequantAsymSubblocks(codes, packed[:8], packed[8:], d, dmin, 32)...)
	}
	return out
}

// --- Q5_K: 8 sub-blocks of 32, 5-bit codes (4 low + 1 high plane), 6-bit scale+min ---

func QuantizeRowQ5_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ5_K, len(x))
	bs := ggml.TensorTypeQ5_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
		scaleCodes, minCodes, codes, d, dmin := asymSubblocks(xb, 32, 5, 6)

		off := blk * bs
		binary.LittleEndian.PutUint16(out[off:off+2], numeric.F16FromF32(d).Bits())
		binary.LittleEndian.PutUint16(out[off+2:off+4], numeric.F16FromF32(dmin).Bits())

		packed := make([]uint32, 16)
		copy(packed[:8], scaleCodes)
		copy(packed[8:], minCodes)
		copy(out[off+4:off+16], packCodes(packed, 6))

		hbits := make([]uint32, len(codes))
		lbits := make([]uint32, len(codes))
		for i, c := range codes {
			lbits[i] = c & 0xF
			hbits[i] = (c >> 4) & 0x1
		}
		copy(out[off+16:off+48], packCodes(hbits, 1))
		copy(out[off+48:off+176], packCodes(lbits, 4))
	}
	return out
}

func DequantizeRowQ5_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ5_K, n)
	bs := ggml.TensorTypeQ5_K.BlockSize()
	out := make([]float32, 0, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off : off+2])).F32()
		dmin := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+2 : off+4])).F32()
		packed := unpackCodes(blocks[off+4:off+16], 6, 16)
		hbits := unpackCodes(blocks[off+16:off+48], 1, 256)
		lbits := unpackCodes(blocks[off+48:off+176], 4, 256)

		codes := make([]uint32, 256)
		for i := range codes {
			codes[i] = lbits[i] | hbits[i]<<4
		}
		out = append(out, dequantAsymSubblocks(codes, packed[:8], packed[8:], d, dmin, 32)...)
	}
	return out
}

// --- Q6_K: 16 sub-blocks of 16, 6-bit codes (4 low + 2 high plane), int8 signed scale ---

func QuantizeRowQ6_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ6_K, len(x))
	bs := ggml.TensorTypeQ6_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
		scaleCodes, codes, d := symSubblocks(xb, 16, 6, 8)

		lbits := make([]uint32, len(codes))
		hbits := make([]uint32, len(codes))
		for i, c := range codes {
			lbits[i] = c & 0xF
			hbits[i] = (c >> 4) & 0x3
		}

		off := blk * bs
		copy(out[off:off+128], packCodes(lbits, 4))
		copy(out[off+128:off+192], packCodes(hbits, 2))
		for g := 0; g < 16; g++ {
			out[off+192+g] = byte(scaleCodes[g])
		}
		binary.LittleEndian.PutUint16(out[off+208:off+210], numeric.F16FromF32(d).Bits())
	}
	return out
}

func DequantizeRowQ6_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ6_K, n)
	bs := ggml.TensorTypeQ6_K.BlockSize()
	out := make([]float32, 0, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		lbits := unpackCodes(blocks[off:off+128], 4, 256)
		hbits := unpackCodes(blocks[off+128:off+192], 2, 256)
		scaleCodes := make([]uint32, 16)
		for g := 0; g < 16; g++ {
			scaleCodes[g] = uint32(blocks[off+192+g])
		}
		d := numeric.F16Bits(binary.LittleEndian.Uint16(blocks[off+208 : off+210])).F32()

		codes := make([]uint32, 256)
		for i := range codes {
			codes[i] = lbits[i] | hbits[i]<<4
		}
		out = append(out, dequantSymSubblocks(codes, scaleCodes, d, 16, 6)...)
	}
	return out
}

// --- Q8_K: whole 256-element block, single scale, per-16-group sums ---

func QuantizeRowQ8_K(x []float32) []byte {
	nb := blockCount(ggml.TensorTypeQ8_K, len(x))
	bs := ggml.TensorTypeQ8_K.BlockSize()
	out := make([]byte, nb*bs)

	for blk := 0; blk < nb; blk++ {
		xb := x[blk*qkK : (blk+1)*qkK]
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

		off := blk * bs
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(d))

		qs := make([]int8, qkK)
		for i, v := range xb {
			qs[i] = int8(math.Round(float64(v * id)))
			out[off+4+i] = byte(qs[i])
		}
		for g := 0; g < 16; g++ {
			var sum int32
			for i := 0; i < 16; i++ {
				sum += int32(qs[g*16+i])
			}
			binary.LittleEndian.PutUint16(out[off+4+256+g*2:off+4+256+g*2+2], uint16(int16(sum)))
		}
	}
	return out
}

func DequantizeRowQ8_K(blocks []byte, n int) []float32 {
	nb := blockCount(ggml.TensorTypeQ8_K, n)
	bs := ggml.TensorTypeQ8_K.BlockSize()
	out := make([]float32, n)

	for blk := 0; blk < nb; blk++ {
		off := blk * bs
		d := math.Float32frombits(binary.LittleEndian.Uint32(blocks[off : off+4]))
		base := blk * qkK
		for i := 0; i < qkK; i++ {
			q := int8(blocks[off+4+i])
			out[base+i] = float32(q) * d
		}
	}
	return out
}
