package quant

import (
	"encoding/binary"

	"github.com/nnforge/ggoe/numeric"
)

// blockF16 reads a little-endian FP16 field at byte offset off.
func blockF16(b []byte, off int) float32 {
	return numeric.F16Bits(binary.LittleEndian.Uint16(b[off : off+2])).F32()
}

// blockU32 reads a little-endian u32 field at byte offset off (the
// Q5_0/Q5_1 high-bit plane).
func blockU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}
