package numeric

import (
	"math"
	"sync"
)

// tableSize is the fixed entry count of every FP16->FP16 lookup table
// (spec §4.1): one entry per possible half-precision bit pattern.
const tableSize = 1 << 16

var (
	geluTableOnce sync.Once
	geluTable     [tableSize]F16

	geluQuickTableOnce sync.Once
	geluQuickTable     [tableSize]F16

	siluTableOnce sync.Once
	siluTable     [tableSize]F16

	expTableOnce sync.Once
	expTable     [tableSize]F16
)

func buildTable(table *[tableSize]F16, f func(float32) float32) {
	for i := 0; i < tableSize; i++ {
		x := F16(uint16(i)).F32()
		table[i] = F16FromF32(f(x))
	}
}

func geluExact(x float64) float64 {
	return 0.5 * x * (1.0 + math.Erf(x/math.Sqrt2))
}

func siluExact(x float64) float64 {
	return x / (1.0 + math.Exp(-x))
}

// GELUTable returns the process-wide GELU lookup table, building it on
// first use (spec §4.1: "built once at first context creation").
func GELUTable() *[tableSize]F16 {
	geluTableOnce.Do(func() {
		buildTable(&geluTable, func(x float32) float32 {
			return float32(geluExact(float64(x)))
		})
	})
	return &geluTable
}

// GeluQuickTable returns the process-wide fast sigmoid-approximate
// GELU lookup table.
func GeluQuickTable() *[tableSize]F16 {
	geluQuickTableOnce.Do(func() {
		buildTable(&geluQuickTable, func(x float32) float32 {
			return x * float32(1.0/(1.0+math.Exp(float64(-1.702*x))))
		})
	})
	return &geluQuickTable
}

// SiLUTable returns the process-wide SiLU lookup table.
func SiLUTable() *[tableSize]F16 {
	siluTableOnce.Do(func() {
		buildTable(&siluTable, func(x float32) float32 {
			return float32(siluExact(float64(x)))
		})
	})
	return &siluTable
}

// ExpTable returns the process-wide exp lookup table.
func ExpTable() *[tableSize]F16 {
	expTableOnce.Do(func() {
		buildTable(&expTable, func(x float32) float32 {
			return float32(math.Exp(float64(x)))
		})
	})
	return &expTable
}

// lookup rounds x to FP16, looks it up in table, and expands the
// result back to FP32 — the table-lookup discipline spec §4.1 mandates
// for GELU/SiLU/exp: "value is FP16-rounded, table-looked-up, then
// FP32-expanded."
func lookup(table *[tableSize]F16, x float32) float32 {
	idx := F16FromF32(x)
	return table[idx].F32()
}
