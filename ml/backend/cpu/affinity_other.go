//go:build !linux

package cpu

// pinToCPUs is a no-op off Linux: spec §4.3 init only enumerates
// /sys/devices/system/node topology on Linux, so no other platform
// ever produces a non-empty NUMA node set for this to act on.
func pinToCPUs(cpus []int) {}

func clearAffinity(nCPU int) {}
