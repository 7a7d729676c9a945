//go:build linux

package cpu

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// pinToCPUs restricts the calling OS thread to the given CPU set (spec
// §4.5 NUMA affinity: "worker i is pinned to node ... via CPU set
// affinity"). Must be called from the goroutine that is to be pinned,
// with runtime.LockOSThread already in effect, since affinity is a
// per-OS-thread property on Linux.
func pinToCPUs(cpus []int) {
	if len(cpus) == 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		slog.Warn("cpu: failed to pin worker thread to NUMA node cpu set", "cpus", cpus, "error", err)
	}
}

// clearAffinity releases the calling OS thread's affinity mask back to
// all CPUs (spec §4.5: "the main thread clears affinity after join").
func clearAffinity(nCPU int) {
	var set unix.CPUSet
	set.Zero()
	for c := 0; c < nCPU; c++ {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		slog.Warn("cpu: failed to clear worker thread affinity", "error", err)
	}
}
