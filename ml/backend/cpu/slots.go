package cpu

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nnforge/ggoe/ml"
	"github.com/nnforge/ggoe/numeric"
)

// maxSlots bounds the fixed-size global pool contexts are drawn from
// (spec §3 Context: "Contexts are drawn from a fixed-size global pool
// of slots").
const maxSlots = 64

// poolGate is the process-wide critical section guarding slot
// acquisition and one-time global initialization (spec §4.3/§5:
// "creation and destruction take a process-wide critical section
// implemented as a spinning counter"). A weighted semaphore of weight
// 1 gives the same no-reentrancy, no-fairness mutual exclusion the
// spec describes without hand-rolling a spin loop (SPEC_FULL domain
// stack: golang.org/x/sync wiring) — §9's redesign note explicitly
// allows this substitution when the contention window is short, which
// it is here (pool slot allocation is O(n_slots)).
var poolGate = semaphore.NewWeighted(1)

var slotsInUse [maxSlots]bool

var globalInitOnce sync.Once

var (
	numaTopology       []ml.NUMANode
	numaBalancingWarned bool
)

// globalInit lazily initializes the numeric lookup tables and NUMA
// topology on first-ever context creation (spec §4.3 init: "First-ever
// call lazily initializes numeric tables, NUMA topology ..., and
// operator-pass flags").
func globalInit() {
	globalInitOnce.Do(func() {
		numeric.GELUTable()
		numeric.GeluQuickTable()
		numeric.SiLUTable()
		numeric.ExpTable()

		numaTopology = ml.DetectNUMATopology()
		if ml.NUMABalancingEnabled() {
			numaBalancingWarned = true
			ml.WarnIfNUMABalancing()
		}
	})
}

// acquireSlot reserves a free slot in the global pool, guarded by
// poolGate (spec §4.3 init: "Fails with OutOfSlots when the global
// pool is exhausted").
func acquireSlot() (int, error) {
	globalInit()

	if err := poolGate.Acquire(context.Background(), 1); err != nil {
		return 0, err
	}
	defer poolGate.Release(1)

	for i := range slotsInUse {
		if !slotsInUse[i] {
			slotsInUse[i] = true
			return i, nil
		}
	}
	return 0, ErrNoContextSlot
}

// releaseSlot frees slot for reuse.
func releaseSlot(slot int) {
	if err := poolGate.Acquire(context.Background(), 1); err != nil {
		slog.Error("cpu: failed to acquire pool gate releasing slot", "slot", slot, "error", err)
		return
	}
	defer poolGate.Release(1)

	slotsInUse[slot] = false
}
