package cpu

import (
	"github.com/nnforge/ggoe/envconfig"
	"github.com/nnforge/ggoe/ml"
)

func init() {
	ml.RegisterBackend("cpu", newBackend)
}

// Backend is the one sanctioned backend (spec §1: GPU offload and
// external BLAS appear only as the hook contract in §6, never as a
// shipped backend).
type Backend struct {
	params        ml.BackendParams
	maxGraphNodes int
}

func newBackend(params ml.BackendParams) (ml.Backend, error) {
	if params.NumThreads <= 0 {
		params.NumThreads = envconfig.NumThreads()
	}
	if !params.NUMA {
		params.NUMA = envconfig.NUMAEnabled()
	}
	globalInit()
	return &Backend{
		params:        params,
		maxGraphNodes: envconfig.MaxGraphNodes(),
	}, nil
}

func (b *Backend) NewContext() ml.Context {
	return b.NewContextSize(int(envconfig.ContextMemBytes()))
}

func (b *Backend) NewContextSize(size int) ml.Context {
	c, err := newContext(b, size, nil, false)
	if err != nil {
		panic(err)
	}
	return c
}

func (b *Backend) Info() ml.BackendInfo {
	return ml.BackendInfo{
		NumThreads:           b.params.NumThreads,
		NUMANodes:            len(numaTopology),
		NUMABalancingWarning: numaBalancingWarned,
	}
}

func (b *Backend) Close() {}

// externalBLAS implements the spec §6/§4.5 MUL_MAT delegation query:
// "the executor queries, for each MUL_MAT node, whether an external
// backend can consume the operand pair." With no hook configured every
// MUL_MAT stays on this engine's own kernel.
func (b *Backend) externalBLAS(a, bT *Tensor) bool {
	if b.params.ExternalBLAS == nil {
		return false
	}
	return b.params.ExternalBLAS(a.DType(), bT.DType(), a.ne[1], bT.ne[1], a.ne[0])
}

// numaTopology returns the process-wide NUMA node set detected at
// first context creation (spec §4.3 init), for the executor's worker
// affinity pinning (spec §4.5).
func (b *Backend) numaTopology() []ml.NUMANode {
	return numaTopology
}
