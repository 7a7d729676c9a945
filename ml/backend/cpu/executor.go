package cpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nnforge/ggoe/envconfig"
	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

// executor runs a prepared Graph's nodes front-to-back on a pool of
// c.threads OS-thread-backed workers, barrier-synchronized per node
// through two atomics exactly as spec §4.5/§5 describes: "a shared
// control block carries ... n_active, node_n" and "the control atomics
// use sequentially-consistent semantics; this is required for
// correctness of the leader-election handshake". No channel or mutex
// stands in for that handshake — sync/atomic's default
// sequentially-consistent loads/stores are the mechanism, and workers
// busy-spin (runtime.Gosched as the portable stand-in for an
// architecture pause hint) rather than block, per spec §5's
// "suspension points: only at the end of INIT/COMPUTE/FINALIZE phases,
// where workers spin-wait".
type executor struct {
	ctx      *Context
	nThreads int
	sentinel bool
}

func newExecutor(ctx *Context) *executor {
	n := ctx.threads
	if n < 1 {
		n = 1
	}
	return &executor{ctx: ctx, nThreads: n}
}

// cacheLine is the per-worker padding the planner adds to the work
// buffer (spec §4.5: "plus one cache-line of padding per worker").
const cacheLine = 64

// flashAttnUnroll is the row-length round-up granularity in
// FLASH_ATTN's scratch bound.
const flashAttnUnroll = 32

// plan assigns a task count to every node and aggregates the per-node
// scratch requirement into g.workSize, without running any kernel
// (spec §4.5's "planning pass", also used standalone by
// Context.Reserve).
func (e *executor) plan(g *Graph) {
	work := 0
	for _, n := range g.Nodes {
		switch {
		case n.op.IsNoOp():
			n.taskCount = 1
		case n.op == ggml.OpAcc:
			// ACC's offset write crosses row-strip boundaries, so it
			// cannot share the node with other workers.
			n.taskCount = 1
		case n.op == ggml.OpMulMat && e.ctx.backend.externalBLAS(n.src0, n.src1):
			// spec §4.5: "MUL_MAT: all workers, but reduced to 1 when
			// the planner detects that an external BLAS fast-path will
			// be taken for that operand pairing" (spec §6's sanctioned
			// bypass hook).
			n.taskCount = 1
		default:
			n.taskCount = e.nThreads
		}
		if s := e.scratchBytes(n); s > work {
			work = s
		}
	}
	if work > 0 {
		work += cacheLine * e.nThreads
	}
	g.workSize = work
}

// scratchBytes is the conservative per-op upper bound on the temporary
// bytes node n needs (spec §4.5): MUL_MAT over a quantized lhs holds
// the whole rhs re-encoded as the dot type, FLASH_ATTN holds two
// rounded-up logit rows per task.
func (e *executor) scratchBytes(n *Tensor) int {
	switch n.op {
	case ggml.OpMulMat:
		if wc, _, ok := mulMatFused(n); ok {
			return wc.DotType.RowSize(n.src1.ne[0]) * n.src1.ne[1] * n.src1.ne[2] * n.src1.ne[3]
		}
	case ggml.OpFlashAttn, ggml.OpFlashAttnBack:
		m := n.src1.ne[1]
		rounded := (m + flashAttnUnroll - 1) / flashAttnUnroll * flashAttnUnroll
		return 2 * rounded * e.nThreads * 4
	}
	return 0
}

// controlBlock is the spec §4.5 "shared control block": the two
// sequentially-consistent atomics that drive the barrier handshake,
// plus the node list every worker reads from.
type controlBlock struct {
	nodes   []*Tensor
	nActive atomic.Int32
	nodeN   atomic.Int64 // index into nodes of the node currently (or about to be) running
}

// run executes every node of g in order using e.nThreads persistent
// workers. Each worker is its own OS thread (runtime.LockOSThread) so
// NUMA affinity pinning (spec §4.5) actually binds the thread doing
// the computing, not an arbitrary goroutine-scheduler M.
func (e *executor) run(g *Graph) {
	e.plan(g)
	if len(g.Nodes) == 0 {
		return
	}

	cb := &controlBlock{nodes: g.Nodes}
	cb.nActive.Store(int32(e.nThreads))
	cb.nodeN.Store(0)

	if g.workSize > 0 && len(e.ctx.work) < g.workSize {
		e.ctx.work = make([]byte, g.workSize)
	}
	e.sentinel = envconfig.ScratchSentinel(envconfig.Debug())

	// Node 0's INIT runs before the pool starts; every later node's
	// INIT runs on the coordinator at the barrier (spec §4.5).
	e.initNode(cb.nodes[0])

	numaNodes := e.ctx.backend.numaTopology()
	pin := e.ctx.numa && len(numaNodes) >= 2

	var wg sync.WaitGroup
	wg.Add(e.nThreads)
	for tid := 0; tid < e.nThreads; tid++ {
		go func(tid int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if pin {
				node := ml.NodeForWorker(tid, e.nThreads, len(numaNodes))
				pinToCPUs(numaNodes[node].CPUs)
				defer clearAffinity(runtime.NumCPU())
			}
			e.workerLoop(tid, cb)
		}(tid)
	}
	wg.Wait()
}

// workerLoop is the per-worker state machine of spec §4.5's execution
// protocol: leader election at the barrier, INIT/COMPUTE/FINALIZE per
// node, and the task_count==1 inline fast path that "avoids a barrier
// round-trip".
func (e *executor) workerLoop(tid int, cb *controlBlock) {
	seen := int64(-1)
	for {
		cur := cb.nodeN.Load()
		if cur >= int64(len(cb.nodes)) {
			return
		}
		if cur == seen {
			runtime.Gosched()
			continue
		}
		seen = cur

		n := cb.nodes[cur]
		e.compute(n, tid)

		if cb.nActive.Add(-1) != 0 {
			// non-leader: spin-wait for the leader's FINALIZE +
			// node_n publication (spec §5: "All others spin on
			// node_n changing").
			for cb.nodeN.Load() == cur {
				runtime.Gosched()
			}
			continue
		}

		// leader: this goroutine is the one that drove nActive to 0,
		// i.e. the last arrival at the barrier (spec §5: "the worker
		// that decrements n_active from 1 ... becomes the coordinator").
		e.finalize(n)
		next := cur + 1

		// Inline fast path: run every immediately-following task_count
		// == 1 node on the leader alone, without waking the pool
		// (spec §4.5: "If task_count==1, runs COMPUTE and FINALIZE
		// inline and continues").
		for next < int64(len(cb.nodes)) {
			nn := cb.nodes[next]
			e.initNode(nn)
			if nn.taskCount != 1 {
				break
			}
			e.compute(nn, 0)
			e.finalize(nn)
			next++
		}

		cb.nActive.Store(int32(e.nThreads))
		cb.nodeN.Store(next)
	}
}

// initNode runs node n's INIT phase on the coordinator, preceded in
// debug builds by a sentinel fill of the work buffer so a kernel
// over-reading its declared scratch span shows up as garbage rather
// than stale prior-node data (spec §9's scratch-sentinel note).
func (e *executor) initNode(n *Tensor) {
	if e.sentinel && len(e.ctx.work) > 0 {
		for i := range e.ctx.work {
			e.ctx.work[i] = 0xa5
		}
	}
	if initFn, ok := kernelInits[n.op]; ok {
		tc := n.taskCount
		if tc < 1 {
			tc = 1
		}
		initFn(n, tc)
	}
}

// compute runs thread tid's COMPUTE-phase shard of node n, if tid
// participates (spec §5: "they receive a compute_params{phase, ith,
// nth, wsize, wdata} descriptor and partition work via (ith, nth)").
func (e *executor) compute(n *Tensor, tid int) {
	k, ok := kernels[n.op]
	if !ok {
		panic(fmt.Sprintf("cpu: no kernel registered for op %v", n.op))
	}

	rows := outputRows(n)
	eff := n.taskCount
	if eff < 1 {
		eff = 1
	}
	if eff > rows {
		eff = max(rows, 1)
	}
	if tid >= eff {
		return
	}

	lo, hi := rowShard(rows, eff, tid)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cpu: kernel panicked", "op", n.op, "tensor", n.name, "thread", tid, "panic", r)
			panic(r)
		}
		atomic.AddInt64(&n.perf.NanosWall, time.Since(start).Nanoseconds())
	}()
	k(n, tid, lo, hi)
}

// finalize runs node n's FINALIZE phase (spec §4.5: "Coordinator: if
// finishing a previous node, runs its FINALIZE phase") — leader-only,
// so ordinary (non-atomic) field writes to n.perf are race-free here.
func (e *executor) finalize(n *Tensor) {
	if f, ok := kernelFinalizes[n.op]; ok {
		f(n)
	}
	n.perf.Calls++
}

// outputRows returns the number of independent "rows" (contiguous
// axis-0 slices) a node's output has, the unit of work the executor
// partitions across threads. Full reductions to a scalar (SUM, CROSS_
// ENTROPY_LOSS) partition over the *source*'s rows instead, since the
// destination has exactly one row regardless of thread count — without
// this, their task_count would always collapse to 1 and spec §4.5's
// "CROSS_ENTROPY_LOSS reduces per-thread partial sums" FINALIZE example
// would never have more than one partial to reduce. Single-task ops
// still see the full row range: their shard is [0, rows).
func outputRows(n *Tensor) int {
	switch n.op {
	case ggml.OpSum, ggml.OpCrossEntropyLoss:
		return n.src0.ne[1] * n.src0.ne[2] * n.src0.ne[3]
	}
	return n.ne[1] * n.ne[2] * n.ne[3]
}

// rowShard returns thread tid's half-open row range under the
// partitioning discipline of spec §4.5: dr = ceil(nr/nth),
// ir0 = dr·ith, ir1 = min(ir0+dr, nr). Trailing threads may get an
// empty range; MAP_CUSTOM closures written against the documented
// (ith, nth) contract can rely on these exact boundaries.
func rowShard(rows, nThreads, tid int) (int, int) {
	dr := (rows + nThreads - 1) / nThreads
	lo := dr * tid
	hi := min(lo+dr, rows)
	if lo > hi {
		lo = hi
	}
	return lo, hi
}
