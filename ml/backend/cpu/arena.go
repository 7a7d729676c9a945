package cpu

import (
	"fmt"
	"log/slog"

	"github.com/emirpasic/gods/v2/stacks/arraystack"
	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

var _ slog.LogValuer = (*Context)(nil)

const defaultAlign = 16

// scratchState is one entry of the two-level scratch save/restore
// stack (spec §4.3: "a two-level stack of (scratch-config,
// no-alloc-flag) supports transient allocations for option tensors
// created inside operator constructors without polluting the caller's
// scratch plan").
type scratchState struct {
	used    int
	noAlloc bool
}

// Context owns one aligned memory region and an intrusive object list
// (spec §4.3). It implements ml.Context.
type Context struct {
	id uuid.UUID

	backend *Backend
	slot    int

	mem     []byte
	used    int
	noAlloc bool

	scratch      []byte
	scratchUsed  int
	scratchStack *arraystack.Stack[scratchState]

	// objects preserves tensor creation order by name for
	// deterministic graph_print/graph_dump_dot/export enumeration
	// (spec §6), per SPEC_FULL's go-ordered-map wiring.
	objects *orderedmap.OrderedMap[string, *Tensor]
	anon    []*Tensor // unnamed objects, kept for total ordering

	threads  int
	maxNodes int
	numa     bool

	graph *Graph

	// work is the shared work buffer the executor's planning pass sizes
	// to the largest per-node scratch requirement (spec §4.5). Set by
	// the executor before a run; kernels with an INIT phase write their
	// pre-computed data here.
	work []byte
}

// LogValue lets slog print a Context's generation id instead of its
// full object list, so profiling/log correlation can disambiguate
// contexts drawn from the same reused pool slot (SPEC_FULL.md domain
// stack: google/uuid wiring).
func (c *Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("id", c.id),
		slog.Int("slot", c.slot),
		slog.Int("used", c.used),
		slog.Int("cap", len(c.mem)),
	)
}

// newContext allocates the primary region and registers c in the
// global slot pool (spec §4.3 init).
func newContext(b *Backend, memSize int, buffer []byte, noAlloc bool) (*Context, error) {
	slot, err := acquireSlot()
	if err != nil {
		return nil, err
	}

	mem := buffer
	if mem == nil {
		mem = make([]byte, memSize)
	}

	c := &Context{
		id:           uuid.New(),
		backend:      b,
		slot:         slot,
		mem:          mem,
		noAlloc:      noAlloc,
		scratchStack: arraystack.New[scratchState](),
		objects:      orderedmap.New[string, *Tensor](),
		threads:      b.params.NumThreads,
		maxNodes:     b.maxGraphNodes,
		numa:         b.params.NUMA,
	}
	return c, nil
}

// Close releases c's slot and, if it owns its buffer, drops the
// reference so the GC can reclaim it (spec §4.3 free: "Live tensors
// become dangling; callers must ensure no outstanding references").
func (c *Context) Close() {
	releaseSlot(c.slot)
	c.mem = nil
	c.scratch = nil
	c.graph = nil
	c.work = nil
}

func (c *Context) NumThreads() int     { return c.threads }
func (c *Context) MaxGraphNodes() int  { return c.maxNodes }

// align rounds v up to the next multiple of defaultAlign.
func align(v int) int {
	return (v + defaultAlign - 1) &^ (defaultAlign - 1)
}

// allocPrimary bumps the primary region by n bytes, returning the
// backing slice or an error describing the shortfall (spec §4.3
// "Failure returns null with a diagnostic; the context is not
// poisoned").
func (c *Context) allocPrimary(n int) ([]byte, error) {
	n = align(n)
	if c.used+n > len(c.mem) {
		return nil, fmt.Errorf("%w: requested %d bytes, %d available", ErrArenaExhausted, n, len(c.mem)-c.used)
	}
	b := c.mem[c.used : c.used+n]
	c.used += n
	return b, nil
}

// allocScratch bumps the scratch region by n bytes (spec §4.3 "tensor
// payloads may be redirected here while their headers remain in the
// primary region").
func (c *Context) allocScratch(n int) ([]byte, error) {
	n = align(n)
	if c.scratchUsed+n > len(c.scratch) {
		return nil, fmt.Errorf("%w: scratch requested %d bytes, %d available", ErrArenaExhausted, n, len(c.scratch)-c.scratchUsed)
	}
	b := c.scratch[c.scratchUsed : c.scratchUsed+n]
	c.scratchUsed += n
	return b, nil
}

// SetScratch installs (or clears, with buf == nil) the scratch region.
// Concrete to *Context rather than part of ml.Context: only the
// executor's planning pass and tests need to drive it directly.
func (c *Context) SetScratch(buf []byte) {
	c.scratch = buf
	c.scratchUsed = 0
}

// ScratchSave snapshots the current scratch configuration (spec
// §4.3 scratch_save).
func (c *Context) ScratchSave() {
	c.scratchStack.Push(scratchState{used: c.scratchUsed, noAlloc: c.noAlloc})
}

// ScratchLoad restores the most recently saved scratch configuration
// (spec §4.3 scratch_load). No-op if the stack is empty.
func (c *Context) ScratchLoad() {
	s, ok := c.scratchStack.Pop()
	if !ok {
		return
	}
	c.scratchUsed = s.used
	c.noAlloc = s.noAlloc
}

// TensorByName returns the tensor registered under name (via SetName
// or graph import), or nil if there is none.
func (c *Context) TensorByName(name string) ml.Tensor {
	if t, ok := c.objects.Get(name); ok {
		return t
	}
	return nil
}

func (c *Context) register(t *Tensor) {
	if t.name != "" {
		c.objects.Set(t.name, t)
	} else {
		c.anon = append(c.anon, t)
	}
}

// newTensor implements spec §4.3 new_tensor: appends an object to the
// arena. If the context is in no-alloc mode and no data is supplied,
// no payload is reserved; if scratch is active, the payload is carved
// from scratch instead of the primary region.
func (c *Context) newTensor(typ ggml.TensorType, shape ggml.Shape, data []byte) (*Tensor, error) {
	nb := ggml.Strides(typ, shape)
	size := ggml.ByteSize(typ, shape, nb)

	t := &Tensor{ctx: c, typ: typ, ne: shape, nb: nb}

	switch {
	case data != nil:
		if len(data) != size {
			return nil, fmt.Errorf("cpu: new_tensor data is %d bytes, want %d", len(data), size)
		}
		t.data = data
	case c.noAlloc:
		// plan-then-allocate: header only, no payload (spec §4.3).
	case len(c.scratch) > 0:
		b, err := c.allocScratch(size)
		if err != nil {
			return nil, err
		}
		t.data = b
	default:
		b, err := c.allocPrimary(size)
		if err != nil {
			return nil, err
		}
		t.data = b
	}

	c.register(t)
	return t, nil
}

func shapeOf(dims ...int) ggml.Shape {
	if len(dims) == 0 || len(dims) > ggml.MaxDims {
		panic(fmt.Sprintf("cpu: rank %d out of [1,%d]", len(dims), ggml.MaxDims))
	}
	var s ggml.Shape
	for i := range s {
		s[i] = 1
	}
	copy(s[:], dims)
	return s
}

// Empty implements ml.Context.
func (c *Context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	t, err := c.newTensor(dtype.TensorType(), shapeOf(shape...), nil)
	if err != nil {
		slog.Error("cpu: Empty allocation failed", "error", err)
		panic(err)
	}
	return t
}

// Zeros implements ml.Context.
func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	t := c.Empty(dtype, shape...).(*Tensor)
	if t.data != nil {
		clear(t.data)
	}
	return t
}

// FromBytes implements ml.Context.
func (c *Context) FromBytes(dtype ml.DType, s []byte, shape ...int) ml.Tensor {
	t, err := c.newTensor(dtype.TensorType(), shapeOf(shape...), append([]byte(nil), s...))
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloats implements ml.Context.
func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	t := c.Empty(ml.DTypeF32, shape...).(*Tensor)
	t.FromFloats(s)
	return t
}

// FromInts implements ml.Context.
func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	t := c.Empty(ml.DTypeI32, shape...).(*Tensor)
	t.FromInts(s)
	return t
}

// NewTensor implements ml.Context (spec §4.3 new_tensor, public form).
func (c *Context) NewTensor(dtype ml.DType, shape ...int) ml.Tensor {
	return c.Empty(dtype, shape...)
}

// dupTensor creates a new owning tensor with src's shape/type (spec
// §4.3 dup_tensor).
func (c *Context) dupTensor(src *Tensor) *Tensor {
	t, err := c.newTensor(src.typ, src.ne, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// viewTensor returns a new header sharing src's payload (spec §4.3
// view_tensor): strides are copied, not recomputed, so callers can
// install a permuted/offset stride chain afterward.
func (c *Context) viewTensor(src *Tensor, offset int) *Tensor {
	t := &Tensor{
		ctx:  c,
		typ:  src.typ,
		ne:   src.ne,
		nb:   src.nb,
		data: src.data[offset:],
	}
	c.register(t)
	return t
}
