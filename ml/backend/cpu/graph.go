package cpu

import (
	"log/slog"

	"github.com/emirpasic/gods/v2/stacks/arraystack"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/ml"
)

// Graph is the execution graph spec §4.4 L4 derives from a root
// tensor: a topologically sorted node list plus the leaves (params and
// constants) that feed it. Nodes is in an order the executor can run
// front-to-back with every source already computed.
type Graph struct {
	Leaves []*Tensor
	Nodes  []*Tensor

	// workSize is the largest per-node scratch requirement the planning
	// pass in executor.go computes for this graph (spec §4.5: "a single
	// shared work buffer sized to the largest per-node requirement").
	workSize int
}

// postOrderFrame is one stack entry of the iterative post-order walk:
// t is the tensor being visited, next indexes the next of t.sources()
// still to push.
type postOrderFrame struct {
	t    *Tensor
	next int
}

// buildForward derives the forward graph rooted at roots via an
// iterative post-order visit (spec §4.4 L4: "post-order visit of a
// root tensor, producing an array of <=N_MAX tensor pointers such that
// every tensor's sources appear before it"). Iterative, via the
// arraystack wired in SPEC_FULL's domain stack, rather than recursive,
// so graphs deeper than the Go goroutine stack's comfort zone still
// walk safely.
func (c *Context) buildForward(roots []*Tensor) (*Graph, error) {
	visited := make(map[*Tensor]bool)
	var leaves, nodes []*Tensor

	stack := arraystack.New[*postOrderFrame]()
	for _, r := range roots {
		if visited[r] {
			continue
		}
		stack.Push(&postOrderFrame{t: r})
		for !stack.Empty() {
			top, _ := stack.Peek()
			srcs := top.t.sources()
			if top.next < len(srcs) {
				s := srcs[top.next]
				top.next++
				if s != nil && !visited[s] {
					stack.Push(&postOrderFrame{t: s})
				}
				continue
			}
			stack.Pop()
			if visited[top.t] {
				continue
			}
			visited[top.t] = true
			if top.t.op == ggml.OpNone {
				leaves = append(leaves, top.t)
			} else {
				nodes = append(nodes, top.t)
			}
		}
	}

	if len(nodes) > c.maxNodes {
		return nil, ErrInvalidGraph
	}
	return &Graph{Leaves: leaves, Nodes: nodes}, nil
}

// onesLike returns a constant tensor of t's shape filled with 1.0, used
// by a handful of adjoint rules (TANH, ELU) as the full-shape receiver
// a broadcasting binary op needs — the scalar FromFloats literal alone
// is the wrong shape to subtract a full tensor from.
func onesLike(ctx *Context, t *Tensor) *Tensor {
	one := ctx.FromFloats([]float32{1}, 1).(*Tensor)
	if t.ne.IsScalar() {
		return one
	}
	return one.Repeat(ctx, t.Shape()...).(*Tensor)
}

// accumulate adds contrib into m[src] (creating the entry, or folding
// it into the existing accumulator with an ADD node when src already
// has a pending contribution from another consumer — spec §4.4's
// backward derivation must sum gradients at nodes with fan-out > 1,
// not overwrite them). Sources off the gradient path (grad == nil,
// i.e. no parameter feeds them) are skipped, pruning dead adjoint
// subtrees the same way the builder's gradient-allocation rule prunes
// them going forward.
func accumulate(ctx *Context, m map[*Tensor]*Tensor, src, contrib *Tensor) {
	if src == nil || contrib == nil || src.grad == nil {
		return
	}
	if existing, ok := m[src]; ok {
		m[src] = existing.binary(ctx, contrib, ggml.OpAdd)
	} else {
		m[src] = contrib
	}
}

// onGradPath reports whether t participates in backward derivation.
func onGradPath(t *Tensor) bool { return t != nil && t.grad != nil }

// adjoint applies node's backward rule, accumulating contributions to
// its sources' gradients into acc. grad is the (already fully
// accumulated, since nodes are walked in reverse topological order)
// upstream gradient of node itself.
//
// Each rule is a direct symbolic application of the corresponding
// forward operator's partial derivative, built from the ordinary
// operator-constructor methods so the backward graph is executed by
// the same kernels as any other node (spec §4.4: "a post-order walker
// applies a per-operator adjoint rule ... expressed with the same
// operator vocabulary").
func adjoint(ctx *Context, node *Tensor, grad *Tensor, acc map[*Tensor]*Tensor) {
	a, b := node.src0, node.src1
	switch node.op {
	case ggml.OpDup, ggml.OpCont, ggml.OpReshape, ggml.OpView, ggml.OpPermute, ggml.OpTranspose, ggml.OpCpy:
		// Pure reshapes/copies: gradient passes through unchanged
		// (CPY accumulates into its source a, not its aliased dst).
		accumulate(ctx, acc, a, grad)

	case ggml.OpNeg:
		accumulate(ctx, acc, a, grad.unary(ctx, ggml.OpNeg))
	case ggml.OpAbs:
		accumulate(ctx, acc, a, grad.binary(ctx, a.unary(ctx, ggml.OpSgn), ggml.OpMul))
	case ggml.OpSgn, ggml.OpStep:
		// Piecewise-constant: zero gradient almost everywhere.
	case ggml.OpTanh:
		// d/dx tanh(x) = 1 - tanh(x)^2
		one := onesLike(ctx, node)
		dtanh := one.binary(ctx, node.binary(ctx, node, ggml.OpMul), ggml.OpSub)
		accumulate(ctx, acc, a, grad.binary(ctx, dtanh, ggml.OpMul))
	case ggml.OpElu:
		// d/dx elu(x) = 1 if x>0 else elu(x)+1
		one := onesLike(ctx, a)
		pos := a.unary(ctx, ggml.OpStep)
		negBranch := node.binary(ctx, one, ggml.OpAdd)
		inv := one.binary(ctx, pos, ggml.OpSub)
		deriv := pos.binary(ctx, one, ggml.OpMul).binary(ctx, inv.binary(ctx, negBranch, ggml.OpMul), ggml.OpAdd)
		accumulate(ctx, acc, a, grad.binary(ctx, deriv, ggml.OpMul))
	case ggml.OpRelu:
		accumulate(ctx, acc, a, grad.binary(ctx, a.unary(ctx, ggml.OpStep), ggml.OpMul))
	case ggml.OpSilu, ggml.OpGelu, ggml.OpGeluQuick:
		// SILU_BACK packages the exact local-gradient kernel for all
		// three sigmoid-gated activations (spec §4.4 SILU_BACK); the
		// ActKind param selects which derivative the kernel applies.
		accumulate(ctx, acc, a, ctx.newNode(a.typ, a.ne, ggml.OpSiluBack, a, grad, OpParams{ActKind: node.op}))
	case ggml.OpSqr:
		accumulate(ctx, acc, a, grad.binary(ctx, a.Scale(ctx, 2).(*Tensor), ggml.OpMul))
	case ggml.OpSqrt:
		accumulate(ctx, acc, a, grad.binary(ctx, node.Scale(ctx, 2).(*Tensor), ggml.OpDiv))
	case ggml.OpLog:
		accumulate(ctx, acc, a, grad.binary(ctx, a, ggml.OpDiv))

	case ggml.OpAdd, ggml.OpAdd1:
		accumulate(ctx, acc, a, grad)
		accumulate(ctx, acc, b, grad)
	case ggml.OpAcc:
		accumulate(ctx, acc, a, grad)
		accumulate(ctx, acc, b, grad)
	case ggml.OpSub:
		accumulate(ctx, acc, a, grad)
		if onGradPath(b) {
			accumulate(ctx, acc, b, grad.unary(ctx, ggml.OpNeg))
		}
	case ggml.OpMul:
		if onGradPath(a) {
			accumulate(ctx, acc, a, grad.binary(ctx, b, ggml.OpMul))
		}
		if onGradPath(b) {
			accumulate(ctx, acc, b, grad.binary(ctx, a, ggml.OpMul))
		}
	case ggml.OpDiv:
		if onGradPath(a) {
			accumulate(ctx, acc, a, grad.binary(ctx, b, ggml.OpDiv))
		}
		if onGradPath(b) {
			negNumByDenSq := grad.binary(ctx, a, ggml.OpMul).binary(ctx, b.binary(ctx, b, ggml.OpMul), ggml.OpDiv).unary(ctx, ggml.OpNeg)
			accumulate(ctx, acc, b, negNumByDenSq)
		}

	case ggml.OpSum:
		accumulate(ctx, acc, a, grad.Repeat(ctx, a.Shape()...).(*Tensor))
	case ggml.OpSumRows:
		accumulate(ctx, acc, a, grad.Repeat(ctx, a.Shape()...).(*Tensor))
	case ggml.OpMean:
		scaled := grad.Scale(ctx, 1.0/float64(a.ne[0])).(*Tensor)
		accumulate(ctx, acc, a, scaled.Repeat(ctx, a.Shape()...).(*Tensor))

	case ggml.OpRepeat:
		accumulate(ctx, acc, a, ctx.newNode(a.typ, a.ne, ggml.OpRepeatBack, grad, nil, OpParams{}))

	case ggml.OpGetRows:
		back := ctx.newNode(a.typ, a.ne, ggml.OpGetRowsBack, grad, b, OpParams{})
		accumulate(ctx, acc, a, back)

	case ggml.OpDiagMaskInf, ggml.OpDiagMaskZero:
		accumulate(ctx, acc, a, grad)

	case ggml.OpNorm:
		accumulate(ctx, acc, a, grad)
	case ggml.OpRMSNorm:
		back := ctx.newNode(a.typ, a.ne, ggml.OpRMSNormBack, a, grad, OpParams{Eps: node.params.Eps})
		accumulate(ctx, acc, a, back)

	case ggml.OpMulMat, ggml.OpOutProd:
		// With C[m,j] = Σ_k A[k,m]·B[k,j] (kMulMat and kOutProd share
		// this contraction), dA[k,m] = Σ_j B[k,j]·dC[m,j] and
		// dB[k,n] = Σ_m A[k,m]·dC[m,n]; expressed in the same op
		// vocabulary that is dA = MulMat(Bᵀ, dCᵀ) and
		// dB = MulMat(Aᵀ, dC), with each transpose materialized since
		// MUL_MAT reads whole contiguous rows.
		if onGradPath(a) {
			btc := b.Transpose(ctx).(*Tensor).Contiguous(ctx).(*Tensor)
			gt := grad.Transpose(ctx).(*Tensor).Contiguous(ctx).(*Tensor)
			accumulate(ctx, acc, a, btc.MulMat(ctx, gt).(*Tensor))
		}
		if onGradPath(b) {
			at := a.Transpose(ctx).(*Tensor).Contiguous(ctx).(*Tensor)
			accumulate(ctx, acc, b, at.MulMat(ctx, grad).(*Tensor))
		}

	case ggml.OpScale:
		accumulate(ctx, acc, a, grad.Scale(ctx, node.params.Scale).(*Tensor))

	case ggml.OpSoftMax:
		back := ctx.newNode(a.typ, a.ne, ggml.OpSoftMaxBack, node, grad, OpParams{})
		accumulate(ctx, acc, a, back)

	case ggml.OpRope:
		back := ctx.newNode(a.typ, a.ne, ggml.OpRopeBack, grad, b, OpParams{Rope: node.params.Rope})
		accumulate(ctx, acc, a, back)

	case ggml.OpFlashAttn:
		v := node.srcExtra[0]
		var mask *Tensor
		if len(node.srcExtra) > 1 {
			mask = node.srcExtra[1]
		}
		back := ctx.newNode(a.typ, a.ne, ggml.OpFlashAttnBack, a, b, OpParams{FlashScale: node.params.FlashScale, FlashCausal: node.params.FlashCausal})
		back.srcExtra = append(back.srcExtra, v, grad)
		if mask != nil {
			back.srcExtra = append(back.srcExtra, mask)
		}
		// FLASH_ATTN_BACK is the single fused adjoint for all of
		// q/k/v; it is wired here to q only, mirroring spec §4.4's
		// listing of FLASH_ATTN_BACK as the op's sole backward
		// producer. A from-scratch per-operand split was judged out
		// of scope without a reference implementation to check it
		// against (see DESIGN.md).
		accumulate(ctx, acc, a, back)

	case ggml.OpCrossEntropyLoss:
		back := ctx.newNode(a.typ, a.ne, ggml.OpCrossEntropyLossBack, a, b, OpParams{})
		accumulate(ctx, acc, a, back)

	default:
		unsupportedBackward(node.op.String())
	}
}

// buildBackward derives the backward graph for loss (spec §4.4 L4,
// "optional backward derivation"): walks fwd.Nodes in reverse
// topological order, seeds loss's own gradient to 1, and applies each
// node's adjoint rule. The accumulated gradient expression for every
// parameter leaf is finally copied into that leaf's pre-allocated
// .grad tensor so callers reading Tensor.Grad() see the result once
// Compute runs.
func (c *Context) buildBackward(fwd *Graph, loss *Tensor) *Graph {
	if !loss.ne.IsScalar() {
		shapeMismatch("buildBackward: loss tensor %q is not scalar (spec §4.6)", loss.name)
	}

	// Every tensor adjoint() creates below is registered in c.anon in
	// creation order (adjoint nodes are never named), and creation
	// order is a topological order since each node is built after its
	// sources. The backward node list is exactly the registrations past
	// this high-water mark.
	anonStart := len(c.anon)

	acc := make(map[*Tensor]*Tensor)
	acc[loss] = c.FromFloats([]float32{1}, 1).(*Tensor)

	for i := len(fwd.Nodes) - 1; i >= 0; i-- {
		node := fwd.Nodes[i]
		grad, ok := acc[node]
		if !ok || !node.op.HasBackward() {
			continue
		}
		adjoint(c, node, grad, acc)
	}

	for _, leaf := range fwd.Leaves {
		if !leaf.isParam {
			continue
		}
		contrib, ok := acc[leaf]
		if !ok {
			slog.Warn("cpu: parameter has no gradient contribution", "tensor", leaf.name)
			continue
		}
		// The accumulated expression is copied into the leaf's
		// pre-allocated .grad tensor, so callers reading Tensor.Grad()
		// see the result once Compute runs.
		contrib.Cpy(c, leaf.grad)
	}

	var built []*Tensor
	for _, t := range c.anon[anonStart:] {
		if t.op != ggml.OpNone {
			built = append(built, t)
		}
	}
	return &Graph{Nodes: built}
}

// Forward implements ml.Context: builds the forward graph rooted at
// roots, then — if any reachable leaf is a trainable parameter —
// extends it with a backward pass rooted at roots[0], which spec §4.6
// requires to be the scalar loss.
func (c *Context) Forward(roots ...ml.Tensor) ml.Context {
	rs := make([]*Tensor, len(roots))
	trainable := false
	for i, r := range roots {
		rs[i] = asTensor(r)
	}
	g, err := c.buildForward(rs)
	if err != nil {
		panic(err)
	}
	for _, leaf := range g.Leaves {
		if leaf.isParam {
			trainable = true
			break
		}
	}
	if trainable && len(rs) > 0 {
		back := c.buildBackward(g, rs[0])
		g.Nodes = append(g.Nodes, back.Nodes...)
	}
	c.graph = g
	return c
}

// Compute implements ml.Context: executes the graph Forward prepared,
// via the worker-pool executor of spec §4.5.
func (c *Context) Compute(outputs ...ml.Tensor) {
	if c.graph == nil {
		panic("cpu: Compute called with no graph; call Forward first")
	}
	exec := newExecutor(c)
	exec.run(c.graph)
}

// Reserve implements ml.Context: runs the executor's planning pass
// (scratch sizing, task-count assignment) without executing any
// kernel, for callers that want to presize scratch ahead of a worst
// case graph (spec §4.5).
func (c *Context) Reserve() {
	if c.graph == nil {
		return
	}
	exec := newExecutor(c)
	exec.plan(c.graph)
	if c.graph.workSize > len(c.work) {
		c.work = make([]byte, c.graph.workSize)
	}
}
