package cpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/nnforge/ggoe/fs/ggml"
)

// The on-disk graph format (spec §6, fs/ggml/graphfile.go) carries
// operator parameters the way the original engine does: as tiny option
// tensors referenced from a node's argument slots. In memory this
// engine keeps parameters in the OpParams tagged union instead, so the
// exporter synthesizes one params leaf per node and the importer folds
// it back into OpParams. The params leaf is recognized by name; a file
// whose nodes carry no such leaf imports with zero-valued params.
const paramsLeafName = "..op_params"

// opParamsLen is the fixed element count of a synthesized params leaf.
const opParamsLen = 36

// Params vector layout. Ops only ever read their own slots, so the
// fields can share one fixed-size vector without colliding.
const (
	ppScale = iota
	ppOffset
	ppNPast
	ppEps
	ppRopeNDims
	ppRopeMode
	ppRopeNCtxOrig
	ppRopeFreqBase
	ppRopeFreqScale
	ppRopeExtFactor
	ppRopeAttnFactor
	ppRopeBetaFast
	ppRopeBetaSlow
	ppConv2DS0
	ppConv2DS1
	ppConv2DP0
	ppConv2DP1
	ppConv2DD0
	ppConv2DD1
	ppConv1DS
	ppConv1DP
	ppConv1DD
	ppAlibiNHead
	ppAlibiBias
	ppClampMin
	ppClampMax
	ppWinSize
	ppWinH0
	ppWinW0
	ppFlashScale
	ppFlashCausal
	ppViewOffset
	ppActKind
)

func encodeOpParams(t *Tensor) []float32 {
	p := t.params
	v := make([]float32, opParamsLen)
	v[ppScale] = float32(p.Scale)
	v[ppOffset] = float32(p.Offset)
	v[ppNPast] = float32(p.NPast)
	v[ppEps] = p.Eps
	v[ppRopeNDims] = float32(p.Rope.NDims)
	v[ppRopeMode] = float32(p.Rope.Mode)
	v[ppRopeNCtxOrig] = float32(p.Rope.NCtxOrig)
	v[ppRopeFreqBase] = p.Rope.FreqBase
	v[ppRopeFreqScale] = p.Rope.FreqScale
	v[ppRopeExtFactor] = p.Rope.ExtFactor
	v[ppRopeAttnFactor] = p.Rope.AttnFactor
	v[ppRopeBetaFast] = p.Rope.BetaFast
	v[ppRopeBetaSlow] = p.Rope.BetaSlow
	v[ppConv2DS0] = float32(p.Conv2D.Stride0)
	v[ppConv2DS1] = float32(p.Conv2D.Stride1)
	v[ppConv2DP0] = float32(p.Conv2D.Padding0)
	v[ppConv2DP1] = float32(p.Conv2D.Padding1)
	v[ppConv2DD0] = float32(p.Conv2D.Dilation0)
	v[ppConv2DD1] = float32(p.Conv2D.Dilation1)
	v[ppConv1DS] = float32(p.Conv1D.Stride)
	v[ppConv1DP] = float32(p.Conv1D.Padding)
	v[ppConv1DD] = float32(p.Conv1D.Dilation)
	v[ppAlibiNHead] = float32(p.AlibiNHead)
	v[ppAlibiBias] = p.AlibiBias
	v[ppClampMin] = p.ClampMin
	v[ppClampMax] = p.ClampMax
	v[ppWinSize] = float32(p.WinSize)
	v[ppWinH0] = float32(p.WinH0)
	v[ppWinW0] = float32(p.WinW0)
	v[ppFlashScale] = p.FlashScale
	if p.FlashCausal {
		v[ppFlashCausal] = 1
	}
	if t.op == ggml.OpView && t.src0 != nil {
		v[ppViewOffset] = float32(len(t.src0.data) - len(t.data))
	}
	v[ppActKind] = float32(p.ActKind)
	return v
}

func decodeOpParams(v []float32) (OpParams, int) {
	var p OpParams
	if len(v) < opParamsLen {
		return p, 0
	}
	p.Scale = float64(v[ppScale])
	p.Offset = int(v[ppOffset])
	p.NPast = int(v[ppNPast])
	p.Eps = v[ppEps]
	p.Rope.NDims = int(v[ppRopeNDims])
	p.Rope.Mode = int(v[ppRopeMode])
	p.Rope.NCtxOrig = int(v[ppRopeNCtxOrig])
	p.Rope.FreqBase = v[ppRopeFreqBase]
	p.Rope.FreqScale = v[ppRopeFreqScale]
	p.Rope.ExtFactor = v[ppRopeExtFactor]
	p.Rope.AttnFactor = v[ppRopeAttnFactor]
	p.Rope.BetaFast = v[ppRopeBetaFast]
	p.Rope.BetaSlow = v[ppRopeBetaSlow]
	p.Conv2D.Stride0 = int(v[ppConv2DS0])
	p.Conv2D.Stride1 = int(v[ppConv2DS1])
	p.Conv2D.Padding0 = int(v[ppConv2DP0])
	p.Conv2D.Padding1 = int(v[ppConv2DP1])
	p.Conv2D.Dilation0 = int(v[ppConv2DD0])
	p.Conv2D.Dilation1 = int(v[ppConv2DD1])
	p.Conv1D.Stride = int(v[ppConv1DS])
	p.Conv1D.Padding = int(v[ppConv1DP])
	p.Conv1D.Dilation = int(v[ppConv1DD])
	p.AlibiNHead = int(v[ppAlibiNHead])
	p.AlibiBias = v[ppAlibiBias]
	p.ClampMin = v[ppClampMin]
	p.ClampMax = v[ppClampMax]
	p.WinSize = int(v[ppWinSize])
	p.WinH0 = int(v[ppWinH0])
	p.WinW0 = int(v[ppWinW0])
	p.FlashScale = v[ppFlashScale]
	p.FlashCausal = v[ppFlashCausal] != 0
	p.ActKind = ggml.Op(v[ppActKind])
	return p, int(v[ppViewOffset])
}

func recordFor(t *Tensor) ggml.Record {
	rec := ggml.Record{
		Type: t.typ,
		Op:   t.op,
		Rank: t.ne.Rank(),
		Name: t.name,
	}
	for i := 0; i < ggml.MaxDims; i++ {
		rec.NE[i] = uint64(t.ne[i])
		rec.NB[i] = uint64(t.nb[i])
	}
	for i := range rec.Args {
		rec.Args[i] = -1
	}
	return rec
}

func f32Payload(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func paramsRecord(vals []float32) ggml.Record {
	shape := ggml.Shape{len(vals), 1, 1, 1}
	rec := ggml.Record{
		Type:    ggml.TensorTypeF32,
		Op:      ggml.OpNone,
		Rank:    1,
		Name:    paramsLeafName,
		Payload: f32Payload(vals),
	}
	nb := ggml.Strides(ggml.TensorTypeF32, shape)
	for i := 0; i < ggml.MaxDims; i++ {
		rec.NE[i] = uint64(shape[i])
		rec.NB[i] = uint64(nb[i])
	}
	return rec
}

// ExportGraph serializes the execution graph this context's Forward
// prepared into the spec §6 file form (encode it with
// ggml.EncodeGraph). MAP_* nodes cannot be exported: their parameter
// is a Go closure, which has no representation outside the building
// process.
func ExportGraph(c *Context) (*ggml.Graph, error) {
	if c.graph == nil {
		return nil, errors.New("cpu: no graph to export; call Forward first")
	}
	g := c.graph
	newExecutor(c).plan(g)

	out := &ggml.Graph{SizeEval: uint64(g.workSize)}
	leafIdx := make(map[*Tensor]int)
	nodeIdx := make(map[*Tensor]int)

	addLeaf := func(t *Tensor) (int, error) {
		if i, ok := leafIdx[t]; ok {
			return i, nil
		}
		if t.data == nil {
			return 0, fmt.Errorf("cpu: leaf %q has no payload to export", t.name)
		}
		rec := recordFor(t)
		rec.Payload = append([]byte(nil), t.data[:t.byteSize()]...)
		out.Leafs = append(out.Leafs, rec)
		leafIdx[t] = len(out.Leafs) - 1
		return leafIdx[t], nil
	}

	argFor := func(t *Tensor) (int32, error) {
		if t == nil {
			return -1, nil
		}
		if i, ok := nodeIdx[t]; ok {
			return ggml.EncodeArgIndex(i, true), nil
		}
		if t.op != ggml.OpNone {
			return 0, fmt.Errorf("cpu: node %q referenced before it was exported", t.name)
		}
		i, err := addLeaf(t)
		if err != nil {
			return 0, err
		}
		return ggml.EncodeArgIndex(i, false), nil
	}

	for _, l := range g.Leaves {
		if _, err := addLeaf(l); err != nil {
			return nil, err
		}
	}

	for i, n := range g.Nodes {
		switch n.op {
		case ggml.OpMapUnary, ggml.OpMapBinary, ggml.OpMapCustom1, ggml.OpMapCustom2, ggml.OpMapCustom3:
			return nil, fmt.Errorf("cpu: %v carries a Go closure and cannot be exported", n.op)
		}

		rec := recordFor(n)
		slot := 0
		for _, s := range []*Tensor{n.src0, n.src1} {
			a, err := argFor(s)
			if err != nil {
				return nil, err
			}
			rec.Args[slot] = a
			slot++
		}
		for _, s := range n.srcExtra {
			if slot >= len(rec.Args)-1 {
				return nil, fmt.Errorf("cpu: node %q has too many sources to export", n.name)
			}
			a, err := argFor(s)
			if err != nil {
				return nil, err
			}
			rec.Args[slot] = a
			slot++
		}

		out.Leafs = append(out.Leafs, paramsRecord(encodeOpParams(n)))
		rec.Args[slot] = ggml.EncodeArgIndex(len(out.Leafs)-1, false)

		out.Nodes = append(out.Nodes, rec)
		nodeIdx[n] = i
	}

	return out, nil
}

// ImportGraph reconstructs a runnable graph from a decoded graph file
// in a freshly-allocated context drawn from b (spec §6: "The importer
// reconstructs a graph in a freshly-allocated context; VIEW nodes
// re-apply the recorded offset to the source's payload"). The returned
// context already holds the graph: call Compute on it, then look
// tensors up by name.
func ImportGraph(b *Backend, gf *ggml.Graph) (*Context, error) {
	need := 0
	for i := range gf.Leafs {
		r := &gf.Leafs[i]
		need += align(ggml.ByteSize(r.Type, r.Shape(), r.Strides()))
	}
	for i := range gf.Nodes {
		r := &gf.Nodes[i]
		need += align(ggml.ByteSize(r.Type, r.Shape(), r.Strides()))
	}
	c, err := newContext(b, need+(1<<16), nil, false)
	if err != nil {
		return nil, err
	}

	leaves := make([]*Tensor, len(gf.Leafs))
	for i := range gf.Leafs {
		r := &gf.Leafs[i]
		t, err := c.newTensor(r.Type, r.Shape(), append([]byte(nil), r.Payload...))
		if err != nil {
			c.Close()
			return nil, err
		}
		t.name = r.Name
		if t.name != "" {
			c.objects.Set(t.name, t)
		}
		leaves[i] = t
	}

	nodes := make([]*Tensor, 0, len(gf.Nodes))
	var resolveErr error
	resolve := func(a int32) (*Tensor, *ggml.Record) {
		idx, isNode, present := ggml.DecodeArgIndex(a)
		if !present {
			return nil, nil
		}
		if isNode {
			if idx >= len(nodes) {
				// the node array is topologically sorted (spec §3), so
				// a forward reference is a malformed file.
				resolveErr = fmt.Errorf("%w: argument references node %d before it is defined", ggml.ErrInvalidGraphFile, idx)
				return nil, nil
			}
			return nodes[idx], &gf.Nodes[idx]
		}
		return leaves[idx], &gf.Leafs[idx]
	}

	for i := range gf.Nodes {
		r := &gf.Nodes[i]

		src0, _ := resolve(r.Args[0])
		src1, _ := resolve(r.Args[1])
		var opts []*Tensor
		var optRecs []*ggml.Record
		for _, a := range r.Args[2:] {
			if t, rec := resolve(a); t != nil {
				opts = append(opts, t)
				optRecs = append(optRecs, rec)
			}
		}
		if resolveErr != nil {
			c.Close()
			return nil, resolveErr
		}

		var params OpParams
		viewOffset := 0
		if len(opts) > 0 && optRecs[len(opts)-1].Name == paramsLeafName {
			params, viewOffset = decodeOpParams(opts[len(opts)-1].Floats())
			opts = opts[:len(opts)-1]
		}

		var t *Tensor
		switch r.Op {
		case ggml.OpView, ggml.OpReshape, ggml.OpPermute, ggml.OpTranspose:
			if src0 == nil {
				c.Close()
				return nil, fmt.Errorf("%w: %v node %d has no source", ggml.ErrInvalidGraphFile, r.Op, i)
			}
			if viewOffset < 0 || viewOffset > len(src0.data) {
				c.Close()
				return nil, fmt.Errorf("%w: %v node %d offset %d outside source payload", ggml.ErrInvalidGraphFile, r.Op, i, viewOffset)
			}
			t = c.viewTensor(src0, viewOffset)
		case ggml.OpCpy:
			if src1 == nil {
				c.Close()
				return nil, fmt.Errorf("%w: CPY node %d has no destination", ggml.ErrInvalidGraphFile, i)
			}
			t = c.viewTensor(src1, 0)
		default:
			var err error
			t, err = c.newTensor(r.Type, r.Shape(), nil)
			if err != nil {
				c.Close()
				return nil, err
			}
		}

		t.ne = r.Shape()
		t.nb = r.Strides()
		t.op = r.Op
		t.src0 = src0
		t.src1 = src1
		t.srcExtra = opts
		t.params = params
		t.name = r.Name
		if t.name != "" {
			c.objects.Set(t.name, t)
		}
		nodes = append(nodes, t)
	}

	c.graph = &Graph{Leaves: leaves, Nodes: nodes}
	return c, nil
}
