package back

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorlinder/jlm/compiler/front"
	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

var i32 = types.Bits{Width: 32}

func maxModule() *llvm.Module {
	x := &llvm.Variable{Name: "x", Type: i32}
	y := &llvm.Variable{Name: "y", Type: i32}

	f := &llvm.Function{
		Name:    "max",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32, i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{x, y},
	}

	entry := f.AddBlock()
	then := f.AddBlock()
	els := f.AddBlock()
	join := f.AddBlock()

	cmp := entry.Add(rvsdg.BitCompOp{K: rvsdg.BitSGt, Width: 32}, x, y)
	entry.Term = llvm.Branch{
		Value:   cmp.Res[0],
		Cases:   []llvm.BranchCase{{Val: 0, To: els}},
		Default: then,
	}

	then.Term = llvm.Jump{To: join}
	els.Term = llvm.Jump{To: join}

	m := &llvm.Variable{Name: "m", Type: i32}
	join.Phis = []*llvm.Phi{{
		Res: m,
		Args: []llvm.PhiArg{
			{Pred: then, Value: x},
			{Pred: els, Value: y},
		},
	}}
	join.Term = llvm.Return{Vals: []*llvm.Variable{m}}

	return &llvm.Module{Name: "max", Funcs: []*llvm.Function{f}}
}

func loopModule() *llvm.Module {
	n := &llvm.Variable{Name: "n", Type: i32}

	f := &llvm.Function{
		Name:    "count",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{n},
	}

	entry := f.AddBlock()
	body := f.AddBlock()
	exit := f.AddBlock()

	zero := entry.Add(rvsdg.BitConstOp{Width: 32, Value: 0})
	entry.Term = llvm.Jump{To: body}

	i := &llvm.Variable{Name: "i", Type: i32}

	one := body.Add(rvsdg.BitConstOp{Width: 32, Value: 1})
	next := body.Add(rvsdg.BitBinOp{K: rvsdg.BitAdd, Width: 32}, i, one.Res[0])
	cond := body.Add(rvsdg.BitCompOp{K: rvsdg.BitSLt, Width: 32}, next.Res[0], n)

	body.Phis = []*llvm.Phi{{
		Res: i,
		Args: []llvm.PhiArg{
			{Pred: entry, Value: zero.Res[0]},
			{Pred: body, Value: next.Res[0]},
		},
	}}

	body.Term = llvm.Branch{
		Value:   cond.Res[0],
		Cases:   []llvm.BranchCase{{Val: 0, To: exit}},
		Default: body,
	}

	exit.Term = llvm.Return{Vals: []*llvm.Variable{next.Res[0]}}

	return &llvm.Module{Name: "count", Funcs: []*llvm.Function{f}}
}

func TestRoundTripBranch(t *testing.T) {
	ctx := context.Background()

	g, err := front.Destruct(ctx, maxModule())
	require.NoError(t, err)

	out, err := Structure(ctx, g)
	require.NoError(t, err)

	f := out.Func("max")
	require.NotNil(t, f)
	require.False(t, f.IsDecl())

	// the branch reappears with two successors and a join phi
	var branch *llvm.Block

	for _, b := range f.Blocks {
		if _, ok := b.Term.(llvm.Branch); ok {
			branch = b
			break
		}
	}

	require.NotNil(t, branch)
	assert.Len(t, branch.Successors(), 2)

	var phi *llvm.Phi

	for _, b := range f.Blocks {
		if len(b.Phis) != 0 {
			phi = b.Phis[0]
			break
		}
	}

	require.NotNil(t, phi)
	assert.Len(t, phi.Args, 2)

	assert.True(t, front.IsStructured(f))

	// a structured result converts again
	_, err = front.Destruct(ctx, out)
	require.NoError(t, err)
}

func TestRoundTripLoop(t *testing.T) {
	ctx := context.Background()

	g, err := front.Destruct(ctx, loopModule())
	require.NoError(t, err)

	out, err := Structure(ctx, g)
	require.NoError(t, err)

	f := out.Func("count")
	require.NotNil(t, f)

	// some branch targets an earlier block: the loop's back edge
	backEdge := false

	for _, b := range f.Blocks {
		for _, s := range b.Successors() {
			if s.Index <= b.Index {
				backEdge = true
			}
		}
	}

	assert.True(t, backEdge)
	assert.True(t, front.IsStructured(f))

	_, err = front.Destruct(ctx, out)
	require.NoError(t, err)
}

func TestPartialGammaStructuring(t *testing.T) {
	// lambda with a gamma whose first subregion passes its entry
	// through untouched: structuring keeps that arm as a bare edge
	g := rvsdg.New()

	ft := types.Function{
		Params:  []types.Type{types.Bits{Width: 1}, i32, types.Memory{}},
		Results: []types.Type{i32, types.Memory{}},
	}

	ln := rvsdg.NewLambda(g.Root(), rvsdg.LambdaOp{Name: "partial", Linkage: rvsdg.ExternalLinkage, FType: ft})

	pred, err := rvsdg.Match(1, map[uint64]uint64{0: 0}, 1, 2, ln.Argument(0))
	require.NoError(t, err)

	gn, err := rvsdg.NewGamma(pred, 2)
	require.NoError(t, err)

	ev, err := gn.AddEntryVar(ln.Argument(1))
	require.NoError(t, err)

	sq, err := rvsdg.BitBinary(rvsdg.BitMul, ev.Args[1], ev.Args[1])
	require.NoError(t, err)

	xv, err := gn.AddExitVar([]*rvsdg.Output{ev.Args[0], sq})
	require.NoError(t, err)

	out, err := ln.Finalize([]*rvsdg.Output{xv.Out, ln.Argument(2)})
	require.NoError(t, err)

	_, err = g.AddExport(out, "partial")
	require.NoError(t, err)

	ctx := context.Background()

	m, err := Structure(ctx, g)
	require.NoError(t, err)

	f := m.Func("partial")
	require.NotNil(t, f)

	entry := f.Blocks[0]

	br, ok := entry.Term.(llvm.Branch)
	require.True(t, ok)

	// the empty arm goes straight to the join
	succ := entry.Successors()
	require.Len(t, succ, 2)
	assert.NotEqual(t, succ[0], succ[1])

	assert.True(t, front.IsStructured(f))
	assert.False(t, front.IsProperStructured(f))

	// the join recovers the passthrough and the computed value
	join := br.Cases[0].To

	require.Len(t, join.Phis, 1)
	assert.Len(t, join.Phis[0].Args, 2)
}

func TestStructureDelta(t *testing.T) {
	g := rvsdg.New()

	dn := rvsdg.NewDelta(g.Root(), rvsdg.DeltaOp{
		Name:     "answer",
		Linkage:  rvsdg.ExternalLinkage,
		Constant: true,
		VType:    i32,
	})

	init := rvsdg.BitConstant(dn.Subregion(), 32, 42)

	out, err := dn.Finalize(init)
	require.NoError(t, err)

	_, err = g.AddExport(out, "answer")
	require.NoError(t, err)

	m, err := Structure(context.Background(), g)
	require.NoError(t, err)

	gl := m.Global("answer")
	require.NotNil(t, gl)
	assert.True(t, gl.Constant)

	c, ok := gl.Init.(rvsdg.BitConstOp)
	require.True(t, ok)
	assert.Equal(t, uint64(42), c.Value)
}
