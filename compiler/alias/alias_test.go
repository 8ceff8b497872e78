package alias

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

func TestPointsToAllocaStore(t *testing.T) {
	g := rvsdg.New()

	size := g.AddImport(i32, "size")
	s := g.AddImport(types.Memory{}, "s")

	pa, as, err := llvm.Alloca(types.Pointer{}, size, 8)
	require.NoError(t, err)

	pb, bs, err := llvm.Alloca(i32, size, 4)
	require.NoError(t, err)

	// *pa = pb
	states, err := llvm.Store(pa, pb, []*rvsdg.Output{as, bs, s}, 8)
	require.NoError(t, err)

	// v = *pa
	v, _, err := llvm.Load(types.Pointer{}, pa, states[:1], 8)
	require.NoError(t, err)

	_, err = g.AddExport(v, "v")
	require.NoError(t, err)

	ptg, err := Analyze(context.Background(), g)
	require.NoError(t, err)

	la, ok := ptg.SiteLoc(pa.Node())
	require.True(t, ok)

	lb, ok := ptg.SiteLoc(pb.Node())
	require.True(t, ok)

	// pa's cell may contain pb's location
	assert.True(t, ptg.Targets(la).IsSet(lb))

	// the loaded value may point where pb pointed
	assert.True(t, ptg.PointsTo(v).IsSet(lb))
	assert.False(t, ptg.PointsTo(v).IsSet(la))
}

func TestPointsToExportLeaks(t *testing.T) {
	g := rvsdg.New()

	size := g.AddImport(i32, "size")

	p, _, err := llvm.Alloca(i32, size, 4)
	require.NoError(t, err)

	_, err = g.AddExport(p, "p")
	require.NoError(t, err)

	ptg, err := Analyze(context.Background(), g)
	require.NoError(t, err)

	l, ok := ptg.SiteLoc(p.Node())
	require.True(t, ok)

	// an exported pointer is reachable from outside
	assert.True(t, ptg.Targets(External).IsSet(l))
}

func TestPointsToRecursionConverges(t *testing.T) {
	// fib calls itself through a phi recursion variable and stores
	// through a pointer argument owned by the caller
	g := rvsdg.New()

	ft := types.Function{
		Params:  []types.Type{i32, types.Pointer{}, types.Memory{}},
		Results: []types.Type{types.Memory{}},
	}

	pn := rvsdg.NewPhi(g.Root())

	rec, err := pn.AddRecVar(ft)
	require.NoError(t, err)

	ln := rvsdg.NewLambda(pn.Subregion(), rvsdg.LambdaOp{Name: "fib", Linkage: rvsdg.ExternalLinkage, FType: ft})

	cv, err := ln.AddCtxVar(rec)
	require.NoError(t, err)

	outs, err := llvm.Call(cv.Arg, []*rvsdg.Output{ln.Argument(0), ln.Argument(1), ln.Argument(2)}, nil)
	require.NoError(t, err)

	lout, err := ln.Finalize([]*rvsdg.Output{outs[0]})
	require.NoError(t, err)

	err = pn.Finalize([]*rvsdg.Output{lout})
	require.NoError(t, err)

	// the caller passes a fresh alloca
	size := g.AddImport(i32, "size")

	caller := rvsdg.NewLambda(g.Root(), rvsdg.LambdaOp{
		Name:    "main",
		Linkage: rvsdg.ExternalLinkage,
		FType: types.Function{
			Params:  []types.Type{i32, types.Memory{}},
			Results: []types.Type{types.Memory{}},
		},
	})

	fcv, err := caller.AddCtxVar(pn.RecVar(0).Out)
	require.NoError(t, err)

	scv, err := caller.AddCtxVar(size)
	require.NoError(t, err)

	buf, _, err := llvm.Alloca(i32, scv.Arg, 4)
	require.NoError(t, err)

	couts, err := llvm.Call(fcv.Arg, []*rvsdg.Output{caller.Argument(0), buf, caller.Argument(1)}, nil)
	require.NoError(t, err)

	mout, err := caller.Finalize([]*rvsdg.Output{couts[0]})
	require.NoError(t, err)

	_, err = g.AddExport(mout, "main")
	require.NoError(t, err)

	require.NoError(t, rvsdg.Audit(g))

	ptg, err := Analyze(context.Background(), g)
	require.NoError(t, err)

	lbuf, ok := ptg.SiteLoc(buf.Node())
	require.True(t, ok)

	// fib's pointer parameter aims at the caller's alloca
	assert.True(t, ptg.PointsTo(ln.Argument(1)).IsSet(lbuf))

	// the recursion variable resolves to the function itself
	lfib, ok := ptg.SiteLoc(ln.Node())
	require.True(t, ok)
	assert.True(t, ptg.PointsTo(cv.Arg).IsSet(lfib))
}

func TestEncodeStoreAllocaLocal(t *testing.T) {
	// a store through a private alloca only threads the alloca's own
	// partition; the external state passes by untouched
	g := rvsdg.New()

	ft := types.Function{
		Params:  []types.Type{i32, types.Memory{}},
		Results: []types.Type{types.Memory{}},
	}

	ln := rvsdg.NewLambda(g.Root(), rvsdg.LambdaOp{Name: "f", Linkage: rvsdg.ExternalLinkage, FType: ft})

	one := rvsdg.BitConstant(ln.Subregion(), 32, 1)

	p, as, err := llvm.Alloca(i32, one, 4)
	require.NoError(t, err)

	merged, err := llvm.MemStateMerge(ln.Subregion(), []*rvsdg.Output{as, ln.Argument(1)})
	require.NoError(t, err)

	states, err := llvm.Store(p, ln.Argument(0), []*rvsdg.Output{merged}, 4)
	require.NoError(t, err)

	out, err := ln.Finalize([]*rvsdg.Output{states[0]})
	require.NoError(t, err)

	_, err = g.AddExport(out, "f")
	require.NoError(t, err)

	ctx := context.Background()

	ptg, err := Analyze(ctx, g)
	require.NoError(t, err)

	err = Encode(ctx, ptg, g)
	require.NoError(t, err)

	require.NoError(t, rvsdg.Audit(g))

	// the surviving store threads exactly one state
	var store *rvsdg.Node

	for _, n := range ln.Subregion().Nodes {
		if _, ok := n.Op().(llvm.StoreOp); ok && n.HasUsers() {
			store = n
		}
	}

	require.NotNil(t, store)
	assert.Equal(t, 1, store.Op().(llvm.StoreOp).NStates)
}

func TestEncodeThetaSingleLoopState(t *testing.T) {
	// the sum-to-n loop: after encoding, the theta threads exactly one
	// memory state loop variable for the stores
	p := &llvm.Variable{Name: "p", Type: types.Pointer{}}
	limit := &llvm.Variable{Name: "limit", Type: i32}

	f := &llvm.Function{
		Name:    "sumstore",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{types.Pointer{}, i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{p, limit},
	}

	entry := f.AddBlock()
	body := f.AddBlock()
	exit := f.AddBlock()

	zero := entry.Add(rvsdg.BitConstOp{Width: 32, Value: 0})
	entry.Term = llvm.Jump{To: body}

	i := &llvm.Variable{Name: "i", Type: i32}

	body.Add(llvm.StoreOp{VType: i32, Alignment: 4}, p, i)
	one := body.Add(rvsdg.BitConstOp{Width: 32, Value: 1})
	next := body.Add(rvsdg.BitBinOp{K: rvsdg.BitAdd, Width: 32}, i, one.Res[0])
	cond := body.Add(rvsdg.BitCompOp{K: rvsdg.BitSLt, Width: 32}, next.Res[0], limit)

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

	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{f}}

	ctx := context.Background()

	g, err := front.Destruct(ctx, m)
	require.NoError(t, err)

	g.Normalize()
	g.Prune()

	ptg, err := Analyze(ctx, g)
	require.NoError(t, err)

	err = Encode(ctx, ptg, g)
	require.NoError(t, err)

	require.NoError(t, rvsdg.Audit(g))

	tn := findTheta(g.Root())
	require.NotNil(t, tn)

	theta, _ := rvsdg.AsTheta(tn)

	memvars := 0

	for i := 0; i < theta.NLoopVars(); i++ {
		if types.IsState(theta.LoopVar(i).In.Type()) {
			memvars++
		}
	}

	assert.Equal(t, 1, memvars)

	// the store inside threads that single state
	store := findStore(theta.Subregion())
	require.NotNil(t, store)
	assert.Equal(t, 1, store.Op().(llvm.StoreOp).NStates)
}

func findTheta(r *rvsdg.Region) *rvsdg.Node {
	for _, n := range r.Nodes {
		if _, ok := n.Op().(rvsdg.ThetaOp); ok {
			return n
		}

		for _, sub := range n.Subregions() {
			if found := findTheta(sub); found != nil {
				return found
			}
		}
	}

	return nil
}

func findStore(r *rvsdg.Region) *rvsdg.Node {
	for _, n := range r.Nodes {
		if _, ok := n.Op().(llvm.StoreOp); ok && n.HasUsers() {
			return n
		}

		for _, sub := range n.Subregions() {
			if found := findStore(sub); found != nil {
				return found
			}
		}
	}

	return nil
}
