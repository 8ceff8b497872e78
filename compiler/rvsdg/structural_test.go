package rvsdg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorlinder/jlm/compiler/types"
)

func TestGammaInvariantExit(t *testing.T) {
	g := New()

	c := g.AddImport(types.Bits{Width: 1}, "c")
	x := g.AddImport(types.Bits{Width: 32}, "x")

	pred, err := Match(1, map[uint64]uint64{0: 0}, 1, 2, c)
	require.NoError(t, err)

	gn, err := NewGamma(pred, 2)
	require.NoError(t, err)

	ev, err := gn.AddEntryVar(x)
	require.NoError(t, err)

	// the same routed value leaves through both subregions
	xv, err := gn.AddExitVar([]*Output{ev.Args[0], ev.Args[1]})
	require.NoError(t, err)

	ex, err := g.AddExport(xv.Out, "r")
	require.NoError(t, err)

	g.Normalize()
	g.Prune()

	assert.Equal(t, x, ex.Origin())
}

func TestGammaDeadEntry(t *testing.T) {
	g := New()

	c := g.AddImport(types.Bits{Width: 1}, "c")
	x := g.AddImport(types.Bits{Width: 32}, "x")
	y := g.AddImport(types.Bits{Width: 32}, "y")

	pred, err := Match(1, map[uint64]uint64{0: 0}, 1, 2, c)
	require.NoError(t, err)

	gn, err := NewGamma(pred, 2)
	require.NoError(t, err)

	_, err = gn.AddEntryVar(x) // never used inside
	require.NoError(t, err)

	ev, err := gn.AddEntryVar(y)
	require.NoError(t, err)

	xv, err := gn.AddExitVar([]*Output{ev.Args[0], ev.Args[1]})
	require.NoError(t, err)

	_, err = g.AddExport(xv.Out, "r")
	require.NoError(t, err)

	g.Normalize()

	// the unused entry is gone; the invariant exit reduced away too
	assert.Equal(t, 0, gn.NEntryVars())
	assert.Equal(t, 0, gn.NExitVars())

	g.Prune()

	require.NoError(t, Audit(g))
}

func TestThetaInvariantVar(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")

	th := NewTheta(g.Root())

	lv, err := th.AddLoopVar(x)
	require.NoError(t, err)

	// the back edge carries the argument unchanged
	ex, err := g.AddExport(lv.Out, "r")
	require.NoError(t, err)

	g.Normalize()
	g.Prune()

	assert.Equal(t, x, ex.Origin())
}

func TestThetaPredicateBinaryOnly(t *testing.T) {
	g := New()

	th := NewTheta(g.Root())

	c3 := ControlConstant(th.Subregion(), 3, 0)

	err := th.SetPredicate(c3)
	require.Error(t, err)

	var tm TypeMismatchError
	assert.ErrorAs(t, err, &tm)
}

func TestLambdaCtxVar(t *testing.T) {
	g := New()

	ext := g.AddImport(types.Bits{Width: 32}, "ext")

	ft := types.Function{
		Params:  []types.Type{types.Bits{Width: 32}},
		Results: []types.Type{types.Bits{Width: 32}},
	}

	ln := NewLambda(g.Root(), LambdaOp{Name: "f", Linkage: ExternalLinkage, FType: ft})

	cv, err := ln.AddCtxVar(ext)
	require.NoError(t, err)

	sum, err := BitBinary(BitAdd, ln.Argument(0), cv.Arg)
	require.NoError(t, err)

	out, err := ln.Finalize([]*Output{sum})
	require.NoError(t, err)

	_, err = g.AddExport(out, "f")
	require.NoError(t, err)

	assert.True(t, types.Equal(ft, out.Type()))

	require.NoError(t, Audit(g))
}

func TestPhiRecursion(t *testing.T) {
	g := New()

	ft := types.Function{
		Params:  []types.Type{types.Bits{Width: 32}},
		Results: []types.Type{types.Bits{Width: 32}},
	}

	pn := NewPhi(g.Root())

	rec, err := pn.AddRecVar(ft)
	require.NoError(t, err)

	ln := NewLambda(pn.Subregion(), LambdaOp{Name: "fib", Linkage: ExternalLinkage, FType: ft})

	cv, err := ln.AddCtxVar(rec)
	require.NoError(t, err)

	// the body calls itself through the recursion variable
	assert.True(t, types.Equal(ft, cv.Arg.Type()))

	out, err := ln.Finalize([]*Output{ln.Argument(0)})
	require.NoError(t, err)

	err = pn.Finalize([]*Output{out})
	require.NoError(t, err)

	rv := pn.RecVar(0)

	_, err = g.AddExport(rv.Out, "fib")
	require.NoError(t, err)

	require.NoError(t, Audit(g))

	// recursion variables must precede context variables
	pn2 := NewPhi(g.Root())

	_, err = pn2.AddCtxVar(rv.Out)
	require.NoError(t, err)

	_, err = pn2.AddRecVar(ft)
	require.Error(t, err)
}

func TestDeltaGlobal(t *testing.T) {
	g := New()

	dn := NewDelta(g.Root(), DeltaOp{
		Name:     "answer",
		Linkage:  ExternalLinkage,
		Constant: true,
		VType:    types.Bits{Width: 32},
	})

	init := BitConstant(dn.Subregion(), 32, 42)

	out, err := dn.Finalize(init)
	require.NoError(t, err)

	assert.True(t, types.IsPointer(out.Type()))

	_, err = g.AddExport(out, "answer")
	require.NoError(t, err)

	require.NoError(t, Audit(g))
}
