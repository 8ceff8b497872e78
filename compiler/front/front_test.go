package front

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

var i32 = types.Bits{Width: 32}

func straightFunc() *llvm.Function {
	x := &llvm.Variable{Name: "x", Type: i32}

	f := &llvm.Function{
		Name:    "straight",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{x},
	}

	b := f.AddBlock()

	one := b.Add(rvsdg.BitConstOp{Width: 32, Value: 1})
	sum := b.Add(rvsdg.BitBinOp{K: rvsdg.BitAdd, Width: 32}, x, one.Res[0])

	b.Term = llvm.Return{Vals: []*llvm.Variable{sum.Res[0]}}

	return f
}

func maxFunc() *llvm.Function {
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

	return f
}

func sumStoreFunc() *llvm.Function {
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

	return f
}

func findNode(r *rvsdg.Region, pred func(n *rvsdg.Node) bool) *rvsdg.Node {
	for _, n := range r.Nodes {
		if pred(n) {
			return n
		}

		for _, sub := range n.Subregions() {
			if found := findNode(sub, pred); found != nil {
				return found
			}
		}
	}

	return nil
}

func isGamma(n *rvsdg.Node) bool {
	_, ok := n.Op().(rvsdg.GammaOp)
	return ok
}

func isTheta(n *rvsdg.Node) bool {
	_, ok := n.Op().(rvsdg.ThetaOp)
	return ok
}

func TestDestructStraight(t *testing.T) {
	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{straightFunc()}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	ln := findNode(g.Root(), func(n *rvsdg.Node) bool {
		_, ok := n.Op().(rvsdg.LambdaOp)
		return ok
	})
	require.NotNil(t, ln)

	// exported
	require.Len(t, g.Root().Results, 1)

	require.NoError(t, rvsdg.Audit(g))
}

func TestDestructBranch(t *testing.T) {
	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{maxFunc()}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	gn := findNode(g.Root(), isGamma)
	require.NotNil(t, gn)

	gamma, _ := rvsdg.AsGamma(gn)
	assert.Equal(t, 2, gamma.K())

	// predicate comes from a match over the comparison
	mn := gamma.Predicate().Origin().Node()
	require.NotNil(t, mn)
	assert.IsType(t, rvsdg.MatchOp{}, mn.Op())

	require.NoError(t, rvsdg.Audit(g))
}

func TestDestructLoop(t *testing.T) {
	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{sumStoreFunc()}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	tn := findNode(g.Root(), isTheta)
	require.NotNil(t, tn)

	theta, _ := rvsdg.AsTheta(tn)

	// the predicate is wired to a binary control match
	pn := theta.Predicate().Origin().Node()
	require.NotNil(t, pn)
	assert.IsType(t, rvsdg.MatchOp{}, pn.Op())

	require.NoError(t, rvsdg.Audit(g))
}

func TestDestructRecursion(t *testing.T) {
	// f calls itself: the binding goes through a phi construct
	ft := types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}}

	n := &llvm.Variable{Name: "n", Type: i32}

	f := &llvm.Function{
		Name:    "selfcall",
		Linkage: rvsdg.ExternalLinkage,
		FType:   ft,
		Params:  []*llvm.Variable{n},
	}

	b := f.AddBlock()

	fn := b.Add(llvm.SymbolOp{Name: "selfcall", T: types.Function{
		Params:  append(append([]types.Type(nil), ft.Params...), types.Memory{}),
		Results: append(append([]types.Type(nil), ft.Results...), types.Memory{}),
	}})

	call := b.Add(llvm.CallOp{FT: ft}, fn.Res[0], n)
	b.Term = llvm.Return{Vals: []*llvm.Variable{call.Res[0]}}

	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{f}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	pn := findNode(g.Root(), func(n *rvsdg.Node) bool {
		_, ok := n.Op().(rvsdg.PhiOp)
		return ok
	})
	require.NotNil(t, pn)

	require.NoError(t, rvsdg.Audit(g))
}

func TestIrreducible(t *testing.T) {
	f := &llvm.Function{
		Name:    "irr",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
	}

	x := &llvm.Variable{Name: "x", Type: i32}
	f.Params = []*llvm.Variable{x}

	b0 := f.AddBlock()
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	b3 := f.AddBlock()

	c := b0.Add(rvsdg.BitCompOp{K: rvsdg.BitEq, Width: 32}, x, x)

	b0.Term = llvm.Branch{Value: c.Res[0], Cases: []llvm.BranchCase{{Val: 0, To: b1}}, Default: b2}
	b1.Term = llvm.Branch{Value: c.Res[0], Cases: []llvm.BranchCase{{Val: 0, To: b2}}, Default: b3}
	b2.Term = llvm.Branch{Value: c.Res[0], Cases: []llvm.BranchCase{{Val: 0, To: b1}}, Default: b3}
	b3.Term = llvm.Return{Vals: []*llvm.Variable{x}}

	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{f}}

	_, err := Destruct(context.Background(), m)
	require.Error(t, err)

	var irr IrreducibleCFGError
	assert.ErrorAs(t, err, &irr)
}

func TestPartialGammaStructure(t *testing.T) {
	// one branch arm falls straight through to the join
	f := &llvm.Function{
		Name:    "partial",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
	}

	x := &llvm.Variable{Name: "x", Type: i32}
	f.Params = []*llvm.Variable{x}

	entry := f.AddBlock()
	arm := f.AddBlock()
	join := f.AddBlock()

	c := entry.Add(rvsdg.BitCompOp{K: rvsdg.BitEq, Width: 32}, x, x)
	entry.Term = llvm.Branch{Value: c.Res[0], Cases: []llvm.BranchCase{{Val: 0, To: arm}}, Default: join}

	sq := arm.Add(rvsdg.BitBinOp{K: rvsdg.BitMul, Width: 32}, x, x)
	arm.Term = llvm.Jump{To: join}

	r := &llvm.Variable{Name: "r", Type: i32}
	join.Phis = []*llvm.Phi{{
		Res: r,
		Args: []llvm.PhiArg{
			{Pred: entry, Value: x},
			{Pred: arm, Value: sq.Res[0]},
		},
	}}
	join.Term = llvm.Return{Vals: []*llvm.Variable{r}}

	assert.True(t, IsStructured(f))
	assert.False(t, IsProperStructured(f))

	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{f}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	gn := findNode(g.Root(), isGamma)
	require.NotNil(t, gn)

	require.NoError(t, rvsdg.Audit(g))
}

func TestUnifyReturns(t *testing.T) {
	f := &llvm.Function{
		Name:    "tworets",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
	}

	x := &llvm.Variable{Name: "x", Type: i32}
	f.Params = []*llvm.Variable{x}

	entry := f.AddBlock()
	a := f.AddBlock()
	b := f.AddBlock()

	c := entry.Add(rvsdg.BitCompOp{K: rvsdg.BitEq, Width: 32}, x, x)
	entry.Term = llvm.Branch{Value: c.Res[0], Cases: []llvm.BranchCase{{Val: 0, To: a}}, Default: b}

	a.Term = llvm.Return{Vals: []*llvm.Variable{x}}

	sq := b.Add(rvsdg.BitBinOp{K: rvsdg.BitMul, Width: 32}, x, x)
	b.Term = llvm.Return{Vals: []*llvm.Variable{sq.Res[0]}}

	m := &llvm.Module{Name: "m", Funcs: []*llvm.Function{f}}

	g, err := Destruct(context.Background(), m)
	require.NoError(t, err)

	require.NoError(t, rvsdg.Audit(g))
}
