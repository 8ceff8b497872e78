package compiler

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

func testModule() *llvm.Module {
	i32 := types.Bits{Width: 32}

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

	return &llvm.Module{Name: "test", Funcs: []*llvm.Function{f}}
}

func TestCompileRoundTrip(t *testing.T) {
	ctx := context.Background()

	out, err := Compile(ctx, testModule(), DefaultConfig())
	require.NoError(t, err)

	f := out.Func("max")
	require.NotNil(t, f)
	assert.True(t, front.IsStructured(f))

	text := llvm.Format(nil, out)
	assert.NotEmpty(t, text)

	// the structured output converts again
	_, err = Compile(ctx, out, DefaultConfig())
	require.NoError(t, err)
}

func TestOptimizeQuiescent(t *testing.T) {
	ctx := context.Background()

	g, err := Optimize(ctx, testModule(), DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, rvsdg.Audit(g))

	// a second normalization pass has nothing left to do
	assert.False(t, g.Normalize())
	assert.False(t, g.Prune())
}

func TestViewGolden(t *testing.T) {
	ctx := context.Background()

	g1, err := Optimize(ctx, testModule(), DefaultConfig())
	require.NoError(t, err)

	g2, err := Optimize(ctx, testModule(), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, rvsdg.View(g1), rvsdg.View(g2))
}
