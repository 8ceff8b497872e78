package llvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

func TestSingleStoreLoad(t *testing.T) {
	// f(p, s) { v = load p; store p, v }: the load's value survives
	// untouched and exactly one store reaches the exit state
	g := rvsdg.New()

	ft := types.Function{
		Params:  []types.Type{types.Pointer{}, types.Memory{}},
		Results: []types.Type{i32, types.Memory{}},
	}

	ln := rvsdg.NewLambda(g.Root(), rvsdg.LambdaOp{Name: "f", Linkage: rvsdg.ExternalLinkage, FType: ft})

	p, s := ln.Argument(0), ln.Argument(1)

	v, states, err := Load(i32, p, []*rvsdg.Output{s}, 4)
	require.NoError(t, err)

	states, err = Store(p, v, states, 4)
	require.NoError(t, err)

	out, err := ln.Finalize([]*rvsdg.Output{v, states[0]})
	require.NoError(t, err)

	_, err = g.AddExport(out, "f")
	require.NoError(t, err)

	g.Normalize()
	g.Prune()

	sub := ln.Subregion()

	// the value result still is the load's output
	vres := sub.Results[0].Origin().Node()
	require.NotNil(t, vres)
	assert.IsType(t, LoadOp{}, vres.Op())

	// the state result is a single store writing that value
	sres := sub.Results[1].Origin().Node()
	require.NotNil(t, sres)
	require.IsType(t, StoreOp{}, sres.Op())
	assert.Equal(t, sub.Results[0].Origin(), sres.Input(1).Origin())

	stores := 0
	for _, n := range sub.Nodes {
		if _, ok := n.Op().(StoreOp); ok {
			stores++
		}
	}

	assert.Equal(t, 1, stores)

	require.NoError(t, rvsdg.Audit(g))
}
