package rvsdg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorlinder/jlm/compiler/types"
)

func TestAddNeutral(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	zero := BitConstant(g.Root(), 32, 0)

	r, err := BitBinary(BitAdd, x, zero)
	require.NoError(t, err)

	assert.Equal(t, x, r)

	r, err = BitBinary(BitAdd, zero, x)
	require.NoError(t, err)

	assert.Equal(t, x, r)
}

func TestMulNeutral(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	one := BitConstant(g.Root(), 32, 1)

	r, err := BitBinary(BitMul, x, one)
	require.NoError(t, err)

	assert.Equal(t, x, r)
}

func TestAndOrIdempotent(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 8}, "x")

	r, err := BitBinary(BitAnd, x, x)
	require.NoError(t, err)
	assert.Equal(t, x, r)

	zero := BitConstant(g.Root(), 8, 0)

	r, err = BitBinary(BitOr, x, zero)
	require.NoError(t, err)
	assert.Equal(t, x, r)
}

func TestXorSelf(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 8}, "x")

	r, err := BitBinary(BitXor, x, x)
	require.NoError(t, err)

	c, ok := r.Node().Op().(BitConstOp)
	require.True(t, ok)
	assert.Equal(t, uint64(0), c.Value)
}

func TestConstantFold(t *testing.T) {
	g := New()

	a := BitConstant(g.Root(), 8, 200)
	b := BitConstant(g.Root(), 8, 100)

	r, err := BitBinary(BitAdd, a, b)
	require.NoError(t, err)

	c, ok := r.Node().Op().(BitConstOp)
	require.True(t, ok)

	// modulo 2^8
	assert.Equal(t, uint64(44), c.Value)
}

func TestCompareFold(t *testing.T) {
	g := New()

	a := BitConstant(g.Root(), 32, 3)
	b := BitConstant(g.Root(), 32, 5)

	r, err := BitCompare(BitSLt, a, b)
	require.NoError(t, err)

	c, ok := r.Node().Op().(BitConstOp)
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.Value)
	assert.Equal(t, 1, c.Width)
}

func TestCSE(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	y := g.AddImport(types.Bits{Width: 32}, "y")

	a, err := BitBinary(BitSub, x, y)
	require.NoError(t, err)

	b, err := BitBinary(BitSub, x, y)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFlattenOnCreate(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	y := g.AddImport(types.Bits{Width: 32}, "y")
	z := g.AddImport(types.Bits{Width: 32}, "z")

	inner, err := BitBinary(BitAdd, x, y)
	require.NoError(t, err)

	outer, err := BitBinary(BitAdd, inner, z)
	require.NoError(t, err)

	fop, ok := outer.Node().Op().(FlattenedBinaryOp)
	require.True(t, ok)
	assert.Equal(t, 3, fop.N)
	assert.Equal(t, 3, outer.Node().NInputs())
}

func TestFlattenUnflattenInvolutive(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	y := g.AddImport(types.Bits{Width: 32}, "y")
	z := g.AddImport(types.Bits{Width: 32}, "z")

	outs, err := Create(g.Root(), FlattenedBinaryOp{Op: BitBinOp{K: BitAdd, Width: 32}, N: 3}, x, y, z)
	require.NoError(t, err)

	ex, err := g.AddExport(outs[0], "r")
	require.NoError(t, err)

	err = ReduceFlattenedBinary(g.Root(), LinearReduction)
	require.NoError(t, err)
	g.Prune()

	// a left-deep chain of two adds
	top := ex.Origin().Node()
	require.NotNil(t, top)
	_, ok := top.Op().(BitBinOp)
	require.True(t, ok)

	g.Normalize()
	g.Prune()

	flat := ex.Origin().Node()
	fop, ok := flat.Op().(FlattenedBinaryOp)
	require.True(t, ok)
	assert.Equal(t, 3, fop.N)

	assert.Equal(t, x, flat.Input(0).Origin())
	assert.Equal(t, y, flat.Input(1).Origin())
	assert.Equal(t, z, flat.Input(2).Origin())

	require.NoError(t, Audit(g))
}

func TestNormalizeFixedPoint(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	zero := BitConstant(g.Root(), 32, 0)

	n, err := SimpleNode(g.Root(), BitBinOp{K: BitAdd, Width: 32}, x, zero)
	require.NoError(t, err)

	ex, err := g.AddExport(n.Output(0), "r")
	require.NoError(t, err)

	g.Normalize()
	g.Prune()

	assert.Equal(t, x, ex.Origin())

	// quiescent: nothing left to rewrite
	for _, n := range g.Root().TopNodes() {
		assert.False(t, g.NormalForm(n.Op().Kind()).NormalizeNode(n))
	}
}

func TestMutableOff(t *testing.T) {
	g := New()

	nf := g.NormalForm(KindBinary).(*BinaryNormalForm)
	nf.SetMutable(false)

	x := g.AddImport(types.Bits{Width: 32}, "x")
	zero := BitConstant(g.Root(), 32, 0)

	r, err := BitBinary(BitAdd, x, zero)
	require.NoError(t, err)

	// the node is created untouched
	require.NotNil(t, r.Node())
	assert.Equal(t, 2, r.Node().NInputs())
}

func TestMatchFold(t *testing.T) {
	g := New()

	c := BitConstant(g.Root(), 1, 0)

	pred, err := Match(1, map[uint64]uint64{0: 0}, 1, 2, c)
	require.NoError(t, err)

	cc, ok := pred.Node().Op().(ControlConstOp)
	require.True(t, ok)
	assert.Equal(t, 0, cc.Alt)
	assert.Equal(t, 2, cc.K)
}

func TestReorderCanonical(t *testing.T) {
	g := New()

	x := g.AddImport(types.Bits{Width: 32}, "x")
	y := g.AddImport(types.Bits{Width: 32}, "y")

	a, err := BitBinary(BitAdd, y, x)
	require.NoError(t, err)

	b, err := BitBinary(BitAdd, x, y)
	require.NoError(t, err)

	// both spellings canonicalize into the same node
	assert.Equal(t, a, b)
}
