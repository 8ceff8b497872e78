package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuralEquality(t *testing.T) {
	assert.True(t, Equal(Bits{Width: 32}, Bits{Width: 32}))
	assert.False(t, Equal(Bits{Width: 32}, Bits{Width: 16}))
	assert.False(t, Equal(Bits{Width: 32}, Pointer{}))

	assert.True(t, Equal(Array{Elem: Bits{Width: 8}, Len: 4}, Array{Elem: Bits{Width: 8}, Len: 4}))
	assert.False(t, Equal(Array{Elem: Bits{Width: 8}, Len: 4}, Array{Elem: Bits{Width: 8}, Len: 5}))

	ft := Function{Params: []Type{Pointer{}, Bits{Width: 1}}, Results: []Type{Memory{}}}
	assert.True(t, Equal(ft, Function{Params: []Type{Pointer{}, Bits{Width: 1}}, Results: []Type{Memory{}}}))
	assert.False(t, Equal(ft, Function{Params: []Type{Pointer{}}, Results: []Type{Memory{}}}))

	assert.True(t, Equal(Control{K: 2}, Control{K: 2}))
	assert.False(t, Equal(Control{K: 2}, Control{K: 3}))
}

func TestValueStatePartition(t *testing.T) {
	assert.True(t, IsValue(Bits{Width: 7}))
	assert.True(t, IsValue(Pointer{}))
	assert.True(t, IsValue(Array{Elem: Bits{Width: 8}, Len: 3}))

	assert.True(t, IsState(Memory{}))
	assert.True(t, IsState(IO{}))
	assert.True(t, IsState(Loop{}))

	assert.False(t, IsValue(Memory{}))
	assert.False(t, IsState(Pointer{}))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsBits(Bits{Width: 32}, 32))
	assert.False(t, IsBits(Bits{Width: 32}, 64))
	assert.True(t, IsPointer(Pointer{}))
	assert.False(t, IsPointer(Bits{Width: 64}))
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 4, Bits{Width: 32}.Size())
	assert.Equal(t, 1, Bits{Width: 7}.Size())
	assert.Equal(t, 8, Pointer{}.Size())
	assert.Equal(t, 12, Array{Elem: Bits{Width: 32}, Len: 3}.Size())

	assert.Equal(t, 8, Float{FSize: Dbl}.Size())
	assert.Equal(t, 2, Float{FSize: Half}.Size())
}

func TestRecordLayout(t *testing.T) {
	decl := &RecordDecl{
		Name:   "pair",
		Fields: []ValueType{Bits{Width: 8}, Bits{Width: 32}},
	}

	r := Record{Decl: decl}

	assert.Equal(t, 4, r.Align())
	assert.Equal(t, 4, r.FieldOffset(1))
	assert.Equal(t, 8, r.Size())

	packed := Record{Decl: &RecordDecl{
		Fields: []ValueType{Bits{Width: 8}, Bits{Width: 32}},
		Packed: true,
	}}

	assert.Equal(t, 1, packed.FieldOffset(1))
	assert.Equal(t, 5, packed.Size())
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "bit32", Bits{Width: 32}.String())
	assert.Equal(t, "ctl2", Control{K: 2}.String())
	assert.Equal(t, "mem", Memory{}.String())
	assert.Equal(t, "[3 x bit8]", Array{Elem: Bits{Width: 8}, Len: 3}.String())
	assert.Equal(t, "(ptr) -> (bit32)", Function{Params: []Type{Pointer{}}, Results: []Type{Bits{Width: 32}}}.String())
}
