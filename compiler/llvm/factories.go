package llvm

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

// Alloca reserves stack storage, returning the pointer and the
// location's memory state.
func Alloca(vt types.ValueType, count *rvsdg.Output, align int) (addr, state *rvsdg.Output, err error) {
	outs, err := rvsdg.Create(count.Region(), AllocaOp{VType: vt, Alignment: align}, count)
	if err != nil {
		return nil, nil, err
	}

	return outs[0], outs[1], nil
}

// Malloc allocates heap storage of the given byte size.
func Malloc(size *rvsdg.Output) (addr, state *rvsdg.Output, err error) {
	outs, err := rvsdg.Create(size.Region(), MallocOp{}, size)
	if err != nil {
		return nil, nil, err
	}

	return outs[0], outs[1], nil
}

// Free releases heap storage, threading the given memory states.
func Free(addr *rvsdg.Output, states []*rvsdg.Output) ([]*rvsdg.Output, error) {
	return rvsdg.Create(addr.Region(), FreeOp{NStates: len(states)}, append([]*rvsdg.Output{addr}, states...)...)
}

// Call applies fn, threading the given memory states.
func Call(fn *rvsdg.Output, args, states []*rvsdg.Output) ([]*rvsdg.Output, error) {
	ft, ok := fn.Type().(types.Function)
	if !ok {
		return nil, errors.New("call: not a function: %v", fn.Type())
	}

	op := CallOp{
		FT:      ft,
		NStates: len(states),
	}

	all := append([]*rvsdg.Output{fn}, args...)
	all = append(all, states...)

	return rvsdg.Create(fn.Region(), op, all...)
}

// Gep computes an element pointer into base.
func Gep(base types.ValueType, addr *rvsdg.Output, indices ...*rvsdg.Output) (*rvsdg.Output, error) {
	outs, err := rvsdg.Create(addr.Region(), GepOp{Base: base, NIndices: len(indices)},
		append([]*rvsdg.Output{addr}, indices...)...)
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}

// Undef produces an undefined value of t.
func Undef(r *rvsdg.Region, t types.ValueType) (*rvsdg.Output, error) {
	outs, err := rvsdg.Create(r, UndefOp{T: t})
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}
