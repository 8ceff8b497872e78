package rvsdg

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// DeltaNode is a global definition. The subregion computes the
	// initial value; the output is a pointer to the global's storage.
	DeltaNode struct {
		node *Node
	}
)

func NewDelta(r *Region, op DeltaOp) *DeltaNode {
	n := r.newNode(op)
	n.addSubregion()

	return &DeltaNode{node: n}
}

func AsDelta(n *Node) (*DeltaNode, bool) {
	if _, ok := n.op.(DeltaOp); !ok {
		return nil, false
	}

	return &DeltaNode{node: n}, true
}

func (d *DeltaNode) Node() *Node { return d.node }

func (d *DeltaNode) Op() DeltaOp {
	return d.node.op.(DeltaOp)
}

func (d *DeltaNode) Subregion() *Region {
	return d.node.subs[0]
}

func (d *DeltaNode) NCtxVars() int {
	return len(d.node.ins)
}

func (d *DeltaNode) CtxVar(i int) CtxVar {
	return CtxVar{
		In:  d.node.ins[i],
		Arg: d.node.subs[0].Args[i],
	}
}

func (d *DeltaNode) AddCtxVar(origin *Output) (CtxVar, error) {
	in, err := d.node.addInput(origin.Type(), origin)
	if err != nil {
		return CtxVar{}, err
	}

	arg := d.node.subs[0].AddArgument(origin.Type(), "")

	return CtxVar{In: in, Arg: arg}, nil
}

// Finalize wires the initializer and creates the pointer output.
func (d *DeltaNode) Finalize(init *Output) (*Output, error) {
	op := d.Op()

	if len(d.node.outs) != 0 {
		return nil, errors.New("delta %v: already finalized", op.Name)
	}

	if !types.Equal(op.VType, init.Type()) {
		return nil, NewTypeMismatch(op.VType, init.Type())
	}

	_, err := d.node.subs[0].AddResult(init, "")
	if err != nil {
		return nil, err
	}

	return d.node.addOutput(types.Pointer{}), nil
}

func (d *DeltaNode) Output() *Output {
	return d.node.outs[0]
}
