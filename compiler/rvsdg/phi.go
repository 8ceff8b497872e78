package rvsdg

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// PhiNode binds a group of mutually recursive definitions.
	// Recursion variables appear as subregion arguments inside and as
	// outputs outside; their definitions are the subregion results.
	PhiNode struct {
		node *Node

		nrec int
		nctx int
	}

	RecVar struct {
		Arg *Output
		Res *Input
		Out *Output
	}
)

func NewPhi(r *Region) *PhiNode {
	n := r.newNode(PhiOp{})
	n.addSubregion()

	return &PhiNode{node: n}
}

func AsPhi(n *Node) (*PhiNode, bool) {
	if _, ok := n.op.(PhiOp); !ok {
		return nil, false
	}

	sub := n.subs[0]

	return &PhiNode{
		node: n,
		nrec: len(sub.Results),
		nctx: len(n.ins),
	}, true
}

func (p *PhiNode) Node() *Node { return p.node }

func (p *PhiNode) Subregion() *Region {
	return p.node.subs[0]
}

func (p *PhiNode) NRecVars() int { return p.nrec }
func (p *PhiNode) NCtxVars() int { return p.nctx }

func (p *PhiNode) CtxVar(i int) CtxVar {
	return CtxVar{
		In:  p.node.ins[i],
		Arg: p.node.subs[0].Args[p.nrec+i],
	}
}

// AddRecVar declares a recursion variable of type t. All recursion
// variables must be declared before context variables.
func (p *PhiNode) AddRecVar(t types.Type) (*Output, error) {
	if p.nctx != 0 {
		return nil, errors.New("phi: recursion variables precede context variables")
	}

	arg := p.node.subs[0].AddArgument(t, "")
	p.nrec++

	return arg, nil
}

func (p *PhiNode) AddCtxVar(origin *Output) (CtxVar, error) {
	in, err := p.node.addInput(origin.Type(), origin)
	if err != nil {
		return CtxVar{}, err
	}

	arg := p.node.subs[0].AddArgument(origin.Type(), "")
	p.nctx++

	return CtxVar{In: in, Arg: arg}, nil
}

// Finalize wires one definition per recursion variable and creates the
// matching outputs.
func (p *PhiNode) Finalize(defs []*Output) error {
	if len(p.node.outs) != 0 {
		return errors.New("phi: already finalized")
	}

	if len(defs) != p.nrec {
		return errors.New("phi: want %d definitions, got %d", p.nrec, len(defs))
	}

	sub := p.node.subs[0]

	for i, def := range defs {
		if !types.Equal(sub.Args[i].Type(), def.Type()) {
			return NewTypeMismatch(sub.Args[i].Type(), def.Type())
		}

		_, err := sub.AddResult(def, "")
		if err != nil {
			return err
		}

		p.node.addOutput(def.Type())
	}

	return nil
}

func (p *PhiNode) RecVar(i int) RecVar {
	sub := p.node.subs[0]

	return RecVar{
		Arg: sub.Args[i],
		Res: sub.Results[i],
		Out: p.node.outs[i],
	}
}
