package rvsdg

import (
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// ThetaNode is a tail-controlled loop. The single subregion is
	// evaluated repeatedly, feeding each iteration's results back as
	// the next iteration's arguments, until the predicate (the
	// subregion's result 0, of type control(2)) selects exit.
	ThetaNode struct {
		node *Node
	}

	LoopVar struct {
		In  *Input
		Arg *Output
		Res *Input
		Out *Output
	}

	// ThetaNormalForm replaces outputs of invariant loop variables by
	// their outer inputs.
	ThetaNormalForm struct {
		SimpleNormalForm

		invariantVars bool
	}
)

func NewTheta(r *Region) *ThetaNode {
	n := r.newNode(ThetaOp{})
	sub := n.addSubregion()

	// predicate defaults to exit; construction replaces it
	pred := ControlConstant(sub, 2, 0)

	_, err := sub.AddResult(pred, "predicate")
	if err != nil {
		panic(err)
	}

	return &ThetaNode{node: n}
}

func AsTheta(n *Node) (*ThetaNode, bool) {
	if _, ok := n.op.(ThetaOp); !ok {
		return nil, false
	}

	return &ThetaNode{node: n}, true
}

func (t *ThetaNode) Node() *Node { return t.node }

func (t *ThetaNode) Subregion() *Region {
	return t.node.subs[0]
}

// Predicate is the continue/exit selector: 1 repeats, 0 leaves.
func (t *ThetaNode) Predicate() *Input {
	return t.node.subs[0].Results[0]
}

// SetPredicate wires the loop continuation condition.
// Only binary control predicates are allowed.
func (t *ThetaNode) SetPredicate(o *Output) error {
	if !types.Equal(o.Type(), types.Control{K: 2}) {
		return NewTypeMismatch(types.Control{K: 2}, o.Type())
	}

	return t.node.subs[0].Results[0].SetOrigin(o)
}

func (t *ThetaNode) NLoopVars() int {
	return len(t.node.ins)
}

func (t *ThetaNode) LoopVar(i int) LoopVar {
	sub := t.node.subs[0]

	return LoopVar{
		In:  t.node.ins[i],
		Arg: sub.Args[i],
		Res: sub.Results[1+i],
		Out: t.node.outs[i],
	}
}

// AddLoopVar routes init through the loop. The back-edge initially
// carries the argument unchanged; construction rewires the result.
func (t *ThetaNode) AddLoopVar(init *Output) (LoopVar, error) {
	n, sub := t.node, t.node.subs[0]

	in, err := n.addInput(init.Type(), init)
	if err != nil {
		return LoopVar{}, err
	}

	arg := sub.AddArgument(init.Type(), "")

	res, err := sub.AddResult(arg, "")
	if err != nil {
		return LoopVar{}, err
	}

	out := n.addOutput(init.Type())

	return LoopVar{In: in, Arg: arg, Res: res, Out: out}, nil
}

func (nf *ThetaNormalForm) SetInvariantVars(enable bool) { nf.invariantVars = enable }

func (nf *ThetaNormalForm) NormalizeNode(n *Node) bool {
	t, ok := AsTheta(n)
	if !ok || !nf.mutable || !nf.invariantVars {
		return false
	}

	for i := 0; i < t.NLoopVars(); i++ {
		lv := t.LoopVar(i)

		if lv.Out.NUsers() == 0 || lv.Res.Origin() != lv.Arg {
			continue
		}

		err := lv.Out.Divert(lv.In.Origin())
		if err != nil {
			continue
		}

		return true
	}

	// loop variables nothing observes anymore
	for i := 0; i < t.NLoopVars(); i++ {
		if t.RemoveLoopVar(i) == nil {
			return true
		}
	}

	return false
}

func (nf *ThetaNormalForm) NormalizedCreate(r *Region, op Operation, args []*Output) ([]*Output, error) {
	return nf.SimpleNormalForm.NormalizedCreate(r, op, args)
}

// RemoveLoopVar drops loop variable i. Its argument, result and output
// must be unused.
func (t *ThetaNode) RemoveLoopVar(i int) error {
	lv := t.LoopVar(i)

	if lv.Out.NUsers() != 0 {
		return NewNodeInUse("theta output", lv.Out.NUsers())
	}

	for u := range lv.Arg.users {
		if u != lv.Res {
			return NewNodeInUse("theta argument", lv.Arg.NUsers())
		}
	}

	sub := t.node.subs[0]

	sub.removeResult(1 + i)
	sub.removeArgument(i)
	t.node.removeInput(i)
	t.node.removeOutput(i)

	return nil
}
