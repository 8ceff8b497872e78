package rvsdg

import (
	"strconv"

	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// LambdaNode is a function definition. The subregion's leading
	// arguments are the function parameters; context variables follow,
	// bound to outer origins. The node's single output carries the
	// function value.
	LambdaNode struct {
		node *Node
	}

	CtxVar struct {
		In  *Input
		Arg *Output
	}
)

func NewLambda(r *Region, op LambdaOp) *LambdaNode {
	n := r.newNode(op)
	sub := n.addSubregion()

	for i, t := range op.FType.Params {
		sub.AddArgument(t, argName(i))
	}

	return &LambdaNode{node: n}
}

func argName(i int) string {
	return "a" + strconv.Itoa(i)
}

func AsLambda(n *Node) (*LambdaNode, bool) {
	if _, ok := n.op.(LambdaOp); !ok {
		return nil, false
	}

	return &LambdaNode{node: n}, true
}

func (l *LambdaNode) Node() *Node { return l.node }

func (l *LambdaNode) Op() LambdaOp {
	return l.node.op.(LambdaOp)
}

func (l *LambdaNode) Subregion() *Region {
	return l.node.subs[0]
}

func (l *LambdaNode) NArguments() int {
	return len(l.Op().FType.Params)
}

// Argument is the i-th function parameter inside the body.
func (l *LambdaNode) Argument(i int) *Output {
	return l.node.subs[0].Args[i]
}

func (l *LambdaNode) NCtxVars() int {
	return len(l.node.ins)
}

func (l *LambdaNode) CtxVar(i int) CtxVar {
	return CtxVar{
		In:  l.node.ins[i],
		Arg: l.node.subs[0].Args[l.NArguments()+i],
	}
}

// AddCtxVar captures an outer value inside the function body.
func (l *LambdaNode) AddCtxVar(origin *Output) (CtxVar, error) {
	in, err := l.node.addInput(origin.Type(), origin)
	if err != nil {
		return CtxVar{}, err
	}

	arg := l.node.subs[0].AddArgument(origin.Type(), "")

	return CtxVar{In: in, Arg: arg}, nil
}

// Finalize wires the function results and creates the function output.
func (l *LambdaNode) Finalize(results []*Output) (*Output, error) {
	op := l.Op()

	if len(l.node.outs) != 0 {
		return nil, errors.New("lambda %v: already finalized", op.Name)
	}

	if len(results) != len(op.FType.Results) {
		return nil, errors.New("lambda %v: want %d results, got %d", op.Name, len(op.FType.Results), len(results))
	}

	sub := l.node.subs[0]

	for i, o := range results {
		if !types.Equal(op.FType.Results[i], o.Type()) {
			return nil, NewTypeMismatch(op.FType.Results[i], o.Type())
		}

		_, err := sub.AddResult(o, "")
		if err != nil {
			return nil, err
		}
	}

	return l.node.addOutput(op.FType), nil
}

// Output is the function value, available after Finalize.
func (l *LambdaNode) Output() *Output {
	return l.node.outs[0]
}
