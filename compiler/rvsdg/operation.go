package rvsdg

import (
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Operation is the computation performed by a node.
	// Operations are immutable and may be shared between nodes and graphs.
	Operation interface {
		Kind() OpKind
		ArgTypes() []types.Type
		ResTypes() []types.Type
		Equals(Operation) bool
		String() string
	}

	// OpKind identifies an operation class in the per-graph normal-form
	// registry. Kinds form an inheritance chain through their parent.
	OpKind int

	kindInfo struct {
		name    string
		parent  OpKind
		factory func(g *Graph, parent NormalForm) NormalForm
	}
)

// KindSimple is the root of the operation class hierarchy.
const KindSimple OpKind = 0

var kinds = []kindInfo{
	{name: "simple", parent: KindSimple, factory: func(g *Graph, _ NormalForm) NormalForm {
		return NewSimpleNormalForm(g, nil)
	}},
}

// RegisterKind introduces a new operation class below parent.
// A nil factory inherits the parent's normal form object.
// Meant to be called from package init functions.
func RegisterKind(name string, parent OpKind, factory func(g *Graph, parent NormalForm) NormalForm) OpKind {
	kinds = append(kinds, kindInfo{
		name:    name,
		parent:  parent,
		factory: factory,
	})

	return OpKind(len(kinds) - 1)
}

func (k OpKind) String() string {
	return kinds[k].name
}

func (k OpKind) Parent() OpKind {
	return kinds[k].parent
}

// NormalForm returns the graph-local normal form of the operation class,
// creating it (and its parents) on first use.
func (g *Graph) NormalForm(k OpKind) NormalForm {
	if nf, ok := g.nf[k]; ok {
		return nf
	}

	var parent NormalForm

	if k != KindSimple {
		parent = g.NormalForm(kinds[k].parent)
	}

	var nf NormalForm

	if f := kinds[k].factory; f != nil {
		nf = f(g, parent)
	} else {
		nf = parent
	}

	g.nf[k] = nf

	return nf
}

func (g *Graph) opNormalForm(op Operation) NormalForm {
	return g.NormalForm(op.Kind())
}
