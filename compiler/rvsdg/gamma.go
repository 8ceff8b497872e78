package rvsdg

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// GammaNode selects one of K subregions by a control(K) predicate.
	// Entry variables route outer values into every subregion;
	// exit variables aggregate one result per subregion into an output.
	GammaNode struct {
		node *Node
	}

	EntryVar struct {
		In *Input

		// the per-subregion arguments
		Args []*Output
	}

	ExitVar struct {
		Out *Output

		// the per-subregion results
		Res []*Input
	}

	// GammaNormalForm removes unused entry variables and folds exit
	// variables that are invariant across all subregions.
	GammaNormalForm struct {
		SimpleNormalForm

		invariantExit bool
		deadEntry     bool
	}
)

func NewGamma(pred *Output, k int) (*GammaNode, error) {
	if k < 2 {
		return nil, errors.New("gamma: need at least 2 subregions, got %d", k)
	}

	if !types.Equal(pred.Type(), types.Control{K: k}) {
		return nil, NewTypeMismatch(types.Control{K: k}, pred.Type())
	}

	n := pred.region.newNode(GammaOp{K: k})

	_, err := n.addInput(types.Control{K: k}, pred)
	if err != nil {
		n.region.removeNode(n)
		return nil, err
	}

	for i := 0; i < k; i++ {
		n.addSubregion()
	}

	return &GammaNode{node: n}, nil
}

// AsGamma converts a node back to its gamma form.
func AsGamma(n *Node) (*GammaNode, bool) {
	if _, ok := n.op.(GammaOp); !ok {
		return nil, false
	}

	return &GammaNode{node: n}, true
}

func (g *GammaNode) Node() *Node { return g.node }

func (g *GammaNode) K() int {
	return g.node.op.(GammaOp).K
}

func (g *GammaNode) Predicate() *Input {
	return g.node.ins[0]
}

func (g *GammaNode) Subregion(i int) *Region {
	return g.node.subs[i]
}

func (g *GammaNode) NEntryVars() int {
	return len(g.node.ins) - 1
}

func (g *GammaNode) NExitVars() int {
	return len(g.node.outs)
}

func (g *GammaNode) EntryVar(i int) EntryVar {
	ev := EntryVar{
		In: g.node.ins[1+i],
	}

	for _, sub := range g.node.subs {
		ev.Args = append(ev.Args, sub.Args[i])
	}

	return ev
}

func (g *GammaNode) ExitVar(i int) ExitVar {
	xv := ExitVar{
		Out: g.node.outs[i],
	}

	for _, sub := range g.node.subs {
		xv.Res = append(xv.Res, sub.Results[i])
	}

	return xv
}

// AddEntryVar routes origin into every subregion.
func (g *GammaNode) AddEntryVar(origin *Output) (EntryVar, error) {
	in, err := g.node.addInput(origin.Type(), origin)
	if err != nil {
		return EntryVar{}, err
	}

	ev := EntryVar{In: in}

	for _, sub := range g.node.subs {
		ev.Args = append(ev.Args, sub.AddArgument(origin.Type(), ""))
	}

	return ev, nil
}

// AddExitVar aggregates one result per subregion into a fresh output.
func (g *GammaNode) AddExitVar(origins []*Output) (ExitVar, error) {
	if len(origins) != g.K() {
		return ExitVar{}, errors.New("gamma: want %d exit origins, got %d", g.K(), len(origins))
	}

	t := origins[0].Type()

	for _, o := range origins[1:] {
		if !types.Equal(t, o.Type()) {
			return ExitVar{}, NewTypeMismatch(t, o.Type())
		}
	}

	xv := ExitVar{
		Out: g.node.addOutput(t),
	}

	for i, sub := range g.node.subs {
		res, err := sub.AddResult(origins[i], "")
		if err != nil {
			return ExitVar{}, err
		}

		xv.Res = append(xv.Res, res)
	}

	return xv, nil
}

func (nf *GammaNormalForm) SetInvariantExit(enable bool) { nf.invariantExit = enable }
func (nf *GammaNormalForm) SetDeadEntry(enable bool)     { nf.deadEntry = enable }

func (nf *GammaNormalForm) NormalizeNode(n *Node) bool {
	g, ok := AsGamma(n)
	if !ok || !nf.mutable {
		return false
	}

	if nf.invariantExit && nf.reduceInvariantExit(g) {
		return true
	}

	if nf.deadEntry && nf.removeDeadEntries(g) {
		return true
	}

	if nf.deadEntry && nf.removeDeadExits(g) {
		return true
	}

	return false
}

func (nf *GammaNormalForm) NormalizedCreate(r *Region, op Operation, args []*Output) ([]*Output, error) {
	return nf.SimpleNormalForm.NormalizedCreate(r, op, args)
}

// reduceInvariantExit folds exit variables whose every result is the
// same entry variable's argument: the output is the routed value itself.
func (nf *GammaNormalForm) reduceInvariantExit(g *GammaNode) bool {
	for i := 0; i < g.NExitVars(); i++ {
		xv := g.ExitVar(i)
		if xv.Out.NUsers() == 0 {
			continue
		}

		entry := -1

		for s, res := range xv.Res {
			o := res.Origin()
			if o.Node() != nil || o.Region() != g.Subregion(s) {
				entry = -1
				break
			}

			if s == 0 {
				entry = o.Index()
			} else if o.Index() != entry {
				entry = -1
				break
			}
		}

		if entry < 0 || entry >= g.NEntryVars() {
			continue
		}

		err := xv.Out.Divert(g.EntryVar(entry).In.Origin())
		if err != nil {
			continue
		}

		return true
	}

	return false
}

// removeDeadExits drops exit variables whose outputs are unused.
func (nf *GammaNormalForm) removeDeadExits(g *GammaNode) bool {
	n := g.node

	for i := g.NExitVars() - 1; i >= 0; i-- {
		if n.outs[i].NUsers() != 0 {
			continue
		}

		for _, sub := range n.subs {
			sub.removeResult(i)
		}

		n.removeOutput(i)

		return true
	}

	return false
}

// removeDeadEntries drops entry variables whose arguments are unused in
// every subregion.
func (nf *GammaNormalForm) removeDeadEntries(g *GammaNode) bool {
	n := g.node

	for i := g.NEntryVars() - 1; i >= 0; i-- {
		ev := g.EntryVar(i)

		dead := true

		for _, a := range ev.Args {
			if a.NUsers() != 0 {
				dead = false
				break
			}
		}

		if !dead {
			continue
		}

		for _, sub := range n.subs {
			sub.removeArgument(i)
		}

		n.removeInput(1 + i)

		return true
	}

	return false
}
