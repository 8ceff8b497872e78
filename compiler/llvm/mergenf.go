package llvm

import (
	"github.com/halvorlinder/jlm/compiler/rvsdg"
)

type (
	// MemStateMergeNormalForm flattens nested merges, drops duplicated
	// operands and elides single-operand merges.
	MemStateMergeNormalForm struct {
		*rvsdg.SimpleNormalForm

		multipleOrigin bool
		flatten        bool
	}
)

var KindMemStateMerge = rvsdg.RegisterKind("memstate_merge", rvsdg.KindSimple, func(g *rvsdg.Graph, parent rvsdg.NormalForm) rvsdg.NormalForm {
	return &MemStateMergeNormalForm{
		SimpleNormalForm: rvsdg.NewSimpleNormalForm(g, parent),

		multipleOrigin: true,
		flatten:        true,
	}
})

func GetMemStateMergeNormalForm(g *rvsdg.Graph) *MemStateMergeNormalForm {
	return g.NormalForm(KindMemStateMerge).(*MemStateMergeNormalForm)
}

func (nf *MemStateMergeNormalForm) SetMultipleOriginReducible(enable bool) { nf.multipleOrigin = enable }
func (nf *MemStateMergeNormalForm) SetFlattenReducible(enable bool)        { nf.flatten = enable }

func (nf *MemStateMergeNormalForm) NormalizeNode(n *rvsdg.Node) bool {
	if _, ok := n.Op().(MemStateMergeOp); !ok || !nf.Mutable() || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	states := []*rvsdg.Output(nil)
	changed := false

	for i := 0; i < n.NInputs(); i++ {
		o := n.Input(i).Origin()

		if nf.flatten && o.Node() != nil {
			if sub, ok := o.Node().Op().(MemStateMergeOp); ok {
				for j := 0; j < sub.N; j++ {
					states = append(states, o.Node().Input(j).Origin())
				}

				changed = true
				continue
			}
		}

		states = append(states, o)
	}

	if nf.multipleOrigin {
		unique := states[:0:0]

	dedup:
		for _, o := range states {
			for _, u := range unique {
				if u == o {
					changed = true
					continue dedup
				}
			}

			unique = append(unique, o)
		}

		states = unique
	}

	if !changed {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	merged, err := MemStateMerge(n.Region(), states)
	if err != nil {
		return false
	}

	err = n.Output(0).Divert(merged)

	return err == nil
}

// MemStateMerge joins states into a single memory state. A single
// state passes through unchanged.
func MemStateMerge(r *rvsdg.Region, states []*rvsdg.Output) (*rvsdg.Output, error) {
	if len(states) == 1 {
		return states[0], nil
	}

	outs, err := rvsdg.Create(r, MemStateMergeOp{N: len(states)}, states...)
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}

// MemStateSplit forks one state into n.
func MemStateSplit(state *rvsdg.Output, n int) ([]*rvsdg.Output, error) {
	return rvsdg.Create(state.Region(), MemStateSplitOp{N: n}, state)
}
