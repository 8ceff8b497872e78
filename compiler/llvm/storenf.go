package llvm

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// StoreNormalForm drives the store reductions: pulling stores out
	// of merged states, dropping duplicated state operands, confining
	// stores to non-escaping allocas, and killing overwritten stores.
	StoreNormalForm struct {
		*rvsdg.SimpleNormalForm

		storeMux       bool
		storeStore     bool
		storeAlloca    bool
		multipleOrigin bool
	}
)

var KindStore = rvsdg.RegisterKind("store", rvsdg.KindSimple, func(g *rvsdg.Graph, parent rvsdg.NormalForm) rvsdg.NormalForm {
	return &StoreNormalForm{
		SimpleNormalForm: rvsdg.NewSimpleNormalForm(g, parent),

		storeMux:       true,
		storeStore:     true,
		storeAlloca:    true,
		multipleOrigin: true,
	}
})

// GetStoreNormalForm is the graph-local store normal form.
func GetStoreNormalForm(g *rvsdg.Graph) *StoreNormalForm {
	return g.NormalForm(KindStore).(*StoreNormalForm)
}

func (nf *StoreNormalForm) SetStoreMuxReducible(enable bool)       { nf.storeMux = enable }
func (nf *StoreNormalForm) SetStoreStoreReducible(enable bool)     { nf.storeStore = enable }
func (nf *StoreNormalForm) SetStoreAllocaReducible(enable bool)    { nf.storeAlloca = enable }
func (nf *StoreNormalForm) SetMultipleOriginReducible(enable bool) { nf.multipleOrigin = enable }

func (nf *StoreNormalForm) NormalizeNode(n *rvsdg.Node) bool {
	op, ok := n.Op().(StoreOp)
	if !ok || !nf.Mutable() || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	if nf.multipleOrigin && reduceMultipleOrigin(n, 2, func(states []*rvsdg.Output) (rvsdg.Operation, []*rvsdg.Output) {
		return StoreOp{VType: op.VType, Alignment: op.Alignment, NStates: len(states)},
			append([]*rvsdg.Output{n.Input(0).Origin(), n.Input(1).Origin()}, states...)
	}) {
		return true
	}

	if nf.storeMux && nf.reduceStoreMux(n, op) {
		return true
	}

	if nf.storeAlloca && nf.reduceStoreAlloca(n, op) {
		return true
	}

	if nf.storeStore && nf.reduceStoreStore(n, op) {
		return true
	}

	return nf.SimpleNormalForm.NormalizeNode(n)
}

// reduceStoreMux rewrites store(a, v, merge(s...)) into
// merge(store(a, v, s)...), one store per incoming state.
func (nf *StoreNormalForm) reduceStoreMux(n *rvsdg.Node, op StoreOp) bool {
	if op.NStates != 1 {
		return false
	}

	mux := n.Input(2).Origin().Node()
	if mux == nil {
		return false
	}

	mop, ok := mux.Op().(MemStateMergeOp)
	if !ok {
		return false
	}

	r := n.Region()
	addr, val := n.Input(0).Origin(), n.Input(1).Origin()

	stores := make([]*rvsdg.Output, mop.N)

	for i := 0; i < mop.N; i++ {
		outs, err := rvsdg.Create(r, StoreOp{VType: op.VType, Alignment: op.Alignment, NStates: 1},
			addr, val, mux.Input(i).Origin())
		if err != nil {
			return false
		}

		stores[i] = outs[0]
	}

	merged, err := MemStateMerge(r, stores)
	if err != nil {
		return false
	}

	err = n.Output(0).Divert(merged)

	return err == nil
}

// reduceStoreAlloca confines a store through an alloca's pointer to the
// alloca's own state edge; the other states pass through untouched.
func (nf *StoreNormalForm) reduceStoreAlloca(n *rvsdg.Node, op StoreOp) bool {
	if op.NStates < 2 {
		return false
	}

	alloca := n.Input(0).Origin().Node()
	if alloca == nil {
		return false
	}

	if _, ok := alloca.Op().(AllocaOp); !ok {
		return false
	}

	astate := alloca.Output(1)

	own := -1

	for i := 0; i < op.NStates; i++ {
		if n.Input(2+i).Origin() == astate {
			own = i
			break
		}
	}

	if own < 0 {
		return false
	}

	outs, err := rvsdg.Create(n.Region(), StoreOp{VType: op.VType, Alignment: op.Alignment, NStates: 1},
		n.Input(0).Origin(), n.Input(1).Origin(), astate)
	if err != nil {
		return false
	}

	for i := 0; i < op.NStates; i++ {
		if i == own {
			err = n.Output(i).Divert(outs[0])
		} else {
			err = n.Output(i).Divert(n.Input(2 + i).Origin())
		}

		if err != nil {
			return false
		}
	}

	return true
}

// reduceStoreStore kills a store that is completely overwritten by a
// later store to the same address.
func (nf *StoreNormalForm) reduceStoreStore(n *rvsdg.Node, op StoreOp) bool {
	prev := n.Input(2).Origin().Node()
	if prev == nil || prev == n {
		return false
	}

	pop, ok := prev.Op().(StoreOp)
	if !ok || pop.NStates != op.NStates {
		return false
	}

	if prev.Input(0).Origin() != n.Input(0).Origin() || !types.Equal(pop.VType, op.VType) {
		return false
	}

	// every state must flow straight from the overwritten store,
	// and nothing else may observe it
	for i := 0; i < op.NStates; i++ {
		o := n.Input(2 + i).Origin()
		if o.Node() != prev || o.Index() != i || o.NUsers() != 1 {
			return false
		}
	}

	states := make([]*rvsdg.Output, op.NStates)
	for i := range states {
		states[i] = prev.Input(2 + i).Origin()
	}

	outs, err := rvsdg.Create(n.Region(), op,
		append([]*rvsdg.Output{n.Input(0).Origin(), n.Input(1).Origin()}, states...)...)
	if err != nil {
		return false
	}

	for i := 0; i < op.NStates; i++ {
		err = n.Output(i).Divert(outs[i])
		if err != nil {
			return false
		}
	}

	return true
}

// reduceMultipleOrigin drops duplicated state operands. skip is the
// number of leading non-state operands; rebuild produces the slimmer
// replacement op and its full operand list.
func reduceMultipleOrigin(n *rvsdg.Node, skip int, rebuild func(states []*rvsdg.Output) (rvsdg.Operation, []*rvsdg.Output)) bool {
	nstates := n.NInputs() - skip

	unique := []*rvsdg.Output(nil)
	at := make([]int, nstates)

	for i := 0; i < nstates; i++ {
		o := n.Input(skip + i).Origin()

		found := -1

		for j, u := range unique {
			if u == o {
				found = j
				break
			}
		}

		if found < 0 {
			found = len(unique)
			unique = append(unique, o)
		}

		at[i] = found
	}

	if len(unique) == nstates {
		return false
	}

	op, args := rebuild(unique)

	outs, err := rvsdg.Create(n.Region(), op, args...)
	if err != nil {
		return false
	}

	resbase := n.NOutputs() - nstates

	for i := 0; i < nstates; i++ {
		err = n.Output(resbase + i).Divert(outs[len(outs)-len(unique)+at[i]])
		if err != nil {
			return false
		}
	}

	// non-state results map one to one
	for i := 0; i < resbase; i++ {
		err = n.Output(i).Divert(outs[i])
		if err != nil {
			return false
		}
	}

	return true
}

// Store appends a store node, threading the given memory states.
func Store(addr, val *rvsdg.Output, states []*rvsdg.Output, align int) ([]*rvsdg.Output, error) {
	vt, ok := val.Type().(types.ValueType)
	if !ok {
		return nil, errors.New("store: not a value type: %v", val.Type())
	}

	op := StoreOp{
		VType:     vt,
		Alignment: align,
		NStates:   len(states),
	}

	return rvsdg.Create(addr.Region(), op, append([]*rvsdg.Output{addr, val}, states...)...)
}
