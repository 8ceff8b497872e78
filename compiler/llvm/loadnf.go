package llvm

import (
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// LoadNormalForm drives the load reductions: forwarding stored
	// values, splitting merged states, confining loads from allocas,
	// and dropping duplicated state operands.
	LoadNormalForm struct {
		*rvsdg.SimpleNormalForm

		loadMux        bool
		loadStore      bool
		loadAlloca     bool
		multipleOrigin bool
	}
)

var KindLoad = rvsdg.RegisterKind("load", rvsdg.KindSimple, func(g *rvsdg.Graph, parent rvsdg.NormalForm) rvsdg.NormalForm {
	return &LoadNormalForm{
		SimpleNormalForm: rvsdg.NewSimpleNormalForm(g, parent),

		loadMux:        true,
		loadStore:      true,
		loadAlloca:     true,
		multipleOrigin: true,
	}
})

// GetLoadNormalForm is the graph-local load normal form.
func GetLoadNormalForm(g *rvsdg.Graph) *LoadNormalForm {
	return g.NormalForm(KindLoad).(*LoadNormalForm)
}

func (nf *LoadNormalForm) SetLoadMuxReducible(enable bool)        { nf.loadMux = enable }
func (nf *LoadNormalForm) SetLoadStoreReducible(enable bool)      { nf.loadStore = enable }
func (nf *LoadNormalForm) SetLoadAllocaReducible(enable bool)     { nf.loadAlloca = enable }
func (nf *LoadNormalForm) SetMultipleOriginReducible(enable bool) { nf.multipleOrigin = enable }

func (nf *LoadNormalForm) NormalizeNode(n *rvsdg.Node) bool {
	op, ok := n.Op().(LoadOp)
	if !ok || !nf.Mutable() || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	if nf.multipleOrigin && reduceMultipleOrigin(n, 1, func(states []*rvsdg.Output) (rvsdg.Operation, []*rvsdg.Output) {
		return LoadOp{VType: op.VType, Alignment: op.Alignment, NStates: len(states)},
			append([]*rvsdg.Output{n.Input(0).Origin()}, states...)
	}) {
		return true
	}

	if nf.loadStore && nf.reduceLoadStore(n, op) {
		return true
	}

	if nf.loadMux && nf.reduceLoadMux(n, op) {
		return true
	}

	if nf.loadAlloca && nf.reduceLoadAlloca(n, op) {
		return true
	}

	return nf.SimpleNormalForm.NormalizeNode(n)
}

// reduceLoadStore forwards the value of a dominating store to the same
// address: load(a, store(a, v, s)) reads v.
func (nf *LoadNormalForm) reduceLoadStore(n *rvsdg.Node, op LoadOp) bool {
	store := n.Input(1).Origin().Node()
	if store == nil {
		return false
	}

	sop, ok := store.Op().(StoreOp)
	if !ok || !types.Equal(sop.VType, op.VType) {
		return false
	}

	if store.Input(0).Origin() != n.Input(0).Origin() {
		return false
	}

	for i := 0; i < op.NStates; i++ {
		if n.Input(1+i).Origin().Node() != store {
			return false
		}
	}

	err := n.Output(0).Divert(store.Input(1).Origin())
	if err != nil {
		return false
	}

	for i := 0; i < op.NStates; i++ {
		err = n.Output(1 + i).Divert(n.Input(1 + i).Origin())
		if err != nil {
			return false
		}
	}

	return true
}

// reduceLoadMux rewrites load(a, merge(s...)) into a load over the
// unmerged states, merging its state results back for the consumers.
func (nf *LoadNormalForm) reduceLoadMux(n *rvsdg.Node, op LoadOp) bool {
	if op.NStates != 1 {
		return false
	}

	mux := n.Input(1).Origin().Node()
	if mux == nil {
		return false
	}

	mop, ok := mux.Op().(MemStateMergeOp)
	if !ok {
		return false
	}

	r := n.Region()

	args := []*rvsdg.Output{n.Input(0).Origin()}
	for i := 0; i < mop.N; i++ {
		args = append(args, mux.Input(i).Origin())
	}

	outs, err := rvsdg.Create(r, LoadOp{VType: op.VType, Alignment: op.Alignment, NStates: mop.N}, args...)
	if err != nil {
		return false
	}

	merged, err := MemStateMerge(r, outs[1:])
	if err != nil {
		return false
	}

	err = n.Output(0).Divert(outs[0])
	if err != nil {
		return false
	}

	err = n.Output(1).Divert(merged)

	return err == nil
}

// reduceLoadAlloca confines a load through an alloca's pointer to the
// alloca's own state edge.
func (nf *LoadNormalForm) reduceLoadAlloca(n *rvsdg.Node, op LoadOp) bool {
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
		if n.Input(1+i).Origin() == astate {
			own = i
			break
		}
	}

	if own < 0 {
		return false
	}

	outs, err := rvsdg.Create(n.Region(), LoadOp{VType: op.VType, Alignment: op.Alignment, NStates: 1},
		n.Input(0).Origin(), astate)
	if err != nil {
		return false
	}

	err = n.Output(0).Divert(outs[0])
	if err != nil {
		return false
	}

	for i := 0; i < op.NStates; i++ {
		if i == own {
			err = n.Output(1 + i).Divert(outs[1])
		} else {
			err = n.Output(1 + i).Divert(n.Input(1 + i).Origin())
		}

		if err != nil {
			return false
		}
	}

	return true
}

// Load appends a load node, threading the given memory states.
func Load(vt types.ValueType, addr *rvsdg.Output, states []*rvsdg.Output, align int) (*rvsdg.Output, []*rvsdg.Output, error) {
	op := LoadOp{
		VType:     vt,
		Alignment: align,
		NStates:   len(states),
	}

	outs, err := rvsdg.Create(addr.Region(), op, append([]*rvsdg.Output{addr}, states...)...)
	if err != nil {
		return nil, nil, err
	}

	return outs[0], outs[1:], nil
}
