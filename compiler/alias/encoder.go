package alias

import (
	"context"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/set"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Encoder threads one explicit memory state edge per abstract
	// location partition through every memory-observing node, guided
	// by the points-to graph. After encoding, operations on disjoint
	// partitions are independent.
	Encoder struct {
		ptg *PointsToGraph

		// partition per location: External, Unknown, imports and
		// functions collapse into partition 0, every allocation site
		// and global gets its own
		partOf []int
		nparts int
	}

	// states tracks the current edge of each routed partition.
	states map[int]*rvsdg.Output
)

// NewEncoder partitions the points-to graph's locations.
func NewEncoder(ptg *PointsToGraph) *Encoder {
	e := &Encoder{
		ptg:    ptg,
		partOf: make([]int, ptg.NLocs()),
		nparts: 1,
	}

	for l := 0; l < ptg.NLocs(); l++ {
		switch ptg.Kind(Loc(l)) {
		case LocAlloca, LocMalloc, LocGlobal:
			e.partOf[l] = e.nparts
			e.nparts++
		default:
			e.partOf[l] = 0
		}
	}

	return e
}

// NParts is the number of state partitions.
func (e *Encoder) NParts() int { return e.nparts }

// PartOf is the partition of an abstract location.
func (e *Encoder) PartOf(l Loc) int { return e.partOf[l] }

// Encode rewrites the graph in place and normalizes away the replaced
// single-state threading.
func Encode(ctx context.Context, ptg *PointsToGraph, g *rvsdg.Graph) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "alias: encode memory states")
	defer tr.Finish("err", &err)

	e := NewEncoder(ptg)

	err = e.encodeRoot(g.Root())
	if err != nil {
		return err
	}

	// pruning the replaced single-state chain unblocks further
	// reductions, so alternate until quiescent
	for {
		normalized := g.Normalize()
		pruned := g.Prune()

		if !normalized && !pruned {
			break
		}
	}

	tr.Printw("encoded", "partitions", e.nparts)

	return nil
}

func (e *Encoder) encodeRoot(r *rvsdg.Region) error {
	for _, n := range r.TopNodes() {
		if ln, ok := rvsdg.AsLambda(n); ok {
			err := e.encodeLambda(ln)
			if err != nil {
				return errors.Wrap(err, "lambda %v", ln.Op().Name)
			}

			continue
		}

		if pn, ok := rvsdg.AsPhi(n); ok {
			err := e.encodeRoot(pn.Subregion())
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Encoder) encodeLambda(ln *rvsdg.LambdaNode) error {
	sub := ln.Subregion()

	memArg := e.memArgument(ln)
	if memArg == nil {
		return nil // stateless signature
	}

	parts := e.partsUsed(sub)
	if parts.Size() == 0 {
		return nil
	}

	plist := partList(parts)

	// fan the entry state out into one edge per partition
	split, err := llvm.MemStateSplit(memArg, len(plist))
	if err != nil {
		return err
	}

	st := states{}
	for i, p := range plist {
		st[p] = split[i]
	}

	err = e.encodeRegion(sub, st)
	if err != nil {
		return err
	}

	finals := make([]*rvsdg.Output, len(plist))
	for i, p := range plist {
		finals[i] = st[p]
	}

	merged, err := llvm.MemStateMerge(sub, finals)
	if err != nil {
		return err
	}

	res := sub.Results[len(sub.Results)-1]
	if !types.IsState(res.Type()) {
		return errors.New("lambda result is not state typed")
	}

	return res.SetOrigin(merged)
}

func (e *Encoder) memArgument(ln *rvsdg.LambdaNode) *rvsdg.Output {
	for i := ln.NArguments() - 1; i >= 0; i-- {
		if types.IsState(ln.Argument(i).Type()) {
			return ln.Argument(i)
		}
	}

	return nil
}

func (e *Encoder) encodeRegion(r *rvsdg.Region, st states) error {
	for _, n := range r.TopNodes() {
		var err error

		switch op := n.Op().(type) {
		case llvm.LoadOp:
			err = e.encodeLoad(n, op, st)
		case llvm.StoreOp:
			err = e.encodeStore(n, op, st)
		case llvm.FreeOp:
			err = e.encodeFree(n, op, st)
		case llvm.MemcpyOp:
			err = e.encodeMemcpy(n, op, st)
		case llvm.AllocaOp, llvm.MallocOp:
			err = e.encodeAlloc(n, st)
		case llvm.CallOp:
			err = e.encodeCall(n, op, st)
		case rvsdg.GammaOp:
			err = e.encodeGamma(n, st)
		case rvsdg.ThetaOp:
			err = e.encodeTheta(n, st)
		}

		if err != nil {
			return errors.Wrap(err, "%v", n.Op())
		}
	}

	return nil
}

// touched lists the partitions an address may reach, in order.
func (e *Encoder) touched(addr *rvsdg.Output, st states) []int {
	parts := set.MakeBits[int]()

	e.ptg.PointsTo(addr).Range(func(l Loc) bool {
		parts.Set(e.partOf[l])
		return true
	})

	if parts.Size() == 0 {
		parts.Set(0)
	}

	// only partitions routed into this lambda can be touched
	out := []int(nil)

	parts.Range(func(p int) bool {
		if _, ok := st[p]; ok {
			out = append(out, p)
		}

		return true
	})

	if len(out) == 0 {
		out = append(out, firstPart(st))
	}

	return out
}

func firstPart(st states) int {
	min := -1

	for p := range st {
		if min < 0 || p < min {
			min = p
		}
	}

	return min
}

// unlink reroutes the old state results to their own operands, cutting
// the node out of the replaced single-state chain.
func unlink(n *rvsdg.Node, firstStateIn, firstStateOut int) error {
	for i := 0; firstStateIn+i < n.NInputs() && firstStateOut+i < n.NOutputs(); i++ {
		err := n.Output(firstStateOut + i).Divert(n.Input(firstStateIn + i).Origin())
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Encoder) encodeLoad(n *rvsdg.Node, op llvm.LoadOp, st states) error {
	touched := e.touched(n.Input(0).Origin(), st)

	args := []*rvsdg.Output{n.Input(0).Origin()}
	for _, p := range touched {
		args = append(args, st[p])
	}

	outs, err := rvsdg.Create(n.Region(),
		llvm.LoadOp{VType: op.VType, Alignment: op.Alignment, NStates: len(touched)}, args...)
	if err != nil {
		return err
	}

	err = n.Output(0).Divert(outs[0])
	if err != nil {
		return err
	}

	err = unlink(n, 1, 1)
	if err != nil {
		return err
	}

	for i, p := range touched {
		st[p] = outs[1+i]
	}

	return nil
}

func (e *Encoder) encodeStore(n *rvsdg.Node, op llvm.StoreOp, st states) error {
	touched := e.touched(n.Input(0).Origin(), st)

	args := []*rvsdg.Output{n.Input(0).Origin(), n.Input(1).Origin()}
	for _, p := range touched {
		args = append(args, st[p])
	}

	outs, err := rvsdg.Create(n.Region(),
		llvm.StoreOp{VType: op.VType, Alignment: op.Alignment, NStates: len(touched)}, args...)
	if err != nil {
		return err
	}

	err = unlink(n, 2, 0)
	if err != nil {
		return err
	}

	for i, p := range touched {
		st[p] = outs[i]
	}

	return nil
}

func (e *Encoder) encodeFree(n *rvsdg.Node, op llvm.FreeOp, st states) error {
	touched := e.touched(n.Input(0).Origin(), st)

	args := []*rvsdg.Output{n.Input(0).Origin()}
	for _, p := range touched {
		args = append(args, st[p])
	}

	outs, err := rvsdg.Create(n.Region(), llvm.FreeOp{NStates: len(touched)}, args...)
	if err != nil {
		return err
	}

	err = unlink(n, 1, 0)
	if err != nil {
		return err
	}

	for i, p := range touched {
		st[p] = outs[i]
	}

	return nil
}

func (e *Encoder) encodeMemcpy(n *rvsdg.Node, op llvm.MemcpyOp, st states) error {
	parts := set.MakeBits[int]()

	for _, p := range e.touched(n.Input(0).Origin(), st) {
		parts.Set(p)
	}
	for _, p := range e.touched(n.Input(1).Origin(), st) {
		parts.Set(p)
	}

	touched := []int(nil)
	parts.Range(func(p int) bool {
		touched = append(touched, p)
		return true
	})

	args := []*rvsdg.Output{n.Input(0).Origin(), n.Input(1).Origin(), n.Input(2).Origin()}
	for _, p := range touched {
		args = append(args, st[p])
	}

	outs, err := rvsdg.Create(n.Region(), llvm.MemcpyOp{NStates: len(touched)}, args...)
	if err != nil {
		return err
	}

	err = unlink(n, 3, 0)
	if err != nil {
		return err
	}

	for i, p := range touched {
		st[p] = outs[i]
	}

	return nil
}

// encodeAlloc joins the fresh location's state into its partition.
func (e *Encoder) encodeAlloc(n *rvsdg.Node, st states) error {
	l, ok := e.ptg.SiteLoc(n)
	if !ok {
		return errors.New("allocation site without location")
	}

	p := e.partOf[l]

	cur, ok := st[p]
	if !ok {
		return nil // the partition never surfaces in this lambda
	}

	merged, err := llvm.MemStateMerge(n.Region(), []*rvsdg.Output{n.Output(1), cur})
	if err != nil {
		return err
	}

	st[p] = merged

	return nil
}

// encodeCall funnels every partition through the callee's single state
// parameter and fans it back out afterwards.
func (e *Encoder) encodeCall(n *rvsdg.Node, op llvm.CallOp, st states) error {
	plist := partList(stParts(st))

	ins := make([]*rvsdg.Output, len(plist))
	for i, p := range plist {
		ins[i] = st[p]
	}

	one, err := llvm.MemStateMerge(n.Region(), ins)
	if err != nil {
		return err
	}

	args := []*rvsdg.Output(nil)

	for i := 0; i < n.NInputs(); i++ {
		o := n.Input(i).Origin()

		if types.IsState(n.Input(i).Type()) {
			o = one
		}

		args = append(args, o)
	}

	outs, err := rvsdg.Create(n.Region(), op, args...)
	if err != nil {
		return err
	}

	var after *rvsdg.Output

	for i := 0; i < n.NOutputs(); i++ {
		if types.IsState(n.Output(i).Type()) {
			after = outs[i]
			continue
		}

		err = n.Output(i).Divert(outs[i])
		if err != nil {
			return err
		}
	}

	// cut the old call out of the single-state chain
	for i := 0; i < n.NOutputs(); i++ {
		if !types.IsState(n.Output(i).Type()) {
			continue
		}

		for j := 0; j < n.NInputs(); j++ {
			if types.IsState(n.Input(j).Type()) {
				err = n.Output(i).Divert(n.Input(j).Origin())
				if err != nil {
					return err
				}

				break
			}
		}
	}

	if after == nil {
		return nil
	}

	split, err := llvm.MemStateSplit(after, len(plist))
	if err != nil {
		return err
	}

	for i, p := range plist {
		st[p] = split[i]
	}

	return nil
}

func (e *Encoder) encodeGamma(n *rvsdg.Node, st states) error {
	gn, _ := rvsdg.AsGamma(n)

	parts := set.MakeBits[int]()

	for i := 0; i < gn.K(); i++ {
		parts.Merge(e.partsUsed(gn.Subregion(i)))
	}

	plist := []int(nil)

	parts.Range(func(p int) bool {
		if _, ok := st[p]; ok {
			plist = append(plist, p)
		}

		return true
	})

	sub := make([]states, gn.K())
	for i := range sub {
		sub[i] = states{}
	}

	for _, p := range plist {
		ev, err := gn.AddEntryVar(st[p])
		if err != nil {
			return err
		}

		for s := 0; s < gn.K(); s++ {
			sub[s][p] = ev.Args[s]
		}
	}

	for s := 0; s < gn.K(); s++ {
		err := e.encodeRegion(gn.Subregion(s), sub[s])
		if err != nil {
			return err
		}
	}

	for _, p := range plist {
		origins := make([]*rvsdg.Output, gn.K())
		for s := 0; s < gn.K(); s++ {
			origins[s] = sub[s][p]
		}

		xv, err := gn.AddExitVar(origins)
		if err != nil {
			return err
		}

		st[p] = xv.Out
	}

	return nil
}

func (e *Encoder) encodeTheta(n *rvsdg.Node, st states) error {
	tn, _ := rvsdg.AsTheta(n)

	parts := e.partsUsed(tn.Subregion())

	plist := []int(nil)

	parts.Range(func(p int) bool {
		if _, ok := st[p]; ok {
			plist = append(plist, p)
		}

		return true
	})

	sub := states{}
	lvs := make([]rvsdg.LoopVar, len(plist))

	for i, p := range plist {
		lv, err := tn.AddLoopVar(st[p])
		if err != nil {
			return err
		}

		lvs[i] = lv
		sub[p] = lv.Arg
	}

	err := e.encodeRegion(tn.Subregion(), sub)
	if err != nil {
		return err
	}

	for i, p := range plist {
		err = lvs[i].Res.SetOrigin(sub[p])
		if err != nil {
			return err
		}

		st[p] = lvs[i].Out
	}

	return nil
}

// partsUsed collects the partitions the region's memory operations may
// touch; a call touches every partition.
func (e *Encoder) partsUsed(r *rvsdg.Region) set.Bits[int] {
	parts := set.MakeBits[int]()

	var walk func(r *rvsdg.Region)
	walk = func(r *rvsdg.Region) {
		for _, n := range r.Nodes {
			switch n.Op().(type) {
			case llvm.LoadOp, llvm.FreeOp:
				e.markParts(&parts, n.Input(0).Origin())
			case llvm.StoreOp:
				e.markParts(&parts, n.Input(0).Origin())
			case llvm.MemcpyOp:
				e.markParts(&parts, n.Input(0).Origin())
				e.markParts(&parts, n.Input(1).Origin())
			case llvm.AllocaOp, llvm.MallocOp:
				if l, ok := e.ptg.SiteLoc(n); ok {
					parts.Set(e.partOf[l])
				}
			case llvm.CallOp:
				for p := 0; p < e.nparts; p++ {
					parts.Set(p)
				}
			}

			for _, s := range n.Subregions() {
				walk(s)
			}
		}
	}

	walk(r)

	return parts
}

func (e *Encoder) markParts(parts *set.Bits[int], addr *rvsdg.Output) {
	any := false

	e.ptg.PointsTo(addr).Range(func(l Loc) bool {
		parts.Set(e.partOf[l])
		any = true
		return true
	})

	if !any {
		parts.Set(0)
	}
}

func stParts(st states) set.Bits[int] {
	parts := set.MakeBits[int]()

	for p := range st {
		parts.Set(p)
	}

	return parts
}

func partList(parts set.Bits[int]) []int {
	list := []int(nil)

	parts.Range(func(p int) bool {
		list = append(list, p)
		return true
	})

	sort.Ints(list)

	return list
}
