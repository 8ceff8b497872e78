package alias

import (
	"context"
	"sort"
	"strings"

	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/set"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Loc is an abstract memory location: an allocation site, a
	// global, a function, an imported symbol, or one of the
	// distinguished External and Unknown locations.
	Loc int32

	LocKind int

	// PointsToGraph is the result of the analysis: may-point-to edges
	// between abstract locations, plus the location set of every
	// pointer-valued output.
	PointsToGraph struct {
		kinds []LocKind
		names []string
		sites []*rvsdg.Node

		edges []set.Bits[Loc]

		marks map[*rvsdg.Output]*set.Bits[Loc]

		locOf map[*rvsdg.Node]Loc
		impOf map[*rvsdg.Output]Loc
	}

	analysis struct {
		g   *rvsdg.Graph
		ptg *PointsToGraph

		changed bool
	}
)

const (
	// External is everything visible outside the translation unit.
	External Loc = 0
	// Unknown is the target of loads through undefined pointers.
	Unknown Loc = 1
)

const (
	LocExternal LocKind = iota
	LocUnknown
	LocAlloca
	LocMalloc
	LocGlobal
	LocLambda
	LocImport
)

func (k LocKind) String() string {
	switch k {
	case LocExternal:
		return "external"
	case LocUnknown:
		return "unknown"
	case LocAlloca:
		return "alloca"
	case LocMalloc:
		return "malloc"
	case LocGlobal:
		return "global"
	case LocLambda:
		return "lambda"
	case LocImport:
		return "import"
	default:
		return "loc?"
	}
}

// Analyze computes the points-to graph of the translation unit. The
// analysis is flow and context insensitive and monotone: it sweeps the
// graph until no location set grows.
func Analyze(ctx context.Context, g *rvsdg.Graph) (_ *PointsToGraph, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "alias: points-to analysis")
	defer tr.Finish("err", &err)

	ptg := &PointsToGraph{
		marks: map[*rvsdg.Output]*set.Bits[Loc]{},
		locOf: map[*rvsdg.Node]Loc{},
		impOf: map[*rvsdg.Output]Loc{},
	}

	ptg.addLoc(LocExternal, "external", nil)
	ptg.addLoc(LocUnknown, "unknown", nil)

	// anything external may point back at anything external
	ptg.addEdge(External, External)
	ptg.addEdge(External, Unknown)

	a := &analysis{g: g, ptg: ptg}

	for sweep := 0; ; sweep++ {
		a.changed = false

		a.region(g.Root())

		if !a.changed {
			tr.Printw("converged", "sweeps", sweep+1, "locs", len(ptg.kinds))
			break
		}
	}

	return ptg, nil
}

func (ptg *PointsToGraph) addLoc(k LocKind, name string, site *rvsdg.Node) Loc {
	l := Loc(len(ptg.kinds))

	ptg.kinds = append(ptg.kinds, k)
	ptg.names = append(ptg.names, name)
	ptg.sites = append(ptg.sites, site)
	ptg.edges = append(ptg.edges, set.MakeBits[Loc]())

	return l
}

func (ptg *PointsToGraph) siteLoc(k LocKind, name string, site *rvsdg.Node) Loc {
	if l, ok := ptg.locOf[site]; ok {
		return l
	}

	l := ptg.addLoc(k, name, site)
	ptg.locOf[site] = l

	return l
}

func (ptg *PointsToGraph) importLoc(a *rvsdg.Output) Loc {
	if l, ok := ptg.impOf[a]; ok {
		return l
	}

	l := ptg.addLoc(LocImport, a.Name, nil)
	ptg.impOf[a] = l

	// imported symbols are visible outside and may hold external
	// pointers
	ptg.addEdge(External, l)
	ptg.addEdge(l, External)

	return l
}

func (ptg *PointsToGraph) addEdge(from, to Loc) bool {
	s := &ptg.edges[from]

	if s.IsSet(to) {
		return false
	}

	s.Set(to)

	return true
}

func (ptg *PointsToGraph) markOf(o *rvsdg.Output) *set.Bits[Loc] {
	m, ok := ptg.marks[o]
	if !ok {
		b := set.MakeBits[Loc]()
		m = &b
		ptg.marks[o] = m
	}

	return m
}

// NLocs is the number of abstract locations.
func (ptg *PointsToGraph) NLocs() int { return len(ptg.kinds) }

func (ptg *PointsToGraph) Kind(l Loc) LocKind    { return ptg.kinds[l] }
func (ptg *PointsToGraph) Name(l Loc) string     { return ptg.names[l] }
func (ptg *PointsToGraph) Site(l Loc) *rvsdg.Node { return ptg.sites[l] }

// PointsTo is the location set of a pointer-valued output.
func (ptg *PointsToGraph) PointsTo(o *rvsdg.Output) set.Bits[Loc] {
	return *ptg.markOf(o)
}

// Targets is the set of locations l may contain pointers to.
func (ptg *PointsToGraph) Targets(l Loc) set.Bits[Loc] {
	return ptg.edges[l]
}

// SiteLoc is the location of an allocation site node.
func (ptg *PointsToGraph) SiteLoc(n *rvsdg.Node) (Loc, bool) {
	l, ok := ptg.locOf[n]
	return l, ok
}

func (ptg *PointsToGraph) String() string {
	var b strings.Builder

	for l := range ptg.kinds {
		b.WriteString(ptg.kinds[l].String())

		if ptg.names[l] != "" {
			b.WriteString(" ")
			b.WriteString(ptg.names[l])
		}

		b.WriteString(" ->")

		targets := []int(nil)
		ptg.edges[l].Range(func(t Loc) bool {
			targets = append(targets, int(t))
			return true
		})

		sort.Ints(targets)

		for _, t := range targets {
			b.WriteString(" ")
			b.WriteString(ptg.names[t])
			if ptg.names[t] == "" {
				b.WriteString(ptg.kinds[t].String())
			}
		}

		b.WriteString("\n")
	}

	return b.String()
}

func (a *analysis) region(r *rvsdg.Region) {
	if r == a.g.Root() {
		a.roots(r)
	}

	for _, n := range r.Nodes {
		a.node(n)
	}

	if r == a.g.Root() {
		// escaping exports
		for _, res := range r.Results {
			a.leak(res.Origin())
		}
	}
}

func (a *analysis) roots(r *rvsdg.Region) {
	for _, arg := range r.Args {
		if !pointerish(arg.Type()) {
			continue
		}

		l := a.ptg.importLoc(arg)
		a.mark(arg, l)
	}
}

func (a *analysis) node(n *rvsdg.Node) {
	switch op := n.Op().(type) {
	case llvm.AllocaOp:
		l := a.ptg.siteLoc(LocAlloca, op.String(), n)
		a.mark(n.Output(0), l)
	case llvm.MallocOp:
		l := a.ptg.siteLoc(LocMalloc, "malloc", n)
		a.mark(n.Output(0), l)
	case rvsdg.LambdaOp:
		l := a.ptg.siteLoc(LocLambda, op.Name, n)

		if n.NOutputs() != 0 {
			a.mark(n.Output(0), l)
		}

		ln, _ := rvsdg.AsLambda(n)

		for i := 0; i < ln.NCtxVars(); i++ {
			cv := ln.CtxVar(i)
			a.copyMarks(cv.Arg, cv.In.Origin())
		}

		a.region(ln.Subregion())
	case rvsdg.DeltaOp:
		l := a.ptg.siteLoc(LocGlobal, op.Name, n)

		if n.NOutputs() != 0 {
			a.mark(n.Output(0), l)
		}

		dn, _ := rvsdg.AsDelta(n)

		for i := 0; i < dn.NCtxVars(); i++ {
			cv := dn.CtxVar(i)
			a.copyMarks(cv.Arg, cv.In.Origin())
		}

		a.region(dn.Subregion())

		// the global's cell holds whatever the initializer points to
		if len(dn.Subregion().Results) != 0 {
			a.edgeTo(l, dn.Subregion().Results[0].Origin())
		}
	case rvsdg.PhiOp:
		pn, _ := rvsdg.AsPhi(n)

		for i := 0; i < pn.NCtxVars(); i++ {
			cv := pn.CtxVar(i)
			a.copyMarks(cv.Arg, cv.In.Origin())
		}

		if n.NOutputs() != 0 {
			for i := 0; i < pn.NRecVars(); i++ {
				rv := pn.RecVar(i)
				a.copyMarks(rv.Arg, rv.Res.Origin())
				a.copyMarks(rv.Out, rv.Res.Origin())
			}
		}

		a.region(pn.Subregion())
	case rvsdg.GammaOp:
		gn, _ := rvsdg.AsGamma(n)

		for i := 0; i < gn.NEntryVars(); i++ {
			ev := gn.EntryVar(i)

			for _, arg := range ev.Args {
				a.copyMarks(arg, ev.In.Origin())
			}
		}

		for i := 0; i < gn.K(); i++ {
			a.region(gn.Subregion(i))
		}

		for i := 0; i < gn.NExitVars(); i++ {
			xv := gn.ExitVar(i)

			for _, res := range xv.Res {
				a.copyMarks(xv.Out, res.Origin())
			}
		}
	case rvsdg.ThetaOp:
		tn, _ := rvsdg.AsTheta(n)

		for i := 0; i < tn.NLoopVars(); i++ {
			lv := tn.LoopVar(i)

			a.copyMarks(lv.Arg, lv.In.Origin())
			a.copyMarks(lv.Arg, lv.Res.Origin())
			a.copyMarks(lv.Out, lv.Res.Origin())
		}

		a.region(tn.Subregion())
	case llvm.LoadOp:
		a.deref(n.Output(0), n.Input(0).Origin())
	case llvm.StoreOp:
		a.storeInto(n.Input(0).Origin(), n.Input(1).Origin())
	case llvm.GepOp, llvm.BitcastOp, llvm.FnPtrOp, llvm.PtrToFnOp:
		a.copyMarks(n.Output(0), n.Input(0).Origin())
	case llvm.IntToPtrOp:
		// a pointer conjured from an integer aims anywhere
		a.mark(n.Output(0), External)
		a.mark(n.Output(0), Unknown)
	case llvm.CallOp:
		a.call(n, op)
	}
}

func (a *analysis) call(n *rvsdg.Node, op llvm.CallOp) {
	fn := n.Input(0).Origin()

	nparams := len(op.FT.Params)
	nresults := len(op.FT.Results)

	a.ptg.markOf(fn).Range(func(l Loc) bool {
		site := a.ptg.sites[l]

		if a.ptg.kinds[l] == LocLambda && site != nil {
			ln, ok := rvsdg.AsLambda(site)
			if !ok {
				return true
			}

			// unify arguments with parameters, results with results
			for i := 0; i < nparams && i < ln.NArguments(); i++ {
				a.copyMarks(ln.Argument(i), n.Input(1+i).Origin())
			}

			sub := ln.Subregion()

			for i := 0; i < nresults && i < len(sub.Results); i++ {
				a.copyMarks(n.Output(i), sub.Results[i].Origin())
			}

			return true
		}

		// indirect call through external: everything reachable
		// through the arguments escapes, results aim anywhere
		for i := 0; i < nparams; i++ {
			a.leak(n.Input(1 + i).Origin())
		}

		for i := 0; i < nresults; i++ {
			a.mark(n.Output(i), External)
		}

		return true
	})
}

// deref: the result of a load may point to any target of any location
// the address points to.
func (a *analysis) deref(res, addr *rvsdg.Output) {
	if !pointerish(res.Type()) {
		return
	}

	rm := a.ptg.markOf(res)

	a.ptg.markOf(addr).Range(func(l Loc) bool {
		if rm.Merge(a.ptg.edges[l]) {
			a.changed = true
		}

		return true
	})
}

// storeInto: every location the address points to may now hold what
// the value points to.
func (a *analysis) storeInto(addr, val *rvsdg.Output) {
	if !pointerish(val.Type()) {
		return
	}

	vm := a.ptg.markOf(val)

	a.ptg.markOf(addr).Range(func(l Loc) bool {
		if a.ptg.edges[l].Merge(*vm) {
			a.changed = true
		}

		return true
	})
}

// leak merges everything reachable from o into External.
func (a *analysis) leak(o *rvsdg.Output) {
	if !pointerish(o.Type()) {
		return
	}

	work := []Loc(nil)

	a.ptg.markOf(o).Range(func(l Loc) bool {
		work = append(work, l)
		return true
	})

	seen := set.MakeBits[Loc]()

	for len(work) > 0 {
		l := work[len(work)-1]
		work = work[:len(work)-1]

		if seen.IsSet(l) {
			continue
		}

		seen.Set(l)

		if a.ptg.addEdge(External, l) {
			a.changed = true
		}

		a.ptg.edges[l].Range(func(t Loc) bool {
			work = append(work, t)
			return true
		})
	}
}

func (a *analysis) mark(o *rvsdg.Output, l Loc) {
	m := a.ptg.markOf(o)

	if !m.IsSet(l) {
		m.Set(l)
		a.changed = true
	}
}

func (a *analysis) copyMarks(dst, src *rvsdg.Output) {
	if !pointerish(dst.Type()) {
		return
	}

	if a.ptg.markOf(dst).Merge(*a.ptg.markOf(src)) {
		a.changed = true
	}
}

func (a *analysis) edgeTo(l Loc, v *rvsdg.Output) {
	if !pointerish(v.Type()) {
		return
	}

	if a.ptg.edges[l].Merge(*a.ptg.markOf(v)) {
		a.changed = true
	}
}

func pointerish(t types.Type) bool {
	switch t.(type) {
	case types.Pointer, types.Function:
		return true
	default:
		return false
	}
}
