package back

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler/front"
	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// bctx converts one lambda body back into basic blocks.
	bctx struct {
		f    *llvm.Function
		sym  map[*rvsdg.Output]string
		vals map[*rvsdg.Output]*llvm.Variable

		dropped map[*llvm.Block]struct{}

		seq int
	}
)

// Structure converts an RVSDG back into an LLVM-like module: a switch
// per gamma (a conditional branch for two subregions), a header, body
// and back edge per theta, a function per lambda with phis recovered
// at the joins.
func Structure(ctx context.Context, g *rvsdg.Graph) (_ *llvm.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: structure module")
	defer tr.Finish("err", &err)

	m := &llvm.Module{}
	sym := map[*rvsdg.Output]string{}

	for _, a := range g.Root().Args {
		switch t := a.Type().(type) {
		case types.Function:
			m.Funcs = append(m.Funcs, &llvm.Function{
				Name:    a.Name,
				Linkage: rvsdg.ExternalLinkage,
				FType:   shrinkFT(t),
			})
		case types.Pointer:
			m.Globals = append(m.Globals, &llvm.Global{
				Name:    a.Name,
				Linkage: rvsdg.ExternalLinkage,
				VType:   types.Bits{Width: 8},
			})
		default:
			return nil, front.NewUnsupportedOperation(rvsdg.MatchOp{})
		}

		sym[a] = a.Name
	}

	for _, n := range g.Root().TopNodes() {
		err = structureTop(ctx, m, sym, n)
		if err != nil {
			return nil, err
		}
	}

	tr.Printw("structured", "funcs", len(m.Funcs), "globals", len(m.Globals))

	return m, nil
}

func structureTop(ctx context.Context, m *llvm.Module, sym map[*rvsdg.Output]string, n *rvsdg.Node) error {
	if ln, ok := rvsdg.AsLambda(n); ok {
		f, err := structureLambda(ln, sym)
		if err != nil {
			return errors.Wrap(err, "lambda %v", ln.Op().Name)
		}

		m.Funcs = append(m.Funcs, f)
		sym[ln.Output()] = f.Name

		return nil
	}

	if dn, ok := rvsdg.AsDelta(n); ok {
		gl, err := structureDelta(dn, sym)
		if err != nil {
			return errors.Wrap(err, "delta %v", dn.Op().Name)
		}

		m.Globals = append(m.Globals, gl)
		sym[dn.Output()] = gl.Name

		return nil
	}

	if pn, ok := rvsdg.AsPhi(n); ok {
		// recursion variables resolve to the functions they bind
		for i := 0; i < pn.NRecVars(); i++ {
			rv := pn.RecVar(i)

			def := rv.Res.Origin().Node()

			ln, ok := rvsdg.AsLambda(def)
			if !ok {
				return errors.New("phi binds a non-lambda definition")
			}

			sym[rv.Arg] = ln.Op().Name
			sym[rv.Out] = ln.Op().Name
		}

		for _, inner := range pn.Subregion().TopNodes() {
			err := structureTop(ctx, m, sym, inner)
			if err != nil {
				return err
			}
		}

		return nil
	}

	return front.NewUnsupportedOperation(n.Op())
}

func structureDelta(dn *rvsdg.DeltaNode, sym map[*rvsdg.Output]string) (*llvm.Global, error) {
	op := dn.Op()

	init := dn.Subregion().Results[0].Origin().Node()
	if init == nil || init.NInputs() != 0 {
		return nil, errors.New("initializer is not a constant")
	}

	return &llvm.Global{
		Name:     op.Name,
		Linkage:  op.Linkage,
		VType:    op.VType,
		Constant: op.Constant,
		Init:     init.Op(),
	}, nil
}

func structureLambda(ln *rvsdg.LambdaNode, sym map[*rvsdg.Output]string) (*llvm.Function, error) {
	op := ln.Op()
	ft := shrinkFT(op.FType)

	f := &llvm.Function{
		Name:    op.Name,
		Linkage: op.Linkage,
		FType:   ft,
	}

	c := &bctx{
		f:       f,
		sym:     sym,
		vals:    map[*rvsdg.Output]*llvm.Variable{},
		dropped: map[*llvm.Block]struct{}{},
	}

	entry := f.AddBlock()

	// the entry block projects the arguments
	for i, t := range ft.Params {
		v := &llvm.Variable{Name: op.Name + ".a" + strconv.Itoa(i), Type: t}

		f.Params = append(f.Params, v)
		c.vals[ln.Argument(i)] = v
	}

	for i := 0; i < ln.NCtxVars(); i++ {
		cv := ln.CtxVar(i)

		name, ok := sym[cv.In.Origin()]
		if !ok {
			return nil, errors.New("context variable with no symbol")
		}

		tac := entry.Add(llvm.SymbolOp{Name: name, T: cv.Arg.Type()})
		c.vals[cv.Arg] = tac.Res[0]
	}

	exit, err := c.region(ln.Subregion(), entry)
	if err != nil {
		return nil, err
	}

	// the exit block returns the results
	rets := []*llvm.Variable(nil)

	for _, res := range ln.Subregion().Results {
		if types.IsState(res.Type()) {
			continue
		}

		v, ok := c.vals[res.Origin()]
		if !ok {
			return nil, errors.New("unmapped function result")
		}

		rets = append(rets, v)
	}

	exit.Term = llvm.Return{Vals: rets}

	if len(c.dropped) != 0 {
		blocks := f.Blocks[:0]

		for _, b := range f.Blocks {
			if _, ok := c.dropped[b]; ok {
				continue
			}

			b.Index = len(blocks)
			blocks = append(blocks, b)
		}

		f.Blocks = blocks
	}

	return f, nil
}

// shrinkFT strips the trailing memory state the conversion threads
// through every signature.
func shrinkFT(ft types.Function) types.Function {
	params, results := ft.Params, ft.Results

	if n := len(params); n > 0 && types.IsState(params[n-1]) {
		params = params[:n-1]
	}

	if n := len(results); n > 0 && types.IsState(results[n-1]) {
		results = results[:n-1]
	}

	return types.Function{
		Params:  append([]types.Type(nil), params...),
		Results: append([]types.Type(nil), results...),
	}
}

func (c *bctx) region(r *rvsdg.Region, entry *llvm.Block) (*llvm.Block, error) {
	cur := entry

	for _, n := range r.TopNodes() {
		var err error

		switch n.Op().(type) {
		case rvsdg.GammaOp:
			cur, err = c.gamma(n, cur)
		case rvsdg.ThetaOp:
			cur, err = c.theta(n, cur)
		case rvsdg.MatchOp, rvsdg.ControlConstOp:
			// consumed by the owning branch
		case llvm.MemStateMergeOp, llvm.MemStateSplitOp:
			// memory ordering is implied by block order
		default:
			err = c.simple(n, cur)
		}

		if err != nil {
			return nil, err
		}
	}

	return cur, nil
}

func (c *bctx) simple(n *rvsdg.Node, b *llvm.Block) error {
	if n.IsStructural() {
		return front.NewUnsupportedOperation(n.Op())
	}

	op := n.Op()

	switch xop := op.(type) {
	case llvm.LoadOp:
		xop.NStates = 0
		op = xop
	case llvm.StoreOp:
		xop.NStates = 0
		op = xop
	case llvm.FreeOp:
		xop.NStates = 0
		op = xop
	case llvm.MemcpyOp:
		xop.NStates = 0
		op = xop
	case llvm.CallOp:
		op = llvm.CallOp{FT: shrinkFT(xop.FT)}
	}

	args := []*llvm.Variable(nil)

	for _, in := range n.Inputs() {
		if types.IsState(in.Type()) {
			continue
		}

		v, ok := c.vals[in.Origin()]
		if !ok {
			return errors.New("%v: unmapped operand", op)
		}

		args = append(args, v)
	}

	tac := b.Add(op, args...)

	i := 0

	for _, o := range n.Outputs() {
		if types.IsState(o.Type()) {
			continue
		}

		c.vals[o] = tac.Res[i]
		i++
	}

	return nil
}

// gamma emits a branch over the subregions and a join with one phi per
// exit variable.
func (c *bctx) gamma(n *rvsdg.Node, cur *llvm.Block) (*llvm.Block, error) {
	g, _ := rvsdg.AsGamma(n)

	mn := g.Predicate().Origin().Node()
	if mn == nil {
		return nil, errors.New("gamma predicate is not a match")
	}

	mop, ok := mn.Op().(rvsdg.MatchOp)
	if !ok {
		return nil, errors.New("gamma predicate is not a match")
	}

	cond, ok := c.vals[mn.Input(0).Origin()]
	if !ok {
		return nil, errors.New("gamma condition is unmapped")
	}

	k := g.K()

	heads := make([]*llvm.Block, k)
	lasts := make([]*llvm.Block, k)

	for i := 0; i < k; i++ {
		heads[i] = c.f.AddBlock()
	}

	join := c.f.AddBlock()

	for i := 0; i < k; i++ {
		for j := 0; j < g.NEntryVars(); j++ {
			ev := g.EntryVar(j)
			if types.IsState(ev.In.Type()) {
				continue
			}

			v, ok := c.vals[ev.In.Origin()]
			if !ok {
				return nil, errors.New("gamma entry %d is unmapped", j)
			}

			c.vals[ev.Args[i]] = v
		}

		last, err := c.region(g.Subregion(i), heads[i])
		if err != nil {
			return nil, err
		}

		last.Term = llvm.Jump{To: join}
		lasts[i] = last
	}

	// a subregion that produced no code falls straight through to the
	// join; dropping its block keeps the branch edge direct. Only one
	// arm may do so: the join's phis tell the others apart by their
	// predecessor block.
	for i := 0; i < k; i++ {
		if heads[i] != lasts[i] || len(heads[i].Phis) != 0 || len(heads[i].Code) != 0 {
			continue
		}

		c.dropped[heads[i]] = struct{}{}
		heads[i] = join
		lasts[i] = cur

		break
	}

	cases := []llvm.BranchCase(nil)

	for v, alt := range mop.Mapping {
		cases = append(cases, llvm.BranchCase{Val: v, To: heads[alt]})
	}

	sortCases(cases)

	cur.Term = llvm.Branch{
		Value:   cond,
		Cases:   cases,
		Default: heads[mop.Default],
	}

	for i := 0; i < g.NExitVars(); i++ {
		xv := g.ExitVar(i)
		if types.IsState(xv.Out.Type()) {
			continue
		}

		phi := &llvm.Phi{
			Res: c.fresh(xv.Out.Type()),
		}

		for s := 0; s < k; s++ {
			v, ok := c.vals[xv.Res[s].Origin()]
			if !ok {
				return nil, errors.New("gamma exit %d is unmapped in subregion %d", i, s)
			}

			phi.Args = append(phi.Args, llvm.PhiArg{Pred: lasts[s], Value: v})
		}

		join.Phis = append(join.Phis, phi)
		c.vals[xv.Out] = phi.Res
	}

	return join, nil
}

// theta emits a header with loop phis, the body, and a conditional
// back edge.
func (c *bctx) theta(n *rvsdg.Node, cur *llvm.Block) (*llvm.Block, error) {
	t, _ := rvsdg.AsTheta(n)

	header := c.f.AddBlock()
	cur.Term = llvm.Jump{To: header}

	type lphi struct {
		lv  rvsdg.LoopVar
		phi *llvm.Phi
	}

	phis := []lphi(nil)

	for i := 0; i < t.NLoopVars(); i++ {
		lv := t.LoopVar(i)
		if types.IsState(lv.In.Type()) {
			continue
		}

		init, ok := c.vals[lv.In.Origin()]
		if !ok {
			return nil, errors.New("loop variable %d is unmapped", i)
		}

		phi := &llvm.Phi{
			Res:  c.fresh(lv.In.Type()),
			Args: []llvm.PhiArg{{Pred: cur, Value: init}},
		}

		header.Phis = append(header.Phis, phi)
		c.vals[lv.Arg] = phi.Res
		phis = append(phis, lphi{lv: lv, phi: phi})
	}

	last, err := c.region(t.Subregion(), header)
	if err != nil {
		return nil, err
	}

	mn := t.Predicate().Origin().Node()
	if mn == nil {
		return nil, errors.New("theta predicate is not a match")
	}

	mop, ok := mn.Op().(rvsdg.MatchOp)
	if !ok {
		return nil, errors.New("theta predicate is not a match")
	}

	cond, ok := c.vals[mn.Input(0).Origin()]
	if !ok {
		return nil, errors.New("theta condition is unmapped")
	}

	exit := c.f.AddBlock()

	target := func(alt uint64) *llvm.Block {
		if alt == 1 {
			return header
		}

		return exit
	}

	cases := []llvm.BranchCase(nil)

	for v, alt := range mop.Mapping {
		cases = append(cases, llvm.BranchCase{Val: v, To: target(alt)})
	}

	sortCases(cases)

	last.Term = llvm.Branch{
		Value:   cond,
		Cases:   cases,
		Default: target(mop.Default),
	}

	for _, x := range phis {
		back, ok := c.vals[x.lv.Res.Origin()]
		if !ok {
			return nil, errors.New("loop back edge is unmapped")
		}

		x.phi.Args = append(x.phi.Args, llvm.PhiArg{Pred: last, Value: back})
		c.vals[x.lv.Out] = back
	}

	return exit, nil
}

func (c *bctx) fresh(t types.Type) *llvm.Variable {
	c.seq++

	return &llvm.Variable{
		Name: "t" + strconv.Itoa(c.seq),
		Type: t,
	}
}


func sortCases(cases []llvm.BranchCase) {
	for i := 1; i < len(cases); i++ {
		for j := i; j > 0 && cases[j].Val < cases[j-1].Val; j-- {
			cases[j], cases[j-1] = cases[j-1], cases[j]
		}
	}
}
