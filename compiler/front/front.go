package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	moduleCtx struct {
		m *llvm.Module
		g *rvsdg.Graph

		// module-level symbol values at the omega root
		scope map[string]*rvsdg.Output
	}

	// fctx carries the conversion state of one region: the variable
	// environment and the running memory state edge.
	fctx struct {
		mc *moduleCtx

		lambda *rvsdg.LambdaNode
		f      *llvm.Function

		r     *rvsdg.Region
		env   map[*llvm.Variable]*rvsdg.Output
		state *rvsdg.Output

		// symbols routed into the lambda so far
		ctxvars map[string]*rvsdg.Output

		// symbol overrides inside a phi construct
		recvars map[string]*rvsdg.Output
	}
)

// Destruct converts an LLVM-like module into an RVSDG: one lambda per
// function, one delta per global, phi constructs for mutually
// recursive groups, imports and exports at the omega root.
func Destruct(ctx context.Context, m *llvm.Module) (_ *rvsdg.Graph, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: destruct module", "name", m.Name)
	defer tr.Finish("err", &err)

	mc := &moduleCtx{
		m:     m,
		g:     rvsdg.New(),
		scope: map[string]*rvsdg.Output{},
	}

	for _, gl := range m.Globals {
		if gl.Init != nil {
			continue
		}

		mc.scope[gl.Name] = mc.g.AddImport(types.Pointer{}, gl.Name)
	}

	for _, f := range m.Funcs {
		if !f.IsDecl() {
			continue
		}

		mc.scope[f.Name] = mc.g.AddImport(extendFT(f.FType), f.Name)
	}

	for _, gl := range m.Globals {
		if gl.Init == nil {
			continue
		}

		err = mc.delta(gl)
		if err != nil {
			return nil, errors.Wrap(err, "global %v", gl.Name)
		}
	}

	for _, group := range callGroups(m) {
		err = mc.convertGroup(ctx, group)
		if err != nil {
			return nil, err
		}
	}

	for _, gl := range m.Globals {
		if gl.Init != nil && gl.Linkage.IsExported() {
			_, err = mc.g.AddExport(mc.scope[gl.Name], gl.Name)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, f := range m.Funcs {
		if !f.IsDecl() && f.Linkage.IsExported() {
			_, err = mc.g.AddExport(mc.scope[f.Name], f.Name)
			if err != nil {
				return nil, err
			}
		}
	}

	tr.Printw("destructed", "funcs", len(m.Funcs), "globals", len(m.Globals))

	return mc.g, nil
}

// extendFT threads the memory state through the function signature.
func extendFT(ft types.Function) types.Function {
	return types.Function{
		Params:  append(append([]types.Type(nil), ft.Params...), types.Memory{}),
		Results: append(append([]types.Type(nil), ft.Results...), types.Memory{}),
	}
}

func (mc *moduleCtx) delta(gl *llvm.Global) error {
	d := rvsdg.NewDelta(mc.g.Root(), rvsdg.DeltaOp{
		Name:     gl.Name,
		Linkage:  gl.Linkage,
		Constant: gl.Constant,
		VType:    gl.VType,
	})

	outs, err := rvsdg.Create(d.Subregion(), gl.Init)
	if err != nil {
		return err
	}

	out, err := d.Finalize(outs[0])
	if err != nil {
		return err
	}

	mc.scope[gl.Name] = out

	return nil
}

// convertGroup converts one call-graph component: a plain lambda for a
// non-recursive function, a phi construct for a recursive group.
func (mc *moduleCtx) convertGroup(ctx context.Context, group []*llvm.Function) (err error) {
	if len(group) == 1 && !refersTo(group[0], group[0].Name) {
		f := group[0]

		out, err := mc.lambda(ctx, mc.g.Root(), f, nil)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}

		mc.scope[f.Name] = out

		return nil
	}

	pn := rvsdg.NewPhi(mc.g.Root())

	recvars := map[string]*rvsdg.Output{}

	for _, f := range group {
		arg, err := pn.AddRecVar(extendFT(f.FType))
		if err != nil {
			return err
		}

		recvars[f.Name] = arg
	}

	defs := []*rvsdg.Output(nil)

	for _, f := range group {
		out, err := mc.lambda(ctx, pn.Subregion(), f, recvars)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}

		defs = append(defs, out)
	}

	err = pn.Finalize(defs)
	if err != nil {
		return err
	}

	for i, f := range group {
		mc.scope[f.Name] = pn.RecVar(i).Out
	}

	return nil
}

// lambda converts one function body.
func (mc *moduleCtx) lambda(ctx context.Context, r *rvsdg.Region, f *llvm.Function, recvars map[string]*rvsdg.Output) (_ *rvsdg.Output, err error) {
	tr := tlog.SpanFromContext(ctx)

	Restructure(f)

	t, err := analyze(f, reduceOpts{emptyArms: true, split: true})
	if err != nil {
		return nil, err
	}

	ft := extendFT(f.FType)

	ln := rvsdg.NewLambda(r, rvsdg.LambdaOp{
		Name:    f.Name,
		Linkage: f.Linkage,
		FType:   ft,
	})

	c := &fctx{
		mc:      mc,
		lambda:  ln,
		f:       f,
		r:       ln.Subregion(),
		env:     map[*llvm.Variable]*rvsdg.Output{},
		ctxvars: map[string]*rvsdg.Output{},
		recvars: recvars,
	}

	for i, p := range f.Params {
		c.env[p] = ln.Argument(i)
	}

	c.state = ln.Argument(len(f.Params))

	// resolve module-level symbols up front: context variables live at
	// the lambda level and are routed into subregions like any value
	for _, b := range f.Blocks {
		for _, tac := range b.Code {
			sym, ok := tac.Op.(llvm.SymbolOp)
			if !ok {
				continue
			}

			o, err := c.symbol(sym.Name)
			if err != nil {
				return nil, err
			}

			c.env[tac.Res[0]] = o
		}
	}

	err = c.tree(t)
	if err != nil {
		return nil, err
	}

	ret, err := returnOf(t)
	if err != nil {
		return nil, err
	}

	results := []*rvsdg.Output(nil)

	for _, v := range ret.Vals {
		o, err := c.value(v)
		if err != nil {
			return nil, err
		}

		results = append(results, o)
	}

	results = append(results, c.state)

	out, err := ln.Finalize(results)
	if err != nil {
		return nil, err
	}

	if tr.If("dump_lambda") {
		tr.Printw("lambda converted", "name", f.Name, "blocks", len(f.Blocks))
	}

	return out, nil
}

func returnOf(t tree) (llvm.Return, error) {
	ret, ok := t.last().Term.(llvm.Return)
	if !ok {
		return llvm.Return{}, errors.New("function does not end in a return")
	}

	return ret, nil
}

func (c *fctx) value(v *llvm.Variable) (*rvsdg.Output, error) {
	o, ok := c.env[v]
	if !ok {
		return nil, errors.New("undefined value %v", v.Name)
	}

	return o, nil
}

// symbol routes a module-level symbol into the current lambda through
// a context variable, or resolves it to a recursion variable inside a
// phi construct.
func (c *fctx) symbol(name string) (*rvsdg.Output, error) {
	if o, ok := c.ctxvars[name]; ok {
		return o, nil
	}

	origin, ok := c.recvars[name]
	if !ok {
		origin, ok = c.mc.scope[name]
	}

	if !ok {
		return nil, errors.New("unknown symbol %v", name)
	}

	cv, err := c.lambda.AddCtxVar(origin)
	if err != nil {
		return nil, err
	}

	c.ctxvars[name] = cv.Arg

	return cv.Arg, nil
}

func (c *fctx) tree(t tree) error {
	switch t := t.(type) {
	case leafT:
		return c.leaf(t.b)
	case linearT:
		for _, s := range t.seq {
			err := c.tree(s)
			if err != nil {
				return err
			}
		}

		return nil
	case branchT:
		return c.branch(t)
	case loopT:
		return c.loop(t)
	default:
		panic(t)
	}
}

func (c *fctx) leaf(b *llvm.Block) error {
	for _, p := range b.Phis {
		if _, ok := c.env[p.Res]; ok {
			continue // resolved by the enclosing gamma or theta
		}

		if len(p.Args) != 1 {
			return errors.New("unresolved phi with %d operands in block %d", len(p.Args), b.Index)
		}

		o, err := c.value(p.Args[0].Value)
		if err != nil {
			return err
		}

		c.env[p.Res] = o
	}

	for _, tac := range b.Code {
		err := c.tac(tac)
		if err != nil {
			return errors.Wrap(err, "block %d: %v", b.Index, tac.Op)
		}
	}

	return nil
}

func (c *fctx) tac(tac *llvm.Tac) error {
	args := make([]*rvsdg.Output, len(tac.Args))

	for i, v := range tac.Args {
		o, err := c.value(v)
		if err != nil {
			return err
		}

		args[i] = o
	}

	var outs []*rvsdg.Output
	var err error

	switch op := tac.Op.(type) {
	case llvm.SymbolOp:
		// resolved to a context variable before conversion; a symbol
		// missing here has no user in this region
		return nil
	case llvm.AllocaOp:
		outs, err = rvsdg.Create(c.r, op, args...)
		if err != nil {
			return err
		}

		// the fresh location joins the function's memory state
		c.state, err = llvm.MemStateMerge(c.r, []*rvsdg.Output{outs[1], c.state})
		if err != nil {
			return err
		}

		outs = outs[:1]
	case llvm.MallocOp:
		outs, err = rvsdg.Create(c.r, op, args...)
		if err != nil {
			return err
		}

		c.state, err = llvm.MemStateMerge(c.r, []*rvsdg.Output{outs[1], c.state})
		if err != nil {
			return err
		}

		outs = outs[:1]
	case llvm.LoadOp:
		op.NStates = 1

		outs, err = rvsdg.Create(c.r, op, append(args, c.state)...)
		if err != nil {
			return err
		}

		c.state = outs[1]
		outs = outs[:1]
	case llvm.StoreOp:
		op.NStates = 1

		outs, err = rvsdg.Create(c.r, op, append(args, c.state)...)
		if err != nil {
			return err
		}

		c.state = outs[0]
		outs = nil
	case llvm.FreeOp:
		op.NStates = 1

		outs, err = rvsdg.Create(c.r, op, append(args, c.state)...)
		if err != nil {
			return err
		}

		c.state = outs[0]
		outs = nil
	case llvm.MemcpyOp:
		op.NStates = 1

		outs, err = rvsdg.Create(c.r, op, append(args, c.state)...)
		if err != nil {
			return err
		}

		c.state = outs[0]
		outs = nil
	case llvm.CallOp:
		xop := llvm.CallOp{FT: extendFT(op.FT)}

		outs, err = rvsdg.Create(c.r, xop, append(args, c.state)...)
		if err != nil {
			return err
		}

		c.state = outs[len(outs)-1]
		outs = outs[:len(outs)-1]
	default:
		outs, err = rvsdg.Create(c.r, tac.Op, args...)
		if err != nil {
			return err
		}
	}

	if len(outs) != len(tac.Res) {
		return errors.New("%v: want %d results, got %d", tac.Op, len(tac.Res), len(outs))
	}

	for i, v := range tac.Res {
		c.env[v] = outs[i]
	}

	return nil
}

// branch converts a reduced branch diamond into a gamma node.
func (c *fctx) branch(t branchT) error {
	err := c.tree(t.head)
	if err != nil {
		return err
	}

	b, ok := t.head.last().Term.(llvm.Branch)
	if !ok {
		return errors.New("branch head does not end in a branch")
	}

	k := len(t.arms)

	armOf := map[*llvm.Block]int{}
	for i, arm := range t.arms {
		armOf[arm.target] = i
	}

	mapping := map[uint64]uint64{}
	for _, cs := range b.Cases {
		mapping[cs.Val] = uint64(armOf[cs.To])
	}

	cond, err := c.value(b.Value)
	if err != nil {
		return err
	}

	w, ok := cond.Type().(types.Bits)
	if !ok {
		return NewUnsupportedOperation(rvsdg.MatchOp{})
	}

	pred, err := rvsdg.Match(w.Width, mapping, uint64(armOf[b.Default]), k, cond)
	if err != nil {
		return err
	}

	gn, err := rvsdg.NewGamma(pred, k)
	if err != nil {
		return err
	}

	// route the live-ins; values defined inside the arms route out
	// through the join's phis instead
	live := []*llvm.Variable(nil)
	seen := map[*llvm.Variable]struct{}{}

	add := func(v *llvm.Variable) {
		if _, ok := seen[v]; ok {
			return
		}
		if _, ok := c.env[v]; !ok {
			return
		}

		seen[v] = struct{}{}
		live = append(live, v)
	}

	for _, arm := range t.arms {
		for _, v := range usedVars(arm.body) {
			add(v)
		}
	}

	for _, p := range t.join.Phis {
		for _, a := range p.Args {
			add(a.Value)
		}
	}

	subenv := make([]map[*llvm.Variable]*rvsdg.Output, k)
	for i := range subenv {
		subenv[i] = map[*llvm.Variable]*rvsdg.Output{}
	}

	for _, v := range live {
		o, err := c.value(v)
		if err != nil {
			return err
		}

		ev, err := gn.AddEntryVar(o)
		if err != nil {
			return err
		}

		for i := range subenv {
			subenv[i][v] = ev.Args[i]
		}
	}

	sev, err := gn.AddEntryVar(c.state)
	if err != nil {
		return err
	}

	armStates := make([]*rvsdg.Output, k)

	for i, arm := range t.arms {
		sub := *c
		sub.r = gn.Subregion(i)
		sub.env = subenv[i]
		sub.state = sev.Args[i]

		if arm.body != nil {
			err = sub.tree(arm.body)
			if err != nil {
				return err
			}
		}

		subenv[i] = sub.env
		armStates[i] = sub.state
	}

	// recover the join's phis as exit variables
	for _, p := range t.join.Phis {
		origins := make([]*rvsdg.Output, k)

		for i, arm := range t.arms {
			v := phiValueFor(p, arm.pred)
			if v == nil {
				return errors.New("phi in block %d misses an edge", t.join.Index)
			}

			o, ok := subenv[i][v]
			if !ok {
				o, err = c.value(v)
				if err != nil {
					return err
				}
			}

			origins[i] = o
		}

		xv, err := gn.AddExitVar(origins)
		if err != nil {
			return err
		}

		c.env[p.Res] = xv.Out
	}

	sxv, err := gn.AddExitVar(armStates)
	if err != nil {
		return err
	}

	c.state = sxv.Out

	return nil
}

func phiValueFor(p *llvm.Phi, pred *llvm.Block) *llvm.Variable {
	for _, a := range p.Args {
		if a.Pred == pred {
			return a.Value
		}
	}

	return nil
}

// loop converts a reduced self loop into a theta node.
func (c *fctx) loop(t loopT) error {
	head := t.body.first()
	tail := t.body.last()

	b, ok := tail.Term.(llvm.Branch)
	if !ok {
		return errors.New("loop tail does not end in a branch")
	}

	th := rvsdg.NewTheta(c.r)
	sub := *c
	sub.r = th.Subregion()
	sub.env = map[*llvm.Variable]*rvsdg.Output{}

	type lvar struct {
		v    *llvm.Variable
		lv   rvsdg.LoopVar
		back *llvm.Variable // the value fed around the back edge, nil for invariants
	}

	lvars := []lvar(nil)

	// header phis become genuine loop variables
	for _, p := range head.Phis {
		var init, back *llvm.Variable

		for _, a := range p.Args {
			if inTree(t.body, a.Pred) {
				back = a.Value
			} else {
				init = a.Value
			}
		}

		if init == nil || back == nil {
			return errors.New("loop header phi is not an entry/back-edge pair")
		}

		o, err := c.value(init)
		if err != nil {
			return err
		}

		lv, err := th.AddLoopVar(o)
		if err != nil {
			return err
		}

		sub.env[p.Res] = lv.Arg
		lvars = append(lvars, lvar{v: p.Res, lv: lv, back: back})
	}

	// outer values used in the body ride along invariantly
	for _, v := range usedVars(t.body) {
		if _, ok := sub.env[v]; ok {
			continue
		}

		o, ok := c.env[v]
		if !ok {
			continue // defined inside the body
		}

		lv, err := th.AddLoopVar(o)
		if err != nil {
			return err
		}

		sub.env[v] = lv.Arg
		lvars = append(lvars, lvar{v: v, lv: lv})
	}

	// body definitions used after the loop leave through loop variables
	escaping := escapingDefs(c.f, t.body)

	type evar struct {
		v  *llvm.Variable
		lv rvsdg.LoopVar
	}

	evars := []evar(nil)

	for _, v := range escaping {
		if _, ok := sub.env[v]; ok {
			continue // already a loop variable
		}

		vt, ok := v.Type.(types.ValueType)
		if !ok {
			return errors.New("loop escape %v: not a value type", v.Name)
		}

		// undefined before the first iteration; the body runs at
		// least once and assigns it
		o, err := llvm.Undef(c.r, vt)
		if err != nil {
			return err
		}

		lv, err := th.AddLoopVar(o)
		if err != nil {
			return err
		}

		evars = append(evars, evar{v: v, lv: lv})
	}

	slv, err := th.AddLoopVar(c.state)
	if err != nil {
		return err
	}

	sub.state = slv.Arg

	err = sub.tree(t.body)
	if err != nil {
		return err
	}

	// wire the back edges
	for _, x := range lvars {
		if x.back == nil {
			continue
		}

		o, ok := sub.env[x.back]
		if !ok {
			o, err = c.value(x.back)
			if err != nil {
				return err
			}
		}

		err = x.lv.Res.SetOrigin(o)
		if err != nil {
			return err
		}
	}

	for _, x := range evars {
		o, err := sub.value(x.v)
		if err != nil {
			return err
		}

		err = x.lv.Res.SetOrigin(o)
		if err != nil {
			return err
		}
	}

	err = slv.Res.SetOrigin(sub.state)
	if err != nil {
		return err
	}

	// the tail branch becomes the continue/exit predicate
	cond, ok := sub.env[b.Value]
	if !ok {
		return errors.New("loop predicate not defined in the body")
	}

	w, ok := cond.Type().(types.Bits)
	if !ok {
		return NewUnsupportedOperation(rvsdg.MatchOp{})
	}

	mapping := map[uint64]uint64{}

	for _, cs := range b.Cases {
		mapping[cs.Val] = predAlt(cs.To, head)
	}

	pred, err := rvsdg.Match(w.Width, mapping, predAlt(b.Default, head), 2, cond)
	if err != nil {
		return err
	}

	err = th.SetPredicate(pred)
	if err != nil {
		return err
	}

	// loop results become visible to the continuation
	for _, x := range lvars {
		c.env[x.v] = x.lv.Out
	}

	for _, x := range evars {
		c.env[x.v] = x.lv.Out
	}

	c.state = slv.Out

	return nil
}

func predAlt(target, head *llvm.Block) uint64 {
	if target == head {
		return 1 // continue
	}

	return 0 // exit
}

// inTree reports whether block b belongs to the subtree.
func inTree(t tree, b *llvm.Block) bool {
	switch t := t.(type) {
	case nil:
		return false
	case leafT:
		return t.b == b
	case linearT:
		for _, s := range t.seq {
			if inTree(s, b) {
				return true
			}
		}

		return false
	case branchT:
		if inTree(t.head, b) {
			return true
		}

		for _, arm := range t.arms {
			if inTree(arm.body, b) {
				return true
			}
		}

		return false
	case loopT:
		return inTree(t.body, b)
	default:
		panic(t)
	}
}

// usedVars collects the variables a subtree reads, in first-use order.
func usedVars(t tree) []*llvm.Variable {
	vars := []*llvm.Variable(nil)
	seen := map[*llvm.Variable]struct{}{}

	use := func(v *llvm.Variable) {
		if v == nil {
			return
		}

		if _, ok := seen[v]; ok {
			return
		}

		seen[v] = struct{}{}
		vars = append(vars, v)
	}

	walkBlocks(t, func(b *llvm.Block) {
		for _, p := range b.Phis {
			for _, a := range p.Args {
				use(a.Value)
			}
		}

		for _, tac := range b.Code {
			for _, a := range tac.Args {
				use(a)
			}
		}

		switch term := b.Term.(type) {
		case llvm.Branch:
			use(term.Value)
		case llvm.Return:
			for _, v := range term.Vals {
				use(v)
			}
		}
	})

	return vars
}

// escapingDefs collects variables defined in the subtree and used
// outside it.
func escapingDefs(f *llvm.Function, t tree) []*llvm.Variable {
	defs := map[*llvm.Variable]struct{}{}

	walkBlocks(t, func(b *llvm.Block) {
		for _, p := range b.Phis {
			defs[p.Res] = struct{}{}
		}

		for _, tac := range b.Code {
			for _, v := range tac.Res {
				defs[v] = struct{}{}
			}
		}
	})

	esc := []*llvm.Variable(nil)
	seen := map[*llvm.Variable]struct{}{}

	for _, b := range f.Blocks {
		if inTree(t, b) {
			continue
		}

		for _, v := range usedVars(leafT{b: b}) {
			if _, ok := defs[v]; !ok {
				continue
			}

			if _, ok := seen[v]; ok {
				continue
			}

			seen[v] = struct{}{}
			esc = append(esc, v)
		}
	}

	return esc
}

func walkBlocks(t tree, f func(b *llvm.Block)) {
	switch t := t.(type) {
	case nil:
	case leafT:
		f(t.b)
	case linearT:
		for _, s := range t.seq {
			walkBlocks(s, f)
		}
	case branchT:
		walkBlocks(t.head, f)

		for _, arm := range t.arms {
			walkBlocks(arm.body, f)
		}
	case loopT:
		walkBlocks(t.body, f)
	default:
		panic(t)
	}
}

// callGroups partitions the functions with bodies into call-graph
// components, callees first.
func callGroups(m *llvm.Module) [][]*llvm.Function {
	funcs := []*llvm.Function(nil)

	for _, f := range m.Funcs {
		if !f.IsDecl() {
			funcs = append(funcs, f)
		}
	}

	index := map[*llvm.Function]int{}
	low := map[*llvm.Function]int{}
	onstack := map[*llvm.Function]bool{}
	stack := []*llvm.Function(nil)
	next := 0

	groups := [][]*llvm.Function(nil)

	var strongconnect func(f *llvm.Function)
	strongconnect = func(f *llvm.Function) {
		index[f] = next
		low[f] = next
		next++

		stack = append(stack, f)
		onstack[f] = true

		for _, callee := range refs(m, f) {
			if callee.IsDecl() {
				continue
			}

			if _, ok := index[callee]; !ok {
				strongconnect(callee)

				if low[callee] < low[f] {
					low[f] = low[callee]
				}
			} else if onstack[callee] && index[callee] < low[f] {
				low[f] = index[callee]
			}
		}

		if low[f] != index[f] {
			return
		}

		group := []*llvm.Function(nil)

		for {
			g := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onstack[g] = false

			group = append(group, g)

			if g == f {
				break
			}
		}

		// the stack pops in reverse; restore discovery order within the group
		for i, j := 0, len(group)-1; i < j; i, j = i+1, j-1 {
			group[i], group[j] = group[j], group[i]
		}

		groups = append(groups, group)
	}

	for _, f := range funcs {
		if _, ok := index[f]; !ok {
			strongconnect(f)
		}
	}

	return groups
}

func refs(m *llvm.Module, f *llvm.Function) []*llvm.Function {
	out := []*llvm.Function(nil)
	seen := map[*llvm.Function]struct{}{}

	for _, b := range f.Blocks {
		for _, tac := range b.Code {
			sym, ok := tac.Op.(llvm.SymbolOp)
			if !ok {
				continue
			}

			callee := m.Func(sym.Name)
			if callee == nil {
				continue
			}

			if _, ok := seen[callee]; ok {
				continue
			}

			seen[callee] = struct{}{}
			out = append(out, callee)
		}
	}

	return out
}

func refersTo(f *llvm.Function, name string) bool {
	for _, b := range f.Blocks {
		for _, tac := range b.Code {
			if sym, ok := tac.Op.(llvm.SymbolOp); ok && sym.Name == name {
				return true
			}
		}
	}

	return false
}
