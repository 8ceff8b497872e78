package front

import (
	"github.com/halvorlinder/jlm/compiler/llvm"
)

// Structural analysis: the control flow graph is reduced by matching
// linear sequences, branch diamonds and tail-controlled self loops,
// building a parse tree of the function's structure. Node splitting
// duplicates shared continuations when the plain rules get stuck.

type (
	tree interface {
		first() *llvm.Block
		last() *llvm.Block
	}

	leafT struct {
		b *llvm.Block
	}

	linearT struct {
		seq []tree
	}

	armT struct {
		body   tree // nil for an arm that falls straight through
		pred   *llvm.Block
		target *llvm.Block // the terminator's successor the arm covers
	}

	branchT struct {
		head tree
		arms []armT
		join *llvm.Block
	}

	loopT struct {
		body tree
	}

	vertex struct {
		t     tree
		succs []*vertex
		preds map[*vertex]int
	}

	reduceOpts struct {
		emptyArms bool
		split     bool
	}
)

func (t leafT) first() *llvm.Block { return t.b }
func (t leafT) last() *llvm.Block  { return t.b }

func (t linearT) first() *llvm.Block { return t.seq[0].first() }
func (t linearT) last() *llvm.Block  { return t.seq[len(t.seq)-1].last() }

func (t branchT) first() *llvm.Block { return t.head.first() }
func (t branchT) last() *llvm.Block  { return t.join }

func (t loopT) first() *llvm.Block { return t.body.first() }
func (t loopT) last() *llvm.Block  { return t.body.last() }

const maxSplits = 32

// IsStructured reports whether the function's control flow reduces by
// the structural rules, branches with fall-through arms allowed.
func IsStructured(f *llvm.Function) bool {
	_, err := analyze(f, reduceOpts{emptyArms: true})
	return err == nil
}

// IsProperStructured additionally requires every branch arm to be a
// real subgraph: no arm may fall straight through to the join.
func IsProperStructured(f *llvm.Function) bool {
	_, err := analyze(f, reduceOpts{})
	return err == nil
}

// analyze reduces the CFG to a single structure tree.
func analyze(f *llvm.Function, opts reduceOpts) (tree, error) {
	if len(f.Blocks) == 0 {
		return nil, NewIrreducibleCFG(f.Name)
	}

	verts := map[*llvm.Block]*vertex{}
	all := []*vertex(nil)

	for _, b := range f.Blocks {
		v := &vertex{
			t:     leafT{b: b},
			preds: map[*vertex]int{},
		}

		verts[b] = v
		all = append(all, v)
	}

	for _, b := range f.Blocks {
		v := verts[b]

		for _, s := range b.Successors() {
			w := verts[s]

			if !hasSucc(v, w) {
				v.succs = append(v.succs, w)
			}

			w.preds[v]++
		}
	}

	entry := verts[f.Blocks[0]]
	splits := 0

	live := map[*vertex]struct{}{}
	for _, v := range all {
		live[v] = struct{}{}
	}

	for len(live) > 1 {
		if reduceStep(live, opts) {
			continue
		}

		if !opts.split || splits >= maxSplits {
			return nil, NewIrreducibleCFG(f.Name)
		}

		if !splitStep(live, entry) {
			return nil, NewIrreducibleCFG(f.Name)
		}

		splits++
	}

	if len(entry.succs) != 0 {
		// a lone vertex still looping on itself
		if reduceStep(live, opts) && len(entry.succs) == 0 {
			return entry.t, nil
		}

		return nil, NewIrreducibleCFG(f.Name)
	}

	for v := range live {
		return v.t, nil
	}

	return nil, NewIrreducibleCFG(f.Name)
}

func hasSucc(v, w *vertex) bool {
	for _, s := range v.succs {
		if s == w {
			return true
		}
	}

	return false
}

func reduceStep(live map[*vertex]struct{}, opts reduceOpts) bool {
	for _, v := range ordered(live) {
		if reduceLoop(v) || reduceLinear(live, v) || reduceBranch(live, v, opts) {
			return true
		}
	}

	return false
}

// ordered lists the live vertices by their first block, keeping the
// reduction deterministic.
func ordered(live map[*vertex]struct{}) []*vertex {
	list := make([]*vertex, 0, len(live))

	for v := range live {
		list = append(list, v)
	}

	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && blockOrder(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}

	return list
}

// reduceLoop folds a self edge into a tail-controlled loop.
func reduceLoop(v *vertex) bool {
	if !hasSucc(v, v) {
		return false
	}

	v.t = loopT{body: v.t}

	nsuccs := v.succs[:0]
	for _, s := range v.succs {
		if s != v {
			nsuccs = append(nsuccs, s)
		}
	}

	v.succs = nsuccs
	delete(v.preds, v)

	return true
}

// reduceLinear concatenates v with its unique successor.
func reduceLinear(live map[*vertex]struct{}, v *vertex) bool {
	if len(v.succs) != 1 || hasSucc(v, v) {
		return false
	}

	w := v.succs[0]
	if len(w.preds) != 1 || w.preds[v] != 1 || hasSucc(w, w) {
		return false
	}

	v.t = linearT{seq: flatten(v.t, w.t)}
	v.succs = w.succs

	for _, s := range w.succs {
		n := s.preds[w]
		delete(s.preds, w)
		s.preds[v] += n
	}

	delete(live, w)

	return true
}

func flatten(a, b tree) []tree {
	seq := []tree(nil)

	if l, ok := a.(linearT); ok {
		seq = append(seq, l.seq...)
	} else {
		seq = append(seq, a)
	}

	if l, ok := b.(linearT); ok {
		seq = append(seq, l.seq...)
	} else {
		seq = append(seq, b)
	}

	return seq
}

// reduceBranch folds a multi-way split whose arms converge on a single
// join vertex. An arm is either a vertex with v as its only
// predecessor and the join as its only successor, or, when allowed,
// the join itself (a fall-through arm).
func reduceBranch(live map[*vertex]struct{}, v *vertex, opts reduceOpts) bool {
	if len(v.succs) < 2 || hasSucc(v, v) {
		return false
	}

	var join *vertex

	for _, s := range v.succs {
		t := s

		if armVertex(v, s) {
			t = s.succs[0]
		} else if !opts.emptyArms {
			return false
		}

		if join == nil {
			join = t
		} else if join != t {
			return false
		}
	}

	if join == nil || join == v {
		return false
	}

	arms := []armT(nil)

	for _, s := range v.succs {
		if s == join {
			arms = append(arms, armT{pred: v.t.last(), target: join.t.first()})
			continue
		}

		if !armVertex(v, s) {
			return false
		}

		arms = append(arms, armT{body: s.t, pred: s.t.last(), target: s.t.first()})
	}

	for _, s := range v.succs {
		if s == join {
			continue
		}

		delete(join.preds, s)
		delete(live, s)
	}

	delete(join.preds, v)

	v.t = branchT{
		head: v.t,
		arms: arms,
		join: join.t.first(),
	}

	v.succs = []*vertex{join}
	join.preds[v] = 1

	return true
}

// armVertex reports whether s is a proper single-entry single-exit arm
// hanging off v.
func armVertex(v, s *vertex) bool {
	if len(s.succs) != 1 || hasSucc(s, s) {
		return false
	}

	return len(s.preds) == 1 && s.preds[v] > 0
}

// splitStep duplicates a shared continuation vertex per predecessor,
// the node-splitting half of restructuring.
func splitStep(live map[*vertex]struct{}, entry *vertex) bool {
	var w *vertex

	for v := range live {
		if v == entry || len(v.preds) < 2 || len(v.succs) > 1 || hasSucc(v, v) {
			continue
		}

		if w == nil || blockOrder(v, w) {
			w = v
		}
	}

	if w == nil {
		return false
	}

	for p, n := range w.preds {
		cp := &vertex{
			t:     w.t,
			succs: append([]*vertex(nil), w.succs...),
			preds: map[*vertex]int{p: n},
		}

		for i, s := range p.succs {
			if s == w {
				p.succs[i] = cp
			}
		}

		for _, s := range cp.succs {
			s.preds[cp] += n
		}

		live[cp] = struct{}{}
	}

	for _, s := range w.succs {
		delete(s.preds, w)
	}

	delete(live, w)

	return true
}

func blockOrder(a, b *vertex) bool {
	return a.t.first().Index < b.t.first().Index
}

// Restructure rewrites the function so the structural analysis can
// reduce it: unreachable blocks are pruned and multiple returns are
// funneled through a single exit block.
func Restructure(f *llvm.Function) {
	pruneUnreachable(f)
	unifyReturns(f)
}

func pruneUnreachable(f *llvm.Function) {
	if len(f.Blocks) == 0 {
		return
	}

	seen := map[*llvm.Block]struct{}{}

	var walk func(b *llvm.Block)
	walk = func(b *llvm.Block) {
		if _, ok := seen[b]; ok {
			return
		}

		seen[b] = struct{}{}

		for _, s := range b.Successors() {
			walk(s)
		}
	}

	walk(f.Blocks[0])

	if len(seen) == len(f.Blocks) {
		return
	}

	blocks := f.Blocks[:0]

	for _, b := range f.Blocks {
		if _, ok := seen[b]; !ok {
			continue
		}

		b.Index = len(blocks)
		blocks = append(blocks, b)

		phis := b.Phis[:0]

		for _, p := range b.Phis {
			args := p.Args[:0]

			for _, a := range p.Args {
				if _, ok := seen[a.Pred]; ok {
					args = append(args, a)
				}
			}

			p.Args = args
			phis = append(phis, p)
		}

		b.Phis = phis
	}

	f.Blocks = blocks
}

func unifyReturns(f *llvm.Function) {
	rets := []*llvm.Block(nil)

	for _, b := range f.Blocks {
		if _, ok := b.Term.(llvm.Return); ok {
			rets = append(rets, b)
		}
	}

	if len(rets) < 2 {
		return
	}

	exit := f.AddBlock()

	vals := []*llvm.Variable(nil)

	for i, t := range f.FType.Results {
		phi := &llvm.Phi{
			Res: &llvm.Variable{Name: "ret" + string(rune('0'+i)), Type: t},
		}

		for _, b := range rets {
			phi.Args = append(phi.Args, llvm.PhiArg{
				Pred:  b,
				Value: b.Term.(llvm.Return).Vals[i],
			})
		}

		exit.Phis = append(exit.Phis, phi)
		vals = append(vals, phi.Res)
	}

	exit.Term = llvm.Return{Vals: vals}

	for _, b := range rets {
		b.Term = llvm.Jump{To: exit}
	}
}
