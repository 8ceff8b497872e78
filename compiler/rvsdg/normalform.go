package rvsdg

type (
	// NormalForm holds the rewrite laws of one operation class.
	// Instances live in the per-graph registry and keep a link to
	// their parent class's normal form (Parent). Each instance holds
	// its own attribute values; they are not looked up through the parent.
	NormalForm interface {
		// NormalizeNode checks all enabled rules on an existing node.
		// If one fires it applies it, diverting users to the
		// replacement, and reports true.
		NormalizeNode(n *Node) bool

		// NormalizedCreate materializes op(args), either returning
		// existing outputs a rule reduces to, or creating the node.
		NormalizedCreate(r *Region, op Operation, args []*Output) ([]*Output, error)

		SetMutable(enable bool)
		Mutable() bool

		Parent() NormalForm
	}

	// SimpleNormalForm implements dead-code-safe common subexpression
	// merging for plain operations.
	SimpleNormalForm struct {
		graph  *Graph
		parent NormalForm

		mutable bool
		cse     bool
	}
)

func NewSimpleNormalForm(g *Graph, parent NormalForm) *SimpleNormalForm {
	return &SimpleNormalForm{
		graph:   g,
		parent:  parent,
		mutable: true,
		cse:     true,
	}
}

func (nf *SimpleNormalForm) Parent() NormalForm { return nf.parent }

func (nf *SimpleNormalForm) SetMutable(enable bool) { nf.mutable = enable }
func (nf *SimpleNormalForm) Mutable() bool          { return nf.mutable }

func (nf *SimpleNormalForm) SetCSE(enable bool) { nf.cse = enable }
func (nf *SimpleNormalForm) CSE() bool          { return nf.cse && nf.mutable }

func (nf *SimpleNormalForm) NormalizeNode(n *Node) bool {
	if !nf.CSE() || !n.HasUsers() {
		return false
	}

	congruent := findCongruent(n.region, n.op, origins(n), n)
	if congruent == nil || regionPos(congruent) > regionPos(n) {
		return false
	}

	for i, o := range n.outs {
		_ = o.Divert(congruent.outs[i])
	}

	return true
}

func (nf *SimpleNormalForm) NormalizedCreate(r *Region, op Operation, args []*Output) ([]*Output, error) {
	if nf.CSE() {
		if congruent := findCongruent(r, op, args, nil); congruent != nil {
			return congruent.outs, nil
		}
	}

	n, err := SimpleNode(r, op, args...)
	if err != nil {
		return nil, err
	}

	return n.outs, nil
}

func origins(n *Node) []*Output {
	args := make([]*Output, len(n.ins))

	for i, in := range n.ins {
		args[i] = in.origin
	}

	return args
}

// regionPos is the node's position in its region's order. Congruent
// nodes merge into the earliest one so the rewrite cannot oscillate.
func regionPos(n *Node) int {
	for i, x := range n.region.Nodes {
		if x == n {
			return i
		}
	}

	return -1
}

// findCongruent locates a node in r computing op over exactly args,
// skipping the node being normalized itself.
func findCongruent(r *Region, op Operation, args []*Output, skip *Node) *Node {
	if len(args) == 0 {
		// nullary ops are distinguished by their operation only
		for _, n := range r.Nodes {
			if n != skip && !n.IsStructural() && len(n.ins) == 0 && n.op.Equals(op) {
				return n
			}
		}

		return nil
	}

	// candidates are users of the first operand
	for u := range args[0].users {
		n := u.node
		if n == nil || n == skip || n.IsStructural() || u.index != 0 {
			continue
		}

		if !n.op.Equals(op) || len(n.ins) != len(args) {
			continue
		}

		same := true

		for i, in := range n.ins {
			if in.origin != args[i] {
				same = false
				break
			}
		}

		if same {
			return n
		}
	}

	return nil
}

// Normalize applies every enabled normal form rule until fixed point,
// descending into subregions. It reports whether any rule fired.
func (g *Graph) Normalize() (changed bool) {
	for g.normalizeRegion(g.root) {
		changed = true
	}

	return changed
}

func (g *Graph) normalizeRegion(r *Region) (changed bool) {
	for _, n := range r.TopNodes() {
		if n.region == nil { // removed by an earlier rewrite
			continue
		}

		for _, sub := range n.subs {
			if g.normalizeRegion(sub) {
				changed = true
			}
		}

		if g.opNormalForm(n.op).NormalizeNode(n) {
			changed = true
		}
	}

	return changed
}

// Create materializes op(args) in r through the op's normal form.
func Create(r *Region, op Operation, args ...*Output) ([]*Output, error) {
	return r.graph.opNormalForm(op).NormalizedCreate(r, op, args)
}
