package rvsdg

import (
	"tlog.app/go/loc"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Graph is a whole translation unit: the omega construct.
	// The root region holds lambda, delta and phi nodes; imports are root
	// arguments, exports are root results.
	//
	// All registries are per graph. Two graphs never share state.
	Graph struct {
		root *Region

		nf map[OpKind]NormalForm

		// Trace records node creation sites.
		Trace bool
	}

	// Region is an ordered container of nodes with typed arguments and results.
	Region struct {
		graph *Graph
		node  *Node // owning structural node, nil at the root
		index int

		Args    []*Output
		Results []*Input
		Nodes   []*Node
	}

	// SubstMap maps source outputs to their replacements during copy.
	SubstMap map[*Output]*Output

	Linkage int
)

// Linkage attributes of imports, lambdas and deltas.
const (
	ExternalLinkage Linkage = iota
	AvailableExternallyLinkage
	LinkOnceAnyLinkage
	LinkOnceODRLinkage
	WeakAnyLinkage
	WeakODRLinkage
	AppendingLinkage
	InternalLinkage
	PrivateLinkage
	ExternalWeakLinkage
	CommonLinkage
)

func (l Linkage) String() string {
	switch l {
	case ExternalLinkage:
		return "external"
	case AvailableExternallyLinkage:
		return "available_externally"
	case LinkOnceAnyLinkage:
		return "link_once_any"
	case LinkOnceODRLinkage:
		return "link_once_odr"
	case WeakAnyLinkage:
		return "weak_any"
	case WeakODRLinkage:
		return "weak_odr"
	case AppendingLinkage:
		return "appending"
	case InternalLinkage:
		return "internal"
	case PrivateLinkage:
		return "private"
	case ExternalWeakLinkage:
		return "external_weak"
	case CommonLinkage:
		return "common"
	default:
		return "linkage?"
	}
}

// IsExported reports whether a symbol with the linkage is visible
// outside the translation unit.
func (l Linkage) IsExported() bool {
	switch l {
	case InternalLinkage, PrivateLinkage:
		return false
	default:
		return true
	}
}

func New() *Graph {
	g := &Graph{
		nf: map[OpKind]NormalForm{},
	}

	g.root = &Region{
		graph: g,
	}

	return g
}

func (g *Graph) Root() *Region { return g.root }

// AddImport declares an external symbol and returns the root argument
// referencing it.
func (g *Graph) AddImport(t types.Type, name string) *Output {
	return g.root.AddArgument(t, name)
}

// AddExport exposes origin outside the translation unit.
func (g *Graph) AddExport(origin *Output, name string) (*Input, error) {
	return g.root.AddResult(origin, name)
}

func (r *Region) Graph() *Graph { return r.graph }

// Node is the owning structural node, nil for the root region.
func (r *Region) Node() *Node { return r.node }

// Index is the subregion index within the owning node.
func (r *Region) Index() int { return r.index }

func (r *Region) AddArgument(t types.Type, name string) *Output {
	a := &Output{
		region: r,
		index:  len(r.Args),
		typ:    t,
		Name:   name,
		users:  map[*Input]struct{}{},
	}

	r.Args = append(r.Args, a)

	return a
}

func (r *Region) AddResult(origin *Output, name string) (*Input, error) {
	res := &Input{
		region: r,
		index:  len(r.Results),
		typ:    origin.typ,
		Name:   name,
	}

	err := res.SetOrigin(origin)
	if err != nil {
		return nil, err
	}

	r.Results = append(r.Results, res)

	return res, nil
}

func (r *Region) removeArgument(i int) {
	if len(r.Args[i].users) != 0 {
		panic(NewNodeInUse("argument", len(r.Args[i].users)))
	}

	r.Args = append(r.Args[:i], r.Args[i+1:]...)

	for j := i; j < len(r.Args); j++ {
		r.Args[j].index = j
	}
}

func (r *Region) removeResult(i int) {
	res := r.Results[i]
	delete(res.origin.users, res)

	r.Results = append(r.Results[:i], r.Results[i+1:]...)

	for j := i; j < len(r.Results); j++ {
		r.Results[j].index = j
	}
}

func (r *Region) newNode(op Operation) *Node {
	n := &Node{
		region: r,
		op:     op,
	}

	if r.graph.Trace {
		n.from = loc.Caller(2)
	}

	r.Nodes = append(r.Nodes, n)

	return n
}

func (n *Node) addSubregion() *Region {
	sub := &Region{
		graph: n.region.graph,
		node:  n,
		index: len(n.subs),
	}

	n.subs = append(n.subs, sub)

	return sub
}

func (r *Region) removeNode(n *Node) {
	for i, x := range r.Nodes {
		if x == n {
			r.Nodes = append(r.Nodes[:i], r.Nodes[i+1:]...)
			break
		}
	}

	n.region = nil
}

// Remove detaches the node from its region.
// It fails if any output still has users.
func (n *Node) Remove() error {
	for _, o := range n.outs {
		if len(o.users) != 0 {
			return NewNodeInUse(n.op.String(), len(o.users))
		}
	}

	for i := len(n.ins) - 1; i >= 0; i-- {
		n.removeInput(i)
	}

	n.region.removeNode(n)

	return nil
}

// TopNodes lists the region's nodes producers-first.
func (r *Region) TopNodes() []*Node {
	depth := map[*Node]int{}

	var nodeDepth func(n *Node) int
	nodeDepth = func(n *Node) int {
		if d, ok := depth[n]; ok {
			return d
		}

		depth[n] = 0 // cycles only through theta back-edges, which cross a region

		d := 0

		for _, in := range n.ins {
			p := in.origin.node
			if p == nil {
				continue
			}

			if pd := nodeDepth(p) + 1; pd > d {
				d = pd
			}
		}

		depth[n] = d

		return d
	}

	list := make([]*Node, len(r.Nodes))
	copy(list, r.Nodes)

	for _, n := range list {
		nodeDepth(n)
	}

	sortNodesByDepth(list, depth)

	return list
}

// Prune removes nodes without users, transitively, descending into
// subregions. It never removes a node with users. It reports whether
// anything was removed.
func (g *Graph) Prune() bool {
	return g.root.prune()
}

func (r *Region) prune() (changed bool) {
	for {
		dead := []*Node(nil)

		for _, n := range r.Nodes {
			if !n.HasUsers() {
				dead = append(dead, n)
			}
		}

		if len(dead) == 0 {
			break
		}

		for _, n := range dead {
			_ = n.Remove()
			changed = true
		}
	}

	for _, n := range r.Nodes {
		for _, sub := range n.subs {
			if sub.prune() {
				changed = true
			}
		}
	}

	return changed
}
