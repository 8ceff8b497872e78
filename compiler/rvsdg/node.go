package rvsdg

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Output is a typed producer port: a node output or a region argument.
	Output struct {
		node   *Node
		region *Region
		index  int
		typ    types.Type

		// port name at the omega root (imports, lambda arguments)
		Name string

		users map[*Input]struct{}
	}

	// Input is a typed consumer port: a node input or a region result.
	// Every input is connected to exactly one origin.
	Input struct {
		node   *Node
		region *Region
		index  int
		typ    types.Type

		Name string

		origin *Output
	}

	// Node is a simple or structural graph node.
	// Structural nodes own subregions; simple nodes have none.
	Node struct {
		region *Region
		op     Operation

		ins  []*Input
		outs []*Output
		subs []*Region

		from loc.PC
	}
)

func (o *Output) Type() types.Type { return o.typ }
func (o *Output) Index() int       { return o.index }

// Node is the producing node, nil for a region argument.
func (o *Output) Node() *Node { return o.node }

// Region is the region the output is visible in.
func (o *Output) Region() *Region { return o.region }

func (o *Output) NUsers() int {
	return len(o.users)
}

func (o *Output) Users(f func(in *Input) bool) {
	for in := range o.users {
		if !f(in) {
			return
		}
	}
}

func (i *Input) Type() types.Type { return i.typ }
func (i *Input) Index() int       { return i.index }
func (i *Input) Origin() *Output  { return i.origin }

// Node is the consuming node, nil for a region result.
func (i *Input) Node() *Node { return i.node }

// Region is the region the input belongs to.
func (i *Input) Region() *Region {
	if i.node != nil {
		return i.node.region
	}

	return i.region
}

// SetOrigin rewires the input to a new origin in the same region.
func (i *Input) SetOrigin(o *Output) error {
	if !types.Equal(i.typ, o.typ) {
		return NewTypeMismatch(i.typ, o.typ)
	}

	if o.region != i.Region() {
		return NewScopeViolation("origin and input belong to different regions")
	}

	if i.origin != nil {
		delete(i.origin.users, i)
	}

	i.origin = o
	o.users[i] = struct{}{}

	return nil
}

// Divert retargets every user of o to the output to.
// Both outputs must be visible in the same region.
func (o *Output) Divert(to *Output) error {
	if o == to {
		return nil
	}

	if !types.Equal(o.typ, to.typ) {
		return NewTypeMismatch(o.typ, to.typ)
	}

	if o.region != to.region {
		return NewScopeViolation("divert across region boundary")
	}

	for in := range o.users {
		in.origin = to
		to.users[in] = struct{}{}
		delete(o.users, in)
	}

	return nil
}

func (n *Node) Op() Operation   { return n.op }
func (n *Node) Region() *Region { return n.region }
func (n *Node) From() loc.PC    { return n.from }

func (n *Node) NInputs() int  { return len(n.ins) }
func (n *Node) NOutputs() int { return len(n.outs) }

func (n *Node) Input(i int) *Input   { return n.ins[i] }
func (n *Node) Output(i int) *Output { return n.outs[i] }

func (n *Node) Inputs() []*Input   { return n.ins }
func (n *Node) Outputs() []*Output { return n.outs }

func (n *Node) NSubregions() int        { return len(n.subs) }
func (n *Node) Subregion(i int) *Region { return n.subs[i] }
func (n *Node) Subregions() []*Region   { return n.subs }

func (n *Node) IsStructural() bool {
	return len(n.subs) != 0
}

// HasUsers reports whether any output of the node is consumed.
func (n *Node) HasUsers() bool {
	for _, o := range n.outs {
		if len(o.users) != 0 {
			return true
		}
	}

	return false
}

func (n *Node) addInput(t types.Type, origin *Output) (*Input, error) {
	in := &Input{
		node:  n,
		index: len(n.ins),
		typ:   t,
	}

	err := in.SetOrigin(origin)
	if err != nil {
		return nil, err
	}

	n.ins = append(n.ins, in)

	return in, nil
}

func (n *Node) addOutput(t types.Type) *Output {
	o := &Output{
		node:   n,
		region: n.region,
		index:  len(n.outs),
		typ:    t,
		users:  map[*Input]struct{}{},
	}

	n.outs = append(n.outs, o)

	return o
}

// removeInput drops input i, keeping user sets consistent.
// Indices of later inputs shift down by one.
func (n *Node) removeInput(i int) {
	in := n.ins[i]
	delete(in.origin.users, in)

	n.ins = append(n.ins[:i], n.ins[i+1:]...)

	for j := i; j < len(n.ins); j++ {
		n.ins[j].index = j
	}
}

// removeOutput drops output i. The output must have no users.
func (n *Node) removeOutput(i int) {
	if len(n.outs[i].users) != 0 {
		panic(NewNodeInUse(n.op.String(), len(n.outs[i].users)))
	}

	n.outs = append(n.outs[:i], n.outs[i+1:]...)

	for j := i; j < len(n.outs); j++ {
		n.outs[j].index = j
	}
}

// SimpleNode appends a node computing op to the region.
func SimpleNode(r *Region, op Operation, args ...*Output) (*Node, error) {
	at := op.ArgTypes()
	if len(args) != len(at) {
		return nil, errors.New("op %v: want %d operands, got %d", op, len(at), len(args))
	}

	n := r.newNode(op)

	for i, a := range args {
		_, err := n.addInput(at[i], a)
		if err != nil {
			n.region.removeNode(n)
			return nil, errors.Wrap(err, "operand %d of %v", i, op)
		}
	}

	for _, t := range op.ResTypes() {
		n.addOutput(t)
	}

	return n, nil
}

// Copy clones the node into region r, mapping operands through smap.
// Structural nodes are cloned recursively.
func (n *Node) Copy(r *Region, smap SubstMap) (*Node, error) {
	args := make([]*Output, len(n.ins))

	for i, in := range n.ins {
		o, ok := smap[in.origin]
		if !ok {
			return nil, NewScopeViolation("copy operand not in substitution")
		}

		args[i] = o
	}

	if !n.IsStructural() {
		cp, err := SimpleNode(r, n.op, args...)
		if err != nil {
			return nil, err
		}

		for i, o := range n.outs {
			smap[o] = cp.outs[i]
		}

		return cp, nil
	}

	return n.copyStructural(r, smap, args)
}

func (n *Node) copyStructural(r *Region, smap SubstMap, args []*Output) (*Node, error) {
	cp := r.newNode(n.op)

	for i, in := range n.ins {
		_, err := cp.addInput(in.typ, args[i])
		if err != nil {
			cp.region.removeNode(cp)
			return nil, err
		}
	}

	for _, o := range n.outs {
		co := cp.addOutput(o.typ)
		co.Name = o.Name
	}

	for i, o := range n.outs {
		smap[o] = cp.outs[i]
	}

	for _, sub := range n.subs {
		csub := cp.addSubregion()

		err := sub.copyInto(csub, smap)
		if err != nil {
			return nil, err
		}
	}

	return cp, nil
}

// copyInto clones the contents of region src into dst.
// Arguments are recreated and entered into smap; nodes are copied in order;
// results are wired through smap.
func (src *Region) copyInto(dst *Region, smap SubstMap) error {
	for _, a := range src.Args {
		ca := dst.AddArgument(a.typ, a.Name)
		smap[a] = ca
	}

	for _, n := range src.Nodes {
		_, err := n.Copy(dst, smap)
		if err != nil {
			return errors.Wrap(err, "copy %v", n.op)
		}
	}

	for _, res := range src.Results {
		o, ok := smap[res.origin]
		if !ok {
			return NewScopeViolation("copy result origin not in substitution")
		}

		_, err := dst.AddResult(o, res.Name)
		if err != nil {
			return err
		}
	}

	return nil
}
