package rvsdg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// MatchOp maps a bit value to one of K control alternatives.
	MatchOp struct {
		NBits   int
		Mapping map[uint64]uint64
		Default uint64
		K       int
	}

	// ControlConstOp is a compile-time branch selector.
	ControlConstOp struct {
		K   int
		Alt int
	}

	// MatchNormalForm folds matches over constant inputs.
	MatchNormalForm struct {
		SimpleNormalForm
	}
)

var (
	KindMatch = RegisterKind("match", KindSimple, func(g *Graph, parent NormalForm) NormalForm {
		return &MatchNormalForm{
			SimpleNormalForm: *NewSimpleNormalForm(g, parent),
		}
	})

	KindControlConst = RegisterKind("control_constant", KindSimple, nil)
)

func (op MatchOp) Kind() OpKind { return KindMatch }

func (op MatchOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.NBits}}
}

func (op MatchOp) ResTypes() []types.Type {
	return []types.Type{types.Control{K: op.K}}
}

func (op MatchOp) Equals(other Operation) bool {
	o, ok := other.(MatchOp)
	if !ok || o.NBits != op.NBits || o.Default != op.Default || o.K != op.K || len(o.Mapping) != len(op.Mapping) {
		return false
	}

	for v, alt := range op.Mapping {
		if o.Mapping[v] != alt {
			return false
		}
	}

	return true
}

func (op MatchOp) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "match%d {", op.NBits)

	vals := make([]uint64, 0, len(op.Mapping))
	for v := range op.Mapping {
		vals = append(vals, v)
	}

	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	for _, v := range vals {
		fmt.Fprintf(&b, "%d->%d, ", v, op.Mapping[v])
	}

	fmt.Fprintf(&b, "default->%d}", op.Default)

	return b.String()
}

// Alternative is the control alternative the value selects.
func (op MatchOp) Alternative(v uint64) uint64 {
	if alt, ok := op.Mapping[v]; ok {
		return alt
	}

	return op.Default
}

// Match builds a control(k) predicate from a bit value.
func Match(nbits int, mapping map[uint64]uint64, def uint64, k int, origin *Output) (*Output, error) {
	m := map[uint64]uint64{}
	for v, alt := range mapping {
		m[v] = alt
	}

	op := MatchOp{
		NBits:   nbits,
		Mapping: m,
		Default: def,
		K:       k,
	}

	outs, err := Create(origin.Region(), op, origin)
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}

func (op ControlConstOp) Kind() OpKind           { return KindControlConst }
func (op ControlConstOp) ArgTypes() []types.Type { return nil }

func (op ControlConstOp) ResTypes() []types.Type {
	return []types.Type{types.Control{K: op.K}}
}

func (op ControlConstOp) Equals(other Operation) bool {
	o, ok := other.(ControlConstOp)
	return ok && o == op
}

func (op ControlConstOp) String() string {
	return fmt.Sprintf("ctl%d(%d)", op.K, op.Alt)
}

// ControlConstant materializes a constant branch selector.
func ControlConstant(r *Region, k, alt int) *Output {
	outs, err := Create(r, ControlConstOp{K: k, Alt: alt})
	if err != nil {
		panic(err)
	}

	return outs[0]
}

func (nf *MatchNormalForm) NormalizeNode(n *Node) bool {
	op, ok := n.op.(MatchOp)
	if !ok || !nf.mutable || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	if c, ok := bitConstOrigin(n.ins[0].origin); ok {
		alt := op.Alternative(c)

		repl := ControlConstant(n.region, op.K, int(alt))

		err := n.outs[0].Divert(repl)
		if err == nil {
			return true
		}
	}

	return nf.SimpleNormalForm.NormalizeNode(n)
}

func (nf *MatchNormalForm) NormalizedCreate(r *Region, xop Operation, args []*Output) ([]*Output, error) {
	op, ok := xop.(MatchOp)
	if ok && nf.mutable && len(args) == 1 {
		if c, ok := bitConstOrigin(args[0]); ok {
			return []*Output{ControlConstant(r, op.K, int(op.Alternative(c)))}, nil
		}
	}

	return nf.SimpleNormalForm.NormalizedCreate(r, xop, args)
}

func bitConstOrigin(o *Output) (uint64, bool) {
	if o.node == nil {
		return 0, false
	}

	c, ok := o.node.op.(BitConstOp)
	if !ok {
		return 0, false
	}

	return c.Value, true
}
