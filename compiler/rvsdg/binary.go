package rvsdg

import (
	"fmt"

	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	BinFlags int

	// ReductionPath discriminates how a pair of operands can be reduced.
	ReductionPath int

	// BinaryOp is an operation taking two operands, with a well-defined
	// reduction for more operands if it is associative.
	BinaryOp interface {
		Operation

		BinFlags() BinFlags

		CanReduceOperandPair(a, b *Output) ReductionPath
		ReduceOperandPair(path ReductionPath, a, b *Output) (*Output, error)
	}

	// BinaryNormalForm drives the per-pair reductions, operand
	// reordering and associative flattening of binary operations.
	BinaryNormalForm struct {
		SimpleNormalForm

		reducible  bool
		reorder    bool
		flatten    bool
		distribute bool
		factorize  bool
	}

	// FlattenedBinaryOp is the n-ary form of an associative binary op.
	FlattenedBinaryOp struct {
		Op BinaryOp
		N  int
	}

	// FlattenedBinaryNormalForm reduces n-ary nodes pairwise and merges
	// congruent ones.
	FlattenedBinaryNormalForm struct {
		SimpleNormalForm
	}

	// Reduction selects the tree shape flattened nodes expand back to.
	Reduction int
)

const (
	Associative BinFlags = 1 << iota
	Commutative
)

const (
	ReduceNone ReductionPath = iota
	ReduceConstants
	ReduceMerge
	ReduceLFold
	ReduceRFold
	ReduceLNeutral
	ReduceRNeutral
	ReduceFactor
)

const (
	LinearReduction Reduction = iota
	ParallelReduction
)

// KindBinary is the class of all binary operations.
var KindBinary = RegisterKind("binary", KindSimple, func(g *Graph, parent NormalForm) NormalForm {
	nf := &BinaryNormalForm{
		SimpleNormalForm: *NewSimpleNormalForm(g, parent),

		reducible: true,
		reorder:   true,
		flatten:   true,
	}

	return nf
})

// KindFlattenedBinary is the class of flattened n-ary forms.
var KindFlattenedBinary = RegisterKind("flattened_binary", KindSimple, func(g *Graph, parent NormalForm) NormalForm {
	return &FlattenedBinaryNormalForm{
		SimpleNormalForm: *NewSimpleNormalForm(g, parent),
	}
})

func (f BinFlags) Is(x BinFlags) bool { return f&x != 0 }

func (nf *BinaryNormalForm) SetReducible(enable bool)  { nf.reducible = enable }
func (nf *BinaryNormalForm) SetReorder(enable bool)    { nf.reorder = enable }
func (nf *BinaryNormalForm) SetFlatten(enable bool)    { nf.flatten = enable }
func (nf *BinaryNormalForm) SetDistribute(enable bool) { nf.distribute = enable }
func (nf *BinaryNormalForm) SetFactorize(enable bool)  { nf.factorize = enable }

func (nf *BinaryNormalForm) Reducible() bool  { return nf.reducible && nf.mutable }
func (nf *BinaryNormalForm) Reorder() bool    { return nf.reorder && nf.mutable }
func (nf *BinaryNormalForm) Flatten() bool    { return nf.flatten && nf.mutable }
func (nf *BinaryNormalForm) Distribute() bool { return nf.distribute && nf.mutable }
func (nf *BinaryNormalForm) Factorize() bool  { return nf.factorize && nf.mutable }

func (nf *BinaryNormalForm) NormalizeNode(n *Node) bool {
	op, ok := binOp(n.op)
	if !ok || !nf.mutable || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	args := origins(n)

	if nf.Reducible() {
		if nargs, changed := reducePairs(op, args); changed {
			replaceByArgs(n, op, nargs)
			return true
		}
	}

	if nf.Flatten() && op.BinFlags().Is(Associative) {
		if nargs, changed := flattenArgs(op, args); changed {
			replaceByArgs(n, op, nargs)
			return true
		}
	}

	if nf.Reorder() && op.BinFlags().Is(Commutative) {
		if nargs, changed := reorderArgs(args); changed {
			replaceByArgs(n, op, nargs)
			return true
		}
	}

	return nf.SimpleNormalForm.NormalizeNode(n)
}

func (nf *BinaryNormalForm) NormalizedCreate(r *Region, xop Operation, args []*Output) ([]*Output, error) {
	op, ok := binOp(xop)
	if !ok || !nf.mutable {
		return nf.SimpleNormalForm.NormalizedCreate(r, xop, args)
	}

	if nf.Reducible() {
		args, _ = reducePairs(op, args)
	}

	if len(args) == 1 {
		return args, nil
	}

	if nf.Flatten() && op.BinFlags().Is(Associative) {
		args, _ = flattenArgs(op, args)
	}

	if nf.Reorder() && op.BinFlags().Is(Commutative) {
		args, _ = reorderArgs(args)
	}

	if len(args) == 2 {
		return nf.SimpleNormalForm.NormalizedCreate(r, op, args)
	}

	return nf.SimpleNormalForm.NormalizedCreate(r, FlattenedBinaryOp{Op: op, N: len(args)}, args)
}

func (nf *FlattenedBinaryNormalForm) NormalizeNode(n *Node) bool {
	fop, ok := n.op.(FlattenedBinaryOp)
	if !ok || !nf.mutable || !n.HasUsers() {
		return nf.SimpleNormalForm.NormalizeNode(n)
	}

	bnf, _ := nf.graph.NormalForm(KindBinary).(*BinaryNormalForm)

	args := origins(n)

	if bnf != nil && bnf.Reducible() {
		if nargs, changed := reducePairs(fop.Op, args); changed {
			replaceByArgs(n, fop.Op, nargs)
			return true
		}
	}

	if bnf != nil && bnf.Flatten() {
		if nargs, changed := flattenArgs(fop.Op, args); changed {
			replaceByArgs(n, fop.Op, nargs)
			return true
		}
	}

	if bnf != nil && bnf.Reorder() && fop.Op.BinFlags().Is(Commutative) {
		if nargs, changed := reorderArgs(args); changed {
			replaceByArgs(n, fop.Op, nargs)
			return true
		}
	}

	return nf.SimpleNormalForm.NormalizeNode(n)
}

func (nf *FlattenedBinaryNormalForm) NormalizedCreate(r *Region, xop Operation, args []*Output) ([]*Output, error) {
	fop, ok := xop.(FlattenedBinaryOp)
	if !ok || !nf.mutable {
		return nf.SimpleNormalForm.NormalizedCreate(r, xop, args)
	}

	if len(args) != fop.N {
		return nil, errors.New("flattened %v: want %d operands, got %d", fop.Op, fop.N, len(args))
	}

	return nf.graph.NormalForm(KindBinary).NormalizedCreate(r, fop.Op, args)
}

func binOp(op Operation) (BinaryOp, bool) {
	b, ok := op.(BinaryOp)
	return b, ok
}

// replaceByArgs materializes op over nargs and diverts n's output to it.
func replaceByArgs(n *Node, op BinaryOp, nargs []*Output) {
	r := n.region

	var repl *Output

	switch len(nargs) {
	case 1:
		repl = nargs[0]
	case 2:
		outs, err := Create(r, op, nargs...)
		if err != nil {
			panic(err)
		}

		repl = outs[0]
	default:
		outs, err := Create(r, FlattenedBinaryOp{Op: op, N: len(nargs)}, nargs...)
		if err != nil {
			panic(err)
		}

		repl = outs[0]
	}

	err := n.outs[0].Divert(repl)
	if err != nil {
		panic(err)
	}
}

// reducePairs applies the op's pair reductions over the operand list
// until none applies. Adjacent pairs for plain ops, all pairs when the
// op commutes.
func reducePairs(op BinaryOp, args []*Output) (_ []*Output, changed bool) {
	comm := op.BinFlags().Is(Commutative)

	again := true
	for again {
		again = false

	scan:
		for i := 0; i < len(args); i++ {
			for j := i + 1; j < len(args); j++ {
				if !comm && j != i+1 {
					break
				}

				path := op.CanReduceOperandPair(args[i], args[j])
				if path == ReduceNone {
					continue
				}

				o, err := op.ReduceOperandPair(path, args[i], args[j])
				if err != nil || o == nil {
					continue
				}

				nargs := append([]*Output(nil), args[:i]...)
				nargs = append(nargs, o)
				nargs = append(nargs, args[i+1:j]...)
				nargs = append(nargs, args[j+1:]...)
				args = nargs

				changed = true
				again = len(args) > 1

				break scan
			}
		}
	}

	return args, changed
}

// flattenArgs inlines operands produced by the same associative op.
func flattenArgs(op BinaryOp, args []*Output) (_ []*Output, changed bool) {
	nargs := []*Output(nil)

	for _, a := range args {
		p := a.node
		if p == nil {
			nargs = append(nargs, a)
			continue
		}

		if sub, ok := binOp(p.op); ok && sub.Equals(op) {
			nargs = append(nargs, origins(p)...)
			changed = true
			continue
		}

		if sub, ok := p.op.(FlattenedBinaryOp); ok && sub.Op.Equals(op) {
			nargs = append(nargs, origins(p)...)
			changed = true
			continue
		}

		nargs = append(nargs, a)
	}

	return nargs, changed
}

// reorderArgs sorts operands of a commutative op into the canonical
// order: region arguments first, then node outputs in region order.
func reorderArgs(args []*Output) (_ []*Output, changed bool) {
	nargs := append([]*Output(nil), args...)

	for i := 1; i < len(nargs); i++ {
		for j := i; j > 0 && portLess(nargs[j], nargs[j-1]); j-- {
			nargs[j], nargs[j-1] = nargs[j-1], nargs[j]
			changed = true
		}
	}

	return nargs, changed
}

func portLess(a, b *Output) bool {
	an, bn := a.node, b.node

	if an == nil && bn == nil {
		return a.index < b.index
	}
	if an == nil || bn == nil {
		return an == nil
	}
	if an != bn {
		return regionPos(an) < regionPos(bn)
	}

	return a.index < b.index
}

func (op FlattenedBinaryOp) Kind() OpKind { return KindFlattenedBinary }

func (op FlattenedBinaryOp) ArgTypes() []types.Type {
	at := op.Op.ArgTypes()

	args := make([]types.Type, op.N)
	for i := range args {
		args[i] = at[0]
	}

	return args
}

func (op FlattenedBinaryOp) ResTypes() []types.Type {
	return op.Op.ResTypes()
}

func (op FlattenedBinaryOp) Equals(other Operation) bool {
	o, ok := other.(FlattenedBinaryOp)
	return ok && o.N == op.N && op.Op.Equals(o.Op)
}

func (op FlattenedBinaryOp) String() string {
	return fmt.Sprintf("flattened_%v%d", op.Op, op.N)
}

// ReduceFlattenedBinary expands every flattened node in the region,
// recursively, back into a tree of binary nodes.
func ReduceFlattenedBinary(r *Region, red Reduction) error {
	for _, n := range r.TopNodes() {
		if n.region == nil {
			continue
		}

		for _, sub := range n.subs {
			err := ReduceFlattenedBinary(sub, red)
			if err != nil {
				return err
			}
		}

		fop, ok := n.op.(FlattenedBinaryOp)
		if !ok {
			continue
		}

		o, err := fop.Reduce(red, origins(n))
		if err != nil {
			return errors.Wrap(err, "reduce %v", fop)
		}

		err = n.outs[0].Divert(o)
		if err != nil {
			return err
		}
	}

	return nil
}

// Reduce rebuilds the n-ary operand list as a binary tree: a left-deep
// chain for LinearReduction, a balanced tree for ParallelReduction.
func (op FlattenedBinaryOp) Reduce(red Reduction, args []*Output) (*Output, error) {
	if len(args) == 0 {
		return nil, errors.New("flattened %v: no operands", op.Op)
	}

	if len(args) == 1 {
		return args[0], nil
	}

	r := args[0].region

	switch red {
	case LinearReduction:
		acc := args[0]

		for _, a := range args[1:] {
			outs, err := binCreate(r, op.Op, acc, a)
			if err != nil {
				return nil, err
			}

			acc = outs
		}

		return acc, nil
	case ParallelReduction:
		mid := len(args) / 2

		l, err := op.Reduce(red, args[:mid])
		if err != nil {
			return nil, err
		}

		rr, err := op.Reduce(red, args[mid:])
		if err != nil {
			return nil, err
		}

		return binCreate(r, op.Op, l, rr)
	default:
		return nil, errors.New("unknown reduction %v", red)
	}
}

// binCreate builds a plain binary node bypassing the flatten rule, so
// expansion does not immediately re-flatten.
func binCreate(r *Region, op BinaryOp, a, b *Output) (*Output, error) {
	n, err := SimpleNode(r, op, a, b)
	if err != nil {
		return nil, err
	}

	return n.outs[0], nil
}
