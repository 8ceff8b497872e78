package rvsdg

import (
	"fmt"

	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// BitConstOp is an integer constant of a fixed bit width.
	BitConstOp struct {
		Width int
		Value uint64
	}

	BitBinKind  int
	BitCompKind int

	// BitBinOp is integer arithmetic or logic over two equally wide
	// operands.
	BitBinOp struct {
		K     BitBinKind
		Width int
	}

	// BitCompOp compares two integers, producing a single bit.
	BitCompOp struct {
		K     BitCompKind
		Width int
	}
)

const (
	BitAdd BitBinKind = iota
	BitSub
	BitMul
	BitAnd
	BitOr
	BitXor
	BitShl
	BitShr
)

const (
	BitEq BitCompKind = iota
	BitNe
	BitSLt
	BitULt
	BitSLe
	BitULe
	BitSGt
	BitUGt
	BitSGe
	BitUGe
)

var (
	KindBitConst = RegisterKind("bitconstant", KindSimple, nil)
	KindBitBin   = RegisterKind("bitbinary", KindBinary, nil)
	KindBitComp  = RegisterKind("bitcompare", KindBinary, nil)
)

func (op BitConstOp) Kind() OpKind           { return KindBitConst }
func (op BitConstOp) ArgTypes() []types.Type { return nil }

func (op BitConstOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.Width}}
}

func (op BitConstOp) Equals(other Operation) bool {
	o, ok := other.(BitConstOp)
	return ok && o == op
}

func (op BitConstOp) String() string {
	return fmt.Sprintf("bit%d(%d)", op.Width, op.Value)
}

// Truncate folds v to the op's width.
func (op BitConstOp) Truncate() BitConstOp {
	return BitConstOp{Width: op.Width, Value: truncate(op.Value, op.Width)}
}

func truncate(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}

	return v & (1<<width - 1)
}

// BitConstant materializes an integer constant through the normal form.
func BitConstant(r *Region, width int, v uint64) *Output {
	outs, err := Create(r, BitConstOp{Width: width, Value: truncate(v, width)})
	if err != nil {
		panic(err)
	}

	return outs[0]
}

func (k BitBinKind) String() string {
	switch k {
	case BitAdd:
		return "add"
	case BitSub:
		return "sub"
	case BitMul:
		return "mul"
	case BitAnd:
		return "and"
	case BitOr:
		return "or"
	case BitXor:
		return "xor"
	case BitShl:
		return "shl"
	case BitShr:
		return "shr"
	default:
		return "bitop?"
	}
}

func (op BitBinOp) Kind() OpKind { return KindBitBin }

func (op BitBinOp) ArgTypes() []types.Type {
	t := types.Bits{Width: op.Width}
	return []types.Type{t, t}
}

func (op BitBinOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.Width}}
}

func (op BitBinOp) Equals(other Operation) bool {
	o, ok := other.(BitBinOp)
	return ok && o == op
}

func (op BitBinOp) String() string {
	return fmt.Sprintf("%v%d", op.K, op.Width)
}

func (op BitBinOp) BinFlags() BinFlags {
	switch op.K {
	case BitAdd, BitMul, BitAnd, BitOr, BitXor:
		return Associative | Commutative
	default:
		return 0
	}
}

func (op BitBinOp) CanReduceOperandPair(a, b *Output) ReductionPath {
	ac, aok := bitConstOrigin(a)
	bc, bok := bitConstOrigin(b)

	if aok && bok {
		return ReduceConstants
	}

	switch op.K {
	case BitAdd, BitOr, BitXor:
		if aok && ac == 0 {
			return ReduceLNeutral
		}
		if bok && bc == 0 {
			return ReduceRNeutral
		}
	case BitSub, BitShl, BitShr:
		if bok && bc == 0 {
			return ReduceRNeutral
		}
	case BitMul:
		if aok && ac == 1 {
			return ReduceLNeutral
		}
		if bok && bc == 1 {
			return ReduceRNeutral
		}
	case BitAnd:
		ones := truncate(^uint64(0), op.Width)

		if aok && ac == ones {
			return ReduceLNeutral
		}
		if bok && bc == ones {
			return ReduceRNeutral
		}
	}

	if a == b {
		switch op.K {
		case BitAnd, BitOr, BitSub, BitXor:
			return ReduceMerge
		}
	}

	return ReduceNone
}

func (op BitBinOp) ReduceOperandPair(path ReductionPath, a, b *Output) (*Output, error) {
	switch path {
	case ReduceConstants:
		ac, _ := bitConstOrigin(a)
		bc, _ := bitConstOrigin(b)

		return BitConstant(a.Region(), op.Width, op.fold(ac, bc)), nil
	case ReduceLNeutral:
		return b, nil
	case ReduceRNeutral:
		return a, nil
	case ReduceMerge:
		switch op.K {
		case BitAnd, BitOr:
			return a, nil
		case BitSub, BitXor:
			return BitConstant(a.Region(), op.Width, 0), nil
		}
	}

	return nil, errors.New("%v: unsupported reduction path %v", op, path)
}

func (op BitBinOp) fold(a, b uint64) uint64 {
	switch op.K {
	case BitAdd:
		return truncate(a+b, op.Width)
	case BitSub:
		return truncate(a-b, op.Width)
	case BitMul:
		return truncate(a*b, op.Width)
	case BitAnd:
		return a & b
	case BitOr:
		return a | b
	case BitXor:
		return a ^ b
	case BitShl:
		if b >= uint64(op.Width) {
			return 0
		}

		return truncate(a<<b, op.Width)
	case BitShr:
		if b >= uint64(op.Width) {
			return 0
		}

		return a >> b
	default:
		panic(op.K)
	}
}

func (k BitCompKind) String() string {
	switch k {
	case BitEq:
		return "eq"
	case BitNe:
		return "ne"
	case BitSLt:
		return "slt"
	case BitULt:
		return "ult"
	case BitSLe:
		return "sle"
	case BitULe:
		return "ule"
	case BitSGt:
		return "sgt"
	case BitUGt:
		return "ugt"
	case BitSGe:
		return "sge"
	case BitUGe:
		return "uge"
	default:
		return "cmp?"
	}
}

func (op BitCompOp) Kind() OpKind { return KindBitComp }

func (op BitCompOp) ArgTypes() []types.Type {
	t := types.Bits{Width: op.Width}
	return []types.Type{t, t}
}

func (op BitCompOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: 1}}
}

func (op BitCompOp) Equals(other Operation) bool {
	o, ok := other.(BitCompOp)
	return ok && o == op
}

func (op BitCompOp) String() string {
	return fmt.Sprintf("%v%d", op.K, op.Width)
}

func (op BitCompOp) BinFlags() BinFlags {
	switch op.K {
	case BitEq, BitNe:
		return Commutative
	default:
		return 0
	}
}

func (op BitCompOp) CanReduceOperandPair(a, b *Output) ReductionPath {
	_, aok := bitConstOrigin(a)
	_, bok := bitConstOrigin(b)

	if aok && bok {
		return ReduceConstants
	}

	if a == b {
		return ReduceMerge
	}

	return ReduceNone
}

func (op BitCompOp) ReduceOperandPair(path ReductionPath, a, b *Output) (*Output, error) {
	switch path {
	case ReduceConstants:
		ac, _ := bitConstOrigin(a)
		bc, _ := bitConstOrigin(b)

		return BitConstant(a.Region(), 1, b2u(op.compare(ac, bc))), nil
	case ReduceMerge:
		// x ? x holds for the reflexive comparisons
		switch op.K {
		case BitEq, BitSLe, BitULe, BitSGe, BitUGe:
			return BitConstant(a.Region(), 1, 1), nil
		default:
			return BitConstant(a.Region(), 1, 0), nil
		}
	}

	return nil, errors.New("%v: unsupported reduction path %v", op, path)
}

func (op BitCompOp) compare(a, b uint64) bool {
	sa, sb := signed(a, op.Width), signed(b, op.Width)

	switch op.K {
	case BitEq:
		return a == b
	case BitNe:
		return a != b
	case BitSLt:
		return sa < sb
	case BitULt:
		return a < b
	case BitSLe:
		return sa <= sb
	case BitULe:
		return a <= b
	case BitSGt:
		return sa > sb
	case BitUGt:
		return a > b
	case BitSGe:
		return sa >= sb
	case BitUGe:
		return a >= b
	default:
		panic(op.K)
	}
}

func signed(v uint64, width int) int64 {
	if width >= 64 {
		return int64(v)
	}

	if v&(1<<(width-1)) != 0 {
		v |= ^uint64(0) << width
	}

	return int64(v)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}

// BitBinary materializes an arithmetic node through the normal form.
func BitBinary(k BitBinKind, a, b *Output) (*Output, error) {
	w, ok := a.Type().(types.Bits)
	if !ok {
		return nil, NewTypeMismatch(types.Bits{}, a.Type())
	}

	outs, err := Create(a.Region(), BitBinOp{K: k, Width: w.Width}, a, b)
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}

// BitCompare materializes a comparison node through the normal form.
func BitCompare(k BitCompKind, a, b *Output) (*Output, error) {
	w, ok := a.Type().(types.Bits)
	if !ok {
		return nil, NewTypeMismatch(types.Bits{}, a.Type())
	}

	outs, err := Create(a.Region(), BitCompOp{K: k, Width: w.Width}, a, b)
	if err != nil {
		return nil, err
	}

	return outs[0], nil
}
