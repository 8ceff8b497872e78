package llvm

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// Module is an LLVM-like translation unit: functions of basic
	// blocks in three-address form, globals, and external declarations.
	Module struct {
		Name string

		Globals []*Global
		Funcs   []*Function
	}

	Global struct {
		Name    string
		Linkage rvsdg.Linkage

		VType    types.ValueType
		Constant bool

		// Init computes the initial value; nil for declarations.
		Init rvsdg.Operation
	}

	Function struct {
		Name    string
		Linkage rvsdg.Linkage

		FType  types.Function
		Params []*Variable

		// Blocks[0] is the entry; nil for declarations.
		Blocks []*Block
	}

	Variable struct {
		Name string
		Type types.Type
	}

	Block struct {
		Index int

		Phis []*Phi
		Code []*Tac
		Term Terminator
	}

	// Tac is a three-address instruction: Res <- Op(Args).
	Tac struct {
		Op   rvsdg.Operation
		Args []*Variable
		Res  []*Variable
	}

	// Phi selects a value by predecessor block at a join point.
	Phi struct {
		Res  *Variable
		Args []PhiArg
	}

	PhiArg struct {
		Pred  *Block
		Value *Variable
	}

	Terminator interface {
		term()
	}

	Jump struct {
		To *Block
	}

	// Branch switches on a bit value: each case names a successor,
	// every other value goes to Default.
	Branch struct {
		Value   *Variable
		Cases   []BranchCase
		Default *Block
	}

	BranchCase struct {
		Val uint64
		To  *Block
	}

	Return struct {
		Vals []*Variable
	}
)

func (Jump) term()   {}
func (Branch) term() {}
func (Return) term() {}

func (m *Module) Func(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}

	return nil
}

func (f *Function) IsDecl() bool {
	return len(f.Blocks) == 0
}

func (f *Function) AddBlock() *Block {
	b := &Block{
		Index: len(f.Blocks),
	}

	f.Blocks = append(f.Blocks, b)

	return b
}

func (b *Block) Add(op rvsdg.Operation, args ...*Variable) *Tac {
	rt := op.ResTypes()

	tac := &Tac{
		Op:   op,
		Args: args,
	}

	for i, t := range rt {
		tac.Res = append(tac.Res, &Variable{
			Name: fmt.Sprintf("b%d.%d.%d", b.Index, len(b.Code), i),
			Type: t,
		})
	}

	b.Code = append(b.Code, tac)

	return tac
}

// Successors lists the terminator's targets in case order.
func (b *Block) Successors() []*Block {
	switch t := b.Term.(type) {
	case Jump:
		return []*Block{t.To}
	case Branch:
		succ := []*Block(nil)

		for _, c := range t.Cases {
			succ = append(succ, c.To)
		}

		return append(succ, t.Default)
	case Return, nil:
		return nil
	default:
		panic(t)
	}
}
