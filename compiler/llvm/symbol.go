package llvm

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// SymbolOp references a module-level symbol (function or global)
	// from three-address code. Conversion resolves it to a context
	// variable; structuring emits it back.
	SymbolOp struct {
		Name string
		T    types.Type
	}
)

var KindSymbol = rvsdg.RegisterKind("symbol", rvsdg.KindSimple, nil)

func (op SymbolOp) Kind() rvsdg.OpKind { return KindSymbol }

func (op SymbolOp) ArgTypes() []types.Type { return nil }

func (op SymbolOp) ResTypes() []types.Type {
	return []types.Type{op.T}
}

func (op SymbolOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(SymbolOp)
	return ok && o.Name == op.Name && types.Equal(o.T, op.T)
}

func (op SymbolOp) String() string {
	return fmt.Sprintf("symbol @%v", op.Name)
}
