package front

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
)

type (
	IrreducibleCFGError struct {
		Func string
	}

	UnsupportedOperationError struct {
		Op rvsdg.Operation
	}
)

func NewIrreducibleCFG(fn string) IrreducibleCFGError {
	return IrreducibleCFGError{
		Func: fn,
	}
}

func (e IrreducibleCFGError) Error() string {
	return fmt.Sprintf("irreducible control flow in %v", e.Func)
}

func NewUnsupportedOperation(op rvsdg.Operation) UnsupportedOperationError {
	return UnsupportedOperationError{
		Op: op,
	}
}

func (e UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %v", e.Op)
}
