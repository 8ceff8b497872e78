package rvsdg

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// GammaOp is a multi-way conditional with K subregions.
	GammaOp struct {
		K int
	}

	// ThetaOp is a tail-controlled loop with a single subregion.
	ThetaOp struct{}

	// LambdaOp is a function definition.
	LambdaOp struct {
		Name    string
		Linkage Linkage
		FType   types.Function
	}

	// DeltaOp is a global definition.
	DeltaOp struct {
		Name     string
		Linkage  Linkage
		Constant bool
		VType    types.ValueType
	}

	// PhiOp groups mutually recursive definitions.
	PhiOp struct{}
)

// KindStructural is the class of all region-owning operations.
// Structural classes register their own reductions below it.
var KindStructural = RegisterKind("structural", KindSimple, func(g *Graph, parent NormalForm) NormalForm {
	nf := NewSimpleNormalForm(g, parent)
	nf.SetCSE(false)

	return nf
})

var (
	KindGamma = RegisterKind("gamma", KindStructural, func(g *Graph, parent NormalForm) NormalForm {
		return &GammaNormalForm{
			SimpleNormalForm: SimpleNormalForm{graph: g, parent: parent, mutable: true},

			invariantExit: true,
			deadEntry:     true,
		}
	})

	KindTheta = RegisterKind("theta", KindStructural, func(g *Graph, parent NormalForm) NormalForm {
		return &ThetaNormalForm{
			SimpleNormalForm: SimpleNormalForm{graph: g, parent: parent, mutable: true},

			invariantVars: true,
		}
	})

	KindLambda = RegisterKind("lambda", KindStructural, nil)
	KindDelta  = RegisterKind("delta", KindStructural, nil)
	KindPhi    = RegisterKind("phi", KindStructural, nil)
)

func (op GammaOp) Kind() OpKind           { return KindGamma }
func (op GammaOp) ArgTypes() []types.Type { return nil }
func (op GammaOp) ResTypes() []types.Type { return nil }

func (op GammaOp) Equals(other Operation) bool {
	o, ok := other.(GammaOp)
	return ok && o.K == op.K
}

func (op GammaOp) String() string { return "gamma" }

func (op ThetaOp) Kind() OpKind           { return KindTheta }
func (op ThetaOp) ArgTypes() []types.Type { return nil }
func (op ThetaOp) ResTypes() []types.Type { return nil }

func (op ThetaOp) Equals(other Operation) bool {
	_, ok := other.(ThetaOp)
	return ok
}

func (op ThetaOp) String() string { return "theta" }

func (op LambdaOp) Kind() OpKind           { return KindLambda }
func (op LambdaOp) ArgTypes() []types.Type { return nil }
func (op LambdaOp) ResTypes() []types.Type { return nil }

func (op LambdaOp) Equals(other Operation) bool {
	o, ok := other.(LambdaOp)
	return ok && o.Name == op.Name && o.Linkage == op.Linkage && types.Equal(o.FType, op.FType)
}

func (op LambdaOp) String() string {
	return fmt.Sprintf("lambda %v", op.Name)
}

func (op DeltaOp) Kind() OpKind           { return KindDelta }
func (op DeltaOp) ArgTypes() []types.Type { return nil }
func (op DeltaOp) ResTypes() []types.Type { return nil }

func (op DeltaOp) Equals(other Operation) bool {
	o, ok := other.(DeltaOp)
	return ok && o.Name == op.Name && o.Linkage == op.Linkage && o.Constant == op.Constant && types.Equal(o.VType, op.VType)
}

func (op DeltaOp) String() string {
	return fmt.Sprintf("delta %v", op.Name)
}

func (op PhiOp) Kind() OpKind           { return KindPhi }
func (op PhiOp) ArgTypes() []types.Type { return nil }
func (op PhiOp) ResTypes() []types.Type { return nil }

func (op PhiOp) Equals(other Operation) bool {
	_, ok := other.(PhiOp)
	return ok
}

func (op PhiOp) String() string { return "phi" }
