package llvm

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	// AllocaOp reserves stack storage for one value of VType.
	// Operand: element count. Results: pointer and the location's
	// memory state.
	AllocaOp struct {
		VType     types.ValueType
		Alignment int
	}

	// MallocOp allocates heap storage. Operand: byte size.
	MallocOp struct{}

	// FreeOp releases heap storage, threading NStates memory states.
	FreeOp struct {
		NStates int
	}

	// LoadOp reads a value of VType through a pointer, threading
	// NStates memory states.
	LoadOp struct {
		VType     types.ValueType
		Alignment int
		NStates   int
	}

	// StoreOp writes a value of VType through a pointer, threading
	// NStates memory states.
	StoreOp struct {
		VType     types.ValueType
		Alignment int
		NStates   int
	}

	// MemcpyOp copies Len bytes between two pointers.
	MemcpyOp struct {
		NStates int
	}

	// GepOp computes an element pointer from a base pointer and
	// NIndices bit32 indices into Base.
	GepOp struct {
		Base     types.ValueType
		NIndices int
	}

	// MemStateMergeOp joins N memory states into one.
	MemStateMergeOp struct {
		N int
	}

	// MemStateSplitOp forks one memory state into N.
	MemStateSplitOp struct {
		N int
	}

	// CallOp applies a function value, threading NStates memory states.
	CallOp struct {
		FT      types.Function
		NStates int
	}

	// FnPtrOp converts a function value to a raw pointer.
	FnPtrOp struct {
		FT types.Function
	}

	// PtrToFnOp recovers a function value from a raw pointer, for
	// indirect calls.
	PtrToFnOp struct {
		FT types.Function
	}

	// UndefOp produces an undefined value of T.
	UndefOp struct {
		T types.ValueType
	}

	BitcastOp struct {
		From types.ValueType
		To   types.ValueType
	}

	TruncOp struct {
		FromW int
		ToW   int
	}

	ZExtOp struct {
		FromW int
		ToW   int
	}

	SExtOp struct {
		FromW int
		ToW   int
	}

	IntToPtrOp struct {
		W int
	}

	PtrToIntOp struct {
		W int
	}

	FPBinKind int

	// FPConstOp is a floating point constant.
	FPConstOp struct {
		FSize types.FloatSize
		Value float64
	}

	// FPBinOp is floating point arithmetic. Rounding makes it neither
	// associative nor reducible.
	FPBinOp struct {
		K     FPBinKind
		FSize types.FloatSize
	}
)

const (
	FPAdd FPBinKind = iota
	FPSub
	FPMul
	FPDiv
)

var (
	KindAlloca        = rvsdg.RegisterKind("alloca", rvsdg.KindSimple, nil)
	KindMalloc        = rvsdg.RegisterKind("malloc", rvsdg.KindSimple, nil)
	KindFree          = rvsdg.RegisterKind("free", rvsdg.KindSimple, nil)
	KindMemcpy        = rvsdg.RegisterKind("memcpy", rvsdg.KindSimple, nil)
	KindGep           = rvsdg.RegisterKind("getelementptr", rvsdg.KindSimple, nil)
	KindCall          = rvsdg.RegisterKind("call", rvsdg.KindSimple, nil)
	KindFnPtr         = rvsdg.RegisterKind("fnptr", rvsdg.KindSimple, nil)
	KindPtrToFn       = rvsdg.RegisterKind("ptrtofn", rvsdg.KindSimple, nil)
	KindUndef         = rvsdg.RegisterKind("undef", rvsdg.KindSimple, nil)
	KindCast          = rvsdg.RegisterKind("cast", rvsdg.KindSimple, nil)
	KindFPConst       = rvsdg.RegisterKind("fpconstant", rvsdg.KindSimple, nil)
	KindFPBin         = rvsdg.RegisterKind("fpbinary", rvsdg.KindBinary, nil)
	KindMemStateSplit = rvsdg.RegisterKind("memstate_split", rvsdg.KindSimple, nil)
)

var (
	mem = types.Memory{}
	ptr = types.Pointer{}
)

func memStates(n int) []types.Type {
	s := make([]types.Type, n)
	for i := range s {
		s[i] = mem
	}

	return s
}

func (op AllocaOp) Kind() rvsdg.OpKind { return KindAlloca }

func (op AllocaOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: 32}}
}

func (op AllocaOp) ResTypes() []types.Type {
	return []types.Type{ptr, mem}
}

func (op AllocaOp) Equals(other rvsdg.Operation) bool {
	// every alloca is its own allocation site
	return false
}

func (op AllocaOp) String() string {
	return fmt.Sprintf("alloca %v", op.VType)
}

func (op MallocOp) Kind() rvsdg.OpKind { return KindMalloc }

func (op MallocOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: 64}}
}

func (op MallocOp) ResTypes() []types.Type {
	return []types.Type{ptr, mem}
}

func (op MallocOp) Equals(other rvsdg.Operation) bool {
	// every malloc is its own allocation site
	return false
}

func (op MallocOp) String() string { return "malloc" }

func (op FreeOp) Kind() rvsdg.OpKind { return KindFree }

func (op FreeOp) ArgTypes() []types.Type {
	return append([]types.Type{ptr}, memStates(op.NStates)...)
}

func (op FreeOp) ResTypes() []types.Type {
	return memStates(op.NStates)
}

func (op FreeOp) Equals(other rvsdg.Operation) bool {
	// frees are never merged
	return false
}

func (op FreeOp) String() string { return "free" }

func (op LoadOp) Kind() rvsdg.OpKind { return KindLoad }

func (op LoadOp) ArgTypes() []types.Type {
	return append([]types.Type{ptr}, memStates(op.NStates)...)
}

func (op LoadOp) ResTypes() []types.Type {
	return append([]types.Type{types.Type(op.VType)}, memStates(op.NStates)...)
}

func (op LoadOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(LoadOp)
	return ok && o.Alignment == op.Alignment && o.NStates == op.NStates && types.Equal(o.VType, op.VType)
}

func (op LoadOp) String() string {
	return fmt.Sprintf("load %v", op.VType)
}

func (op StoreOp) Kind() rvsdg.OpKind { return KindStore }

func (op StoreOp) ArgTypes() []types.Type {
	return append([]types.Type{ptr, types.Type(op.VType)}, memStates(op.NStates)...)
}

func (op StoreOp) ResTypes() []types.Type {
	return memStates(op.NStates)
}

func (op StoreOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(StoreOp)
	return ok && o.Alignment == op.Alignment && o.NStates == op.NStates && types.Equal(o.VType, op.VType)
}

func (op StoreOp) String() string {
	return fmt.Sprintf("store %v", op.VType)
}

func (op MemcpyOp) Kind() rvsdg.OpKind { return KindMemcpy }

func (op MemcpyOp) ArgTypes() []types.Type {
	return append([]types.Type{ptr, ptr, types.Bits{Width: 64}}, memStates(op.NStates)...)
}

func (op MemcpyOp) ResTypes() []types.Type {
	return memStates(op.NStates)
}

func (op MemcpyOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(MemcpyOp)
	return ok && o == op
}

func (op MemcpyOp) String() string { return "memcpy" }

func (op GepOp) Kind() rvsdg.OpKind { return KindGep }

func (op GepOp) ArgTypes() []types.Type {
	at := []types.Type{ptr}

	for i := 0; i < op.NIndices; i++ {
		at = append(at, types.Bits{Width: 32})
	}

	return at
}

func (op GepOp) ResTypes() []types.Type {
	return []types.Type{ptr}
}

func (op GepOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(GepOp)
	return ok && o.NIndices == op.NIndices && types.Equal(o.Base, op.Base)
}

func (op GepOp) String() string {
	return fmt.Sprintf("getelementptr %v", op.Base)
}

func (op MemStateMergeOp) Kind() rvsdg.OpKind { return KindMemStateMerge }

func (op MemStateMergeOp) ArgTypes() []types.Type {
	return memStates(op.N)
}

func (op MemStateMergeOp) ResTypes() []types.Type {
	return memStates(1)
}

func (op MemStateMergeOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(MemStateMergeOp)
	return ok && o == op
}

func (op MemStateMergeOp) String() string { return "memstate_merge" }

func (op MemStateSplitOp) Kind() rvsdg.OpKind { return KindMemStateSplit }

func (op MemStateSplitOp) ArgTypes() []types.Type {
	return memStates(1)
}

func (op MemStateSplitOp) ResTypes() []types.Type {
	return memStates(op.N)
}

func (op MemStateSplitOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(MemStateSplitOp)
	return ok && o == op
}

func (op MemStateSplitOp) String() string { return "memstate_split" }

func (op CallOp) Kind() rvsdg.OpKind { return KindCall }

func (op CallOp) ArgTypes() []types.Type {
	at := []types.Type{types.Type(op.FT)}
	at = append(at, op.FT.Params...)

	return append(at, memStates(op.NStates)...)
}

func (op CallOp) ResTypes() []types.Type {
	rt := append([]types.Type(nil), op.FT.Results...)

	return append(rt, memStates(op.NStates)...)
}

func (op CallOp) Equals(other rvsdg.Operation) bool {
	// call sites are never merged: the callee may observe each one
	return false
}

func (op CallOp) String() string { return "call" }

func (op FnPtrOp) Kind() rvsdg.OpKind { return KindFnPtr }

func (op FnPtrOp) ArgTypes() []types.Type {
	return []types.Type{types.Type(op.FT)}
}

func (op FnPtrOp) ResTypes() []types.Type {
	return []types.Type{ptr}
}

func (op FnPtrOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(FnPtrOp)
	return ok && types.Equal(o.FT, op.FT)
}

func (op FnPtrOp) String() string { return "fnptr" }

func (op PtrToFnOp) Kind() rvsdg.OpKind { return KindPtrToFn }

func (op PtrToFnOp) ArgTypes() []types.Type {
	return []types.Type{ptr}
}

func (op PtrToFnOp) ResTypes() []types.Type {
	return []types.Type{types.Type(op.FT)}
}

func (op PtrToFnOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(PtrToFnOp)
	return ok && types.Equal(o.FT, op.FT)
}

func (op PtrToFnOp) String() string { return "ptrtofn" }

func (op UndefOp) Kind() rvsdg.OpKind { return KindUndef }

func (op UndefOp) ArgTypes() []types.Type { return nil }

func (op UndefOp) ResTypes() []types.Type {
	return []types.Type{types.Type(op.T)}
}

func (op UndefOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(UndefOp)
	return ok && types.Equal(o.T, op.T)
}

func (op UndefOp) String() string {
	return fmt.Sprintf("undef %v", op.T)
}

func (op BitcastOp) Kind() rvsdg.OpKind { return KindCast }

func (op BitcastOp) ArgTypes() []types.Type {
	return []types.Type{types.Type(op.From)}
}

func (op BitcastOp) ResTypes() []types.Type {
	return []types.Type{types.Type(op.To)}
}

func (op BitcastOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(BitcastOp)
	return ok && types.Equal(o.From, op.From) && types.Equal(o.To, op.To)
}

func (op BitcastOp) String() string {
	return fmt.Sprintf("bitcast %v to %v", op.From, op.To)
}

func (op TruncOp) Kind() rvsdg.OpKind { return KindCast }

func (op TruncOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.FromW}}
}

func (op TruncOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.ToW}}
}

func (op TruncOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(TruncOp)
	return ok && o == op
}

func (op TruncOp) String() string {
	return fmt.Sprintf("trunc %d to %d", op.FromW, op.ToW)
}

func (op ZExtOp) Kind() rvsdg.OpKind { return KindCast }

func (op ZExtOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.FromW}}
}

func (op ZExtOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.ToW}}
}

func (op ZExtOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(ZExtOp)
	return ok && o == op
}

func (op ZExtOp) String() string {
	return fmt.Sprintf("zext %d to %d", op.FromW, op.ToW)
}

func (op SExtOp) Kind() rvsdg.OpKind { return KindCast }

func (op SExtOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.FromW}}
}

func (op SExtOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.ToW}}
}

func (op SExtOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(SExtOp)
	return ok && o == op
}

func (op SExtOp) String() string {
	return fmt.Sprintf("sext %d to %d", op.FromW, op.ToW)
}

func (op IntToPtrOp) Kind() rvsdg.OpKind { return KindCast }

func (op IntToPtrOp) ArgTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.W}}
}

func (op IntToPtrOp) ResTypes() []types.Type {
	return []types.Type{ptr}
}

func (op IntToPtrOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(IntToPtrOp)
	return ok && o == op
}

func (op IntToPtrOp) String() string {
	return fmt.Sprintf("inttoptr %d", op.W)
}

func (op PtrToIntOp) Kind() rvsdg.OpKind { return KindCast }

func (op PtrToIntOp) ArgTypes() []types.Type {
	return []types.Type{ptr}
}

func (op PtrToIntOp) ResTypes() []types.Type {
	return []types.Type{types.Bits{Width: op.W}}
}

func (op PtrToIntOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(PtrToIntOp)
	return ok && o == op
}

func (op PtrToIntOp) String() string {
	return fmt.Sprintf("ptrtoint %d", op.W)
}

func (op FPConstOp) Kind() rvsdg.OpKind { return KindFPConst }

func (op FPConstOp) ArgTypes() []types.Type { return nil }

func (op FPConstOp) ResTypes() []types.Type {
	return []types.Type{types.Float{FSize: op.FSize}}
}

func (op FPConstOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(FPConstOp)
	return ok && o == op
}

func (op FPConstOp) String() string {
	return fmt.Sprintf("fp%v(%v)", types.Float{FSize: op.FSize}, op.Value)
}

func (k FPBinKind) String() string {
	switch k {
	case FPAdd:
		return "fadd"
	case FPSub:
		return "fsub"
	case FPMul:
		return "fmul"
	case FPDiv:
		return "fdiv"
	default:
		return "fpop?"
	}
}

func (op FPBinOp) Kind() rvsdg.OpKind { return KindFPBin }

func (op FPBinOp) ArgTypes() []types.Type {
	t := types.Float{FSize: op.FSize}
	return []types.Type{t, t}
}

func (op FPBinOp) ResTypes() []types.Type {
	return []types.Type{types.Float{FSize: op.FSize}}
}

func (op FPBinOp) Equals(other rvsdg.Operation) bool {
	o, ok := other.(FPBinOp)
	return ok && o == op
}

func (op FPBinOp) String() string {
	return fmt.Sprintf("%v", op.K)
}

// rounding forbids reassociation
func (op FPBinOp) BinFlags() rvsdg.BinFlags { return 0 }

func (op FPBinOp) CanReduceOperandPair(a, b *rvsdg.Output) rvsdg.ReductionPath {
	return rvsdg.ReduceNone
}

func (op FPBinOp) ReduceOperandPair(path rvsdg.ReductionPath, a, b *rvsdg.Output) (*rvsdg.Output, error) {
	return nil, nil
}
