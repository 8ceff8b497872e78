package types

import (
	"fmt"
	"strings"
)

type (
	// Type is a structural, immutable RVSDG type.
	// Two types are equal iff their kind and all fields are equal.
	Type interface {
		String() string

		typ()
	}

	// ValueType carries runtime values and has a size and alignment.
	ValueType interface {
		Type

		Size() int
		Align() int
	}

	// StateType carries ordering edges with no runtime representation.
	StateType interface {
		Type

		state()
	}

	FloatSize int

	Bits struct {
		Width int
	}

	Float struct {
		FSize FloatSize
	}

	Pointer struct{}

	Array struct {
		Elem ValueType
		Len  int
	}

	Record struct {
		Decl *RecordDecl
	}

	RecordDecl struct {
		Name   string
		Fields []ValueType
		Packed bool
	}

	Function struct {
		Params  []Type
		Results []Type
	}

	// Control carries a branch selector with K alternatives.
	Control struct {
		K int
	}

	Memory struct{}
	IO     struct{}
	Loop   struct{}
)

const (
	Half FloatSize = iota
	Flt
	Dbl
	X86FP80
	FP128
)

func (x Bits) typ()     {}
func (x Float) typ()    {}
func (x Pointer) typ()  {}
func (x Array) typ()    {}
func (x Record) typ()   {}
func (x Function) typ() {}
func (x Control) typ()  {}
func (x Memory) typ()   {}
func (x IO) typ()       {}
func (x Loop) typ()     {}

func (x Memory) state() {}
func (x IO) state()     {}
func (x Loop) state()   {}

func (x Bits) Size() int {
	return (x.Width + 7) / 8
}

func (x Bits) Align() int {
	s := x.Size()

	for a := 1; ; a <<= 1 {
		if a >= s {
			return a
		}
	}
}

func (x Float) Size() int {
	switch x.FSize {
	case Half:
		return 2
	case Flt:
		return 4
	case Dbl:
		return 8
	case X86FP80:
		return 16
	case FP128:
		return 16
	default:
		panic(x.FSize)
	}
}

func (x Float) Align() int {
	if x.FSize == X86FP80 {
		return 16
	}

	return x.Size()
}

func (x Pointer) Size() int  { return 8 }
func (x Pointer) Align() int { return 8 }

func (x Array) Size() int {
	return x.Elem.Size() * x.Len
}

func (x Array) Align() int {
	return x.Elem.Align()
}

func (x Record) Size() (s int) {
	for _, f := range x.Decl.Fields {
		if !x.Decl.Packed {
			s = align(s, f.Align())
		}

		s += f.Size()
	}

	return align(s, x.Align())
}

func (x Record) Align() int {
	if x.Decl.Packed {
		return 1
	}

	a := 1

	for _, f := range x.Decl.Fields {
		if fa := f.Align(); fa > a {
			a = fa
		}
	}

	return a
}

// FieldOffset is the byte offset of field i inside the record.
func (x Record) FieldOffset(i int) (off int) {
	for j, f := range x.Decl.Fields {
		if !x.Decl.Packed {
			off = align(off, f.Align())
		}

		if j == i {
			return off
		}

		off += f.Size()
	}

	panic(i)
}

func align(off, a int) int {
	return (off + a - 1) / a * a
}

func (x Bits) String() string {
	return fmt.Sprintf("bit%d", x.Width)
}

func (x Float) String() string {
	switch x.FSize {
	case Half:
		return "half"
	case Flt:
		return "float"
	case Dbl:
		return "double"
	case X86FP80:
		return "x86fp80"
	case FP128:
		return "fp128"
	default:
		panic(x.FSize)
	}
}

func (x Pointer) String() string {
	return "ptr"
}

func (x Array) String() string {
	return fmt.Sprintf("[%d x %v]", x.Len, x.Elem)
}

func (x Record) String() string {
	if x.Decl.Name != "" {
		return "%" + x.Decl.Name
	}

	var b strings.Builder

	b.WriteByte('{')

	for i, f := range x.Decl.Fields {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(f.String())
	}

	b.WriteByte('}')

	return b.String()
}

func (x Function) String() string {
	var b strings.Builder

	b.WriteByte('(')

	for i, p := range x.Params {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(p.String())
	}

	b.WriteString(") -> (")

	for i, r := range x.Results {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(r.String())
	}

	b.WriteByte(')')

	return b.String()
}

func (x Control) String() string {
	return fmt.Sprintf("ctl%d", x.K)
}

func (x Memory) String() string { return "mem" }
func (x IO) String() string     { return "io" }
func (x Loop) String() string   { return "loop" }

func IsValue(t Type) bool {
	_, ok := t.(ValueType)
	return ok
}

func IsState(t Type) bool {
	_, ok := t.(StateType)
	return ok
}

func IsBits(t Type, width int) bool {
	b, ok := t.(Bits)
	return ok && b.Width == width
}

func IsPointer(t Type) bool {
	_, ok := t.(Pointer)
	return ok
}

// Equal compares two types structurally.
func Equal(a, b Type) bool {
	switch a := a.(type) {
	case Bits:
		b, ok := b.(Bits)
		return ok && a.Width == b.Width
	case Float:
		b, ok := b.(Float)
		return ok && a.FSize == b.FSize
	case Pointer:
		_, ok := b.(Pointer)
		return ok
	case Array:
		b, ok := b.(Array)
		return ok && a.Len == b.Len && Equal(a.Elem, b.Elem)
	case Record:
		b, ok := b.(Record)
		if !ok || len(a.Decl.Fields) != len(b.Decl.Fields) || a.Decl.Packed != b.Decl.Packed || a.Decl.Name != b.Decl.Name {
			return false
		}

		for i, f := range a.Decl.Fields {
			if !Equal(f, b.Decl.Fields[i]) {
				return false
			}
		}

		return true
	case Function:
		b, ok := b.(Function)
		return ok && EqualAll(a.Params, b.Params) && EqualAll(a.Results, b.Results)
	case Control:
		b, ok := b.(Control)
		return ok && a.K == b.K
	case Memory:
		_, ok := b.(Memory)
		return ok
	case IO:
		_, ok := b.(IO)
		return ok
	case Loop:
		_, ok := b.(Loop)
		return ok
	default:
		panic(a)
	}
}

func EqualAll(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}
