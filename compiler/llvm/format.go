package llvm

import (
	"github.com/nikandfor/hacked/hfmt"
)

// Format renders the module as a stable, human-readable listing.
func Format(b []byte, m *Module) []byte {
	for _, gl := range m.Globals {
		b = hfmt.Appendf(b, "@%v = %v global %v", gl.Name, gl.Linkage, gl.VType)

		if gl.Init != nil {
			b = hfmt.Appendf(b, " %v", gl.Init)
		}

		b = append(b, '\n')
	}

	for _, f := range m.Funcs {
		if len(m.Globals) != 0 || f != m.Funcs[0] {
			b = append(b, '\n')
		}

		b = formatFunc(b, f)
	}

	return b
}

func formatFunc(b []byte, f *Function) []byte {
	b = hfmt.Appendf(b, "func @%v(", f.Name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = hfmt.Appendf(b, "%v %v", p.Name, p.Type)
	}

	b = append(b, ")"...)

	for _, t := range f.FType.Results {
		b = hfmt.Appendf(b, " %v", t)
	}

	if f.IsDecl() {
		b = append(b, " decl\n"...)
		return b
	}

	b = append(b, " {\n"...)

	for _, blk := range f.Blocks {
		b = formatBlock(b, blk)
	}

	b = append(b, "}\n"...)

	return b
}

func formatBlock(b []byte, blk *Block) []byte {
	b = hfmt.Appendf(b, "b%d:\n", blk.Index)

	for _, p := range blk.Phis {
		b = hfmt.Appendf(b, "\t%v = phi", p.Res.Name)

		for i, a := range p.Args {
			if i != 0 {
				b = append(b, ',')
			}

			b = hfmt.Appendf(b, " [b%d: %v]", a.Pred.Index, a.Value.Name)
		}

		b = append(b, '\n')
	}

	for _, tac := range blk.Code {
		b = append(b, '\t')

		for i, v := range tac.Res {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = hfmt.Appendf(b, "%v", v.Name)
		}

		if len(tac.Res) != 0 {
			b = append(b, " = "...)
		}

		b = hfmt.Appendf(b, "%v", tac.Op)

		for i, v := range tac.Args {
			if i != 0 {
				b = append(b, ',')
			}

			b = hfmt.Appendf(b, " %v", v.Name)
		}

		b = append(b, '\n')
	}

	switch t := blk.Term.(type) {
	case Jump:
		b = hfmt.Appendf(b, "\tjump b%d\n", t.To.Index)
	case Branch:
		b = hfmt.Appendf(b, "\tbranch %v", t.Value.Name)

		for _, c := range t.Cases {
			b = hfmt.Appendf(b, " [%d: b%d]", c.Val, c.To.Index)
		}

		b = hfmt.Appendf(b, " [default: b%d]\n", t.Default.Index)
	case Return:
		b = append(b, "\tret"...)

		for _, v := range t.Vals {
			b = hfmt.Appendf(b, " %v", v.Name)
		}

		b = append(b, '\n')
	case nil:
		b = append(b, "\tunterminated\n"...)
	default:
		panic(t)
	}

	return b
}
