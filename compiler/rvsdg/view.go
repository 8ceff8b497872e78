package rvsdg

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
)

// View renders a stable, human-readable listing of the graph: node
// kinds, operation strings, typed ports, subregions indented. Two
// structurally equivalent graphs render equally. Not a load format.
func View(g *Graph) string {
	v := viewer{names: map[*Output]string{}}

	b := v.region(nil, g.root, 0)

	return string(b)
}

type viewer struct {
	names map[*Output]string
	seq   int
}

func (v *viewer) region(b []byte, r *Region, d int) []byte {
	b = indent(b, d)
	b = append(b, "{\n"...)

	for _, a := range r.Args {
		name := v.name(a)

		b = indent(b, d+1)
		b = hfmt.Appendf(b, "arg %v: %v", name, a.Type())

		if a.Name != "" {
			b = hfmt.Appendf(b, " %q", a.Name)
		}

		b = append(b, '\n')
	}

	for _, n := range r.TopNodes() {
		b = v.node(b, n, d+1)
	}

	for _, res := range r.Results {
		b = indent(b, d+1)
		b = hfmt.Appendf(b, "res <- %v", v.name(res.Origin()))

		if res.Name != "" {
			b = hfmt.Appendf(b, " %q", res.Name)
		}

		b = append(b, '\n')
	}

	b = indent(b, d)
	b = append(b, "}\n"...)

	return b
}

func (v *viewer) node(b []byte, n *Node, d int) []byte {
	b = indent(b, d)

	for i, o := range n.outs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = hfmt.Appendf(b, "%v: %v", v.name(o), o.Type())
	}

	if len(n.outs) != 0 {
		b = append(b, " := "...)
	}

	b = hfmt.Appendf(b, "%v", n.op)

	if len(n.ins) != 0 {
		b = append(b, " ("...)

		for i, in := range n.ins {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, v.name(in.Origin())...)
		}

		b = append(b, ")"...)
	}

	if len(n.subs) == 0 {
		b = append(b, '\n')
		return b
	}

	b = append(b, '\n')

	for _, sub := range n.subs {
		b = v.region(b, sub, d+1)
	}

	return b
}

func (v *viewer) name(o *Output) string {
	if name, ok := v.names[o]; ok {
		return name
	}

	var name string

	if o.node == nil {
		name = "a" + strconv.Itoa(len(v.names))
	} else {
		name = "o" + strconv.Itoa(v.seq)
		v.seq++
	}

	v.names[o] = name

	return name
}

func indent(b []byte, d int) []byte {
	for i := 0; i < d; i++ {
		b = append(b, "    "...)
	}

	return b
}
