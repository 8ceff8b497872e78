package rvsdg

import (
	"tlog.app/go/errors"

	"github.com/halvorlinder/jlm/compiler/types"
)

// Audit verifies the graph invariants: input types match their origins,
// user sets are consistent with inputs, origins dominate their
// consumers, and every subregion points back to its node.
// Used by tests.
func Audit(g *Graph) error {
	return auditRegion(g.root)
}

func auditRegion(r *Region) error {
	for i, a := range r.Args {
		if a.region != r || a.index != i {
			return errors.New("argument %d: bad backlink", i)
		}

		if err := auditUsers(a); err != nil {
			return err
		}
	}

	for i, res := range r.Results {
		if res.region != r || res.index != i {
			return errors.New("result %d: bad backlink", i)
		}

		if err := auditInput(r, res); err != nil {
			return errors.Wrap(err, "result %d", i)
		}
	}

	for _, n := range r.Nodes {
		if n.region != r {
			return errors.New("%v: bad region backlink", n.op)
		}

		for i, in := range n.ins {
			if in.node != n || in.index != i {
				return errors.New("%v: input %d: bad backlink", n.op, i)
			}

			if err := auditInput(r, in); err != nil {
				return errors.Wrap(err, "%v: input %d", n.op, i)
			}
		}

		for i, o := range n.outs {
			if o.node != n || o.index != i || o.region != r {
				return errors.New("%v: output %d: bad backlink", n.op, i)
			}

			if err := auditUsers(o); err != nil {
				return errors.Wrap(err, "%v: output %d", n.op, i)
			}
		}

		for i, sub := range n.subs {
			if sub.node != n || sub.index != i {
				return errors.New("%v: subregion %d: bad backlink", n.op, i)
			}

			if err := auditRegion(sub); err != nil {
				return errors.Wrap(err, "%v: subregion %d", n.op, i)
			}
		}
	}

	return nil
}

func auditInput(r *Region, in *Input) error {
	if in.origin == nil {
		return errors.New("input not connected")
	}

	if !types.Equal(in.typ, in.origin.typ) {
		return NewTypeMismatch(in.typ, in.origin.typ)
	}

	if in.origin.region != in.Region() {
		return NewScopeViolation("origin outside the consumer's region")
	}

	if _, ok := in.origin.users[in]; !ok {
		return errors.New("origin does not list the input as user")
	}

	return nil
}

func auditUsers(o *Output) error {
	for in := range o.users {
		if in.origin != o {
			return errors.New("user does not point back at the output")
		}
	}

	return nil
}
