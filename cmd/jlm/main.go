package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler"
	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
	"github.com/halvorlinder/jlm/compiler/types"
)

func main() {
	optCmd := &cli.Command{
		Name:        "opt",
		Description: "run a sample module through the middle end and dump the optimized graph",
		Action:      optAct,
		Args:        cli.Args{},
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "round-trip a sample module and print the structured result",
		Action:      compileAct,
		Args:        cli.Args{},
	}

	listCmd := &cli.Command{
		Name:        "list",
		Description: "list the built-in sample modules",
		Action:      listAct,
	}

	app := &cli.Command{
		Name:        "jlm",
		Description: "jlm is an RVSDG based optimizing middle end",
		Commands: []*cli.Command{
			optCmd,
			compileCmd,
			listCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func listAct(c *cli.Command) error {
	for _, name := range sampleNames() {
		fmt.Printf("%v\n", name)
	}

	return nil
}

func optAct(c *cli.Command) error {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		m, err := sample(a)
		if err != nil {
			return err
		}

		g, err := compiler.Optimize(ctx, m, compiler.DefaultConfig())
		if err != nil {
			return errors.Wrap(err, "optimize %v", a)
		}

		fmt.Printf("%s", rvsdg.View(g))
	}

	return nil
}

func compileAct(c *cli.Command) error {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		m, err := sample(a)
		if err != nil {
			return err
		}

		out, err := compiler.Compile(ctx, m, compiler.DefaultConfig())
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		fmt.Printf("%s", llvm.Format(nil, out))
	}

	return nil
}

func sampleNames() []string {
	return []string{"straight", "max", "sumstore"}
}

func sample(name string) (*llvm.Module, error) {
	switch name {
	case "straight":
		return sampleStraight(), nil
	case "max":
		return sampleMax(), nil
	case "sumstore":
		return sampleSumStore(), nil
	default:
		return nil, errors.New("unknown sample %v (try: %v)", name, sampleNames())
	}
}

// sampleStraight is a chain of arithmetic over one argument.
func sampleStraight() *llvm.Module {
	i32 := types.Bits{Width: 32}

	x := &llvm.Variable{Name: "x", Type: i32}

	f := &llvm.Function{
		Name:    "straight",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{x},
	}

	b := f.AddBlock()

	one := b.Add(rvsdg.BitConstOp{Width: 32, Value: 1})
	t0 := b.Add(rvsdg.BitBinOp{K: rvsdg.BitAdd, Width: 32}, x, one.Res[0])
	t1 := b.Add(rvsdg.BitBinOp{K: rvsdg.BitMul, Width: 32}, t0.Res[0], t0.Res[0])

	b.Term = llvm.Return{Vals: []*llvm.Variable{t1.Res[0]}}

	return &llvm.Module{Name: "straight", Funcs: []*llvm.Function{f}}
}

// sampleMax branches on a comparison and joins with a phi.
func sampleMax() *llvm.Module {
	i32 := types.Bits{Width: 32}

	x := &llvm.Variable{Name: "x", Type: i32}
	y := &llvm.Variable{Name: "y", Type: i32}

	f := &llvm.Function{
		Name:    "max",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{i32, i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{x, y},
	}

	entry := f.AddBlock()
	then := f.AddBlock()
	els := f.AddBlock()
	join := f.AddBlock()

	cmp := entry.Add(rvsdg.BitCompOp{K: rvsdg.BitSGt, Width: 32}, x, y)
	entry.Term = llvm.Branch{
		Value:   cmp.Res[0],
		Cases:   []llvm.BranchCase{{Val: 0, To: els}},
		Default: then,
	}

	then.Term = llvm.Jump{To: join}
	els.Term = llvm.Jump{To: join}

	res := &llvm.Variable{Name: "m", Type: i32}
	join.Phis = []*llvm.Phi{{
		Res: res,
		Args: []llvm.PhiArg{
			{Pred: then, Value: x},
			{Pred: els, Value: y},
		},
	}}
	join.Term = llvm.Return{Vals: []*llvm.Variable{res}}

	return &llvm.Module{Name: "max", Funcs: []*llvm.Function{f}}
}

// sampleSumStore loops storing the loop counter through a pointer.
func sampleSumStore() *llvm.Module {
	i32 := types.Bits{Width: 32}

	p := &llvm.Variable{Name: "p", Type: types.Pointer{}}
	limit := &llvm.Variable{Name: "limit", Type: i32}

	f := &llvm.Function{
		Name:    "sumstore",
		Linkage: rvsdg.ExternalLinkage,
		FType:   types.Function{Params: []types.Type{types.Pointer{}, i32}, Results: []types.Type{i32}},
		Params:  []*llvm.Variable{p, limit},
	}

	entry := f.AddBlock()
	body := f.AddBlock()
	exit := f.AddBlock()

	zero := entry.Add(rvsdg.BitConstOp{Width: 32, Value: 0})
	entry.Term = llvm.Jump{To: body}

	i := &llvm.Variable{Name: "i", Type: i32}

	body.Add(llvm.StoreOp{VType: i32, Alignment: 4}, p, i)

	one := body.Add(rvsdg.BitConstOp{Width: 32, Value: 1})
	next := body.Add(rvsdg.BitBinOp{K: rvsdg.BitAdd, Width: 32}, i, one.Res[0])
	cond := body.Add(rvsdg.BitCompOp{K: rvsdg.BitSLt, Width: 32}, next.Res[0], limit)

	body.Phis = []*llvm.Phi{{
		Res: i,
		Args: []llvm.PhiArg{
			{Pred: entry, Value: zero.Res[0]},
			{Pred: body, Value: next.Res[0]},
		},
	}}

	body.Term = llvm.Branch{
		Value:   cond.Res[0],
		Cases:   []llvm.BranchCase{{Val: 0, To: exit}},
		Default: body,
	}

	exit.Term = llvm.Return{Vals: []*llvm.Variable{next.Res[0]}}

	return &llvm.Module{Name: "sumstore", Funcs: []*llvm.Function{f}}
}
