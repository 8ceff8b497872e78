package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/halvorlinder/jlm/compiler/alias"
	"github.com/halvorlinder/jlm/compiler/back"
	"github.com/halvorlinder/jlm/compiler/front"
	"github.com/halvorlinder/jlm/compiler/llvm"
	"github.com/halvorlinder/jlm/compiler/rvsdg"
)

type (
	// Config selects the passes the pipeline runs.
	Config struct {
		Normalize bool
		Encode    bool
	}
)

// DefaultConfig runs the whole pipeline.
func DefaultConfig() Config {
	return Config{
		Normalize: true,
		Encode:    true,
	}
}

// Compile runs a module through the middle end: construct the RVSDG,
// normalize it, encode the memory states along the points-to graph,
// normalize again, and structure it back into a module.
func Compile(ctx context.Context, m *llvm.Module, cfg Config) (_ *llvm.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile module", "name", m.Name)
	defer tr.Finish("err", &err)

	g, err := Optimize(ctx, m, cfg)
	if err != nil {
		return nil, err
	}

	out, err := back.Structure(ctx, g)
	if err != nil {
		return nil, errors.Wrap(err, "structure")
	}

	out.Name = m.Name

	return out, nil
}

// Optimize builds and optimizes the RVSDG without lowering it back.
func Optimize(ctx context.Context, m *llvm.Module, cfg Config) (_ *rvsdg.Graph, err error) {
	g, err := front.Destruct(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "destruct")
	}

	if cfg.Normalize {
		g.Normalize()
		g.Prune()
	}

	if cfg.Encode {
		ptg, err := alias.Analyze(ctx, g)
		if err != nil {
			return nil, errors.Wrap(err, "alias analysis")
		}

		err = alias.Encode(ctx, ptg, g)
		if err != nil {
			return nil, errors.Wrap(err, "encode memory states")
		}

		if cfg.Normalize {
			g.Normalize()
			g.Prune()
		}
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("dump_rvsdg") {
		tr.Printw("optimized graph", "view", rvsdg.View(g))
	}

	return g, nil
}
