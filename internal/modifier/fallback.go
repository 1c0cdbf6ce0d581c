package modifier

import (
	"context"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Handler computes the replacement for a guarded chain that failed. value
// is the input of the guarded chain.
type Handler func(ctx context.Context, value, fallback any, err *failure.Error, record any) (any, error)

// resolveHandler accepts a Handler, a Method naming a record handler, or
// nil for the constant fallback.
func resolveHandler(s *chain.Scope, owner string, h any) (Handler, error) {
	fn, err := handlerFunc(s, owner, h)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, value, fallback any, fe *failure.Error, record any) (any, error) {
		r, err := fn(ctx, value, fallback, fe, record)
		if err != nil {
			return nil, execctx.Stamp(ctx, asFailure(owner, err))
		}
		return r, nil
	}, nil
}

func handlerFunc(s *chain.Scope, owner string, h any) (Handler, error) {
	switch fn := h.(type) {
	case nil:
		return func(_ context.Context, _, fallback any, _ *failure.Error, _ any) (any, error) {
			return fallback, nil
		}, nil
	case Handler:
		return fn, nil
	case func(context.Context, any, any, *failure.Error, any) (any, error):
		return fn, nil
	case Method:
		if err := checkMethod(s, owner, string(fn)); err != nil {
			return nil, err
		}
		return func(ctx context.Context, value, fallback any, err *failure.Error, record any) (any, error) {
			impl, rerr := recordMethod(ctx, owner, string(fn))
			if rerr != nil {
				return nil, rerr
			}
			switch h := impl.(type) {
			case Handler:
				return h(ctx, value, fallback, err, record)
			case func(context.Context, any, any, *failure.Error, any) (any, error):
				return h(ctx, value, fallback, err, record)
			default:
				return nil, failure.Configuration("%s handler %s has unsupported type %T", owner, fn, impl)
			}
		}, nil
	default:
		return nil, failure.Configuration("%s handler has unsupported type %T", owner, h)
	}
}

// guard runs fn and hands collectable failures to handler. Element
// collection is held while fn runs.
func guard(ctx context.Context, fn chain.Func, v, fallback any, handler Handler) (any, error) {
	release := execctx.Hold(ctx)
	r, err := fn(ctx, v)
	release()
	if err == nil {
		return r, nil
	}
	fe, ok := failure.As(err)
	if !ok || fe.Fatal() {
		return nil, err
	}
	execctx.Stamp(ctx, fe)
	return handler(ctx, v, fallback, fe, execctx.Record(ctx))
}

type failTo struct {
	fallback any
	handler  any
}

// FailTo guards everything declared before it: on a processing failure the
// handler's result replaces the chain's. It cannot be the first
// declaration of a chain.
func FailTo(fallback any, handler any) chain.ModifierDecl {
	return chain.Mod(failTo{fallback: fallback, handler: handler})
}

func (failTo) Name() string { return "failTo" }

func (m failTo) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	if s.First {
		return nil, failure.Configuration("%s cannot be the first declaration: there is nothing to guard", m.Name())
	}
	handler, err := resolveHandler(s, m.Name(), m.handler)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			return guard(ctx, up, v, m.fallback, handler)
		}
	}), nil
}

type failNextTo struct {
	fallback any
	handler  any
	n        int
}

// FailNextTo guards the next n declarations.
func FailNextTo(fallback any, handler any, n int) chain.ModifierDecl {
	return chain.Mod(failNextTo{fallback: fallback, handler: handler, n: n})
}

func (failNextTo) Name() string { return "failNextTo" }

func (m failNextTo) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	handler, err := resolveHandler(s, m.Name(), m.handler)
	if err != nil {
		return nil, err
	}
	sub, err := s.Subchain(m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			return guard(ctx, sub, x, m.fallback, handler)
		}
	}), nil
}
