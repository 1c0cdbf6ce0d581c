package chain

import (
	"context"

	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// leafNode is a resolved caster or validator. One leafNode is shared by
// every chain compiled from an identical declaration.
type leafNode struct {
	name      string
	kind      LeafKind
	args      []any
	caster    Caster
	validator Validator
	booter    Booter

	// method is set for leaves bound to a record method; the method is
	// looked up on the record of the current frame at invocation.
	method string
}

func (n *leafNode) Name() string { return n.name }

func (n *leafNode) Build(upstream Func) Func {
	return func(ctx context.Context, v any) (any, error) {
		x, err := upstream(ctx, v)
		if err != nil {
			return nil, err
		}
		return n.invoke(ctx, x)
	}
}

func (n *leafNode) invoke(ctx context.Context, v any) (any, error) {
	defer execctx.EnterNode(ctx, n.name)()

	target := n
	if n.method != "" {
		bound, err := n.bind(ctx)
		if err != nil {
			return nil, err
		}
		target = bound
	}

	if target.booter != nil {
		err := execctx.BootOnce(ctx, target.booter, func() error {
			return target.booter.Boot(ctx, execctx.Record(ctx))
		})
		if err != nil {
			return nil, execctx.Stamp(ctx, n.failure(err))
		}
	}

	if n.kind == KindValidate {
		if err := target.validator.Validate(ctx, v, n.args); err != nil {
			return nil, execctx.Stamp(ctx, n.failure(err))
		}
		return v, nil
	}
	out, err := target.caster.Cast(ctx, v, n.args)
	if err != nil {
		return nil, execctx.Stamp(ctx, n.failure(err))
	}
	return out, nil
}

func (n *leafNode) bind(ctx context.Context) (*leafNode, error) {
	rec := execctx.Record(ctx)
	mp, ok := rec.(MethodProvider)
	if !ok {
		return nil, failure.Configuration("leaf %q needs a record exposing method %s", n.name, n.method)
	}
	impl, ok := mp.ProcessingMethod(n.method)
	if !ok {
		return nil, failure.Resolution(n.name, errMissingMethod(n.method, rec))
	}
	return newLeaf(n.name, n.kind, n.args, impl)
}

// failure converts err into a pipeline failure; plain errors become
// processing failures.
func (n *leafNode) failure(err error) error {
	if _, ok := failure.As(err); ok {
		return err
	}
	return failure.Processing("processing.failed",
		map[string]any{"reason": err.Error()},
		failure.WithCause(err),
		failure.WithDebug("node", n.name),
	)
}

func newLeaf(name string, kind LeafKind, args []any, impl any) (*leafNode, error) {
	n := &leafNode{name: name, kind: kind, args: args}
	switch kind {
	case KindCast:
		switch v := impl.(type) {
		case Caster:
			n.caster = v
		case func(context.Context, any, []any) (any, error):
			n.caster = CasterFunc(v)
		default:
			return nil, failure.Configuration("%q (%T) is not a caster", name, impl)
		}
	case KindValidate:
		switch v := impl.(type) {
		case Validator:
			n.validator = v
		case func(context.Context, any, []any) error:
			n.validator = ValidatorFunc(v)
		default:
			return nil, failure.Configuration("%q (%T) is not a validator", name, impl)
		}
	}
	if b, ok := impl.(Booter); ok {
		n.booter = b
	}
	return n, nil
}
