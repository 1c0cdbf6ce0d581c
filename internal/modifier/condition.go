package modifier

import (
	"context"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

const (
	TemplateFailIf = "modifier.failIf"
	// TemplateFailed is raised for plain errors returned by user conditions
	// and handlers.
	TemplateFailed = "processing.failed"
)

// ConditionFunc decides on the current value.
type ConditionFunc func(ctx context.Context, v any) (bool, error)

// Method names a record method. It is looked up on the record of the
// current frame when the chain runs.
type Method string

// resolveCondition turns a declared condition into a ConditionFunc. A
// condition is a ConditionFunc, a plain predicate, a Method, or a static
// value judged by its truthiness.
func resolveCondition(s *chain.Scope, owner string, cond any) (ConditionFunc, error) {
	switch c := cond.(type) {
	case ConditionFunc:
		return c, nil
	case func(context.Context, any) (bool, error):
		return c, nil
	case func(any) bool:
		return func(_ context.Context, v any) (bool, error) { return c(v), nil }, nil
	case Method:
		if err := checkMethod(s, owner, string(c)); err != nil {
			return nil, err
		}
		return func(ctx context.Context, v any) (bool, error) {
			impl, err := recordMethod(ctx, owner, string(c))
			if err != nil {
				return false, err
			}
			switch fn := impl.(type) {
			case ConditionFunc:
				return fn(ctx, v)
			case func(context.Context, any) (bool, error):
				return fn(ctx, v)
			case func(any) bool:
				return fn(v), nil
			default:
				return false, failure.Configuration("%s condition %s has unsupported type %T", owner, c, impl)
			}
		}, nil
	default:
		static := truthy(cond)
		return func(context.Context, any) (bool, error) { return static, nil }, nil
	}
}

// checkMethod verifies at compile time that the compile record exposes
// name.
func checkMethod(s *chain.Scope, owner, name string) error {
	if name == "" {
		return failure.Configuration("%s names an empty method", owner)
	}
	if _, ok := s.Method(name); !ok {
		return failure.Configuration("%s needs record %T to expose method %s", owner, s.Record, name)
	}
	return nil
}

// recordMethod resolves name on the current frame's record.
func recordMethod(ctx context.Context, owner, name string) (any, error) {
	rec := execctx.Record(ctx)
	if rec == nil {
		return nil, failure.Configuration("%s needs a processing frame to call method %s", owner, name)
	}
	mp, ok := rec.(chain.MethodProvider)
	if !ok {
		return nil, failure.Configuration("record %T does not expose methods", rec)
	}
	impl, ok := mp.ProcessingMethod(name)
	if !ok {
		return nil, failure.Configuration("record %T has no method %s", rec, name)
	}
	return impl, nil
}

// asFailure turns a plain error from user code into a processing failure.
func asFailure(owner string, err error) error {
	if _, ok := failure.As(err); ok {
		return err
	}
	return failure.Processing(TemplateFailed,
		map[string]any{"reason": err.Error()},
		failure.WithCause(err),
		failure.WithDebug("node", owner),
	)
}

type applyNextIf struct {
	cond   any
	n      int
	negate bool
	name   string
}

// ApplyNextIf applies the next n declarations only when cond holds for the
// current value.
func ApplyNextIf(cond any, n int) chain.ModifierDecl {
	return chain.Mod(applyNextIf{cond: cond, n: n, name: "applyNextIf"})
}

// ApplyNextUnless applies the next n declarations only when cond does not
// hold.
func ApplyNextUnless(cond any, n int) chain.ModifierDecl {
	return chain.Mod(applyNextIf{cond: cond, n: n, negate: true, name: "applyNextIf"})
}

// SkipNextIf skips the next n declarations when cond holds.
func SkipNextIf(cond any, n int) chain.ModifierDecl {
	return chain.Mod(applyNextIf{cond: cond, n: n, negate: true, name: "skipNextIf"})
}

func (m applyNextIf) Name() string { return m.name }

func (m applyNextIf) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	cond, err := resolveCondition(s, m.name, m.cond)
	if err != nil {
		return nil, err
	}
	sub, err := s.Subchain(m.name, m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.name, func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			ok, err := cond(ctx, x)
			if err != nil {
				return nil, execctx.Stamp(ctx, asFailure(m.name, err))
			}
			if ok == m.negate {
				return x, nil
			}
			return sub(ctx, x)
		}
	}), nil
}

type failIf struct {
	cond     any
	negate   bool
	template string
	params   map[string]any
}

// FailOption customizes FailIf.
type FailOption func(*failIf)

// FailNegate inverts the condition.
func FailNegate() FailOption { return func(m *failIf) { m.negate = true } }

// FailTemplate sets the template and params of the raised failure.
func FailTemplate(template string, params map[string]any) FailOption {
	return func(m *failIf) { m.template, m.params = template, params }
}

// FailIf raises a processing failure when cond holds and otherwise passes
// the value through. It consumes no declarations.
func FailIf(cond any, opts ...FailOption) chain.ModifierDecl {
	m := failIf{cond: cond, template: TemplateFailIf}
	for _, opt := range opts {
		opt(&m)
	}
	return chain.Mod(m)
}

func (failIf) Name() string { return "failIf" }

func (m failIf) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	if m.template == "" {
		return nil, failure.Configuration("%s needs a template", m.Name())
	}
	cond, err := resolveCondition(s, m.Name(), m.cond)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			ok, err := cond(ctx, x)
			if err != nil {
				return nil, execctx.Stamp(ctx, asFailure(m.Name(), err))
			}
			if ok != m.negate {
				params := make(map[string]any, len(m.params))
				for k, p := range m.params {
					params[k] = p
				}
				return nil, execctx.Stamp(ctx, failure.Processing(m.template, params, failure.WithDebug("value", x)))
			}
			return x, nil
		}
	}), nil
}
