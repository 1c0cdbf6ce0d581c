package modifier

import (
	"context"
	"fmt"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

type skipIfMatch struct {
	values    []any
	n         int
	strict    bool
	negate    bool
	hasReturn bool
	ret       any
}

// MatchOption customizes SkipIfMatch.
type MatchOption func(*skipIfMatch)

// MatchStrict compares by type and value instead of loosely.
func MatchStrict() MatchOption { return func(m *skipIfMatch) { m.strict = true } }

// MatchNegate skips when the value is not among the values.
func MatchNegate() MatchOption { return func(m *skipIfMatch) { m.negate = true } }

// MatchReturn replaces the value when skipping.
func MatchReturn(v any) MatchOption {
	return func(m *skipIfMatch) { m.hasReturn, m.ret = true, v }
}

// SkipIfMatch short-circuits when the value is one of values, skipping the
// next n declarations (all remaining when n is negative).
func SkipIfMatch(values []any, n int, opts ...MatchOption) chain.ModifierDecl {
	m := skipIfMatch{values: values, n: n}
	for _, opt := range opts {
		opt(&m)
	}
	return chain.Mod(m)
}

func (skipIfMatch) Name() string { return "skipIfMatch" }

func (m skipIfMatch) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	if len(m.values) == 0 {
		return nil, failure.Configuration("%s needs at least one value", m.Name())
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
			if contains(m.values, x, m.strict) != m.negate {
				if m.hasReturn {
					return m.ret, nil
				}
				return x, nil
			}
			return runMarked(ctx, m.Name(), sub, x)
		}
	}), nil
}

// GroupScoped is implemented by records that support group scoping.
type GroupScoped interface {
	ActiveGroups(phase chain.Phase) []string
}

type groups struct {
	names []string
	n     int
}

// Groups applies the next n declarations only when the record's active
// groups for the phase intersect names.
func Groups(names []string, n int) chain.ModifierDecl {
	return chain.Mod(groups{names: names, n: n})
}

func (groups) Name() string { return "groups" }

func (m groups) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	if len(m.names) == 0 {
		return nil, failure.Configuration("%s needs at least one group", m.Name())
	}
	if _, ok := s.Record.(GroupScoped); !ok {
		return nil, failure.Configuration("%s needs record %T to support group scoping", m.Name(), s.Record)
	}
	sub, err := s.Subchain(m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(m.names))
	for _, g := range m.names {
		want[g] = struct{}{}
	}
	phase := s.Phase
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			rec, ok := execctx.Record(ctx).(GroupScoped)
			if !ok {
				return x, nil
			}
			for _, g := range rec.ActiveGroups(phase) {
				if _, hit := want[g]; hit {
					return sub(ctx, x)
				}
			}
			return x, nil
		}
	}), nil
}

type errorTemplate struct {
	override any
	n        int
}

// ErrorTemplate overrides the templates of failures raised by the next n
// declarations. override is a template key replacing every template, or a
// map from template key to replacement.
func ErrorTemplate(override any, n int) chain.ModifierDecl {
	return chain.Mod(errorTemplate{override: override, n: n})
}

func (errorTemplate) Name() string { return "errorTemplate" }

func (m errorTemplate) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	var push func(ctx context.Context) error
	switch o := m.override.(type) {
	case string:
		if o == "" {
			return nil, failure.Configuration("%s needs a non-empty template", m.Name())
		}
		push = func(ctx context.Context) error { return execctx.PushTemplate(ctx, o) }
	case map[string]string:
		if len(o) == 0 {
			return nil, failure.Configuration("%s needs at least one template override", m.Name())
		}
		push = func(ctx context.Context) error { return execctx.PushTemplateMap(ctx, o) }
	default:
		return nil, failure.Configuration("%s override must be a string or a map of strings, got %T", m.Name(), m.override)
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
			if err := push(ctx); err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name(), err)
			}
			defer execctx.PopTemplate(ctx)
			return sub(ctx, x)
		}
	}), nil
}
