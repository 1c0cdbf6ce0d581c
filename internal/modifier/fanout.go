package modifier

import (
	"context"
	"fmt"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

const (
	TemplateAnyFailed          = "modifier.any.failed"
	TemplateFirstSuccessFailed = "modifier.firstSuccess.failed"
)

type assert struct{ n int }

// Assert runs the next n units (all remaining when n is negative) against
// the same value for their side effects and returns the value unchanged.
// The first failure propagates, element failures included.
func Assert(n int) chain.ModifierDecl { return chain.Mod(assert{n: n}) }

func (assert) Name() string { return "assert" }

func (m assert) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	units, err := fanOutUnits(s, m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			defer execctx.Hold(ctx)()
			for i, fn := range units {
				if _, err := runMarked(ctx, fmt.Sprintf("%s[%d]", m.Name(), i), fn, x); err != nil {
					return nil, err
				}
			}
			return x, nil
		}
	}), nil
}

type alternatives struct {
	name     string
	n        int
	generic  bool
	template string
}

// Any tries the next n units (all remaining when n is negative) in order
// and returns the first success. An alternative fails when any part of its
// value fails, including single elements of a collection. When
// all fail it raises an aggregate failure that exposes the first
// alternative's message and carries every failure.
func Any(n int) chain.ModifierDecl {
	return chain.Mod(alternatives{name: "any", n: n, template: TemplateAnyFailed})
}

// FirstSuccess is Any with a generic failure referencing the number of
// alternatives when all fail.
func FirstSuccess(n int) chain.ModifierDecl {
	return chain.Mod(alternatives{name: "firstSuccess", n: n, generic: true, template: TemplateFirstSuccessFailed})
}

func (m alternatives) Name() string { return m.name }

func (m alternatives) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	units, err := fanOutUnits(s, m.name, m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.name, func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			defer execctx.Hold(ctx)()
			failures := make([]*failure.Error, 0, len(units))
			for i, fn := range units {
				r, err := runMarked(ctx, fmt.Sprintf("%s[%d]", m.name, i), fn, x)
				if err == nil {
					return r, nil
				}
				fe, ok := failure.As(err)
				if !ok || fe.Fatal() {
					return nil, err
				}
				failures = append(failures, fe)
			}
			return nil, execctx.Stamp(ctx, m.aggregate(failures))
		}
	}), nil
}

func (m alternatives) aggregate(failures []*failure.Error) *failure.Error {
	params := map[string]any{"count": len(failures)}
	template := m.template
	if !m.generic && len(failures) > 0 {
		template = failures[0].Template
		for k, v := range failures[0].Params {
			params[k] = v
		}
	}
	return failure.Aggregate(template, params, failures, failure.WithDebug("modifier", m.name))
}

func fanOutUnits(s *chain.Scope, name string, n int) ([]chain.Func, error) {
	if n == 0 {
		return nil, failure.Configuration("%s needs at least one alternative, got %d", name, n)
	}
	units, err := s.Units(name, n)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, failure.Configuration("%s needs at least one alternative, got none", name)
	}
	return units, nil
}
