package modifier

import (
	"context"
	"fmt"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Template keys raised by the structural modifiers.
const (
	TemplateNotIterable = "modifier.perItem.notIterable"
)

type wrap struct{ n int }

// Wrap groups the next n declarations without changing their effect.
func Wrap(n int) chain.ModifierDecl { return chain.Mod(wrap{n: n}) }

func (wrap) Name() string { return "wrap" }

func (m wrap) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	sub, err := s.Subchain(m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return then(up, sub)
	}), nil
}

type perItem struct{ n int }

// PerItem applies the next n declarations to every element of a list or
// keyed collection. Element failures follow the frame's error mode unless a
// modifier around it holds the frame.
func PerItem(n int) chain.ModifierDecl { return chain.Mod(perItem{n: n}) }

func (perItem) Name() string { return "perItem" }

func (m perItem) ProcessingNode(s *chain.Scope) (chain.Node, error) {
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
			it, ok := asIterable(x)
			if !ok {
				return nil, execctx.Stamp(ctx, failure.Processing(TemplateNotIterable,
					map[string]any{"type": fmt.Sprintf("%T", x)},
					failure.WithDebug("value", x)))
			}
			defer execctx.EnterNode(ctx, m.Name())()
			return mapItems(ctx, it, sub)
		}
	}), nil
}

func mapItems(ctx context.Context, it iterable, sub chain.Func) (any, error) {
	if it.keys == nil {
		out := make([]any, 0, len(it.items))
		for i, el := range it.items {
			r, keep, err := applyItem(ctx, i, el, sub)
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, r)
			}
		}
		return out, nil
	}
	out := make(map[string]any, len(it.items))
	for i, el := range it.items {
		r, keep, err := applyItem(ctx, it.keys[i], el, sub)
		if err != nil {
			return nil, err
		}
		if keep {
			out[it.keys[i]] = r
		}
	}
	return out, nil
}

func applyItem(ctx context.Context, seg any, el any, sub chain.Func) (any, bool, error) {
	defer execctx.EnterProp(ctx, seg)()
	r, err := sub(ctx, el)
	if err != nil {
		return execctx.CollectElement(ctx, err, el)
	}
	return r, true, nil
}

type collect struct {
	n    int
	keys []string
}

// Collect runs the next n units (all remaining when n is negative) against
// the same input and returns their results as a list.
func Collect(n int) chain.ModifierDecl { return chain.Mod(collect{n: n}) }

// CollectKeys runs one unit per key against the same input and returns a
// map from key to result. Keys must be unique and non-empty.
func CollectKeys(keys ...string) chain.ModifierDecl {
	return chain.Mod(collect{n: len(keys), keys: keys})
}

func (collect) Name() string { return "collect" }

func (m collect) ProcessingNode(s *chain.Scope) (chain.Node, error) {
	if m.keys != nil {
		seen := make(map[string]struct{}, len(m.keys))
		for _, k := range m.keys {
			if k == "" {
				return nil, failure.Configuration("%s keys must be non-empty strings", m.Name())
			}
			if _, dup := seen[k]; dup {
				return nil, failure.Configuration("%s key %q is declared twice", m.Name(), k)
			}
			seen[k] = struct{}{}
		}
	}
	units, err := s.Units(m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	return chain.NewNode(m.Name(), func(up chain.Func) chain.Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			if m.keys == nil {
				out := make([]any, len(units))
				for i, fn := range units {
					r, err := runMarked(ctx, fmt.Sprintf("%s[%d]", m.Name(), i), fn, x)
					if err != nil {
						return nil, err
					}
					out[i] = r
				}
				return out, nil
			}
			out := make(map[string]any, len(units))
			for i, fn := range units {
				r, err := runMarked(ctx, m.Name()+"."+m.keys[i], fn, x)
				if err != nil {
					return nil, err
				}
				out[m.keys[i]] = r
			}
			return out, nil
		}
	}), nil
}

// then runs sub on the output of up.
func then(up, sub chain.Func) chain.Func {
	return func(ctx context.Context, v any) (any, error) {
		x, err := up(ctx, v)
		if err != nil {
			return nil, err
		}
		return sub(ctx, x)
	}
}

// runMarked runs fn under a diagnostic node marker.
func runMarked(ctx context.Context, marker string, fn chain.Func, v any) (any, error) {
	defer execctx.EnterNode(ctx, marker)()
	return fn(ctx, v)
}
