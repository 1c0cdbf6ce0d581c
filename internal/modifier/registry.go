package modifier

import (
	"sort"

	chain "github.com/hanpama/dtopipe/internal/chain"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Params are the named arguments of a data-driven modifier declaration.
type Params map[string]any

// Factory builds a modifier from params.
type Factory func(p Params) (chain.ModifierDecl, error)

var factories = map[string]Factory{
	"wrap": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return Wrap(n), err
	},
	"perItem": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return PerItem(n), err
	},
	"collect": func(p Params) (chain.ModifierDecl, error) {
		if _, ok := p["keys"]; ok {
			keys, err := p.strings("keys")
			return CollectKeys(keys...), err
		}
		n, err := p.count(-1)
		return Collect(n), err
	},
	"assert": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return Assert(n), err
	},
	"any": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return Any(n), err
	},
	"firstSuccess": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return FirstSuccess(n), err
	},
	"applyNextIf": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		if err != nil {
			return chain.ModifierDecl{}, err
		}
		if p.bool("negate") {
			return ApplyNextUnless(p.condition(), n), nil
		}
		return ApplyNextIf(p.condition(), n), nil
	},
	"skipNextIf": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return SkipNextIf(p.condition(), n), err
	},
	"failIf": func(p Params) (chain.ModifierDecl, error) {
		var opts []FailOption
		if p.bool("negate") {
			opts = append(opts, FailNegate())
		}
		if t, ok := p["template"].(string); ok {
			params, _ := p["params"].(map[string]any)
			opts = append(opts, FailTemplate(t, params))
		}
		return FailIf(p.condition(), opts...), nil
	},
	"failTo": func(p Params) (chain.ModifierDecl, error) {
		return FailTo(p["fallback"], p.handler()), nil
	},
	"failNextTo": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		return FailNextTo(p["fallback"], p.handler(), n), err
	},
	"skipIfMatch": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		if err != nil {
			return chain.ModifierDecl{}, err
		}
		values, ok := p["values"].([]any)
		if !ok {
			return chain.ModifierDecl{}, failure.Configuration("skipIfMatch needs a values list")
		}
		var opts []MatchOption
		if p.bool("strict") {
			opts = append(opts, MatchStrict())
		}
		if p.bool("negate") {
			opts = append(opts, MatchNegate())
		}
		if v, ok := p["return"]; ok {
			opts = append(opts, MatchReturn(v))
		}
		return SkipIfMatch(values, n, opts...), nil
	},
	"groups": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		if err != nil {
			return chain.ModifierDecl{}, err
		}
		names, err := p.strings("groups")
		return Groups(names, n), err
	},
	"errorTemplate": func(p Params) (chain.ModifierDecl, error) {
		n, err := p.count(-1)
		if err != nil {
			return chain.ModifierDecl{}, err
		}
		switch t := p["template"].(type) {
		case string:
			return ErrorTemplate(t, n), nil
		case map[string]any:
			m := make(map[string]string, len(t))
			for k, v := range t {
				s, ok := v.(string)
				if !ok {
					return chain.ModifierDecl{}, failure.Configuration("errorTemplate override for %q must be a string", k)
				}
				m[k] = s
			}
			return ErrorTemplate(m, n), nil
		default:
			return chain.ModifierDecl{}, failure.Configuration("errorTemplate needs a template string or map, got %T", t)
		}
	},
}

// Build constructs the named modifier from params.
func Build(name string, p Params) (chain.ModifierDecl, error) {
	f, ok := factories[name]
	if !ok {
		return chain.ModifierDecl{}, failure.Configuration("unknown modifier %q", name)
	}
	return f(p)
}

// Names lists the registered modifier names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p Params) count(def int) (int, error) {
	v, ok := p["count"]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, failure.Configuration("count must be an integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, failure.Configuration("count must be an integer, got %T", v)
	}
}

func (p Params) bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p Params) strings(key string) ([]string, error) {
	raw, ok := p[key].([]any)
	if !ok {
		if s, ok := p[key].([]string); ok {
			return s, nil
		}
		return nil, failure.Configuration("%s must be a list of strings", key)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, failure.Configuration("%s[%d] must be a string, got %T", key, i, v)
		}
		out[i] = s
	}
	return out, nil
}

// condition reads "if": a static value, or {method: name}.
func (p Params) condition() any {
	if m, ok := p["if"].(map[string]any); ok {
		if name, ok := m["method"].(string); ok {
			return Method(name)
		}
	}
	return p["if"]
}

func (p Params) handler() any {
	if name, ok := p["handler"].(string); ok && name != "" {
		return Method(name)
	}
	return nil
}
