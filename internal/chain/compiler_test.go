package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

func appendCaster(suffix string) CasterFunc {
	return func(_ context.Context, v any, _ []any) (any, error) {
		return v.(string) + suffix, nil
	}
}

var toInt = CasterFunc(func(_ context.Context, v any, _ []any) (any, error) {
	s, _ := v.(string)
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, failure.Processing("cast.int", map[string]any{"value": s})
	}
	return n, nil
})

// group is a test modifier applying the next n leaves twice.
type group struct{ n int }

func (g group) Name() string { return "twice" }

func (g group) ProcessingNode(s *Scope) (Node, error) {
	sub, err := s.Subchain(g.Name(), g.n)
	if err != nil {
		return nil, err
	}
	return NewNode(g.Name(), func(up Func) Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			x, err = sub(ctx, x)
			if err != nil {
				return nil, err
			}
			return sub(ctx, x)
		}
	}), nil
}

func TestCompile_PreservesDeclaredOrder(t *testing.T) {
	c := NewCompiler()
	fn, err := c.Compile(nil, Inbound, []Declaration{
		CastFunc("a", appendCaster("a")),
		CastFunc("b", appendCaster("b")),
		CastFunc("c", appendCaster("c")),
	})
	require.NoError(t, err)

	got, err := fn(context.Background(), ">")
	require.NoError(t, err)
	require.Equal(t, ">abc", got)
}

func TestCompile_EmptyIsIdentity(t *testing.T) {
	fn, err := NewCompiler().Compile(nil, Inbound, nil)
	require.NoError(t, err)
	got, err := fn(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestCompile_ModifierWrapsWindow(t *testing.T) {
	c := NewCompiler()
	fn, err := c.Compile(nil, Inbound, []Declaration{
		CastFunc("a", appendCaster("a")),
		Mod(group{n: 2}),
		CastFunc("b", appendCaster("b")),
		CastFunc("c", appendCaster("c")),
		CastFunc("d", appendCaster("d")),
	})
	require.NoError(t, err)

	got, err := fn(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "abcbcd", got)
}

func TestCompile_NestedModifierDoesNotCount(t *testing.T) {
	c := NewCompiler()
	fn, err := c.Compile(nil, Inbound, []Declaration{
		Mod(group{n: 1}),
		Mod(group{n: 1}),
		CastFunc("a", appendCaster("a")),
		CastFunc("b", appendCaster("b")),
	})
	require.NoError(t, err)

	got, err := fn(context.Background(), "")
	require.NoError(t, err)
	// the outer window holds the inner modifier (a twice) and b
	require.Equal(t, "aabaab", got)
}

func TestCompile_ShortWindowIsConfigurationError(t *testing.T) {
	c := NewCompiler()
	_, err := c.Compile(nil, Inbound, []Declaration{
		Mod(group{n: 3}),
		CastFunc("a", appendCaster("a")),
	})
	require.True(t, failure.IsConfiguration(err))
	require.Contains(t, err.Error(), "twice requires 2 more declaration(s)")
}

// concat is a test modifier running n units on the same input and joining
// their results.
type concat struct{ n int }

func (concat) Name() string { return "concat" }

func (m concat) ProcessingNode(s *Scope) (Node, error) {
	units, err := s.Units(m.Name(), m.n)
	if err != nil {
		return nil, err
	}
	return NewNode(m.Name(), func(up Func) Func {
		return func(ctx context.Context, v any) (any, error) {
			x, err := up(ctx, v)
			if err != nil {
				return nil, err
			}
			out := ""
			for _, fn := range units {
				r, err := fn(ctx, x)
				if err != nil {
					return nil, err
				}
				out += r.(string)
			}
			return out, nil
		}
	}), nil
}

func TestScopeUnits(t *testing.T) {
	decls := func(n int) []Declaration {
		return []Declaration{
			Mod(concat{n: n}),
			Mod(group{n: 1}),
			CastFunc("a", appendCaster("a")),
			CastFunc("b", appendCaster("b")),
			CastFunc("c", appendCaster("c")),
		}
	}

	fn, err := NewCompiler().Compile(nil, Inbound, decls(2))
	require.NoError(t, err)
	got, err := fn(context.Background(), "-")
	require.NoError(t, err)
	require.Equal(t, "-aa-bc", got, "units after the window continue the chain")

	fn, err = NewCompiler().Compile(nil, Inbound, decls(-1))
	require.NoError(t, err)
	got, err = fn(context.Background(), "-")
	require.NoError(t, err)
	require.Equal(t, "-aa-b-c", got, "a negative count takes every remaining unit")

	_, err = NewCompiler().Compile(nil, Inbound, decls(4))
	require.True(t, failure.IsConfiguration(err))
}

func TestCompile_LeafFailureIsStamped(t *testing.T) {
	c := NewCompiler()
	fn, err := c.Compile(nil, Inbound, []Declaration{CastFunc("int", toInt)})
	require.NoError(t, err)

	ctx := execctx.NewContext(context.Background(), execctx.WithTrace(true))
	err = execctx.WrapProcessing(ctx, &struct{ id int }{}, func(ctx context.Context) error {
		defer execctx.EnterProp(ctx, "age")()
		_, err := fn(ctx, "abc")
		return err
	})
	fe, ok := failure.As(err)
	require.True(t, ok)
	require.Equal(t, "age{int}", fe.Path)
	require.Equal(t, []any{"age"}, fe.PathSegments)
}

func TestCompile_PlainErrorsBecomeProcessingFailures(t *testing.T) {
	boom := errors.New("boom")
	fn, err := NewCompiler().Compile(nil, Inbound, []Declaration{
		ValidateFunc("explode", func(context.Context, any, []any) error { return boom }),
	})
	require.NoError(t, err)

	_, err = fn(context.Background(), 1)
	require.True(t, failure.IsProcessing(err))
	require.ErrorIs(t, err, boom)
}

func TestCompile_Deterministic(t *testing.T) {
	c := NewCompiler(WithResolver(ResolverFunc(func(kind LeafKind, ref string) (any, bool, error) {
		if ref == "int" {
			return toInt, true, nil
		}
		return nil, false, nil
	})))
	decls := []Declaration{Cast("int")}
	a, err := c.Compile(nil, Inbound, decls)
	require.NoError(t, err)
	b, err := c.Compile(nil, Inbound, decls)
	require.NoError(t, err)

	for _, in := range []string{"1", "42", "-7"} {
		x, errA := a(context.Background(), in)
		y, errB := b(context.Background(), in)
		require.NoError(t, errA)
		require.NoError(t, errB)
		require.Equal(t, x, y)
	}
}

type upper struct{ boots int }

func (u *upper) Cast(_ context.Context, v any, args []any) (any, error) {
	return fmt.Sprintf("%v%v", v, args), nil
}

func (u *upper) Boot(context.Context, any) error {
	u.boots++
	return nil
}

type methodRecord struct {
	methods map[string]any
}

func (r *methodRecord) ProcessingMethod(name string) (any, bool) {
	m, ok := r.methods[name]
	return m, ok
}

type staticContainer map[string]any

func (c staticContainer) Instantiate(class string) (any, error) {
	if v, ok := c[class]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no binding for %s", class)
}

func TestResolution(t *testing.T) {
	t.Run("class instances are memoized per constructor arguments", func(t *testing.T) {
		builds := 0
		c := NewCompiler(WithClass("upper", Class{Kind: KindCast, New: func([]any) (any, error) {
			builds++
			return &upper{}, nil
		}}))
		_, err := c.Compile(nil, Inbound, []Declaration{Cast("upper", 1), Cast("upper", 1), CastWith([]any{"x"}, "upper", 1)})
		require.NoError(t, err)
		require.Equal(t, 2, builds)
	})

	t.Run("class requiring arguments without container", func(t *testing.T) {
		c := NewCompiler(WithClass("regex", Class{Kind: KindValidate, RequiresArgs: true}))
		_, err := c.Compile(nil, Inbound, []Declaration{Validate("regex")})
		require.True(t, failure.IsConfiguration(err))
	})

	t.Run("class requiring arguments from container", func(t *testing.T) {
		u := &upper{}
		c := NewCompiler(
			WithClass("upper", Class{Kind: KindCast, RequiresArgs: true}),
			WithContainer(staticContainer{"upper": u}),
		)
		fn, err := c.Compile(nil, Inbound, []Declaration{Cast("upper")})
		require.NoError(t, err)
		got, err := fn(context.Background(), "v")
		require.NoError(t, err)
		require.Equal(t, "v[]", got)
	})

	t.Run("record method", func(t *testing.T) {
		rec := &methodRecord{methods: map[string]any{
			"CastSlugTitle": CasterFunc(func(_ context.Context, v any, _ []any) (any, error) {
				return "slug:" + v.(string), nil
			}),
		}}
		c := NewCompiler()
		fn, err := c.Compile(rec, Inbound, []Declaration{Cast("slug_title")})
		require.NoError(t, err)

		var got any
		err = execctx.WrapProcessing(context.Background(), rec, func(ctx context.Context) error {
			var err error
			got, err = fn(ctx, "Hello")
			return err
		})
		require.NoError(t, err)
		require.Equal(t, "slug:Hello", got)
	})

	t.Run("unresolved reference", func(t *testing.T) {
		c := NewCompiler(WithResolver(ResolverFunc(func(LeafKind, string) (any, bool, error) {
			return nil, false, errors.New("catalog offline")
		})))
		_, err := c.Compile(&methodRecord{}, Inbound, []Declaration{Validate("luhn")})
		fe, ok := failure.As(err)
		require.True(t, ok)
		require.Equal(t, failure.KindResolution, fe.Kind)
		require.Equal(t, "luhn", fe.Params["ref"])
		require.Equal(t, "catalog offline", fe.Params["reason"])
	})

	t.Run("wrong capability", func(t *testing.T) {
		c := NewCompiler(WithResolver(ResolverFunc(func(LeafKind, string) (any, bool, error) {
			return toInt, true, nil
		})))
		_, err := c.Compile(nil, Inbound, []Declaration{Validate("int")})
		require.True(t, failure.IsConfiguration(err))
	})
}

func TestLeavesAreSharedAcrossIdenticalDeclarations(t *testing.T) {
	c := NewCompiler(WithResolver(ResolverFunc(func(LeafKind, string) (any, bool, error) {
		return toInt, true, nil
	})))
	a, err := c.resolveLeaf(nil, Cast("int", 10))
	require.NoError(t, err)
	b, err := c.resolveLeaf(nil, Cast("int", 10))
	require.NoError(t, err)
	d, err := c.resolveLeaf(nil, Cast("int", 16))
	require.NoError(t, err)
	require.Same(t, a, b)
	require.NotSame(t, a, d)
}

func TestBootOncePerRecord(t *testing.T) {
	u := &upper{}
	c := NewCompiler(WithResolver(ResolverFunc(func(LeafKind, string) (any, bool, error) {
		return u, true, nil
	})))
	fn, err := c.Compile(nil, Inbound, []Declaration{Cast("upper"), Cast("upper", "again")})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = execctx.WrapProcessing(context.Background(), &methodRecord{}, func(ctx context.Context) error {
			_, err := fn(ctx, "x")
			return err
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, u.boots)
}

func TestPascalCase(t *testing.T) {
	cases := map[string]string{
		"slug":         "Slug",
		"slug_title":   "SlugTitle",
		"to-lower":     "ToLower",
		"phoneNumber":  "PhoneNumber",
		"nested.value": "NestedValue",
	}
	for in, want := range cases {
		require.Equal(t, want, PascalCase(in), in)
	}
	require.Equal(t, "ValidateEmail", MethodName(KindValidate, "email"))
}
