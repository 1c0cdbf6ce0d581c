package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	builtin "github.com/hanpama/dtopipe/internal/builtin"
	chain "github.com/hanpama/dtopipe/internal/chain"
	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
	modifier "github.com/hanpama/dtopipe/internal/modifier"
)

func userSchema() *Schema {
	return &Schema{
		Name: "user",
		Fields: []FieldSpec{
			{Name: "name", Inbound: []chain.Declaration{chain.Cast("trim"), chain.Validate("required")}},
			{Name: "age", Inbound: []chain.Declaration{chain.Cast("int"), chain.Validate("range", 0, 150)}},
			{Name: "email", Optional: true, Inbound: []chain.Declaration{chain.Validate("email")}},
		},
	}
}

func addressSchema() *Schema {
	return &Schema{
		Name: "address",
		Fields: []FieldSpec{
			{Name: "city", Inbound: []chain.Declaration{chain.Validate("required"), chain.Cast("upper")}},
		},
	}
}

func newProcessor(t *testing.T, schemas ...*Schema) *Processor {
	t.Helper()
	p, err := New(WithCompilerOptions(builtin.Options()...), WithSchemas(schemas...))
	require.NoError(t, err)
	return p
}

func TestProcess(t *testing.T) {
	p := newProcessor(t, userSchema())
	rec := NewRecord()
	err := p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"name": "  Ada ",
		"age":  "36",
	})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"name": "Ada", "age": 36}, rec.Values()); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, rec.Failures())
}

func TestProcessErrorModes(t *testing.T) {
	input := map[string]any{"name": "Ada", "age": "old"}

	t.Run("fail-fast", func(t *testing.T) {
		p := newProcessor(t, userSchema())
		rec := NewRecord()
		err := p.Process(context.Background(), rec, "user", chain.Inbound, input)
		fe, ok := failure.As(err)
		require.True(t, ok)
		require.Equal(t, "age", fe.Path)
		require.Equal(t, builtin.TemplateCast, fe.Template)
		require.Equal(t, "Ada", rec.Values()["name"])
		require.Empty(t, rec.Failures())
	})

	cases := []struct {
		mode execctx.ErrorMode
		want map[string]any
	}{
		{execctx.CollectNull, map[string]any{"name": "Ada", "age": nil}},
		{execctx.CollectOriginal, map[string]any{"name": "Ada", "age": "old"}},
		{execctx.CollectOmit, map[string]any{"name": "Ada"}},
	}
	for _, tc := range cases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			p := newProcessor(t, userSchema())
			rec := NewRecord(WithMode(tc.mode))
			require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, input))
			if diff := cmp.Diff(tc.want, rec.Values()); diff != "" {
				t.Fatalf("values mismatch (-want +got):\n%s", diff)
			}
			require.Len(t, rec.Failures(), 1)
			require.Equal(t, []any{"age"}, rec.Failures()[0].PathSegments)
		})
	}
}

func TestNestedRecord(t *testing.T) {
	user := &Schema{
		Name: "user",
		Fields: []FieldSpec{
			{Name: "address", Inbound: []chain.Declaration{chain.CastWith([]any{"address"}, NestedClass)}},
		},
	}
	p := newProcessor(t, user, addressSchema())

	rec := NewRecord()
	require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"address": map[string]any{"city": "paris"},
	}))
	require.Equal(t, map[string]any{"city": "PARIS"}, rec.Values()["address"])

	rec = NewRecord(WithMode(execctx.CollectNull))
	require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"address": map[string]any{"city": ""},
	}))
	require.Equal(t, map[string]any{"city": nil}, rec.Values()["address"])
	require.Len(t, rec.Failures(), 1)
	require.Equal(t, "address"+execctx.FrameSeparator+"city", rec.Failures()[0].Path)

	rec = NewRecord()
	err := p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"address": "nowhere",
	})
	fe, ok := failure.As(err)
	require.True(t, ok)
	require.Equal(t, TemplateRecordInvalid, fe.Template)
	require.Equal(t, "address", fe.Path)
}

func TestReentrantProcessingReusesFrame(t *testing.T) {
	inner := &Schema{
		Name:   "location",
		Fields: []FieldSpec{{Name: "city", Inbound: []chain.Declaration{chain.Validate("required")}}},
	}
	outer := &Schema{
		Name:   "person",
		Fields: []FieldSpec{{Name: "address", Inbound: []chain.Declaration{chain.Validate("reentrant")}}},
	}
	p := newProcessor(t, inner, outer)

	var depth int
	rec := NewRecord()
	rec.Register(chain.MethodName(chain.KindValidate, "reentrant"), func(ctx context.Context, v any, _ []any) error {
		s, _ := execctx.FromContext(ctx)
		depth = s.Len()
		return p.Process(ctx, rec, "location", chain.Inbound, v.(map[string]any))
	})

	err := p.Process(context.Background(), rec, "person", chain.Inbound, map[string]any{
		"address": map[string]any{"city": ""},
	})
	fe, ok := failure.As(err)
	require.True(t, ok)
	require.Equal(t, "address.city", fe.Path)
	require.Equal(t, 1, depth)
}

func TestStrictSchema(t *testing.T) {
	s := userSchema()
	s.Strict = true
	p := newProcessor(t, s)

	rec := NewRecord(WithMode(execctx.CollectNull))
	require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{
		"name": "Ada", "age": 1, "nickname": "ada", "alias": "a",
	}))
	failures := rec.Failures()
	require.Len(t, failures, 2)
	require.Equal(t, "alias", failures[0].Path)
	require.Equal(t, TemplateUnknownField, failures[1].Template)
	_, has := rec.Get("nickname")
	require.False(t, has)
}

func TestExport(t *testing.T) {
	s := &Schema{
		Name: "money",
		Fields: []FieldSpec{
			{Name: "amount", Inbound: []chain.Declaration{chain.Cast("float")}, Outbound: []chain.Declaration{chain.Cast("string")}},
		},
	}
	p := newProcessor(t, s)
	rec := NewRecord()
	require.NoError(t, p.Process(context.Background(), rec, "money", chain.Inbound, map[string]any{"amount": "2.5"}))

	out, err := p.Export(context.Background(), rec, "money")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"amount": "2.5"}, out)
	require.Equal(t, 2.5, rec.Values()["amount"])
}

func TestGroupScopedField(t *testing.T) {
	s := &Schema{
		Name: "profile",
		Fields: []FieldSpec{
			{Name: "role", Inbound: []chain.Declaration{modifier.Groups([]string{"admin"}, 1), chain.Cast("upper")}},
		},
	}
	p := newProcessor(t, s)

	admin := NewRecord(WithGroups(chain.Inbound, "admin"))
	require.NoError(t, p.Process(context.Background(), admin, "profile", chain.Inbound, map[string]any{"role": "owner"}))
	require.Equal(t, "OWNER", admin.Values()["role"])

	guest := NewRecord()
	require.NoError(t, p.Process(context.Background(), guest, "profile", chain.Inbound, map[string]any{"role": "owner"}))
	require.Equal(t, "owner", guest.Values()["role"])
}

func TestChainsCompileOnce(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	var compiled, started, failed int
	eventbus.Subscribe(func(context.Context, events.ChainCompiled) { compiled++ })
	eventbus.Subscribe(func(context.Context, events.RecordStart) { started++ })
	eventbus.Subscribe(func(_ context.Context, e events.FieldFailure) {
		failed++
		require.True(t, e.Collected)
		require.Equal(t, "age", e.Field)
	})

	p := newProcessor(t, userSchema())
	for i := 0; i < 3; i++ {
		rec := NewRecord(WithMode(execctx.CollectNull))
		require.NoError(t, p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{"name": "x", "age": "y"}))
	}
	require.Equal(t, 2, compiled, "email is optional and absent")
	require.Equal(t, 3, started)
	require.Equal(t, 3, failed)
}

func TestCheck(t *testing.T) {
	s := &Schema{
		Name: "broken",
		Fields: []FieldSpec{
			{Name: "ok", Inbound: []chain.Declaration{chain.Cast("int")}},
			{Name: "bad", Inbound: []chain.Declaration{chain.Cast("luhn")}},
			{Name: "short", Inbound: []chain.Declaration{modifier.PerItem(2), chain.Cast("int")}},
		},
	}
	p := newProcessor(t, s)
	err := p.Check(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.bad (inbound)")
	require.Contains(t, err.Error(), "broken.short (inbound)")
	require.NotContains(t, err.Error(), "broken.ok")
}

func TestRegistry(t *testing.T) {
	p := newProcessor(t, userSchema())
	require.True(t, failure.IsConfiguration(p.Register(userSchema())))
	require.True(t, failure.IsConfiguration(p.Register(&Schema{Name: "dup", Fields: []FieldSpec{{Name: "a"}, {Name: "a"}}})))
	require.Equal(t, []string{"user"}, p.Schemas())

	err := p.Process(context.Background(), NewRecord(), "ghost", chain.Inbound, nil)
	require.True(t, failure.IsConfiguration(err))
}

func TestConcurrentFlows(t *testing.T) {
	p := newProcessor(t, userSchema())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := NewRecord(WithMode(execctx.CollectNull))
			age := fmt.Sprint(i)
			if i%2 == 1 {
				age = "bad"
			}
			err := p.Process(context.Background(), rec, "user", chain.Inbound, map[string]any{"name": "n", "age": age})
			assert.NoError(t, err)
			if i%2 == 1 {
				assert.Len(t, rec.Failures(), 1)
				assert.Nil(t, rec.Values()["age"])
			} else {
				assert.Empty(t, rec.Failures())
				assert.Equal(t, i, rec.Values()["age"])
			}
		}(i)
	}
	wg.Wait()
}
