package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	p := Processing("cast.int", map[string]any{"value": "x"})
	require.Equal(t, KindProcessing, p.Kind)
	require.Equal(t, "INVALID", p.Code)
	require.True(t, IsProcessing(p))
	require.False(t, IsFatal(p))

	c := Configuration("modifier %s needs %d", "perItem", 2)
	require.True(t, IsConfiguration(c))
	require.True(t, IsFatal(c))
	require.Equal(t, "modifier perItem needs 2", c.Params["reason"])

	r := Resolution("slugify", fmt.Errorf("no such caster"))
	require.True(t, IsResolution(r))
	require.Equal(t, "slugify", r.Params["ref"])
	require.Equal(t, "no such caster", r.Params["reason"])

	require.True(t, IsFatal(errors.New("plain")))
	require.False(t, IsFatal(nil))
}

func TestWrappedLookup(t *testing.T) {
	p := Processing("cast.int", nil, WithCode("E_INT"), WithDebug("raw", []byte("x")))
	wrapped := fmt.Errorf("field age: %w", p)

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Same(t, p, got)
	require.Equal(t, "E_INT", got.Code)
	require.Equal(t, []byte("x"), got.Debug["raw"])
}

func TestStampOnce(t *testing.T) {
	p := Processing("cast.int", nil)
	p.Stamp("address.city", []any{"address", "city"}, "custom.int")
	p.Stamp("other", []any{"other"}, "ignored")

	require.True(t, p.Stamped())
	require.Equal(t, "address.city", p.Path)
	require.Equal(t, []any{"address", "city"}, p.PathSegments)
	require.Equal(t, "custom.int", p.Template)
	require.Equal(t, "address.city: custom.int", p.Error())
}

func TestAggregate(t *testing.T) {
	a := Processing("cast.int", nil)
	b := Processing("cast.float", nil)
	agg := Aggregate("modifier.any.failed", map[string]any{"count": 2}, []*Error{a, b})

	require.Equal(t, KindAggregate, agg.Kind)
	require.True(t, IsProcessing(agg))
	require.True(t, errors.Is(agg, b))
	require.Equal(t, 2, agg.Debug["failures"])
	require.ErrorContains(t, agg.Combined(), "cast.float")
}
