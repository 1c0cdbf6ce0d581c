package metrics

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	builtin "github.com/hanpama/dtopipe/internal/builtin"
	chain "github.com/hanpama/dtopipe/internal/chain"
	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	processor "github.com/hanpama/dtopipe/internal/processor"
)

func TestRecordedFromProcessing(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	m := New()
	t.Cleanup(m.Attach(bus))

	p, err := processor.New(
		processor.WithCompilerOptions(builtin.Options()...),
		processor.WithSchemas(&processor.Schema{Name: "user", Fields: []processor.FieldSpec{
			{Name: "age", Inbound: []chain.Declaration{chain.Cast("int")}},
		}}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, processor.NewRecord(), "user", chain.Inbound, map[string]any{"age": "1"}))
	require.NoError(t, p.Process(ctx, processor.NewRecord(processor.WithMode(execctx.CollectNull)), "user", chain.Inbound, map[string]any{"age": "x"}))
	require.Error(t, p.Process(ctx, processor.NewRecord(), "user", chain.Inbound, map[string]any{"age": "x"}))

	require.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("user", "inbound", OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("user", "inbound", OutcomeInvalid)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("user", "inbound", OutcomeAborted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fieldFailures.WithLabelValues("user", "age", builtin.TemplateCast, "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fieldFailures.WithLabelValues("user", "age", builtin.TemplateCast, "false")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.chainsCompiled.WithLabelValues("user", "inbound")))
	require.Equal(t, 1, testutil.CollectAndCount(m.recordDuration))
}

func TestWrite(t *testing.T) {
	bus := eventbus.New()
	m := New()
	detach := m.Attach(bus)
	eventbus.Emit(context.Background(), bus, events.ChainCompiled{Schema: "user", Phase: "outbound"})
	detach()
	eventbus.Emit(context.Background(), bus, events.ChainCompiled{Schema: "user", Phase: "outbound"})

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	require.Contains(t, buf.String(), `dtopipe_chains_compiled_total{phase="outbound",schema="user"} 1`)
	require.Contains(t, buf.String(), "# TYPE dtopipe_chain_compile_seconds histogram")
}
