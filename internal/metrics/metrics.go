// Package metrics provides Prometheus metrics for record processing,
// driven by the events the processor publishes.
package metrics

import (
	"context"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
)

// Outcomes of a processed record.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeAborted = "aborted"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	records        *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec
	fieldFailures  *prometheus.CounterVec
	chainsCompiled *prometheus.CounterVec
	compileTime    *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dtopipe_records_total",
				Help: "Total number of processed records by outcome",
			},
			[]string{"schema", "phase", "outcome"},
		),
		recordDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dtopipe_record_duration_seconds",
				Help:    "Time spent processing a record",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"schema", "phase"},
		),
		fieldFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dtopipe_field_failures_total",
				Help: "Total number of failing fields",
			},
			[]string{"schema", "field", "template", "collected"},
		),
		chainsCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dtopipe_chains_compiled_total",
				Help: "Total number of compiled field chains",
			},
			[]string{"schema", "phase"},
		),
		compileTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dtopipe_chain_compile_seconds",
				Help:    "Time spent compiling a field chain",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"schema"},
		),
	}
	m.registry.MustRegister(m.records, m.recordDuration, m.fieldFailures, m.chainsCompiled, m.compileTime)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Attach subscribes m to bus. The returned func removes the subscribers.
func (m *Metrics) Attach(bus *eventbus.Bus) (detach func()) {
	offs := []func(){
		eventbus.On(bus, m.recordFinished),
		eventbus.On(bus, m.fieldFailed),
		eventbus.On(bus, m.chainCompiled),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (m *Metrics) recordFinished(_ context.Context, e events.RecordFinish) {
	outcome := OutcomeOK
	switch {
	case e.Err != nil:
		outcome = OutcomeAborted
	case e.Failures > 0:
		outcome = OutcomeInvalid
	}
	m.records.WithLabelValues(e.Schema, e.Phase, outcome).Inc()
	m.recordDuration.WithLabelValues(e.Schema, e.Phase).Observe(e.Duration.Seconds())
}

func (m *Metrics) fieldFailed(_ context.Context, e events.FieldFailure) {
	m.fieldFailures.WithLabelValues(e.Schema, e.Field, e.Template, strconv.FormatBool(e.Collected)).Inc()
}

func (m *Metrics) chainCompiled(_ context.Context, e events.ChainCompiled) {
	m.chainsCompiled.WithLabelValues(e.Schema, e.Phase).Inc()
	m.compileTime.WithLabelValues(e.Schema).Observe(e.Duration.Seconds())
}

// Write gathers the registry and writes it in the text exposition format.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
