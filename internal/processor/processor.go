// Package processor drives field chains over whole records: it compiles
// each field's declarations once per schema and record shape, runs them
// inside the record's frame, and applies the frame's error mode per field.
package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	chain "github.com/hanpama/dtopipe/internal/chain"
	eventbus "github.com/hanpama/dtopipe/internal/eventbus"
	events "github.com/hanpama/dtopipe/internal/events"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
	flowid "github.com/hanpama/dtopipe/internal/flowid"
)

const (
	TemplateRecordInvalid = "processor.record.invalid"
	TemplateUnknownField  = "processor.field.unknown"
)

// NestedClass is the caster class processing a value as an inner record.
// Its single constructor argument names the schema.
const NestedClass = "record"

type phaseKey struct{}

type options struct {
	compiler []chain.Option
	logger   *zap.Logger
	trace    bool
	schemas  []*Schema
}

type Option func(*options)

// WithCompilerOptions configures the underlying chain compiler.
func WithCompilerOptions(opts ...chain.Option) Option {
	return func(o *options) { o.compiler = append(o.compiler, opts...) }
}

// WithCache shares a memo cache for leaves and compiled chains.
func WithCache(c *chain.Cache) Option {
	return func(o *options) { o.compiler = append(o.compiler, chain.WithCache(c)) }
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithTrace records node markers in failure paths of flows the processor
// starts.
func WithTrace(on bool) Option { return func(o *options) { o.trace = on } }

func WithSchemas(schemas ...*Schema) Option {
	return func(o *options) { o.schemas = append(o.schemas, schemas...) }
}

// Processor runs schemas over records. It is safe for concurrent use by
// flows processing different records.
type Processor struct {
	compiler *chain.Compiler
	logger   *zap.Logger
	trace    bool

	mu      sync.RWMutex
	schemas map[string]*Schema
}

func New(opts ...Option) (*Processor, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Processor{logger: o.logger, trace: o.trace, schemas: map[string]*Schema{}}

	copts := []chain.Option{
		chain.WithLogger(o.logger),
		chain.WithClass(NestedClass, chain.Class{Kind: chain.KindCast, New: p.newNested, RequiresArgs: true}),
	}
	p.compiler = chain.NewCompiler(append(copts, o.compiler...)...)

	for _, s := range o.schemas {
		if err := p.Register(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Compiler returns the processor's chain compiler.
func (p *Processor) Compiler() *chain.Compiler { return p.compiler }

// Register adds a schema. Names are unique.
func (p *Processor) Register(s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.schemas[s.Name]; dup {
		return failure.Configuration("schema %s is registered twice", s.Name)
	}
	p.schemas[s.Name] = s
	return nil
}

func (p *Processor) Schema(name string) (*Schema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.schemas[name]
	return s, ok
}

// Schemas returns the registered schema names, sorted.
func (p *Processor) Schemas() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.schemas))
	for n := range p.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check compiles every field of every schema in both phases against rec
// and reports all configuration and resolution errors.
func (p *Processor) Check(rec *Record) error {
	if rec == nil {
		rec = NewRecord()
	}
	var errs error
	for _, name := range p.Schemas() {
		s, _ := p.Schema(name)
		for _, f := range s.Fields {
			for _, phase := range []chain.Phase{chain.Inbound, chain.Outbound} {
				if _, err := p.fieldChain(rec, s, f, phase); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%s.%s (%s): %w", s.Name, f.Name, phase, err))
				}
			}
		}
	}
	return errs
}

// Process runs the schema's phase chains over input and stores the results
// in rec. In fail-fast mode the first failure is returned. In collect
// modes failures are added to the frame's error list, the field receives
// the mode's placeholder, and Process returns nil unless a configuration
// or resolution error occurs.
func (p *Processor) Process(ctx context.Context, rec *Record, schema string, phase chain.Phase, input map[string]any) error {
	return p.run(ctx, rec, schema, phase, input, rec.Set)
}

// Export runs the outbound chains over rec's values and returns the
// results without modifying rec.
func (p *Processor) Export(ctx context.Context, rec *Record, schema string) (map[string]any, error) {
	out := map[string]any{}
	err := p.run(ctx, rec, schema, chain.Outbound, rec.Values(), func(k string, v any) { out[k] = v })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) run(ctx context.Context, rec *Record, name string, phase chain.Phase, input map[string]any, set func(string, any)) error {
	s, ok := p.Schema(name)
	if !ok {
		return failure.Configuration("unknown schema %q", name)
	}
	if _, ok := execctx.FromContext(ctx); !ok {
		ctx = execctx.NewContext(ctx, execctx.WithTrace(p.trace))
	}
	ctx, _ = flowid.Ensure(ctx)
	ctx = context.WithValue(ctx, phaseKey{}, phase)
	return execctx.WrapProcessing(ctx, rec, func(ctx context.Context) error {
		return p.processRecord(ctx, rec, s, phase, input, set)
	})
}

func (p *Processor) processRecord(ctx context.Context, rec *Record, s *Schema, phase chain.Phase, input map[string]any, set func(string, any)) (err error) {
	stack, _ := execctx.FromContext(ctx)
	frame, _ := execctx.Current(ctx)
	flow, _ := flowid.FromContext(ctx)
	before := frame.Errors().Len()
	start := time.Now()

	eventbus.Publish(ctx, events.RecordStart{
		Schema: s.Name,
		Phase:  string(phase),
		Mode:   frame.Mode().String(),
		Depth:  stack.Len(),
	})
	defer func() {
		failures := frame.Errors().Len() - before
		d := time.Since(start)
		eventbus.Publish(ctx, events.RecordFinish{
			Schema:   s.Name,
			Phase:    string(phase),
			Depth:    stack.Len(),
			Failures: failures,
			Err:      err,
			Duration: d,
		})
		p.logger.Debug("record processed",
			zap.String("flow", flow),
			zap.String("schema", s.Name),
			zap.String("phase", string(phase)),
			zap.Int("failures", failures),
			zap.Duration("duration", d),
			zap.Error(err))
	}()

	for _, f := range s.Fields {
		v, present := input[f.Name]
		if !present && f.Optional {
			continue
		}
		out, keep, err := p.processField(ctx, rec, s, f, phase, v)
		if err != nil {
			return err
		}
		if keep {
			set(f.Name, out)
		}
	}

	if s.Strict {
		var unknown []string
		for k := range input {
			if _, ok := s.Field(k); !ok {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			if err := p.reject(ctx, s, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) processField(ctx context.Context, rec *Record, s *Schema, f FieldSpec, phase chain.Phase, v any) (any, bool, error) {
	fn, err := p.fieldChain(rec, s, f, phase)
	if err != nil {
		return nil, false, err
	}
	defer execctx.EnterProp(ctx, f.Name)()
	out, err := fn(ctx, v)
	if err == nil {
		return out, true, nil
	}
	return p.collect(ctx, s, f.Name, err, v)
}

func (p *Processor) reject(ctx context.Context, s *Schema, key string) error {
	defer execctx.EnterProp(ctx, key)()
	err := failure.Processing(TemplateUnknownField, map[string]any{"field": key})
	_, _, err2 := p.collect(ctx, s, key, err, nil)
	return err2
}

// collect applies the frame's error mode to a field failure.
func (p *Processor) collect(ctx context.Context, s *Schema, field string, err error, original any) (any, bool, error) {
	execctx.Stamp(ctx, err)
	value, keep, cerr := execctx.Collect(ctx, err, original)
	if fe, ok := failure.As(err); ok && !fe.Fatal() {
		eventbus.Publish(ctx, events.FieldFailure{
			Schema:    s.Name,
			Field:     field,
			Path:      fe.Path,
			Template:  fe.Template,
			Code:      fe.Code,
			Collected: cerr == nil,
		})
		p.logger.Debug("field failed",
			zap.String("schema", s.Name),
			zap.String("path", fe.Path),
			zap.String("template", fe.Template),
			zap.Bool("collected", cerr == nil))
	}
	return value, keep, cerr
}

// fieldChain returns the compiled chain of f for phase, compiling it on
// first use for rec's shape.
func (p *Processor) fieldChain(rec *Record, s *Schema, f FieldSpec, phase chain.Phase) (chain.Func, error) {
	key := fmt.Sprintf("%s|%s|%s|%s", s.Name, f.Name, phase, rec.signature(phase))
	return p.compiler.Cache().Chain(key, func() (chain.Func, error) {
		start := time.Now()
		decls := f.Declarations(phase)
		fn, err := p.compiler.Compile(rec, phase, decls)
		if err != nil {
			return nil, err
		}
		eventbus.Publish(context.Background(), events.ChainCompiled{
			Schema:       s.Name,
			Field:        f.Name,
			Phase:        string(phase),
			Declarations: len(decls),
			Duration:     time.Since(start),
		})
		return fn, nil
	})
}

// NestedCaster processes a keyed collection as an inner record of Schema
// in its own frame. Failures collected inside are added to the enclosing
// frame's list with their full path.
type NestedCaster struct {
	Schema string
	p      *Processor
}

// Nested returns a caster processing values as records of schema.
func (p *Processor) Nested(schema string) *NestedCaster {
	return &NestedCaster{Schema: schema, p: p}
}

func (p *Processor) newNested(ctorArgs []any) (any, error) {
	if len(ctorArgs) != 1 {
		return nil, failure.Configuration("%s takes one schema argument, got %d", NestedClass, len(ctorArgs))
	}
	name, ok := ctorArgs[0].(string)
	if !ok || name == "" {
		return nil, failure.Configuration("%s schema must be a non-empty string, got %T", NestedClass, ctorArgs[0])
	}
	return p.Nested(name), nil
}

func (n *NestedCaster) Cast(ctx context.Context, v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, failure.Processing(TemplateRecordInvalid,
			map[string]any{"type": fmt.Sprintf("%T", v)},
			failure.WithDebug("value", v))
	}
	phase, ok := ctx.Value(phaseKey{}).(chain.Phase)
	if !ok {
		phase = chain.Inbound
	}

	inner := NewRecord()
	if outer, ok := execctx.Record(ctx).(*Record); ok {
		for ph, groups := range outer.groups {
			inner.groups[ph] = groups
		}
		for name, impl := range outer.methods {
			inner.methods[name] = impl
		}
	}
	if err := n.p.run(ctx, inner, n.Schema, phase, m, inner.Set); err != nil {
		return nil, err
	}
	if f, ok := execctx.Current(ctx); ok {
		f.Errors().Add(inner.Failures()...)
	}
	return inner.Values(), nil
}
