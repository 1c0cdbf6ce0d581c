package processor

import (
	"sort"
	"strings"

	chain "github.com/hanpama/dtopipe/internal/chain"
	execctx "github.com/hanpama/dtopipe/internal/execctx"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Record is a map-backed record. Its methods (casters, validators,
// fallback handlers, conditions) are registered explicitly by name.
//
// A Record belongs to one flow at a time.
type Record struct {
	values  map[string]any
	errors  *execctx.ErrorList
	mode    execctx.ErrorMode
	groups  map[chain.Phase][]string
	methods map[string]any
	ambient map[string]any
}

type RecordOption func(*Record)

// WithMode sets the record's preferred error mode. An enclosing frame's
// mode takes precedence.
func WithMode(m execctx.ErrorMode) RecordOption { return func(r *Record) { r.mode = m } }

// WithGroups sets the active groups for phase.
func WithGroups(phase chain.Phase, groups ...string) RecordOption {
	return func(r *Record) { r.groups[phase] = append([]string(nil), groups...) }
}

// WithContext sets ambient values made available to the record's frame.
func WithContext(values map[string]any) RecordOption {
	return func(r *Record) {
		for k, v := range values {
			r.ambient[k] = v
		}
	}
}

// WithMethod registers a named method.
func WithMethod(name string, impl any) RecordOption {
	return func(r *Record) { r.methods[name] = impl }
}

func NewRecord(opts ...RecordOption) *Record {
	r := &Record{
		values:  map[string]any{},
		errors:  execctx.NewErrorList(),
		groups:  map[chain.Phase][]string{},
		methods: map[string]any{},
		ambient: map[string]any{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a named method. Leaves reference record methods by the
// names chain.MethodName derives, such as "CastSlug" for a caster "slug".
func (r *Record) Register(name string, impl any) { r.methods[name] = impl }

func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r *Record) Set(name string, v any) { r.values[name] = v }

// Values returns a copy of the record's values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Failures returns the failures collected so far.
func (r *Record) Failures() []*failure.Error { return r.errors.All() }

func (r *Record) ProcessingErrors() *execctx.ErrorList { return r.errors }

func (r *Record) ProcessingErrorMode() execctx.ErrorMode { return r.mode }

func (r *Record) ProcessingContext() map[string]any { return r.ambient }

func (r *Record) ProcessingMethod(name string) (any, bool) {
	impl, ok := r.methods[name]
	return impl, ok
}

func (r *Record) ActiveGroups(phase chain.Phase) []string { return r.groups[phase] }

// signature identifies what a compiled chain may depend on besides the
// schema: the active groups and the registered method names.
func (r *Record) signature(phase chain.Phase) string {
	groups := append([]string(nil), r.groups[phase]...)
	sort.Strings(groups)
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return strings.Join(groups, ",") + "|" + strings.Join(methods, ",")
}
