package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Kind classifies a failure by when it is raised and whether it may be
// collected.
type Kind int

const (
	// KindProcessing is raised by leaf nodes at invocation time on invalid
	// input. It is the only kind an error mode may collect.
	KindProcessing Kind = iota
	// KindAggregate is raised by fan-out modifiers when every attempt failed.
	KindAggregate
	// KindConfiguration is raised at compile or construction time for
	// malformed declarations.
	KindConfiguration
	// KindResolution is raised at compile time when a node reference cannot
	// be mapped to an implementation.
	KindResolution
)

func (k Kind) String() string {
	switch k {
	case KindProcessing:
		return "processing"
	case KindAggregate:
		return "aggregate"
	case KindConfiguration:
		return "configuration"
	case KindResolution:
		return "resolution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single failure type of the pipeline.
//
// Params must only hold render-safe values (strings, numbers, booleans and
// lists of those). Raw inputs and internal object graphs belong in Debug,
// which the renderer never reads.
type Error struct {
	Kind     Kind
	Template string
	Params   map[string]any
	Debug    map[string]any
	Code     string

	// Path is the rendered property path captured when the failure first
	// crossed a node boundary. PathSegments holds the same path as property
	// names (string) and indexes (int), without diagnostic node markers.
	Path         string
	PathSegments []any

	Cause    error
	Failures []*Error

	stamped bool
}

// Option customizes a failure at construction.
type Option func(*Error)

// WithDebug attaches a debug payload entry.
func WithDebug(key string, value any) Option {
	return func(e *Error) {
		if e.Debug == nil {
			e.Debug = map[string]any{}
		}
		e.Debug[key] = value
	}
}

// WithCode sets the error code.
func WithCode(code string) Option {
	return func(e *Error) { e.Code = code }
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *Error) { e.Cause = err }
}

func newError(kind Kind, template string, params map[string]any, opts []Option) *Error {
	if template == "" {
		template = "processing.failed"
	}
	e := &Error{Kind: kind, Template: template, Params: params}
	if e.Params == nil {
		e.Params = map[string]any{}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Code == "" {
		e.Code = defaultCode(kind)
	}
	return e
}

func defaultCode(kind Kind) string {
	switch kind {
	case KindConfiguration:
		return "CONFIGURATION"
	case KindResolution:
		return "RESOLUTION"
	case KindAggregate:
		return "AGGREGATE"
	default:
		return "INVALID"
	}
}

// Processing returns a processing failure for template with params.
func Processing(template string, params map[string]any, opts ...Option) *Error {
	return newError(KindProcessing, template, params, opts)
}

// Configuration returns a configuration error with a formatted reason.
func Configuration(format string, args ...any) *Error {
	reason := fmt.Sprintf(format, args...)
	return newError(KindConfiguration, "configuration.invalid", map[string]any{"reason": reason}, nil)
}

// Resolution returns a resolution error naming ref. cause may be nil.
func Resolution(ref string, cause error) *Error {
	params := map[string]any{"ref": ref, "reason": "no implementation found"}
	var opts []Option
	if cause != nil {
		params["reason"] = cause.Error()
		opts = append(opts, WithCause(cause))
	}
	return newError(KindResolution, "resolution.unresolved", params, opts)
}

// Aggregate returns a failure carrying every underlying failure as debug
// context while exposing one representative message.
func Aggregate(template string, params map[string]any, failures []*Error, opts ...Option) *Error {
	e := newError(KindAggregate, template, params, opts)
	e.Failures = failures
	if e.Debug == nil {
		e.Debug = map[string]any{}
	}
	e.Debug["failures"] = len(failures)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Template)
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Params[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the cause and, for aggregates, every underlying failure.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// Combined returns the aggregate's underlying failures as one error.
func (e *Error) Combined() error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return multierr.Combine(errs...)
}

// Fatal reports whether the failure must never be collected.
func (e *Error) Fatal() bool {
	return e.Kind == KindConfiguration || e.Kind == KindResolution
}

// Stamped reports whether path and template have been captured.
func (e *Error) Stamped() bool { return e.stamped }

// Stamp captures the path and resolved template once. Later calls are
// ignored so the innermost capture wins.
func (e *Error) Stamp(path string, segments []any, template string) {
	if e.stamped {
		return
	}
	e.stamped = true
	e.Path = path
	e.PathSegments = segments
	if template != "" {
		e.Template = template
	}
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsProcessing reports whether err is a collectable failure: a processing or
// aggregate failure.
func IsProcessing(err error) bool {
	fe, ok := As(err)
	return ok && !fe.Fatal()
}

// IsFatal reports whether err is a configuration or resolution error, or any
// error that is not a pipeline failure at all.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	fe, ok := As(err)
	return !ok || fe.Fatal()
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindConfiguration
}

// IsResolution reports whether err is a resolution error.
func IsResolution(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindResolution
}
