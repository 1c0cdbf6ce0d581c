package execctx

import (
	"context"
	"errors"
	"reflect"
	"strings"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

// FrameSeparator joins the paths of stacked frames.
const FrameSeparator = " → "

// ErrNoFrame is returned by operations that need a current frame.
var ErrNoFrame = errors.New("execctx: no processing frame")

// Stack is the frame stack of one logical flow. It is not safe for
// concurrent use; each goroutine processing records gets its own stack
// through NewContext.
type Stack struct {
	frames []*Frame
	trace  bool
}

// Len returns the number of frames.
func (s *Stack) Len() int { return len(s.frames) }

// PathLen returns the number of path segments across all frames,
// node markers included.
func (s *Stack) PathLen() int {
	n := 0
	for _, f := range s.frames {
		n += len(f.path)
	}
	return n
}

// Trace reports whether node markers are recorded.
func (s *Stack) Trace() bool { return s.trace }

func (s *Stack) current() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// find returns the innermost frame owned by record.
func (s *Stack) find(record any) *Frame {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if sameRecord(s.frames[i].record, record) {
			return s.frames[i]
		}
	}
	return nil
}

func (s *Stack) push(f *Frame) { s.frames = append(s.frames, f) }

func (s *Stack) pop() {
	n := len(s.frames)
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
}

type stackKey struct{}

// StackOption configures a new stack.
type StackOption func(*Stack)

// WithTrace enables node-name markers in rendered paths.
func WithTrace(on bool) StackOption {
	return func(s *Stack) { s.trace = on }
}

// NewContext returns a copy of parent carrying a fresh, empty stack.
func NewContext(parent context.Context, opts ...StackOption) context.Context {
	s := &Stack{}
	for _, opt := range opts {
		opt(s)
	}
	return context.WithValue(parent, stackKey{}, s)
}

// FromContext returns the stack attached to ctx.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey{}).(*Stack)
	return s, ok
}

// Current returns the innermost frame of ctx's stack.
func Current(ctx context.Context) (*Frame, bool) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	f := s.current()
	return f, f != nil
}

// Record returns the record owning the current frame, or nil.
func Record(ctx context.Context) any {
	if f, ok := Current(ctx); ok {
		return f.record
	}
	return nil
}

// ErrorListProvider is implemented by records that own their error list.
type ErrorListProvider interface {
	ProcessingErrors() *ErrorList
}

// ErrorModeProvider is implemented by records with a preferred error mode.
type ErrorModeProvider interface {
	ProcessingErrorMode() ErrorMode
}

// ContextProvider is implemented by records that contribute ambient values
// to a root frame.
type ContextProvider interface {
	ProcessingContext() map[string]any
}

type wrapOptions struct {
	mode    ErrorMode
	modeSet bool
	list    *ErrorList
	values  map[string]any
}

// Option configures WrapProcessing.
type Option func(*wrapOptions)

func WithErrorMode(m ErrorMode) Option {
	return func(o *wrapOptions) { o.mode, o.modeSet = m, true }
}

func WithErrorList(l *ErrorList) Option {
	return func(o *wrapOptions) { o.list = l }
}

func WithValues(values map[string]any) Option {
	return func(o *wrapOptions) { o.values = values }
}

// WrapProcessing runs fn inside a frame for record.
//
// When the current frame already belongs to record it is reused and any
// explicit error mode or list must match it exactly. Otherwise a new frame
// is pushed and popped when fn returns. A record re-entered below another
// record's frame gets a new frame bound to the error mode and list of its
// earlier frame, under the same matching rule. A ctx without a stack starts
// a new flow.
func WrapProcessing(ctx context.Context, record any, fn func(ctx context.Context) error, opts ...Option) error {
	var o wrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	s, ok := FromContext(ctx)
	if !ok {
		ctx = NewContext(ctx)
		s, _ = FromContext(ctx)
	}

	parent := s.current()
	prior := s.find(record)
	if prior != nil {
		if err := o.match(prior); err != nil {
			return err
		}
	}
	if prior != nil && prior == parent {
		for k, v := range o.values {
			parent.SetValue(k, v)
		}
		return fn(ctx)
	}

	f := &Frame{record: record}
	switch {
	case o.modeSet:
		f.mode = o.mode
	case prior != nil:
		f.mode = prior.mode
	case parent != nil:
		f.mode = parent.mode
	default:
		if p, ok := record.(ErrorModeProvider); ok {
			f.mode = p.ProcessingErrorMode()
		}
	}

	f.errors = o.list
	if f.errors == nil && prior != nil {
		f.errors = prior.errors
	}
	if f.errors == nil {
		if p, ok := record.(ErrorListProvider); ok {
			f.errors = p.ProcessingErrors()
		}
	}
	if f.errors == nil {
		f.errors = NewErrorList()
	}

	var inherited map[string]any
	if parent != nil {
		inherited = parent.values
	} else if p, ok := record.(ContextProvider); ok {
		inherited = p.ProcessingContext()
	}
	for k, v := range inherited {
		f.SetValue(k, v)
	}
	for k, v := range o.values {
		f.SetValue(k, v)
	}

	s.push(f)
	defer s.pop()
	return fn(ctx)
}

// match checks explicit options against an existing frame of the same
// record.
func (o *wrapOptions) match(f *Frame) error {
	if o.modeSet && o.mode != f.mode {
		return failure.Configuration("record is already processed in mode %s, got %s", f.mode, o.mode)
	}
	if o.list != nil && o.list != f.errors {
		return failure.Configuration("record is already processed with a different error list")
	}
	return nil
}

// sameRecord compares record identity: pointers by address, other
// comparable values by equality.
func sameRecord(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

// PushPropPath appends a property name (string) or index (int) to the
// current frame's path.
func PushPropPath(ctx context.Context, seg any) bool {
	f, ok := Current(ctx)
	if !ok {
		return false
	}
	switch v := seg.(type) {
	case int:
		f.pushIndex(v)
	case string:
		f.pushProp(v)
	default:
		return false
	}
	return true
}

// PopPropPath removes the last segment of the current frame's path.
func PopPropPath(ctx context.Context) {
	if f, ok := Current(ctx); ok {
		f.pop()
	}
}

// PushPropPathNode records a diagnostic node marker. It returns false, and
// records nothing, when tracing is disabled.
func PushPropPathNode(ctx context.Context, name string) bool {
	s, ok := FromContext(ctx)
	if !ok || !s.trace {
		return false
	}
	f := s.current()
	if f == nil {
		return false
	}
	f.pushNode(name)
	return true
}

// EnterProp pushes seg and returns the matching pop, for use with defer.
func EnterProp(ctx context.Context, seg any) func() {
	if PushPropPath(ctx, seg) {
		return func() { PopPropPath(ctx) }
	}
	return func() {}
}

// EnterNode pushes a node marker when tracing and returns the matching pop.
func EnterNode(ctx context.Context, name string) func() {
	if PushPropPathNode(ctx, name) {
		return func() { PopPropPath(ctx) }
	}
	return func() {}
}

// PropPath renders the full path across all frames, outermost first.
func PropPath(ctx context.Context) string {
	s, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		if p := f.render(s.trace); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, FrameSeparator)
}

// PathSegments returns property names and indexes across all frames.
func PathSegments(ctx context.Context) []any {
	s, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	var segs []any
	for _, f := range s.frames {
		segs = f.segments(segs)
	}
	return segs
}

// PushTemplate pushes an unconditional template override.
func PushTemplate(ctx context.Context, template string) error {
	f, ok := Current(ctx)
	if !ok {
		return ErrNoFrame
	}
	f.templates = append(f.templates, templateOverride{all: template})
	return nil
}

// PushTemplateMap pushes a per-template override.
func PushTemplateMap(ctx context.Context, overrides map[string]string) error {
	f, ok := Current(ctx)
	if !ok {
		return ErrNoFrame
	}
	f.templates = append(f.templates, templateOverride{byKey: overrides})
	return nil
}

// PopTemplate removes the innermost template override.
func PopTemplate(ctx context.Context) {
	f, ok := Current(ctx)
	if !ok {
		return
	}
	if n := len(f.templates); n > 0 {
		f.templates = f.templates[:n-1]
	}
}

// ResolveTemplate returns the override for key, most recently pushed first,
// or key itself.
func ResolveTemplate(ctx context.Context, key string) string {
	s, ok := FromContext(ctx)
	if !ok {
		return key
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		ts := s.frames[i].templates
		for j := len(ts) - 1; j >= 0; j-- {
			if v, ok := ts[j].lookup(key); ok {
				return v
			}
		}
	}
	return key
}

// Stamp captures the current path and template override on a pipeline
// failure that has not been stamped yet. Other errors pass through.
func Stamp(ctx context.Context, err error) error {
	fe, ok := failure.As(err)
	if !ok || fe.Stamped() || fe.Fatal() {
		return err
	}
	fe.Stamp(PropPath(ctx), PathSegments(ctx), ResolveTemplate(ctx, fe.Template))
	return err
}

// Collect applies the current frame's error mode to err. In fail-fast mode,
// outside a frame, or for fatal errors it returns err. Otherwise the failure
// is captured and the placeholder for original is returned; keep is false
// when the value should be dropped.
func Collect(ctx context.Context, err error, original any) (value any, keep bool, _ error) {
	if err == nil {
		return original, true, nil
	}
	f, ok := Current(ctx)
	if !ok || !f.mode.Collects() || failure.IsFatal(err) {
		return nil, false, err
	}
	Stamp(ctx, err)
	fe, _ := failure.As(err)
	f.errors.Add(fe)
	switch f.mode {
	case CollectOriginal:
		return original, true, nil
	case CollectOmit:
		return nil, false, nil
	default:
		return nil, true, nil
	}
}

// Hold stops element collection in the current frame until the returned
// release is called, so failures of collection elements propagate to the
// caller instead.
func Hold(ctx context.Context) func() {
	f, ok := Current(ctx)
	if !ok {
		return func() {}
	}
	f.holds++
	return func() { f.holds-- }
}

// CollectElement is Collect for one element of a collection. While the
// frame is held it returns err unchanged.
func CollectElement(ctx context.Context, err error, original any) (any, bool, error) {
	if f, ok := Current(ctx); ok && err != nil && f.holds > 0 {
		return nil, false, err
	}
	return Collect(ctx, err, original)
}

// BootOnce runs fn the first time key is seen in the current frame.
func BootOnce(ctx context.Context, key any, fn func() error) error {
	f, ok := Current(ctx)
	if !ok {
		return fn()
	}
	if _, done := f.booted[key]; done {
		return nil
	}
	if f.booted == nil {
		f.booted = map[any]struct{}{}
	}
	f.booted[key] = struct{}{}
	return fn()
}
