package execctx

import (
	"fmt"
	"strings"
)

type segmentKind uint8

const (
	segProp segmentKind = iota
	segIndex
	segNode
)

type segment struct {
	kind  segmentKind
	name  string
	index int
}

// templateOverride is either unconditional (all set) or keyed by the
// template it replaces.
type templateOverride struct {
	all   string
	byKey map[string]string
}

func (o templateOverride) lookup(key string) (string, bool) {
	if o.all != "" {
		return o.all, true
	}
	v, ok := o.byKey[key]
	return v, ok
}

// Frame is one entry of the execution stack, scoped to one record's
// processing call.
type Frame struct {
	record    any
	errors    *ErrorList
	mode      ErrorMode
	values    map[string]any
	path      []segment
	templates []templateOverride
	booted    map[any]struct{}
	holds     int
}

func (f *Frame) Record() any { return f.record }

func (f *Frame) Errors() *ErrorList { return f.errors }

func (f *Frame) Mode() ErrorMode { return f.mode }

// Value returns an ambient context value.
func (f *Frame) Value(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// SetValue stores an ambient context value visible to frames opened
// below this one.
func (f *Frame) SetValue(key string, v any) {
	if f.values == nil {
		f.values = map[string]any{}
	}
	f.values[key] = v
}

func (f *Frame) pushProp(name string) {
	f.path = append(f.path, segment{kind: segProp, name: name})
}

func (f *Frame) pushIndex(i int) {
	f.path = append(f.path, segment{kind: segIndex, index: i})
}

func (f *Frame) pushNode(name string) {
	f.path = append(f.path, segment{kind: segNode, name: name})
}

func (f *Frame) pop() {
	if n := len(f.path); n > 0 {
		f.path = f.path[:n-1]
	}
}

// render writes the frame's path. Consecutive node markers are grouped in
// braces between property segments.
func (f *Frame) render(withNodes bool) string {
	var b strings.Builder
	var nodes []string
	flush := func() {
		if len(nodes) > 0 {
			b.WriteString("{" + strings.Join(nodes, ",") + "}")
			nodes = nodes[:0]
		}
	}
	for _, s := range f.path {
		switch s.kind {
		case segNode:
			if withNodes {
				nodes = append(nodes, s.name)
			}
		case segProp:
			flush()
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(s.name)
		case segIndex:
			flush()
			fmt.Fprintf(&b, "[%d]", s.index)
		}
	}
	flush()
	return b.String()
}

func (f *Frame) segments(dst []any) []any {
	for _, s := range f.path {
		switch s.kind {
		case segProp:
			dst = append(dst, s.name)
		case segIndex:
			dst = append(dst, s.index)
		}
	}
	return dst
}
