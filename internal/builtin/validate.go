package builtin

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"unicode/utf8"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

func required(_ context.Context, v any, _ []any) error {
	if s, ok := v.(string); v == nil || (ok && s == "") {
		return failure.Processing(TemplateRequired, nil)
	}
	return nil
}

func notEmpty(_ context.Context, v any, _ []any) error {
	if n, ok := length(v); v == nil || (ok && n == 0) {
		return failure.Processing(TemplateNotEmpty, nil)
	}
	return nil
}

// length counts runes of strings and elements of collections.
func length(v any) (int, bool) {
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func intArg(name string, args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, failure.Configuration("%s needs argument %d", name, i+1)
	}
	f, ok := toFloat(args[i])
	if !ok || !isIntegral(f) {
		return 0, failure.Configuration("%s argument %d must be an integer, got %T", name, i+1, args[i])
	}
	return int(f), nil
}

func minLength(_ context.Context, v any, args []any) error {
	limit, err := intArg("minLength", args, 0)
	if err != nil {
		return err
	}
	n, ok := length(v)
	if !ok || n < limit {
		return failure.Processing(TemplateMinLength, map[string]any{"min": limit}, failure.WithDebug("length", n))
	}
	return nil
}

func maxLength(_ context.Context, v any, args []any) error {
	limit, err := intArg("maxLength", args, 0)
	if err != nil {
		return err
	}
	n, ok := length(v)
	if !ok || n > limit {
		return failure.Processing(TemplateMaxLength, map[string]any{"max": limit}, failure.WithDebug("length", n))
	}
	return nil
}

// inRange checks min <= v <= max. Either bound may be nil.
func inRange(_ context.Context, v any, args []any) error {
	if len(args) != 2 {
		return failure.Configuration("range needs a min and a max argument, got %d", len(args))
	}
	var (
		lo, hi       float64
		hasLo, hasHi bool
	)
	if args[0] != nil {
		if lo, hasLo = toFloat(args[0]); !hasLo {
			return failure.Configuration("range min must be a number, got %T", args[0])
		}
	}
	if args[1] != nil {
		if hi, hasHi = toFloat(args[1]); !hasHi {
			return failure.Configuration("range max must be a number, got %T", args[1])
		}
	}
	if !hasLo && !hasHi {
		return failure.Configuration("range needs at least one bound")
	}

	f, ok := toFloat(v)
	if ok && (!hasLo || f >= lo) && (!hasHi || f <= hi) {
		return nil
	}
	bounds := TokenBetween
	switch {
	case !hasHi:
		bounds = TokenAtLeast
	case !hasLo:
		bounds = TokenAtMost
	}
	return failure.Processing(TemplateRange,
		map[string]any{"bounds": bounds, "min": args[0], "max": args[1]},
		failure.WithDebug("value", v))
}

func oneOf(_ context.Context, v any, args []any) error {
	if len(args) == 0 {
		return failure.Configuration("oneOf needs at least one value")
	}
	for _, a := range args {
		if reflect.DeepEqual(a, v) || fmt.Sprint(a) == fmt.Sprint(v) {
			return nil
		}
	}
	return failure.Processing(TemplateOneOf, map[string]any{"values": args}, failure.WithDebug("value", v))
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func email(_ context.Context, v any, _ []any) error {
	s, ok := v.(string)
	if !ok || !emailPattern.MatchString(s) {
		return failure.Processing(TemplateEmail, nil, failure.WithDebug("value", v))
	}
	return nil
}

// pattern is the regex class: one compiled expression per constructor
// argument.
type pattern struct {
	re *regexp.Regexp
}

func newPattern(ctorArgs []any) (any, error) {
	if len(ctorArgs) != 1 {
		return nil, failure.Configuration("regex takes one pattern argument, got %d", len(ctorArgs))
	}
	src, ok := ctorArgs[0].(string)
	if !ok {
		return nil, failure.Configuration("regex pattern must be a string, got %T", ctorArgs[0])
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, failure.Configuration("regex pattern %q: %v", src, err)
	}
	return &pattern{re: re}, nil
}

func (p *pattern) Validate(_ context.Context, v any, _ []any) error {
	s, ok := v.(string)
	if !ok || !p.re.MatchString(s) {
		return failure.Processing(TemplateRegex, map[string]any{"pattern": p.re.String()}, failure.WithDebug("value", v))
	}
	return nil
}
