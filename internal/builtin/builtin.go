// Package builtin is a small library of casters and validators resolvable
// by reference from any chain.
package builtin

import (
	"sort"

	chain "github.com/hanpama/dtopipe/internal/chain"
)

// Failure templates raised by the library.
const (
	TemplateCast      = "cast.invalid"
	TemplateRequired  = "validate.required"
	TemplateNotEmpty  = "validate.notEmpty"
	TemplateMinLength = "validate.minLength"
	TemplateMaxLength = "validate.maxLength"
	TemplateRange     = "validate.range"
	TemplateOneOf     = "validate.oneOf"
	TemplateEmail     = "validate.email"
	TemplateRegex     = "validate.regex"
)

// Tokens referenced by failure parameters.
const (
	TokenInteger = "type.integer"
	TokenNumber  = "type.number"
	TokenString  = "type.string"
	TokenBoolean = "type.boolean"

	TokenBetween = "range.between"
	TokenAtLeast = "range.atLeast"
	TokenAtMost  = "range.atMost"
)

var casters = map[string]chain.CasterFunc{
	"int":     castInt,
	"float":   castFloat,
	"string":  castString,
	"bool":    castBool,
	"trim":    trim,
	"lower":   lower,
	"upper":   upper,
	"default": defaultValue,
}

var validators = map[string]chain.ValidatorFunc{
	"required":  required,
	"notEmpty":  notEmpty,
	"minLength": minLength,
	"maxLength": maxLength,
	"range":     inRange,
	"oneOf":     oneOf,
	"email":     email,
}

// Resolver resolves the library's casters and validators.
func Resolver() chain.Resolver {
	return chain.ResolverFunc(func(kind chain.LeafKind, ref string) (any, bool, error) {
		switch kind {
		case chain.KindCast:
			fn, ok := casters[ref]
			return fn, ok, nil
		case chain.KindValidate:
			fn, ok := validators[ref]
			return fn, ok, nil
		}
		return nil, false, nil
	})
}

// Classes returns the library's classes, which take constructor arguments.
func Classes() map[string]chain.Class {
	return map[string]chain.Class{
		"regex": {Kind: chain.KindValidate, New: newPattern, RequiresArgs: true},
	}
}

// Options registers the library with a compiler.
func Options() []chain.Option {
	opts := []chain.Option{chain.WithResolver(Resolver())}
	for name, cls := range Classes() {
		opts = append(opts, chain.WithClass(name, cls))
	}
	return opts
}

// Names lists every reference the library answers, classes included.
func Names() []string {
	var out []string
	for n := range casters {
		out = append(out, n)
	}
	for n := range validators {
		out = append(out, n)
	}
	for n := range Classes() {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
