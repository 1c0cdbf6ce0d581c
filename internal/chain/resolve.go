package chain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Method prefixes used to look up leaf implementations on a record.
const (
	CasterMethodPrefix    = "Cast"
	ValidatorMethodPrefix = "Validate"
)

// Class is a registered leaf implementation instantiated by name.
type Class struct {
	Kind LeafKind
	// New builds an instance from constructor arguments.
	New func(ctorArgs []any) (any, error)
	// RequiresArgs marks classes that cannot be built without constructor
	// arguments; the Container supplies the instance when none are given.
	RequiresArgs bool
}

// Container supplies instances of classes whose constructor arguments were
// not declared.
type Container interface {
	Instantiate(class string) (any, error)
}

// MethodProvider is implemented by records exposing named methods usable
// as casters, validators, fallback handlers or conditions.
type MethodProvider interface {
	ProcessingMethod(name string) (any, bool)
}

// Resolver is a pluggable last-resort leaf source. It reports ok=false for
// references it does not know.
type Resolver interface {
	ResolveLeaf(kind LeafKind, ref string) (impl any, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(kind LeafKind, ref string) (any, bool, error)

func (f ResolverFunc) ResolveLeaf(kind LeafKind, ref string) (any, bool, error) { return f(kind, ref) }

// MethodName returns the record method name a leaf reference maps to.
func MethodName(kind LeafKind, ref string) string {
	if kind == KindValidate {
		return ValidatorMethodPrefix + PascalCase(ref)
	}
	return CasterMethodPrefix + PascalCase(ref)
}

// PascalCase converts snake, kebab, dotted or camel references.
func PascalCase(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' || r == '-' || r == '.' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func errMissingMethod(method string, record any) error {
	return fmt.Errorf("record %T has no method %s", record, method)
}

// resolveLeaf maps a declaration to a node, trying an inline
// implementation, a registered class, a record method and the external
// resolvers in that order.
func (c *Compiler) resolveLeaf(record any, d LeafDecl) (Node, error) {
	if d.Impl != nil {
		return newLeaf(d.DeclName(), d.Kind, d.Args, d.Impl)
	}
	if d.Ref == "" {
		return nil, failure.Configuration("%s declaration has neither a reference nor an implementation", d.Kind)
	}

	if cls, ok := c.classes[d.Ref]; ok && cls.Kind == d.Kind {
		key := fmt.Sprintf("class|%s|%s|%s|%s", d.Kind, d.Ref, argsKey(d.CtorArgs), argsKey(d.Args))
		v, err := c.cache.Load(key, func() (any, error) {
			inst, err := c.instance(d.Ref, cls, d.CtorArgs)
			if err != nil {
				return nil, err
			}
			return newLeaf(d.Ref, d.Kind, d.Args, inst)
		})
		if err != nil {
			if fe, ok := failure.As(err); ok && fe.Fatal() {
				return nil, err
			}
			return nil, failure.Resolution(d.Ref, err)
		}
		return v.(*leafNode), nil
	}

	method := MethodName(d.Kind, d.Ref)
	if mp, ok := record.(MethodProvider); ok {
		if impl, ok := mp.ProcessingMethod(method); ok {
			if _, err := newLeaf(d.Ref, d.Kind, d.Args, impl); err != nil {
				return nil, err
			}
			key := fmt.Sprintf("method|%s|%T|%s|%s", d.Kind, record, method, argsKey(d.Args))
			v, _ := c.cache.Load(key, func() (any, error) {
				return &leafNode{name: d.Ref, kind: d.Kind, args: d.Args, method: method}, nil
			})
			return v.(*leafNode), nil
		}
	}

	key := fmt.Sprintf("ext|%s|%s|%s", d.Kind, d.Ref, argsKey(d.Args))
	v, err := c.cache.Load(key, func() (any, error) {
		var reasons []error
		for _, r := range c.resolvers {
			impl, ok, err := r.ResolveLeaf(d.Kind, d.Ref)
			if err != nil {
				reasons = append(reasons, err)
				continue
			}
			if ok {
				return newLeaf(d.Ref, d.Kind, d.Args, impl)
			}
		}
		return nil, failure.Resolution(d.Ref, errors.Join(reasons...))
	})
	if err != nil {
		return nil, err
	}
	return v.(*leafNode), nil
}

// instance builds, or reuses, one instance per class and constructor
// arguments.
func (c *Compiler) instance(name string, cls Class, ctorArgs []any) (any, error) {
	key := fmt.Sprintf("instance|%s|%s", name, argsKey(ctorArgs))
	return c.cache.Load(key, func() (any, error) {
		if cls.RequiresArgs && len(ctorArgs) == 0 {
			if c.container == nil {
				return nil, failure.Configuration("class %q requires constructor arguments and no container is configured", name)
			}
			return c.container.Instantiate(name)
		}
		if cls.New == nil {
			return nil, failure.Configuration("class %q has no constructor", name)
		}
		return cls.New(ctorArgs)
	})
}
