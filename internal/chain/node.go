package chain

import (
	"context"
	"fmt"
)

// Phase is the direction of field processing.
type Phase string

const (
	Inbound  Phase = "inbound"
	Outbound Phase = "outbound"
)

// Func is a built closure. Chains are synchronous; ctx carries the
// execution stack, never a deadline.
type Func func(ctx context.Context, v any) (any, error)

// Identity returns its input.
func Identity(_ context.Context, v any) (any, error) { return v, nil }

// Node is a compiled unit of a chain. Build wraps upstream so that the
// node runs after it.
type Node interface {
	Name() string
	Build(upstream Func) Func
}

type funcNode struct {
	name  string
	build func(upstream Func) Func
}

func (n funcNode) Name() string { return n.name }

func (n funcNode) Build(upstream Func) Func { return n.build(upstream) }

// NewNode returns a node built by build.
func NewNode(name string, build func(upstream Func) Func) Node {
	return funcNode{name: name, build: build}
}

// LeafKind is the capability contract of a leaf.
type LeafKind uint8

const (
	KindCast LeafKind = iota
	KindValidate
)

func (k LeafKind) String() string {
	if k == KindValidate {
		return "validate"
	}
	return "cast"
}

// Caster transforms a value.
type Caster interface {
	Cast(ctx context.Context, v any, args []any) (any, error)
}

// Validator asserts on a value.
type Validator interface {
	Validate(ctx context.Context, v any, args []any) error
}

// Booter is implemented by leaves that need a one-time setup per record
// before their first use.
type Booter interface {
	Boot(ctx context.Context, record any) error
}

type CasterFunc func(ctx context.Context, v any, args []any) (any, error)

func (f CasterFunc) Cast(ctx context.Context, v any, args []any) (any, error) { return f(ctx, v, args) }

type ValidatorFunc func(ctx context.Context, v any, args []any) error

func (f ValidatorFunc) Validate(ctx context.Context, v any, args []any) error { return f(ctx, v, args) }

// Declaration is one entry of a field's ordered node list. It is either a
// LeafDecl or a ModifierDecl.
type Declaration interface {
	DeclName() string
}

// LeafDecl declares a caster or validator.
//
// Impl, when set, is used as is. Otherwise Ref names a registered class, a
// record method, or an entry of an external resolver, tried in that order.
type LeafDecl struct {
	Kind     LeafKind
	Ref      string
	Args     []any
	CtorArgs []any
	Impl     any
}

func (d LeafDecl) DeclName() string {
	if d.Ref != "" {
		return d.Ref
	}
	if d.Impl != nil {
		return fmt.Sprintf("%T", d.Impl)
	}
	return d.Kind.String()
}

// ModifierDecl declares a modifier.
type ModifierDecl struct {
	Modifier Modifier
}

func (d ModifierDecl) DeclName() string { return d.Modifier.Name() }

// Cast declares a caster by reference.
func Cast(ref string, args ...any) LeafDecl {
	return LeafDecl{Kind: KindCast, Ref: ref, Args: args}
}

// CastWith declares a caster class with constructor arguments.
func CastWith(ctorArgs []any, ref string, args ...any) LeafDecl {
	return LeafDecl{Kind: KindCast, Ref: ref, Args: args, CtorArgs: ctorArgs}
}

// Validate declares a validator by reference.
func Validate(ref string, args ...any) LeafDecl {
	return LeafDecl{Kind: KindValidate, Ref: ref, Args: args}
}

// ValidateWith declares a validator class with constructor arguments.
func ValidateWith(ctorArgs []any, ref string, args ...any) LeafDecl {
	return LeafDecl{Kind: KindValidate, Ref: ref, Args: args, CtorArgs: ctorArgs}
}

// CastFunc declares an inline caster.
func CastFunc(name string, fn CasterFunc, args ...any) LeafDecl {
	return LeafDecl{Kind: KindCast, Ref: name, Impl: fn, Args: args}
}

// ValidateFunc declares an inline validator.
func ValidateFunc(name string, fn ValidatorFunc, args ...any) LeafDecl {
	return LeafDecl{Kind: KindValidate, Ref: name, Impl: fn, Args: args}
}

// Mod wraps a modifier as a declaration.
func Mod(m Modifier) ModifierDecl { return ModifierDecl{Modifier: m} }
