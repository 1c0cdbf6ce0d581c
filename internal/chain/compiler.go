package chain

import (
	"go.uber.org/zap"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

// Modifier is a combinator that consumes a window of the declarations that
// follow it. ProcessingNode slices its window from s.Cursor and returns a
// node whose closure receives the chain built before it.
type Modifier interface {
	Name() string
	ProcessingNode(s *Scope) (Node, error)
}

// Compiler turns declaration lists into closures.
type Compiler struct {
	classes   map[string]Class
	resolvers []Resolver
	container Container
	cache     *Cache
	logger    *zap.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

func WithClass(name string, cls Class) Option {
	return func(c *Compiler) { c.classes[name] = cls }
}

func WithResolver(r Resolver) Option {
	return func(c *Compiler) { c.resolvers = append(c.resolvers, r) }
}

func WithContainer(ct Container) Option {
	return func(c *Compiler) { c.container = ct }
}

// WithCache shares a memo cache between compilers.
func WithCache(cache *Cache) Option {
	return func(c *Compiler) { c.cache = cache }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{classes: map[string]Class{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewCache()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *Compiler) Cache() *Cache { return c.cache }

func (c *Compiler) Logger() *zap.Logger { return c.logger }

// Compile builds one closure for a field's declarations in phase. record
// is used to resolve record methods and to check modifier requirements;
// the closure itself may run for any record of the same shape.
func (c *Compiler) Compile(record any, phase Phase, decls []Declaration) (Func, error) {
	cur := NewCursor(decls)
	fn, err := c.build(record, phase, cur, "chain", -1)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("chain compiled",
		zap.String("phase", string(phase)),
		zap.Int("declarations", len(decls)))
	return fn, nil
}

// build consumes declarations from cur until n leaves were taken, or until
// the cursor is exhausted when n is negative. Modifiers are included but
// do not count.
func (c *Compiler) build(record any, phase Phase, cur *Cursor, owner string, n int) (Func, error) {
	fn := Func(Identity)
	taken := 0
	first := true
	for n < 0 || taken < n {
		d, ok := cur.Next()
		if !ok {
			if n < 0 {
				break
			}
			return nil, failure.Configuration("%s requires %d more declaration(s)", owner, n-taken)
		}
		node, err := c.node(record, phase, cur, d, first)
		if err != nil {
			return nil, err
		}
		fn = node.Build(fn)
		if _, isLeaf := d.(LeafDecl); isLeaf {
			taken++
		}
		first = false
	}
	return fn, nil
}

func (c *Compiler) node(record any, phase Phase, cur *Cursor, d Declaration, first bool) (Node, error) {
	switch d := d.(type) {
	case LeafDecl:
		return c.resolveLeaf(record, d)
	case ModifierDecl:
		if d.Modifier == nil {
			return nil, failure.Configuration("modifier declaration without modifier")
		}
		s := &Scope{Record: record, Phase: phase, Cursor: cur, First: first, compiler: c}
		return d.Modifier.ProcessingNode(s)
	default:
		return nil, failure.Configuration("unsupported declaration %T", d)
	}
}

// Scope is handed to a modifier while it is compiled.
type Scope struct {
	Record any
	Phase  Phase
	Cursor *Cursor
	// First is true when the modifier is the first declaration of its
	// chain and therefore has no upstream to guard.
	First bool

	compiler *Compiler
}

// Subchain compiles the next n leaf declarations, or every remaining one
// when n is negative, into one closure.
func (s *Scope) Subchain(owner string, n int) (Func, error) {
	return s.compiler.build(s.Record, s.Phase, s.Cursor, owner, n)
}

// Units compiles the next n declarations as independent closures, or one
// closure per remaining declaration when n is negative. A modifier counts
// as one unit together with the window it consumes.
func (s *Scope) Units(owner string, n int) ([]Func, error) {
	var fns []Func
	if n > 0 {
		fns = make([]Func, 0, n)
	}
	for i := 0; n < 0 || i < n; i++ {
		d, ok := s.Cursor.Next()
		if !ok {
			if n < 0 {
				break
			}
			return nil, failure.Configuration("%s requires %d more declaration(s)", owner, n-i)
		}
		node, err := s.compiler.node(s.Record, s.Phase, s.Cursor, d, true)
		if err != nil {
			return nil, err
		}
		fns = append(fns, node.Build(Identity))
	}
	return fns, nil
}

// Method looks up a named method on the compile-time record.
func (s *Scope) Method(name string) (any, bool) {
	mp, ok := s.Record.(MethodProvider)
	if !ok {
		return nil, false
	}
	return mp.ProcessingMethod(name)
}

func (s *Scope) Logger() *zap.Logger { return s.compiler.logger }
